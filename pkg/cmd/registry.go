// Package cmd provides common initialization functions for command-line
// applications.
package cmd

import (
	"log/slog"

	"github.com/cadenzr/cadenza/pkg/actions/httprequest"
	logaction "github.com/cadenzr/cadenza/pkg/actions/log"
	"github.com/cadenzr/cadenza/pkg/actions/transform"
	"github.com/cadenzr/cadenza/pkg/registry"
)

func registerActionPlugins(reg *registry.Registry, pluginsPath string) {
	if pluginsPath == "" {
		return
	}

	actionPlugins, err := reg.LoadActionPlugins(pluginsPath)
	if err != nil {
		panic(err)
	}

	for _, plugin := range actionPlugins {
		reg.RegisterAction(plugin)
	}
}

func registerNativeActions(reg *registry.Registry) {
	reg.RegisterAction(httprequest.NewActionFactory())
	reg.RegisterAction(transform.NewActionFactory())
	reg.RegisterAction(logaction.NewActionFactory())
}

func NewRegistry(log *slog.Logger, pluginsPath string) *registry.Registry {
	reg := registry.NewRegistry(log)

	registerActionPlugins(reg, pluginsPath)
	registerNativeActions(reg)

	return reg
}
