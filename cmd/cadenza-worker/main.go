// Package main provides the Cadenza worker binary, which executes dispatched
// nodes and reports their results.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/cadenzr/cadenza/pkg/cmd"
	"github.com/cadenzr/cadenza/pkg/events"
	"github.com/cadenzr/cadenza/pkg/log"
	"github.com/cadenzr/cadenza/pkg/otelhelper"
	"github.com/cadenzr/cadenza/pkg/worker"
)

func main() {
	command := &cli.Command{
		Name:                  "cadenza-worker",
		EnableShellCompletion: true,
		Usage:                 "Start workers to execute flow nodes",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:     "plugins-path",
				Usage:    "Path to the directory containing action plugins",
				Value:    "./plugins",
				Required: false,
				Sources:  cli.EnvVars("PLUGINS_PATH"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export OTLP traces for node execution",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("cadenza-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing Cadenza Worker")

			registry := cmd.NewRegistry(logger, command.String("plugins-path"))

			provider := command.String("event-bus")
			dispatchBus := cmd.NewEventBus(provider, events.NodeDispatchTopic, "cadenza-worker", logger)
			completionBus := cmd.NewEventBus(provider, events.NodeCompletionTopic, "cadenza-worker", logger)

			defer func() {
				if err := dispatchBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close dispatch bus", "error", err)
				}

				if err := completionBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close completion bus", "error", err)
				}
			}()

			w := worker.NewWorker(workerID, logger, registry, dispatchBus, completionBus)

			if command.Bool("tracing") {
				tracer, err := otelhelper.NewTracer(ctx, "cadenza-worker")
				if err != nil {
					return err
				}

				w.WithTracer(tracer)
			}

			if err := w.Start(ctx); err != nil {
				logger.ErrorContext(ctx, "Failed to start worker", "error", err)

				return err
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			select {
			case <-sigChan:
			case <-ctx.Done():
			}

			logger.InfoContext(ctx, "Shutting down worker...")

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
