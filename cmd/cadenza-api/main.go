package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/cadenzr/cadenza/pkg/cmd"
	"github.com/cadenzr/cadenza/pkg/engine"
	"github.com/cadenzr/cadenza/pkg/events"
	"github.com/cadenzr/cadenza/pkg/log"
	"github.com/cadenzr/cadenza/pkg/queue"
	"github.com/cadenzr/cadenza/pkg/schedule"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "cadenza-api",
		Usage:                 "Start and signal flow runs",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "lock-url",
				Usage:   "Redis URL for the distributed flow lock (in-process when empty)",
				Sources: cli.EnvVars("LOCK_URL"),
			},
			&cli.StringFlag{
				Name:    "schedules-path",
				Usage:   "Path to a JSON file of cron schedule entries",
				Sources: cli.EnvVars("SCHEDULES_PATH"),
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

			logger.InfoContext(ctx, "Initializing Cadenza API")

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			locker, err := cmd.NewLocker(command.String("lock-url"))
			if err != nil {
				return err
			}

			provider := command.String("event-bus")
			dispatchBus := cmd.NewEventBus(provider, events.NodeDispatchTopic, "cadenza-api", logger)
			completionBus := cmd.NewEventBus(provider, events.NodeCompletionTopic, "cadenza-api", logger)
			lifecycleBus := cmd.NewEventBus(provider, events.FlowLifecycleTopic, "cadenza-api", logger)

			defer func() {
				for _, bus := range []interface{ Close() error }{dispatchBus, completionBus, lifecycleBus} {
					if err := bus.Close(); err != nil {
						logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
					}
				}
			}()

			eng := engine.NewEngine(logger, engine.Config{
				Store:     store,
				Gateway:   queue.NewEventBusGateway(dispatchBus),
				Locker:    locker,
				Publisher: lifecycleBus,
			})

			if err := eng.Recover(ctx); err != nil {
				logger.ErrorContext(ctx, "Crash recovery failed", "error", err)

				return err
			}

			go eng.RunSweeper(ctx)

			api := NewAPI(logger, store, eng)

			if err := api.startCompletionConsumer(ctx, completionBus); err != nil {
				return err
			}

			entries, err := loadSchedules(command.String("schedules-path"))
			if err != nil {
				return err
			}

			if len(entries) > 0 {
				scheduler := schedule.NewScheduler(logger, eng)
				if err := scheduler.Configure(entries); err != nil {
					return err
				}

				if err := scheduler.Start(ctx); err != nil {
					return err
				}

				defer scheduler.Stop()
			}

			if err := api.Start(command.Int("port")); err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)

				return err
			}

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
