// Package main provides the Stageflow dispatcher worker. It consumes card
// events off the bus, evaluates stage triggers, and invokes integrations.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/stageflow/stageflow/pkg/cmd"
	"github.com/stageflow/stageflow/pkg/dispatcher"
	"github.com/stageflow/stageflow/pkg/events"
	"github.com/stageflow/stageflow/pkg/log"
	"github.com/stageflow/stageflow/pkg/otelhelper"
	"github.com/stageflow/stageflow/pkg/sla"
	"github.com/stageflow/stageflow/pkg/triggers"
)

func main() {
	logger := log.WithModule("dispatcher")

	command := &cli.Command{
		Name:                  "stageflow-dispatcher",
		Usage:                 "Evaluate stage triggers and dispatch integrations",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "sla-schedule",
				Usage:   "Cron expression for the SLA sweep",
				Value:   "*/10 * * * *",
				Sources: cli.EnvVars("SLA_SCHEDULE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export traces over OTLP (endpoint from OTEL_EXPORTER_OTLP_* env)",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Stageflow Dispatcher")

			if command.Bool("tracing") {
				shutdown, err := otelhelper.Init(ctx, "stageflow-dispatcher")
				if err != nil {
					return fmt.Errorf("failed to initialize tracer: %w", err)
				}

				defer func() {
					if err := shutdown(context.Background()); err != nil {
						logger.ErrorContext(ctx, "Failed to shut down tracer provider", "error", err)
					}
				}()
			}

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), "stageflow-dispatcher", logger)

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			selector := triggers.NewSelector(persistence, logger)
			worker := dispatcher.NewDispatcher(persistence, selector, otelhelper.Tracer("stageflow.dispatcher"), logger)

			if err := eventBus.Handle(events.CardMovedEvent, worker.HandleCardMoved); err != nil {
				return err
			}

			if err := eventBus.Handle(events.CardFormFieldChangedEvent, worker.HandleFormFieldChanged); err != nil {
				return err
			}

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			if err := eventBus.Subscribe(runCtx); err != nil {
				return err
			}

			monitor := sla.NewMonitor(persistence, eventBus, command.String("sla-schedule"), logger)
			if err := monitor.Start(runCtx); err != nil {
				return err
			}

			defer monitor.Stop()

			logger.InfoContext(ctx, "Stageflow Dispatcher started")

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			<-stop

			logger.InfoContext(ctx, "Shutting down Stageflow Dispatcher")

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
