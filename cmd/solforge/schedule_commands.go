package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/brojonat/solforge/service/temporal"
	"github.com/urfave/cli/v2"
)

// temporalFlags are shared by the schedule commands. Connection settings
// come from flags or the same env vars the server and worker read.
func temporalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "temporal-host",
			Usage:   "Temporal frontend host:port",
			EnvVars: []string{"TEMPORAL_HOST"},
			Value:   "localhost:7233",
		},
		&cli.StringFlag{
			Name:    "temporal-namespace",
			Usage:   "Temporal namespace",
			EnvVars: []string{"TEMPORAL_NAMESPACE"},
			Value:   "default",
		},
		&cli.StringFlag{
			Name:    "task-queue",
			Usage:   "Task queue the reconcile workflow runs on",
			EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
			Value:   "solforge-transactions",
		},
	}
}

// newSchedulerClient dials Temporal with logging squelched to warnings
// so command output stays clean.
func newSchedulerClient(c *cli.Context) (*temporal.Client, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	return temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("task-queue"),
		logger,
	)
}

func scheduleCreateCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Create or retune the reconcile schedule",
		Description: `Creates the Temporal schedule that sweeps transfers stuck in the
broadcast status. If the schedule already exists its interval is
updated. The worker does this on startup; this command exists to retune
the interval without a restart.

Example:
  solforge schedule create --interval 5m`,
		Flags: append(temporalFlags(),
			&cli.DurationFlag{
				Name:    "interval",
				Usage:   "How often the reconcile sweep runs",
				EnvVars: []string{"RECONCILE_INTERVAL"},
				Value:   time.Minute,
			},
		),
		Action: func(c *cli.Context) error {
			client, err := newSchedulerClient(c)
			if err != nil {
				return err
			}
			defer client.Close()

			interval := c.Duration("interval")
			if err := client.CreateReconcileSchedule(c.Context, interval); err != nil {
				return err
			}
			fmt.Printf("✓ Reconcile schedule ready (interval: %s)\n", interval)
			return nil
		},
	}
}

func scheduleDeleteCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete",
		Usage: "Delete the reconcile schedule",
		Description: `Removes the Temporal schedule that sweeps transfers stuck in the
broadcast status. Broadcast transfers will sit unresolved until the
schedule is recreated (the worker recreates it on startup).

Example:
  solforge schedule delete`,
		Flags: temporalFlags(),
		Action: func(c *cli.Context) error {
			client, err := newSchedulerClient(c)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.DeleteReconcileSchedule(c.Context); err != nil {
				return err
			}
			fmt.Println("✓ Reconcile schedule deleted")
			return nil
		},
	}
}
