package main

import (
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kirillkom/frepi-finance/internal/bootstrap"
	"github.com/kirillkom/frepi-finance/internal/config"
	"github.com/kirillkom/frepi-finance/internal/core/usecase"
	"github.com/kirillkom/frepi-finance/internal/infrastructure/scheduler"
	"github.com/kirillkom/frepi-finance/internal/observability/logging"
)

func newHeartbeatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "heartbeat",
		Short: "Inspect or trigger proactive jobs",
	}
	cmd.AddCommand(newHeartbeatListCmd(), newHeartbeatRunCmd())
	return cmd
}

func newHeartbeatListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print every job with its cron spec",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			schedule := usecase.HeartbeatSchedule()
			names := make([]string, 0, len(schedule))
			for name := range schedule {
				names = append(names, name)
			}
			slices.Sort(names)
			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%-26s %s\n", name, schedule[name])
			}
			return nil
		},
	}
}

func newHeartbeatRunCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "run <job>",
		Short: "Run one job now, regardless of its schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job := args[0]
			if _, ok := usecase.HeartbeatSchedule()[job]; !ok {
				return fmt.Errorf("unknown job %q; see finctl heartbeat list", job)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := config.Load()
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := logging.New(cmd.ErrOrStderr(), "finctl", cfg.LogLevel)
			app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Logger: logger})
			if err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			defer app.Close()

			jobs, err := scheduler.New(app.Heartbeat, nil, scheduler.Options{JobTimeout: timeout, Logger: logger})
			if err != nil {
				return err
			}
			if err := jobs.RunOnce(ctx, job); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s completed\n", job)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "job deadline")
	return cmd
}
