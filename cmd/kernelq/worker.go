package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"kernelq/internal/app"
)

func workerCmd(cfgPath *string) *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the scheduler (recovery, dispatchers, background engines)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(*cfgPath, app.Options{
				Scheduler:       true,
				Dashboard:       true, // served only when dashboard.enabled
				WorkersOverride: workers,
			})
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				_ = a.Close()
				return err
			}

			<-ctx.Done()
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer stopCancel()
			return a.Stop(stopCtx)
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "dispatcher count (overrides scheduler.workers)")
	return cmd
}

func serveCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API without dispatching jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(*cfgPath, app.Options{Dashboard: true})
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				_ = a.Close()
				return err
			}

			<-ctx.Done()
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			return a.Stop(stopCtx)
		},
	}
}

func recoverCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Run one crash-recovery pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(*cfgPath, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()
			return a.RunRecovery(ctx)
		},
	}
}
