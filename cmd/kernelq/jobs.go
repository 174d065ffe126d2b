package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"kernelq/internal/app"
	"kernelq/internal/job"
	"kernelq/internal/store"
)

func submitCmd(cfgPath *string) *cobra.Command {
	var (
		typ        string
		payload    string
		priority   int
		delayMs    int64
		execSecs   float64
		maxRetries int
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a job to the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(*cfgPath, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			jt := job.Type(strings.ToUpper(strings.TrimSpace(typ)))
			if !a.KnownType(jt) {
				return fmt.Errorf("unknown job type: %q", typ)
			}
			j, err := job.New(jt, []byte(payload), priority, delayMs, execSecs, maxRetries)
			if err != nil {
				return err
			}
			if err := a.Jobs().Create(ctx, j); err != nil {
				return fmt.Errorf("submit: %w", err)
			}
			return printJSON(j)
		},
	}
	cmd.Flags().StringVar(&typ, "type", "", "job type (delay, email, webhook)")
	cmd.Flags().StringVar(&payload, "payload", "", "JSON payload")
	cmd.Flags().IntVar(&priority, "priority", 5, "priority 1..10")
	cmd.Flags().Int64Var(&delayMs, "delay-ms", 0, "delay before the job becomes eligible")
	cmd.Flags().Float64Var(&execSecs, "exec-secs", 0, "seconds of simulated work")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 3, "transient failure retry budget")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func jobsCmd(cfgPath *string) *cobra.Command {
	var (
		limit  int
		status string
	)

	cmd := &cobra.Command{
		Use:   "jobs [id]",
		Short: "List recent jobs, or show one job with its execution state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(*cfgPath, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) == 1 {
				return showJob(ctx, a, args[0])
			}
			var jobs []job.Job
			if status != "" {
				st := job.Status(strings.ToUpper(strings.TrimSpace(status)))
				jobs, err = a.Jobs().ListByStatus(ctx, st, limit, 0)
			} else {
				jobs, err = a.Jobs().ListRecent(ctx, limit)
			}
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"jobs": jobs, "count": len(jobs)})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max jobs to list")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (PENDING, READY, ...)")
	return cmd
}

func showJob(ctx context.Context, a *app.App, id string) error {
	j, err := a.Jobs().Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("job %s not found", id)
	}
	if err != nil {
		return err
	}
	out := map[string]any{"job": j}
	if pcb, err := a.States().FindByJob(ctx, id); err == nil {
		out["execution_state"] = pcb
	}
	return printJSON(out)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
