package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bull/confrag/internal/service"
	"github.com/bull/confrag/internal/tracker"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch [content-id]...",
	Short: "Submit pending files to the indexer; all eligible content when no id is given",
	RunE: withService(func(ctx context.Context, svc *service.Service, args []string) error {
		results, err := svc.DispatchAll(ctx, args)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(results)
		}
		var errs []error
		for _, r := range results {
			if r.Err != nil {
				errs = append(errs, r.Err)
				fmt.Printf("%s: %v\n", r.ContentID, r.Err)
				continue
			}
			fmt.Printf("%s: submitted task %s\n", r.ContentID, r.TaskID)
		}
		return errors.Join(errs...)
	}),
}

var checkCmd = &cobra.Command{
	Use:   "check <task-id>",
	Short: "Check the status of one indexing task",
	Args:  cobra.ExactArgs(1),
	RunE: withService(func(ctx context.Context, svc *service.Service, args []string) error {
		status, err := svc.Check(ctx, args[0])
		var unknown *tracker.TaskStatusUnknownError
		if err != nil && !errors.As(err, &unknown) {
			return err
		}
		if jsonOutput {
			task, terr := svc.Task(ctx, args[0])
			if terr != nil {
				return terr
			}
			return printJSON(task)
		}
		fmt.Printf("%s: %s\n", args[0], status)
		if unknown != nil {
			fmt.Printf("  %v\n", unknown)
		}
		return nil
	}),
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile [task-id]...",
	Short: "Check submitted tasks; all of them when no id is given",
	RunE: withService(func(ctx context.Context, svc *service.Service, args []string) error {
		results, err := svc.Reconcile(ctx, args)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(results)
		}
		for _, r := range results {
			switch {
			case r.Cached:
				fmt.Printf("%s: %s (cached)\n", r.TaskID, r.Status)
			case r.Err != nil:
				fmt.Printf("%s: %s (%v)\n", r.TaskID, r.Status, r.Err)
			default:
				fmt.Printf("%s: %s\n", r.TaskID, r.Status)
			}
		}
		return nil
	}),
}

var watchInterval time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Reconcile submitted tasks periodically until interrupted",
	RunE: withService(func(ctx context.Context, svc *service.Service, _ []string) error {
		interval := watchInterval
		if interval <= 0 {
			interval = svc.Config().Tracker.PollInterval
		}
		worker := tracker.NewWorker(svc.Tracker(), interval, svc.Logger())
		worker.Start(ctx)
		<-ctx.Done()
		worker.Stop()
		return nil
	}),
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 0, "poll interval (default: tracker.poll_interval)")
}
