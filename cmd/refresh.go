package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/joescharf/osp/internal/output"
	"github.com/joescharf/osp/internal/queue"
	"github.com/joescharf/osp/internal/refresh"
)

var (
	refreshSync   bool
	refreshDetach bool
)

var refreshCmd = &cobra.Command{
	Use:   "refresh [id...]",
	Short: "Refresh cached repository metadata",
	Long: `Refresh cached repository metadata for the given projects, or for every
publish and draft project when no IDs are given.

By default the selection is queued and drained here batch by batch, with
the same progress record 'osp serve' and the API report. Use --detach to
only queue it for a running 'osp serve', or --sync to refresh one project
after another and print a line per project.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmdContext(cmd.Context()), shutdownSignals()...)
		defer stop()
		if refreshSync {
			return refreshSyncRun(ctx, args)
		}
		return refreshEnqueueRun(ctx, args)
	},
}

var refreshStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the progress of the current or last refresh run",
	RunE: func(cmd *cobra.Command, args []string) error {
		return refreshStatusRun(cmdContext(cmd.Context()))
	},
}

var refreshRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Refresh one batch of the queue",
	Long:  "Refresh one batch of queued projects. Suitable for cron when 'osp serve' is not running.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmdContext(cmd.Context()), shutdownSignals()...)
		defer stop()
		return refreshRunRun(ctx)
	},
}

var refreshResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the refresh queue and progress",
	Long:  "Clear the refresh queue and progress records. Use it to recover from a run left behind by a crashed process.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return refreshResetRun(cmdContext(cmd.Context()))
	},
}

func init() {
	refreshCmd.Flags().BoolVar(&refreshSync, "sync", false, "Refresh synchronously, printing one line per project")
	refreshCmd.Flags().BoolVar(&refreshDetach, "detach", false, "Only queue the refresh for 'osp serve'")
	refreshCmd.MarkFlagsMutuallyExclusive("sync", "detach")

	refreshCmd.AddCommand(refreshStatusCmd)
	refreshCmd.AddCommand(refreshRunCmd)
	refreshCmd.AddCommand(refreshResetCmd)
	rootCmd.AddCommand(refreshCmd)
}

func refreshSyncRun(ctx context.Context, ids []string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would refresh %s synchronously", selectionLabel(ids))
		return nil
	}

	r := refresherFunc(s)
	defer func() { _ = r.Cleanup() }()

	sum, err := r.Stream(ctx, ui.Out, ids)
	if err != nil {
		return err
	}
	if sum.Failed > 0 {
		ui.VerboseLog("%d of %d projects were not refreshed", sum.Failed, sum.Total)
	}
	return nil
}

func refreshEnqueueRun(ctx context.Context, ids []string) error {
	_, _, q, err := catalogDeps()
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would queue a refresh of %s", selectionLabel(ids))
		return nil
	}

	p, err := q.Enqueue(ctx, ids)
	if err != nil {
		if errors.Is(err, queue.ErrAlreadyRunning) {
			return fmt.Errorf("%w: see 'osp refresh status' or 'osp refresh reset'", err)
		}
		return err
	}
	if !p.Running {
		ui.Info("%s", p.Message)
		return nil
	}
	ui.Success("Queued %d projects (batch size %d)", p.Total, p.BatchSize)
	if refreshDetach {
		return nil
	}

	for {
		res, err := q.RunBatch(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrBatchInProgress) {
				ui.Warning("Another process is refreshing this catalog; it will finish the run")
				return nil
			}
			return err
		}
		for _, item := range res.Items {
			fmt.Fprintf(ui.Out, "  %s %s\n", item.Title, output.OutcomeColor(refresh.StatusLine(item)))
		}
		if res.Done {
			break
		}
	}
	return refreshStatusRun(ctx)
}

func refreshRunRun(ctx context.Context) error {
	_, _, q, err := catalogDeps()
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would refresh one batch")
		return nil
	}

	res, err := q.RunBatch(ctx)
	if err != nil {
		if errors.Is(err, queue.ErrBatchInProgress) {
			ui.Info("A batch is already running")
			return nil
		}
		return err
	}
	if len(res.Items) == 0 {
		ui.Info("Queue is empty")
		return nil
	}
	for _, item := range res.Items {
		fmt.Fprintf(ui.Out, "  %s %s\n", item.Title, output.OutcomeColor(refresh.StatusLine(item)))
	}
	ui.Info("%d projects remaining", res.Remaining)
	return nil
}

func refreshStatusRun(ctx context.Context) error {
	_, _, q, err := catalogDeps()
	if err != nil {
		return err
	}
	p, err := q.Progress(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "  State:     %s\n", p.State)
	if p.State == queue.StateIdle {
		return nil
	}
	fmt.Fprintf(ui.Out, "  Progress:  %s (%d OK, %d failed, %d remaining of %d)\n",
		output.PercentColor(p.Percent()), p.Processed, p.Failed, p.Remaining(), p.Total)
	if p.Current != nil {
		fmt.Fprintf(ui.Out, "  Current:   %s\n", p.Current.Title)
	}
	if p.Message != "" {
		fmt.Fprintf(ui.Out, "  Message:   %s\n", p.Message)
	}
	if p.StartedAt != nil {
		fmt.Fprintf(ui.Out, "  Started:   %s\n", timeAgo(*p.StartedAt))
	}
	if p.FinishedAt != nil {
		fmt.Fprintf(ui.Out, "  Finished:  %s\n", timeAgo(*p.FinishedAt))
	}

	if len(p.FailedItems) > 0 {
		fmt.Fprintln(ui.Out)
		table := ui.Table([]string{"ID", "Title", "Error"})
		for _, f := range p.FailedItems {
			table.Append([]string{f.ID, f.Title, output.Red(f.Error)})
		}
		return table.Render()
	}
	return nil
}

func refreshResetRun(ctx context.Context) error {
	_, _, q, err := catalogDeps()
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would clear the refresh queue and progress")
		return nil
	}
	if err := q.Reset(ctx); err != nil {
		return err
	}
	ui.Success("Refresh state reset")
	return nil
}

func selectionLabel(ids []string) string {
	if len(ids) == 0 {
		return "all publish and draft projects"
	}
	return fmt.Sprintf("%d projects", len(ids))
}
