package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/osp/internal/health"
	"github.com/joescharf/osp/internal/models"
	"github.com/joescharf/osp/internal/output"
	"github.com/joescharf/osp/internal/refresh"
	"github.com/joescharf/osp/internal/store"
)

var (
	statusStale  bool
	statusErrors bool
)

var statusCmd = &cobra.Command{
	Use:   "status [id]",
	Short: "Show catalog status dashboard",
	Long: `Show a catalog overview or detailed status for one project.

Without arguments, shows the size of the catalog per status, the state of
the refresh queue and a maintenance table of the publish and draft entries.
With a project ID, shows the project in detail.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return projectShowRun(cmd.Context(), args[0])
		}
		return statusOverviewRun(cmdContext(cmd.Context()))
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusStale, "stale", false, "Show only stale projects (no commit in a year)")
	statusCmd.Flags().BoolVar(&statusErrors, "errors", false, "Show only projects whose last refresh failed")
	rootCmd.AddCommand(statusCmd)
}

func statusOverviewRun(ctx context.Context) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	all, err := s.ListProjects(ctx, store.ProjectListFilter{})
	if err != nil {
		return err
	}
	if len(all) == 0 {
		ui.Info("No projects cataloged. Use 'osp project add <url>' to get started.")
		return nil
	}

	counts := map[models.ProjectStatus]int{}
	for _, p := range all {
		counts[p.Status]++
	}
	fmt.Fprintf(ui.Out, "  Projects:  %d (%s %d, %s %d, %s %d, %s %d)\n", len(all),
		output.StatusColor(string(models.ProjectStatusPublish)), counts[models.ProjectStatusPublish],
		output.StatusColor(string(models.ProjectStatusDraft)), counts[models.ProjectStatusDraft],
		output.StatusColor(string(models.ProjectStatusIgnored)), counts[models.ProjectStatusIgnored],
		output.StatusColor(string(models.ProjectStatusTrash)), counts[models.ProjectStatusTrash])

	_, _, q, err := catalogDeps()
	if err != nil {
		return err
	}
	p, err := q.Progress(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(ui.Out, "  Refresh:   %s", p.State)
	if p.Total > 0 {
		fmt.Fprintf(ui.Out, " %s of %d", output.PercentColor(p.Percent()), p.Total)
	}
	fmt.Fprintln(ui.Out)
	fmt.Fprintln(ui.Out)

	scorer := health.NewScorer()
	table := ui.Table([]string{"ID", "Title", "Status", "Score", "Last Commit", "Error"})
	shown := 0
	for _, p := range all {
		if !p.Status.Active() {
			continue
		}
		if statusStale && !scorer.Stale(p) {
			continue
		}
		if statusErrors && p.Error == "" {
			continue
		}

		h := scorer.Score(p)
		lastCommit := "n/a"
		if p.LastCommitDate != nil {
			lastCommit = timeAgo(*p.LastCommitDate)
		}
		errMsg := ""
		if p.Error != "" {
			errMsg = output.Red(p.Error)
		}
		table.Append([]string{
			p.ID,
			output.Cyan(refresh.DisplayTitle(p.Title, p.RepoURL, p.ID)),
			output.StatusColor(string(p.Status)),
			output.ScoreColor(h.Total),
			lastCommit,
			errMsg,
		})
		shown++
	}

	if shown == 0 {
		ui.Info("No matching projects")
		return nil
	}
	return table.Render()
}
