package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/osp/internal/failure"
	"github.com/joescharf/osp/internal/git"
	"github.com/joescharf/osp/internal/models"
	"github.com/joescharf/osp/internal/output"
	"github.com/joescharf/osp/internal/refresh"
	"github.com/joescharf/osp/internal/store"
)

var (
	projectStatus string
	projectTag    string
	projectPurge  bool
	ignoreReason  string
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage cataloged projects",
	Long:  "Add, list, show, ignore, activate and remove catalog entries.",
}

var projectAddCmd = &cobra.Command{
	Use:   "add <repository-url>",
	Short: "Add a repository to the catalog",
	Long: `Add a Git repository to the catalog as a draft and refresh it once.

The URL is checked first: unreachable repositories and repositories that
are already cataloged (directly or through a redirect) are rejected.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectAddRun(cmd.Context(), args[0])
	},
}

var projectRemoveCmd = &cobra.Command{
	Use:     "remove <id>",
	Aliases: []string{"rm"},
	Short:   "Move a project to trash, or delete it with --purge",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectRemoveRun(cmd.Context(), args[0])
	},
}

var projectListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List cataloged projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectListRun(cmd.Context())
	},
}

var projectShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show detailed project information",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectShowRun(cmd.Context(), args[0])
	},
}

var projectIgnoreCmd = &cobra.Command{
	Use:   "ignore <id>",
	Short: "Exclude a project from catalog refreshes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectIgnoreRun(cmd.Context(), args[0])
	},
}

var projectActivateCmd = &cobra.Command{
	Use:   "activate <id>",
	Short: "Publish a project and clear its stored error",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectActivateRun(cmd.Context(), args[0])
	},
}

func init() {
	projectListCmd.Flags().StringVar(&projectStatus, "status", "", "Comma-separated statuses (publish, draft, ignored, trash)")
	projectListCmd.Flags().StringVar(&projectTag, "tag", "", "Filter by tag")
	projectRemoveCmd.Flags().BoolVar(&projectPurge, "purge", false, "Delete the entry instead of moving it to trash")
	projectIgnoreCmd.Flags().StringVar(&ignoreReason, "reason", "", "Reason stored as the entry's error")

	projectCmd.AddCommand(projectAddCmd)
	projectCmd.AddCommand(projectRemoveCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectShowCmd)
	projectCmd.AddCommand(projectIgnoreCmd)
	projectCmd.AddCommand(projectActivateCmd)
	rootCmd.AddCommand(projectCmd)
}

func cmdContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func projectAddRun(ctx context.Context, rawURL string) error {
	ctx = cmdContext(ctx)
	s, err := getStore()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would add project: %s", rawURL)
		return nil
	}

	r := refresherFunc(s)
	defer func() { _ = r.Cleanup() }()

	p, res, err := r.Import(ctx, rawURL)
	if err != nil {
		var ferr *failure.Error
		if errors.As(err, &ferr) {
			return fmt.Errorf("cannot add %s: %s", rawURL, ferr.Error())
		}
		return fmt.Errorf("add project: %w", err)
	}

	title := refresh.DisplayTitle(p.Title, p.RepoURL, p.ID)
	ui.Success("Added project: %s (%s)", output.Cyan(title), p.ID)
	ui.Info("Refresh: %s", output.OutcomeColor(refresh.StatusLine(res)))
	if p.Version != "" {
		ui.VerboseLog("Version: %s", p.Version)
	}
	if p.License != "" {
		ui.VerboseLog("License: %s", p.License)
	}
	return nil
}

func projectRemoveRun(ctx context.Context, id string) error {
	ctx = cmdContext(ctx)
	s, err := getStore()
	if err != nil {
		return err
	}

	p, err := s.GetProject(ctx, id)
	if err != nil {
		return err
	}
	title := refresh.DisplayTitle(p.Title, p.RepoURL, p.ID)

	if dryRun {
		if projectPurge {
			ui.DryRunMsg("Would delete project: %s", title)
		} else {
			ui.DryRunMsg("Would move project to trash: %s", title)
		}
		return nil
	}

	if projectPurge {
		if err := s.DeleteProject(ctx, p.ID); err != nil {
			return fmt.Errorf("remove project: %w", err)
		}
		ui.Success("Deleted project: %s", output.Cyan(title))
		return nil
	}

	if err := s.SetProjectStatus(ctx, p.ID, models.ProjectStatusTrash, p.Error); err != nil {
		return fmt.Errorf("trash project: %w", err)
	}
	ui.Success("Moved project to trash: %s", output.Cyan(title))
	return nil
}

// parseStatuses splits a comma-separated status list, rejecting unknown names.
func parseStatuses(raw string) ([]models.ProjectStatus, error) {
	if raw == "" {
		return nil, nil
	}
	var out []models.ProjectStatus
	for _, part := range strings.Split(raw, ",") {
		st := models.ProjectStatus(strings.TrimSpace(part))
		if !st.Valid() {
			return nil, fmt.Errorf("invalid status: %q (use publish, draft, ignored, trash)", st)
		}
		out = append(out, st)
	}
	return out, nil
}

func projectListRun(ctx context.Context) error {
	ctx = cmdContext(ctx)
	s, err := getStore()
	if err != nil {
		return err
	}

	statuses, err := parseStatuses(projectStatus)
	if err != nil {
		return err
	}
	projects, err := s.ListProjects(ctx, store.ProjectListFilter{Statuses: statuses, Tag: projectTag})
	if err != nil {
		return err
	}

	if len(projects) == 0 {
		ui.Info("No projects cataloged. Use 'osp project add <url>' to get started.")
		return nil
	}

	table := ui.Table([]string{"ID", "Title", "Status", "Version", "License", "Last Commit", "Refreshed"})
	for _, p := range projects {
		lastCommit := "-"
		if p.LastCommitDate != nil {
			lastCommit = timeAgo(*p.LastCommitDate)
		}
		refreshed := "never"
		if p.RefreshedAt != nil {
			refreshed = timeAgo(*p.RefreshedAt)
		}
		table.Append([]string{
			p.ID,
			output.Cyan(refresh.DisplayTitle(p.Title, p.RepoURL, p.ID)),
			output.StatusColor(string(p.Status)),
			p.Version,
			p.License,
			lastCommit,
			refreshed,
		})
	}
	return table.Render()
}

func projectShowRun(ctx context.Context, id string) error {
	ctx = cmdContext(ctx)
	s, err := getStore()
	if err != nil {
		return err
	}

	p, err := s.GetProject(ctx, id)
	if err != nil {
		return err
	}

	// Header
	fmt.Fprintf(ui.Out, "%s\n", output.Cyan(refresh.DisplayTitle(p.Title, p.RepoURL, p.ID)))
	fmt.Fprintf(ui.Out, "  ID:          %s\n", p.ID)
	fmt.Fprintf(ui.Out, "  Status:      %s\n", output.StatusColor(string(p.Status)))
	if p.RepoURL != "" {
		fmt.Fprintf(ui.Out, "  Repository:  %s\n", p.RepoURL)
	}
	if p.Website != "" {
		fmt.Fprintf(ui.Out, "  Website:     %s\n", p.Website)
	}
	if p.Excerpt != "" {
		fmt.Fprintf(ui.Out, "  Excerpt:     %s\n", p.Excerpt)
	}
	if p.Language != "" {
		fmt.Fprintf(ui.Out, "  Language:    %s\n", p.Language)
	}
	if p.License != "" {
		fmt.Fprintf(ui.Out, "  License:     %s\n", p.License)
	}
	if len(p.Tags) > 0 {
		fmt.Fprintf(ui.Out, "  Tags:        %s\n", strings.Join(p.Tags, ", "))
	}
	fmt.Fprintln(ui.Out)

	// Release
	if p.Version != "" {
		fmt.Fprintf(ui.Out, "  Version:     %s\n", output.Green(p.Version))
		if p.ReleaseDate != nil {
			fmt.Fprintf(ui.Out, "  Released:    %s (%s)\n", p.ReleaseDate.Format("2006-01-02"), timeAgo(*p.ReleaseDate))
		}
		if p.DownloadURL != "" {
			fmt.Fprintf(ui.Out, "  Download:    %s\n", p.DownloadURL)
		}
	}

	// Last commit
	if p.LastCommitHash != "" {
		line := p.LastCommitHash
		if p.LastCommitDate != nil {
			line += " " + timeAgo(*p.LastCommitDate)
		}
		fmt.Fprintf(ui.Out, "  Last commit: %s\n", line)
		if u := git.CommitURL(p.RepoURL, p.LastCommitHashLong); u != "" {
			ui.VerboseLog("Commit: %s", u)
		}
	}

	refreshed := "never"
	if p.RefreshedAt != nil {
		refreshed = timeAgo(*p.RefreshedAt)
	}
	fmt.Fprintf(ui.Out, "  Refreshed:   %s\n", refreshed)
	if p.Error != "" {
		fmt.Fprintf(ui.Out, "  Error:       %s\n", output.Red(p.Error))
	}

	if p.Description != "" && verbose {
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, p.Description)
	}
	return nil
}

func projectIgnoreRun(ctx context.Context, id string) error {
	ctx = cmdContext(ctx)
	s, err := getStore()
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would ignore project: %s", id)
		return nil
	}
	p, err := refresherFunc(s).Ignore(ctx, id, ignoreReason)
	if err != nil {
		return err
	}
	ui.Success("Ignored project: %s", output.Cyan(refresh.DisplayTitle(p.Title, p.RepoURL, p.ID)))
	return nil
}

func projectActivateRun(ctx context.Context, id string) error {
	ctx = cmdContext(ctx)
	s, err := getStore()
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would activate project: %s", id)
		return nil
	}
	p, err := refresherFunc(s).Activate(ctx, id)
	if err != nil {
		return err
	}
	ui.Success("Published project: %s", output.Cyan(refresh.DisplayTitle(p.Title, p.RepoURL, p.ID)))
	return nil
}

// timeAgo returns a human-readable duration from a time.
func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	}
}
