package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/osp/internal/models"
	"github.com/joescharf/osp/internal/refresh"
	"github.com/joescharf/osp/internal/store"
)

var (
	reportFormat string
	exportType   string
	reportDays   int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the catalog as JSON, CSV, or Markdown",
	Long:  "Export catalog entries, or only the entries with a stored refresh error, in various formats.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return exportRun(cmdContext(cmd.Context()), ui.Out)
	},
}

func init() {
	exportCmd.Flags().StringVar(&reportFormat, "format", "json", "Output format: json, csv, markdown")
	exportCmd.Flags().StringVar(&exportType, "type", "projects", "Data type: projects, errors")
	rootCmd.AddCommand(exportCmd)
}

func exportRun(ctx context.Context, w io.Writer) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	projects, err := s.ListProjects(ctx, store.ProjectListFilter{})
	if err != nil {
		return err
	}

	switch exportType {
	case "projects":
		return exportProjects(w, projects)
	case "errors":
		var failing []*models.Project
		for _, p := range projects {
			if p.Error != "" {
				failing = append(failing, p)
			}
		}
		return exportErrors(w, failing)
	default:
		return fmt.Errorf("unknown export type: %s (use: projects, errors)", exportType)
	}
}

func dateOrEmpty(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func exportProjects(w io.Writer, projects []*models.Project) error {
	switch reportFormat {
	case "json":
		if projects == nil {
			projects = []*models.Project{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(projects)
	case "csv":
		cw := csv.NewWriter(w)
		_ = cw.Write([]string{"ID", "Title", "Status", "Repository", "Version", "Released", "License", "Language", "LastCommit", "Tags"})
		for _, p := range projects {
			_ = cw.Write([]string{
				p.ID, refresh.DisplayTitle(p.Title, p.RepoURL, p.ID), string(p.Status), p.RepoURL, p.Version,
				dateOrEmpty(p.ReleaseDate), p.License, p.Language, dateOrEmpty(p.LastCommitDate), strings.Join(p.Tags, ";"),
			})
		}
		cw.Flush()
		return cw.Error()
	case "markdown":
		fmt.Fprintln(w, "# Projects")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "| Title | Status | Version | License | Repository |")
		fmt.Fprintln(w, "|-------|--------|---------|---------|------------|")
		for _, p := range projects {
			fmt.Fprintf(w, "| %s | %s | %s | %s | %s |\n",
				refresh.DisplayTitle(p.Title, p.RepoURL, p.ID), p.Status, p.Version, p.License, p.RepoURL)
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s", reportFormat)
	}
}

func exportErrors(w io.Writer, projects []*models.Project) error {
	type errorRow struct {
		ID      string `json:"id"`
		Title   string `json:"title"`
		Status  string `json:"status"`
		RepoURL string `json:"repo_url"`
		Error   string `json:"error"`
	}
	rows := make([]errorRow, len(projects))
	for i, p := range projects {
		rows[i] = errorRow{
			ID: p.ID, Title: refresh.DisplayTitle(p.Title, p.RepoURL, p.ID),
			Status: string(p.Status), RepoURL: p.RepoURL, Error: p.Error,
		}
	}

	switch reportFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case "csv":
		cw := csv.NewWriter(w)
		_ = cw.Write([]string{"ID", "Title", "Status", "Repository", "Error"})
		for _, r := range rows {
			_ = cw.Write([]string{r.ID, r.Title, r.Status, r.RepoURL, r.Error})
		}
		cw.Flush()
		return cw.Error()
	case "markdown":
		fmt.Fprintln(w, "# Refresh errors")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "| Title | Status | Error |")
		fmt.Fprintln(w, "|-------|--------|-------|")
		for _, r := range rows {
			fmt.Fprintf(w, "| %s | %s | %s |\n", r.Title, r.Status, r.Error)
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s", reportFormat)
	}
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a Markdown catalog summary",
	Long:  "Summarize the catalog by status and license, and list the releases of the last days.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportRun(cmdContext(cmd.Context()), ui.Out)
	},
}

func init() {
	reportCmd.Flags().IntVar(&reportDays, "days", 7, "Window for recent releases")
	rootCmd.AddCommand(reportCmd)
}

func reportRun(ctx context.Context, w io.Writer) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	projects, err := s.ListProjects(ctx, store.ProjectListFilter{})
	if err != nil {
		return err
	}

	byStatus := map[models.ProjectStatus]int{}
	byLicense := map[string]int{}
	var recent []*models.Project
	since := time.Now().AddDate(0, 0, -reportDays)
	for _, p := range projects {
		byStatus[p.Status]++
		if !p.Status.Active() {
			continue
		}
		license := p.License
		if license == "" {
			license = "(unknown)"
		}
		byLicense[license]++
		if p.ReleaseDate != nil && p.ReleaseDate.After(since) {
			recent = append(recent, p)
		}
	}

	fmt.Fprintln(w, "# Catalog Report")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "- Projects: %d\n", len(projects))
	for _, st := range []models.ProjectStatus{
		models.ProjectStatusPublish, models.ProjectStatusDraft, models.ProjectStatusIgnored, models.ProjectStatusTrash,
	} {
		fmt.Fprintf(w, "- %s: %d\n", st, byStatus[st])
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "## Licenses")
	licenses := make([]string, 0, len(byLicense))
	for l := range byLicense {
		licenses = append(licenses, l)
	}
	sort.Slice(licenses, func(i, j int) bool {
		if byLicense[licenses[i]] != byLicense[licenses[j]] {
			return byLicense[licenses[i]] > byLicense[licenses[j]]
		}
		return licenses[i] < licenses[j]
	})
	for _, l := range licenses {
		fmt.Fprintf(w, "- %s: %d\n", l, byLicense[l])
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "## Released in the last %d days\n", reportDays)
	if len(recent) == 0 {
		fmt.Fprintln(w, "- none")
	}
	sort.Slice(recent, func(i, j int) bool { return recent[i].ReleaseDate.After(*recent[j].ReleaseDate) })
	for _, p := range recent {
		fmt.Fprintf(w, "- %s %s (%s)\n", refresh.DisplayTitle(p.Title, p.RepoURL, p.ID), p.Version, dateOrEmpty(p.ReleaseDate))
	}
	return nil
}
