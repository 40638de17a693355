// ABOUTME: Status command showing sync cursors, recent runs and record counts
// ABOUTME: Renders with lipgloss styles; colors drop out automatically when output is not a terminal
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/harperreed/gestor/db"
	"github.com/harperreed/gestor/models"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			Underline(true)

	resourceStyle = lipgloss.NewStyle().
			Bold(true).
			Width(12)

	idleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	syncingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)
)

func newStatusCommand(a *app) *cobra.Command {
	var runs int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sync cursors, recent runs and record counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, closeDB, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeDB()

			return renderStatus(cmd.Context(), cmd.OutOrStdout(), store, runs, time.Now())
		},
	}
	cmd.Flags().IntVar(&runs, "runs", 5, "Number of recent runs to show")
	return cmd
}

func renderStatus(ctx context.Context, out io.Writer, store *db.Store, runLimit int, now time.Time) error {
	cursors, err := store.ListSyncCursors(ctx)
	if err != nil {
		return err
	}
	counts, err := store.Counts(ctx)
	if err != nil {
		return err
	}
	runs, err := store.ListSyncRuns(ctx, runLimit)
	if err != nil {
		return err
	}
	holder, err := store.SyncLockHolder(ctx)
	if err != nil {
		return err
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("Sync Status"))
	s.WriteString("\n\n")

	s.WriteString(headerStyle.Render("Resources"))
	s.WriteString("\n")
	byResource := make(map[string]*models.SyncCursor, len(cursors))
	for i := range cursors {
		byResource[cursors[i].Resource] = &cursors[i]
	}
	for _, resource := range models.Resources {
		s.WriteString("  ")
		s.WriteString(resourceStyle.Render(resource))
		s.WriteString(fmt.Sprintf("%6d records  ", counts[resource]))
		s.WriteString(cursorState(byResource[resource], now))
		s.WriteString("\n")
	}
	s.WriteString("\n")

	if holder != "" {
		s.WriteString(syncingStyle.Render("⟳ Sync in progress: " + holder))
		s.WriteString("\n\n")
	}

	s.WriteString(headerStyle.Render("Recent Runs"))
	s.WriteString("\n")
	if len(runs) == 0 {
		s.WriteString(mutedStyle.Render("  No runs yet. Run 'gestor sync' to start."))
		s.WriteString("\n")
	}
	for i := range runs {
		s.WriteString("  ")
		s.WriteString(runLine(&runs[i], now))
		s.WriteString("\n")
	}

	_, err = io.WriteString(out, s.String())
	return err
}

func cursorState(c *models.SyncCursor, now time.Time) string {
	switch {
	case c == nil:
		return mutedStyle.Render("Not synced yet")
	case c.Status == models.SyncStatusSyncing:
		return syncingStyle.Render("⟳ Syncing...")
	case c.Status == models.SyncStatusError:
		msg := "✗ Error"
		if c.ErrorMessage != "" {
			msg += ": " + c.ErrorMessage
		}
		return errorStyle.Render(msg)
	}

	line := idleStyle.Render("✓ Idle")
	if c.Watermark != nil {
		line += mutedStyle.Render(" • synced through " + c.Watermark.Local().Format("2006-01-02 15:04") +
			" (" + formatTimeSince(*c.Watermark, now) + ")")
	}
	return line
}

func runLine(r *models.SyncRun, now time.Time) string {
	var mark string
	switch r.Status {
	case models.RunStatusOK:
		mark = idleStyle.Render("✓ ok     ")
	case models.RunStatusRunning:
		mark = syncingStyle.Render("⟳ running")
	case models.RunStatusPartial:
		mark = errorStyle.Render("✗ partial")
	default:
		mark = errorStyle.Render("✗ failed ")
	}

	kind := "incremental"
	if r.Full {
		kind = "full"
	}
	line := fmt.Sprintf("%s  %s  %-11s %-9s", mark, r.StartedAt.Local().Format("2006-01-02 15:04"), kind, r.Trigger)
	if d := r.Duration(); d > 0 {
		line += fmt.Sprintf(" %s", d.Round(time.Second))
	}
	line += mutedStyle.Render("  " + formatTimeSince(r.StartedAt, now))
	if r.Error != "" {
		line += "\n      " + errorStyle.Render(r.Error)
	}
	return line
}

func formatTimeSince(t, now time.Time) string {
	duration := now.Sub(t)

	switch {
	case duration < time.Minute:
		return "just now"
	case duration < time.Hour:
		minutes := int(duration.Minutes())
		if minutes == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", minutes)
	case duration < 24*time.Hour:
		hours := int(duration.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	default:
		days := int(duration.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
}
