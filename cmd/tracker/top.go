package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/krellgit/claude-autonomy-tracker/internal/db"
	"github.com/krellgit/claude-autonomy-tracker/internal/format"
	"github.com/krellgit/claude-autonomy-tracker/internal/models"
	"github.com/krellgit/claude-autonomy-tracker/internal/store"
	"github.com/spf13/cobra"
)

// Terminal palette.
const (
	colorAccent = "#7C3AED"
	colorBorder = "#3A3F55"
	colorMuted  = "#6D7383"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorAccent))
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(colorMuted))
)

func newTopCmd() *cobra.Command {
	var (
		configPath string
		limit      int
		sortBy     string
		order      string
	)

	cmd := &cobra.Command{
		Use:   "top",
		Short: "Print the leaderboard in the terminal",
		Long:  "Prints overall statistics, the longest sessions and the user rankings.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTop(cmd, configPath, limit, sortBy, order)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "rows per table")
	cmd.Flags().StringVar(&sortBy, "sort", "best_duration", "ranking sort: best_duration, best_action_count, avg_duration, total_duration, session_count, latest_session")
	cmd.Flags().StringVar(&order, "order", "desc", "ranking order: asc or desc")
	return cmd
}

func runTop(cmd *cobra.Command, configPath string, limit int, sortBy, order string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	_, _, st, err := openStore(ctx, configPath)
	if err != nil {
		return err
	}
	defer db.Close(st.DB())

	stats, err := st.Stats(ctx)
	if err != nil {
		return err
	}
	if stats.TotalSessions == 0 {
		fmt.Fprintln(out, "No sessions recorded yet.")
		return nil
	}
	sessions, err := st.Leaderboard(ctx, limit)
	if err != nil {
		return err
	}
	rankings, err := st.UserRankings(ctx, store.RankingParams{
		Limit:  limit,
		SortBy: store.ParseRankingSort(sortBy),
		Order:  store.ParseOrder(order),
	})
	if err != nil {
		return err
	}

	renderStats(out, stats)
	renderSessions(out, sessions)
	renderRankings(out, rankings)
	return nil
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(colorBorder))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

func renderStats(w io.Writer, s *models.Stats) {
	fmt.Fprintln(w, titleStyle.Render("Autonomy Leaderboard"))
	fmt.Fprintf(w, "%s sessions from %s users, %s in total\n",
		format.Count(s.TotalSessions), format.Count(s.TotalUsers), format.ShortDuration(s.TotalDuration))
	fmt.Fprintf(w, "Longest %s, average %s, %s actions (max %s)\n\n",
		format.Duration(s.LongestDuration), format.Duration(s.AverageDuration),
		format.Count(s.TotalActions), format.Count(s.MaxActions))
}

func renderSessions(w io.Writer, sessions []models.Session) {
	t := newTable("#", "USER", "DURATION", "ACTIONS", "TASK", "RECORDED")
	for i, s := range sessions {
		task := mutedStyle.Render("—")
		if s.TaskDescription != nil && *s.TaskDescription != "" {
			task = truncateRunes(*s.TaskDescription, 40)
		}
		t.Row(
			strconv.Itoa(i+1),
			s.Username,
			format.Duration(s.AutonomousDuration),
			humanize.Comma(s.ActionCount),
			task,
			humanize.Time(s.CreatedAt),
		)
	}
	fmt.Fprintln(w, titleStyle.Render("Top Sessions"))
	fmt.Fprintln(w, t.Render())
	fmt.Fprintln(w)
}

func renderRankings(w io.Writer, rankings []models.UserRanking) {
	t := newTable("#", "USER", "BEST", "AVG", "TOTAL", "SESSIONS", "LATEST")
	for i, r := range rankings {
		t.Row(
			strconv.Itoa(i+1),
			r.Username,
			format.Duration(r.BestDuration),
			format.Duration(r.AvgDuration),
			format.ShortDuration(r.TotalDuration),
			humanize.Comma(r.SessionCount),
			format.Relative(r.LatestSession),
		)
	}
	fmt.Fprintln(w, titleStyle.Render("User Rankings"))
	fmt.Fprintln(w, t.Render())
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
