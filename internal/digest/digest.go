// Package digest posts a periodic leaderboard summary to chat platforms.
package digest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/krellgit/claude-autonomy-tracker/internal/format"
	"github.com/krellgit/claude-autonomy-tracker/internal/models"
)

// ColorInfo is the sidebar color used for digest attachments.
const ColorInfo = "#2196f3"

// Source is the slice of the store a digest reads.
type Source interface {
	Stats(ctx context.Context) (*models.Stats, error)
	Leaderboard(ctx context.Context, limit int) ([]models.Session, error)
}

// Report is the data behind one digest.
type Report struct {
	GeneratedAt time.Time
	Stats       *models.Stats
	Top         []models.Session
}

// Message is a digest rendered for chat.
type Message struct {
	Title  string
	Body   string
	Color  string
	Fields []Field
}

// Field is a key-value pair displayed beside the message body.
type Field struct {
	Name  string
	Value string
	Short bool
}

// Build reads the current leaderboard. It returns nil when no sessions have
// been recorded so callers can skip sending.
func Build(ctx context.Context, src Source, limit int, now time.Time) (*Report, error) {
	stats, err := src.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("digest: load stats: %w", err)
	}
	if stats.TotalSessions == 0 {
		return nil, nil
	}
	top, err := src.Leaderboard(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("digest: load leaderboard: %w", err)
	}
	return &Report{GeneratedAt: now, Stats: stats, Top: top}, nil
}

// Format renders r as a chat message.
func Format(r *Report) Message {
	var lines []string
	lines = append(lines, fmt.Sprintf("**As of**: %s", r.GeneratedAt.UTC().Format("Jan 2 15:04 MST")))
	lines = append(lines, fmt.Sprintf("**Sessions**: %s from %s users",
		format.Count(r.Stats.TotalSessions), format.Count(r.Stats.TotalUsers)))
	lines = append(lines, fmt.Sprintf("**Longest**: %s, **Average**: %s",
		format.Duration(r.Stats.LongestDuration), format.Duration(r.Stats.AverageDuration)))

	if len(r.Top) > 0 {
		lines = append(lines, "")
		lines = append(lines, "**Top Sessions**:")
		for i, s := range r.Top {
			line := fmt.Sprintf("  %d. %s: %s, %s actions", i+1, s.Username,
				format.Duration(s.AutonomousDuration), format.Count(s.ActionCount))
			if s.TaskDescription != nil && *s.TaskDescription != "" {
				line += fmt.Sprintf(" (%s)", truncate(*s.TaskDescription, 60))
			}
			lines = append(lines, line)
		}
	}

	fields := []Field{
		{Name: "Sessions", Value: format.Count(r.Stats.TotalSessions), Short: true},
		{Name: "Users", Value: format.Count(r.Stats.TotalUsers), Short: true},
		{Name: "Total Time", Value: format.ShortDuration(r.Stats.TotalDuration), Short: true},
		{Name: "Actions", Value: format.Count(r.Stats.TotalActions), Short: true},
	}

	return Message{
		Title:  "Autonomy Leaderboard Digest",
		Body:   strings.Join(lines, "\n"),
		Color:  ColorInfo,
		Fields: fields,
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
