package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/krellgit/claude-autonomy-tracker/internal/transcript"
	"github.com/spf13/cobra"
)

func newAnalyzeCmd() *cobra.Command {
	var (
		pattern  string
		top      int
		submit   string
		username string
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Find the longest autonomous periods in local transcripts",
		Long: `Scans agent session transcripts (JSON Lines) and prints the longest
autonomous periods as JSON. With --submit, each reported period is also posted
to the leaderboard at the given base URL.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, pattern, top, submit, username)
		},
	}

	cmd.Flags().StringVar(&pattern, "pattern", transcript.DefaultPattern(), "glob of transcript files")
	cmd.Flags().IntVarP(&top, "top", "n", transcript.DefaultTop, "number of periods to report")
	cmd.Flags().StringVar(&submit, "submit", "", "leaderboard base URL to submit periods to")
	cmd.Flags().StringVarP(&username, "username", "u", os.Getenv("USER"), "username for submitted periods")
	return cmd
}

func runAnalyze(cmd *cobra.Command, pattern string, top int, submitURL, username string) error {
	out := cmd.OutOrStdout()
	enc := json.NewEncoder(out)

	res, err := transcript.Analyze(pattern, top)
	if err != nil {
		msg := err.Error()
		switch {
		case errors.Is(err, transcript.ErrNoTranscripts):
			msg = "No session files found"
		case errors.Is(err, transcript.ErrNoPeriods):
			msg = "No autonomous periods found"
		}
		_ = enc.Encode(map[string]string{"error": msg})
		return err
	}
	if err := enc.Encode(res); err != nil {
		return err
	}

	if submitURL == "" {
		return nil
	}
	if strings.TrimSpace(username) == "" {
		return fmt.Errorf("--username is required with --submit")
	}
	client := &http.Client{Timeout: 10 * time.Second}
	for i, p := range res.Top {
		if err := submitPeriod(cmd.Context(), client, submitURL, username, p); err != nil {
			return fmt.Errorf("submit period %d: %w", i+1, err)
		}
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Submitted %d periods to %s\n", len(res.Top), submitURL)
	return nil
}

// periodSubmission is the POST /api/sessions body for one period.
type periodSubmission struct {
	Username           string         `json:"username"`
	TaskDescription    string         `json:"task_description"`
	AutonomousDuration int64          `json:"autonomous_duration"`
	ActionCount        int64          `json:"action_count"`
	SessionStart       time.Time      `json:"session_start"`
	SessionEnd         time.Time      `json:"session_end"`
	Metadata           map[string]any `json:"metadata"`
}

func submitPeriod(ctx context.Context, client *http.Client, baseURL, username string, p transcript.Summary) error {
	body, err := json.Marshal(periodSubmission{
		Username:           username,
		TaskDescription:    "Autonomous period on " + p.Date,
		AutonomousDuration: p.Duration,
		ActionCount:        p.ActionCount,
		SessionStart:       p.Start,
		SessionEnd:         p.End,
		Metadata:           map[string]any{"source": "transcript"},
	})
	if err != nil {
		return err
	}

	url := strings.TrimRight(baseURL, "/") + "/api/sessions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	return nil
}
