// Package transcript finds autonomous work periods in local agent session
// transcripts (JSON Lines files).
//
// A period opens at the first assistant tool call after a user prompt and
// closes at the next user prompt. Periods shorter than MinDuration or without
// any tool call are discarded.
package transcript

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// MinDuration is the shortest period worth reporting.
const MinDuration = 10 * time.Second

// DefaultTop is how many periods Analyze reports when top is not positive.
const DefaultTop = 5

// maxLineSize bounds a single transcript entry. Entries with large tool
// outputs easily exceed bufio's 64KB default.
const maxLineSize = 16 << 20

var (
	// ErrNoTranscripts is returned when the pattern matches no files.
	ErrNoTranscripts = errors.New("transcript: no session files found")
	// ErrNoPeriods is returned when no file contains a qualifying period.
	ErrNoPeriods = errors.New("transcript: no autonomous periods found")
)

// Period is one autonomous stretch of work.
type Period struct {
	Start       time.Time
	End         time.Time
	Duration    int64 // whole seconds
	ActionCount int64
	File        string
}

// Summary is the JSON form of a reported period.
type Summary struct {
	Duration    int64     `json:"duration"`
	ActionCount int64     `json:"action_count"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Date        string    `json:"date"`
}

// Result is the outcome of Analyze.
type Result struct {
	TotalPeriods int       `json:"total_periods"`
	Top          []Summary `json:"top_5"`
}

// DefaultPattern is where the agent CLI keeps its transcripts.
func DefaultPattern() string {
	return filepath.Join("~", ".claude", "projects", "*", "*.jsonl")
}

// entry is the subset of a transcript line the analyzer reads.
type entry struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Message   *struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

type contentItem struct {
	Type string `json:"type"`
}

// Analyze reads every transcript matching pattern and returns the top longest
// periods, longest first. A leading "~" in pattern is expanded to the home
// directory. Unreadable files are skipped.
func Analyze(pattern string, top int) (*Result, error) {
	if top <= 0 {
		top = DefaultTop
	}
	pattern, err := expandHome(pattern)
	if err != nil {
		return nil, err
	}
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("transcript: bad pattern %q: %w", pattern, err)
	}
	if len(files) == 0 {
		return nil, ErrNoTranscripts
	}

	var all []Period
	for _, file := range files {
		// A file that fails partway still contributes what was read.
		periods, _ := ReadFile(file)
		all = append(all, periods...)
	}
	if len(all) == 0 {
		return nil, ErrNoPeriods
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Duration > all[j].Duration })
	res := &Result{TotalPeriods: len(all), Top: make([]Summary, 0, min(top, len(all)))}
	for _, p := range all[:min(top, len(all))] {
		res.Top = append(res.Top, Summary{
			Duration:    p.Duration,
			ActionCount: p.ActionCount,
			Start:       p.Start,
			End:         p.End,
			Date:        p.Start.Format("2006-01-02"),
		})
	}
	return res, nil
}

// ReadFile extracts the periods of a single transcript file.
func ReadFile(path string) ([]Period, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("transcript: open %s: %w", path, err)
	}
	defer f.Close()

	periods, err := Read(f)
	for i := range periods {
		periods[i].File = path
	}
	if err != nil {
		return periods, fmt.Errorf("transcript: read %s: %w", path, err)
	}
	return periods, nil
}

// Read extracts periods from a JSON Lines stream. Blank lines, lines that are
// not JSON and entries without a usable timestamp are ignored.
func Read(r io.Reader) ([]Period, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var (
		periods  []Period
		prompted bool
		start    time.Time
		actions  int64
	)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		ts, ok := parseTimestamp(e.Timestamp)
		if !ok {
			continue
		}

		switch {
		case e.isPrompt():
			if !start.IsZero() && actions > 0 {
				if d := ts.Sub(start); d >= MinDuration {
					periods = append(periods, Period{
						Start:       start,
						End:         ts,
						Duration:    int64(d / time.Second),
						ActionCount: actions,
					})
				}
			}
			prompted, start, actions = true, time.Time{}, 0
		case e.Type == "assistant" && prompted:
			if n := e.toolUses(); n > 0 {
				if start.IsZero() {
					start = ts
				}
				actions += n
			}
		}
	}
	return periods, sc.Err()
}

// isPrompt reports whether e is a message typed by the user. Tool results are
// recorded as user-role entries but belong to the assistant's turn.
func (e *entry) isPrompt() bool {
	if e.Type != "user" && (e.Message == nil || e.Message.Role != "user") {
		return false
	}
	if e.Message == nil {
		return true
	}
	items, ok := e.items()
	if !ok || len(items) == 0 {
		return true
	}
	for _, it := range items {
		if it.Type != "tool_result" {
			return true
		}
	}
	return false
}

func (e *entry) toolUses() int64 {
	if e.Message == nil {
		return 0
	}
	items, _ := e.items()
	var n int64
	for _, it := range items {
		if it.Type == "tool_use" {
			n++
		}
	}
	return n
}

// items decodes the message content when it is a list of typed blocks. Plain
// string content reports false.
func (e *entry) items() ([]contentItem, bool) {
	var items []contentItem
	if err := json.Unmarshal(e.Message.Content, &items); err != nil {
		return nil, false
	}
	return items, true
}

func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse("2006-01-02T15:04:05.999999999", s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func expandHome(pattern string) (string, error) {
	if pattern != "~" && !strings.HasPrefix(pattern, "~/") && !strings.HasPrefix(pattern, "~"+string(filepath.Separator)) {
		return pattern, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("transcript: resolve home: %w", err)
	}
	return filepath.Join(home, pattern[1:]), nil
}
