package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/krellgit/claude-autonomy-tracker/internal/transcript"
)

const sampleTranscript = `{"type":"user","timestamp":"2025-01-15T10:00:00Z","message":{"role":"user","content":"fix the build"}}
{"type":"assistant","timestamp":"2025-01-15T10:00:05Z","message":{"role":"assistant","content":[{"type":"tool_use","id":"a","name":"Bash","input":{}},{"type":"tool_use","id":"b","name":"Read","input":{}}]}}
{"type":"user","timestamp":"2025-01-15T10:00:06Z","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"a","content":"ok"}]}}
{"type":"user","timestamp":"2025-01-15T10:02:05Z","message":{"role":"user","content":"thanks"}}
`

func writeTranscripts(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	proj := filepath.Join(dir, "proj")
	if err := os.MkdirAll(proj, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(proj, "s.jsonl"), []byte(sampleTranscript), 0o644); err != nil {
		t.Fatal(err)
	}
	return filepath.Join(dir, "*", "*.jsonl")
}

func TestAnalyzeCmd(t *testing.T) {
	out, err := runCmd(t, "", "analyze", "--pattern", writeTranscripts(t))
	if err != nil {
		t.Fatalf("analyze failed: %v\n%s", err, out)
	}

	var res transcript.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if res.TotalPeriods != 1 || len(res.Top) != 1 {
		t.Fatalf("result = %+v, want one period", res)
	}
	if res.Top[0].Duration != 120 || res.Top[0].ActionCount != 2 {
		t.Errorf("period = %+v, want 120s with 2 actions", res.Top[0])
	}
	if !strings.Contains(out, `"top_5"`) || !strings.Contains(out, `"date":"2025-01-15"`) {
		t.Errorf("unexpected JSON shape: %s", out)
	}
}

func TestAnalyzeCmd_NoFiles(t *testing.T) {
	out, err := runCmd(t, "", "analyze", "--pattern", filepath.Join(t.TempDir(), "*.jsonl"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(out, `{"error":"No session files found"}`) {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestAnalyzeCmd_Submit(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sessions" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		if err := json.Unmarshal(raw, &body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	out, err := runCmd(t, "", "analyze", "--pattern", writeTranscripts(t), "--submit", srv.URL+"/", "-u", "alice")
	if err != nil {
		t.Fatalf("analyze --submit failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Submitted 1 periods") {
		t.Errorf("unexpected output: %s", out)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 1 {
		t.Fatalf("got %d submissions, want 1", len(bodies))
	}
	b := bodies[0]
	if b["username"] != "alice" || b["autonomous_duration"] != float64(120) || b["action_count"] != float64(2) {
		t.Errorf("submission = %v", b)
	}
	if b["session_start"] != "2025-01-15T10:00:05Z" {
		t.Errorf("session_start = %v", b["session_start"])
	}
}

func TestAnalyzeCmd_SubmitRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Missing required fields: username, autonomous_duration"}`))
	}))
	defer srv.Close()

	_, err := runCmd(t, "", "analyze", "--pattern", writeTranscripts(t), "--submit", srv.URL, "-u", "alice")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "400") || !strings.Contains(err.Error(), "Missing required fields") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestAnalyzeCmd_SubmitNeedsUsername(t *testing.T) {
	_, err := runCmd(t, "", "analyze", "--pattern", writeTranscripts(t), "--submit", "http://127.0.0.1:1", "-u", " ")
	if err == nil || !strings.Contains(err.Error(), "--username") {
		t.Errorf("expected username error, got %v", err)
	}
}
