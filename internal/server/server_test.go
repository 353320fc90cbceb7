package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/krellgit/claude-autonomy-tracker/internal/config"
	"github.com/krellgit/claude-autonomy-tracker/internal/db"
	"github.com/krellgit/claude-autonomy-tracker/internal/models"
	"github.com/krellgit/claude-autonomy-tracker/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type harness struct {
	t     *testing.T
	srv   *Server
	store *store.Store
	h     http.Handler
}

func newHarness(t *testing.T, cfg config.ServerConfig) *harness {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(gdb))

	st := store.New(gdb)
	srv, err := New(Options{
		Store:        st,
		Config:       cfg,
		Log:          zerolog.Nop(),
		PollInterval: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	return &harness{t: t, srv: srv, store: st, h: srv.Handler()}
}

func (h *harness) do(method, target string, body io.Reader, header map[string]string) *httptest.ResponseRecorder {
	h.t.Helper()
	req := httptest.NewRequest(method, target, body)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.h.ServeHTTP(w, req)
	return w
}

func (h *harness) get(target string) *httptest.ResponseRecorder {
	return h.do(http.MethodGet, target, nil, nil)
}

func (h *harness) postJSON(target, body string) *httptest.ResponseRecorder {
	return h.do(http.MethodPost, target, strings.NewReader(body), map[string]string{"Content-Type": "application/json"})
}

func (h *harness) seed(username string, duration, actions int64) models.Session {
	h.t.Helper()
	sess := &models.Session{Username: username, AutonomousDuration: duration, ActionCount: actions}
	require.NoError(h.t, h.store.CreateSession(context.Background(), sess))
	return *sess
}

func (h *harness) closeDB() {
	sqlDB, err := h.store.DB().DB()
	require.NoError(h.t, err)
	require.NoError(h.t, sqlDB.Close())
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	out := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store is required")
}

func TestCreateSession(t *testing.T) {
	h := newHarness(t, config.ServerConfig{})

	w := h.postJSON("/api/sessions", `{"username":"bob","autonomous_duration":1800,"action_count":12,"metadata":{"hook_version":"1.0.0"}}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	sess := body["session"].(map[string]interface{})
	assert.NotZero(t, sess["id"])
	assert.NotEmpty(t, sess["created_at"])
	assert.Equal(t, "bob", sess["username"])
	assert.Equal(t, float64(1800), sess["autonomous_duration"])
	assert.Equal(t, float64(12), sess["action_count"])
	assert.Equal(t, "1.0.0", sess["metadata"].(map[string]interface{})["hook_version"])

	stats, err := h.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalSessions)
	assert.Equal(t, int64(12), stats.TotalActions)
	assert.Equal(t, int64(1800), stats.LongestDuration)
}

func TestCreateSession_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing duration", `{"username":"bob"}`, "Missing required fields: username, autonomous_duration"},
		{"negative duration", `{"username":"bob","autonomous_duration":-1}`, "autonomous_duration must be a non-negative number"},
		{"string duration", `{"username":"bob","autonomous_duration":"60"}`, "autonomous_duration must be a non-negative number"},
		{"not json", `hello`, "Request body must be a JSON object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, config.ServerConfig{})
			w := h.postJSON("/api/sessions", tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.want, decodeBody(t, w)["error"])

			stats, err := h.store.Stats(context.Background())
			require.NoError(t, err)
			assert.Zero(t, stats.TotalSessions, "nothing persisted")
		})
	}
}

func TestCreateSession_StoreFailureIsOpaque(t *testing.T) {
	h := newHarness(t, config.ServerConfig{})
	h.closeDB()

	w := h.postJSON("/api/sessions", `{"username":"bob","autonomous_duration":10}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, map[string]interface{}{"error": "Failed to create session"}, decodeBody(t, w))
}

func TestListSessions(t *testing.T) {
	h := newHarness(t, config.ServerConfig{})
	h.seed("alice", 100, 1)
	h.seed("bob", 300, 5)
	h.seed("Alice", 200, 9)
	h.seed("qa-test", 999, 1)

	w := h.get("/api/sessions?sort=duration&order=asc")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(3), body["count"])
	var got []float64
	for _, s := range body["sessions"].([]interface{}) {
		got = append(got, s.(map[string]interface{})["autonomous_duration"].(float64))
	}
	assert.Equal(t, []float64{100, 200, 300}, got)

	w = h.get("/api/sessions?username=ALICE&limit=abc")
	assert.Equal(t, float64(2), decodeBody(t, w)["count"])

	w = h.get("/api/sessions?limit=1&offset=1&sort=duration")
	body = decodeBody(t, w)
	require.Equal(t, float64(1), body["count"])
	assert.Equal(t, float64(200), body["sessions"].([]interface{})[0].(map[string]interface{})["autonomous_duration"])
}

func TestListSessions_StoreFailure(t *testing.T) {
	h := newHarness(t, config.ServerConfig{})
	h.closeDB()

	w := h.get("/api/sessions")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to fetch sessions", decodeBody(t, w)["error"])
	assert.NotContains(t, w.Body.String(), "sql")
}

func TestRequestTimeoutBecomesServerError(t *testing.T) {
	h := newHarness(t, config.ServerConfig{RequestTimeout: time.Nanosecond})
	h.seed("alice", 100, 1)

	w := h.get("/api/stats")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to fetch statistics", decodeBody(t, w)["error"])
}

func TestLeaderboardAndGrouped(t *testing.T) {
	h := newHarness(t, config.ServerConfig{})
	for i := 1; i <= 7; i++ {
		h.seed("carol", int64(i*10), 1)
	}
	h.seed("dave", 500, 2)

	w := h.get("/api/sessions/leaderboard?limit=2")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(2), body["count"])
	first := body["sessions"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "dave", first["username"])

	w = h.get("/api/sessions/grouped?username=CAROL")
	body = decodeBody(t, w)
	assert.Equal(t, float64(5), body["count"])
}

func TestRankings(t *testing.T) {
	h := newHarness(t, config.ServerConfig{})
	h.seed("alice", 100, 3)
	h.seed("alice", 400, 8)
	h.seed("bob", 300, 1)
	h.seed("bob", 300, 1)
	h.seed("bob", 300, 1)

	w := h.get("/api/rankings?sort=sessions")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	require.Equal(t, float64(2), body["count"])
	top := body["rankings"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "bob", top["username"])
	assert.Equal(t, float64(3), top["session_count"])

	w = h.get("/api/rankings?username=alice")
	body = decodeBody(t, w)
	require.Equal(t, float64(1), body["count"])
	alice := body["rankings"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, float64(400), alice["best_duration"])
	assert.Equal(t, float64(8), alice["best_action_count"])
	assert.Equal(t, float64(250), alice["avg_duration"])
}

func TestDeleteSessions(t *testing.T) {
	t.Run("requires a parameter", func(t *testing.T) {
		h := newHarness(t, config.ServerConfig{})
		w := h.do(http.MethodDelete, "/api/sessions", nil, nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "Must provide either username or id parameter", decodeBody(t, w)["error"])
	})

	t.Run("rejects a malformed id", func(t *testing.T) {
		h := newHarness(t, config.ServerConfig{})
		for _, id := range []string{"abc", "-1", "0", "1.5"} {
			w := h.do(http.MethodDelete, "/api/sessions?id="+id, nil, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code, "id=%s", id)
		}
	})

	t.Run("by id", func(t *testing.T) {
		h := newHarness(t, config.ServerConfig{})
		s := h.seed("alice", 10, 1)
		w := h.do(http.MethodDelete, fmt.Sprintf("/api/sessions?id=%d", s.ID), nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, map[string]interface{}{"success": true, "deletedCount": float64(1)}, decodeBody(t, w))

		w = h.do(http.MethodDelete, fmt.Sprintf("/api/sessions?id=%d", s.ID), nil, nil)
		assert.Equal(t, float64(0), decodeBody(t, w)["deletedCount"])
	})

	t.Run("by username is case-sensitive", func(t *testing.T) {
		h := newHarness(t, config.ServerConfig{})
		h.seed("alice", 10, 1)
		h.seed("alice", 20, 1)
		h.seed("Alice", 30, 1)
		w := h.do(http.MethodDelete, "/api/sessions?username=alice", nil, nil)
		assert.Equal(t, float64(2), decodeBody(t, w)["deletedCount"])
	})

	t.Run("id wins over username", func(t *testing.T) {
		h := newHarness(t, config.ServerConfig{})
		s := h.seed("alice", 10, 1)
		h.seed("alice", 20, 1)
		w := h.do(http.MethodDelete, fmt.Sprintf("/api/sessions?id=%d&username=alice", s.ID), nil, nil)
		assert.Equal(t, float64(1), decodeBody(t, w)["deletedCount"])
	})
}

func TestStats(t *testing.T) {
	h := newHarness(t, config.ServerConfig{})
	h.seed("carol", 100, 2)
	h.seed("Carol", 500, 4)
	h.seed("dan", 60, 1)

	w := h.get("/api/stats")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	_, hasUser := body["username"]
	assert.False(t, hasUser)
	stats := body["stats"].(map[string]interface{})
	assert.Equal(t, float64(3), stats["totalSessions"])
	assert.Equal(t, float64(2), stats["totalUsers"])
	assert.Equal(t, float64(220), stats["averageDuration"])
	assert.Len(t, stats["topUsers"], 2)

	w = h.get("/api/stats?username=carol")
	body = decodeBody(t, w)
	assert.Equal(t, "carol", body["username"])
	stats = body["stats"].(map[string]interface{})
	assert.Equal(t, float64(2), stats["sessionCount"])
	assert.Equal(t, float64(500), stats["longestDuration"])
	assert.Equal(t, float64(300), stats["averageDuration"])
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, config.ServerConfig{})
	w := h.get("/healthz")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeBody(t, w)["status"])

	h.closeDB()
	w = h.get("/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, config.ServerConfig{})
	h.postJSON("/api/sessions", `{"username":"bob","autonomous_duration":5}`)

	w := h.get("/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	out := w.Body.String()
	assert.Contains(t, out, "autonomy_tracker_sessions_created_total 1")
	assert.Contains(t, out, `autonomy_tracker_http_requests_total{method="POST",route="/api/sessions",status="201"} 1`)
	assert.Contains(t, out, `autonomy_tracker_db_connection_pool{stat="open"}`)
	assert.Contains(t, out, "go_goroutines")
}

func TestIndexPage(t *testing.T) {
	h := newHarness(t, config.ServerConfig{})
	task := "rewrite <the> parser"
	require.NoError(t, h.store.CreateSession(context.Background(), &models.Session{
		Username: "alice", AutonomousDuration: 3723, ActionCount: 1500, TaskDescription: &task,
	}))
	h.seed("bob", 60, 1)

	w := h.get("/?sessions_limit=10&user_sort=recent&user_order=asc")
	require.Equal(t, http.StatusOK, w.Code)
	html := w.Body.String()
	for _, want := range []string{
		"Autonomy Leaderboard",
		"Top Sessions",
		"User Rankings",
		`href="/user/alice"`,
		"1h 2m 3s",
		"1,500",
		"rewrite &lt;the&gt; parser",
		`<option value="10" selected>`,
		`<option value="recent" selected>`,
		`<option value="asc" selected>`,
	} {
		assert.Contains(t, html, want)
	}
}

func TestIndexPage_Empty(t *testing.T) {
	h := newHarness(t, config.ServerConfig{})
	w := h.get("/")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "No sessions yet")
	assert.NotContains(t, w.Body.String(), `class="stats"`)
}

func TestIndexPage_StoreFailureStillRenders(t *testing.T) {
	h := newHarness(t, config.ServerConfig{})
	h.closeDB()
	w := h.get("/")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Some data could not be loaded")
}

func TestUserPage(t *testing.T) {
	h := newHarness(t, config.ServerConfig{})
	h.seed("Alice", 100, 3)
	h.seed("alice", 500, 4)

	w := h.get("/user/ALICE")
	require.Equal(t, http.StatusOK, w.Code)
	html := w.Body.String()
	assert.Contains(t, html, "2 sessions recorded")
	assert.Contains(t, html, "All Sessions")
	assert.Contains(t, html, "8m")

	w = h.get("/user/nobody")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "No sessions found for this user")
}

func TestSubmitForm(t *testing.T) {
	h := newHarness(t, config.ServerConfig{})

	w := h.get("/submit")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `name="autonomous_duration"`)

	form := url.Values{"username": {"erin"}, "autonomous_duration": {"900"}, "action_count": {"4"}}
	w = h.do(http.MethodPost, "/submit", strings.NewReader(form.Encode()),
		map[string]string{"Content-Type": "application/x-www-form-urlencoded"})
	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/?submitted=1", w.Header().Get("Location"))

	st, err := h.store.UserStats(context.Background(), "erin")
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.SessionCount)
	assert.Equal(t, int64(4), st.TotalActions)
}

func TestSubmitForm_Invalid(t *testing.T) {
	h := newHarness(t, config.ServerConfig{})

	form := url.Values{"username": {"erin"}, "autonomous_duration": {"-3"}}
	w := h.do(http.MethodPost, "/submit", strings.NewReader(form.Encode()),
		map[string]string{"Content-Type": "application/x-www-form-urlencoded"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	html := w.Body.String()
	assert.Contains(t, html, "autonomous_duration must be a non-negative number")
	assert.Contains(t, html, `value="erin"`, "form values are kept")
}

func TestStaticAssets(t *testing.T) {
	h := newHarness(t, config.ServerConfig{})
	for _, path := range []string{"/static/style.css", "/static/events.js"} {
		w := h.get(path)
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.NotEmpty(t, w.Body.Bytes(), path)
	}
}

func TestUnknownRoute_Returns404(t *testing.T) {
	h := newHarness(t, config.ServerConfig{})
	assert.Equal(t, http.StatusNotFound, h.get("/nonexistent").Code)
}

func TestGzip(t *testing.T) {
	h := newHarness(t, config.ServerConfig{})
	w := h.do(http.MethodGet, "/static/style.css", nil, map[string]string{"Accept-Encoding": "gzip"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))

	off := false
	h = newHarness(t, config.ServerConfig{Gzip: &off})
	w = h.do(http.MethodGet, "/static/style.css", nil, map[string]string{"Accept-Encoding": "gzip"})
	assert.Empty(t, w.Header().Get("Content-Encoding"))
}

func TestCORS(t *testing.T) {
	h := newHarness(t, config.ServerConfig{CORSOrigins: []string{"https://example.com"}})

	w := h.do(http.MethodOptions, "/api/sessions", nil, map[string]string{
		"Origin":                        "https://example.com",
		"Access-Control-Request-Method": http.MethodPost,
	})
	assert.Equal(t, "https://example.com", w.Header().Get("Access-Control-Allow-Origin"))

	w = h.do(http.MethodGet, "/api/stats", nil, map[string]string{"Origin": "https://evil.example"})
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestIDHeader(t *testing.T) {
	h := newHarness(t, config.ServerConfig{})
	w := h.get("/healthz")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestEvents_StreamsNewSessions(t *testing.T) {
	h := newHarness(t, config.ServerConfig{})
	h.seed("old", 1, 1)

	ts := httptest.NewServer(h.h)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		var event, data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "" && event != "":
				return event, data
			}
		}
	}

	event, _ := readEvent()
	require.Equal(t, "connected", event)

	h.seed("newcomer", 1234, 7)

	event, data := readEvent()
	require.Equal(t, "session", event)
	var got sessionEvent
	require.NoError(t, json.Unmarshal([]byte(data), &got))
	assert.Equal(t, "newcomer", got.Username)
	assert.Equal(t, int64(1234), got.AutonomousDuration)
}

func TestServe_ShutdownClosesEventStreams(t *testing.T) {
	h := newHarness(t, config.ServerConfig{})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- h.srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: connected\n", line)

	cancel()

	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	_, err = io.Copy(io.Discard, reader)
	assert.NoError(t, err, "stream should end cleanly")
}
