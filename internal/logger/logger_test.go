package logger

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{" warn ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"loud", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			log := New(&bytes.Buffer{}, tt.in, false)
			assert.Equal(t, tt.want, log.GetLevel())
		})
	}
}

func TestNew_Pretty(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info", true)
	log.Info().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())), "pretty output should not be JSON")
}

func newRouter(buf *bytes.Buffer) *gin.Engine {
	r := gin.New()
	r.Use(Requests(New(buf, "debug", false)))
	r.GET("/ok/:name", func(c *gin.Context) {
		zerolog.Ctx(c.Request.Context()).Debug().Msg("inside")
		c.String(http.StatusOK, "ok")
	})
	r.GET("/boom", func(c *gin.Context) {
		c.Status(http.StatusInternalServerError)
	})
	return r
}

func lines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, l := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		m := map[string]interface{}{}
		require.NoError(t, json.Unmarshal([]byte(l), &m))
		out = append(out, m)
	}
	return out
}

func TestRequests_LogsAndTagsRequest(t *testing.T) {
	var buf bytes.Buffer
	r := newRouter(&buf)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok/alice", nil))
	require.Equal(t, http.StatusOK, w.Code)

	id := w.Header().Get(RequestIDHeader)
	require.NotEmpty(t, id)

	got := lines(t, &buf)
	require.Len(t, got, 2)
	assert.Equal(t, "inside", got[0]["message"])
	assert.Equal(t, id, got[0]["request_id"])

	assert.Equal(t, "http request", got[1]["message"])
	assert.Equal(t, "/ok/:name", got[1]["route"])
	assert.Equal(t, float64(200), got[1]["status"])
	assert.Equal(t, "info", got[1]["level"])
	assert.Equal(t, id, got[1]["request_id"])
}

func TestRequests_KeepsIncomingID(t *testing.T) {
	var buf bytes.Buffer
	r := newRouter(&buf)

	req := httptest.NewRequest(http.MethodGet, "/ok/bob", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}

func TestRequests_LevelByStatus(t *testing.T) {
	var buf bytes.Buffer
	r := newRouter(&buf)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	got := lines(t, &buf)
	require.Len(t, got, 2)
	assert.Equal(t, "error", got[0]["level"])
	assert.Equal(t, "warn", got[1]["level"])
	assert.Equal(t, "unmatched", got[1]["route"])
}
