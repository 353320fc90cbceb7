package server

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const heartbeatInterval = 15 * time.Second

// sessionEvent announces a newly stored session.
type sessionEvent struct {
	ID                 uint      `json:"id"`
	Username           string    `json:"username"`
	AutonomousDuration int64     `json:"autonomous_duration"`
	ActionCount        int64     `json:"action_count"`
	CreatedAt          time.Time `json:"created_at"`
}

// handleEvents streams a "session" event for every session stored after the
// client connected. It polls the store rather than hooking inserts, so
// sessions written by other processes are announced too. The stream ends when
// the server shuts down.
func (s *Server) handleEvents() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		ctx := c.Request.Context()
		log := zerolog.Ctx(ctx)

		writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
		c.Writer.Flush()

		lastSeenID, err := s.store.LatestID(ctx)
		if err != nil {
			log.Error().Err(err).Msg("events: load latest id")
			return
		}

		ticker := time.NewTicker(s.pollInterval)
		heartbeat := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.shutdown:
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case <-ticker.C:
				fresh, err := s.store.SessionsSince(ctx, lastSeenID, 0)
				if err != nil {
					if ctx.Err() == nil {
						log.Warn().Err(err).Msg("events: poll sessions")
					}
					continue
				}
				for _, sess := range fresh {
					writeSSE(c.Writer, "session", sessionEvent{
						ID:                 sess.ID,
						Username:           sess.Username,
						AutonomousDuration: sess.AutonomousDuration,
						ActionCount:        sess.ActionCount,
						CreatedAt:          sess.CreatedAt,
					})
					lastSeenID = sess.ID
				}
				if len(fresh) > 0 {
					c.Writer.Flush()
				}
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
