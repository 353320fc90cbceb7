package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/krellgit/claude-autonomy-tracker/internal/ingest"
	"github.com/krellgit/claude-autonomy-tracker/internal/store"
	"github.com/rs/zerolog"
)

// Messages returned when the store fails. Details are logged, not returned.
const (
	errCreateSession    = "Failed to create session"
	errFetchSessions    = "Failed to fetch sessions"
	errFetchLeaderboard = "Failed to fetch leaderboard"
	errFetchRankings    = "Failed to fetch rankings"
	errDeleteSessions   = "Failed to delete sessions"
	errFetchStats       = "Failed to fetch statistics"
	errDeleteParams     = "Must provide either username or id parameter"
	errDeleteID         = "id must be a positive integer"
)

// fail logs err against the request and answers with a generic 500.
func fail(c *gin.Context, err error, msg string) {
	zerolog.Ctx(c.Request.Context()).Error().
		Err(err).
		Bool("retryable", store.IsRetryable(err)).
		Msg(strings.ToLower(msg))
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}

// queryInt parses an integer query parameter, returning 0 when absent or
// malformed so the store applies its default.
func queryInt(c *gin.Context, key string) int {
	n, err := strconv.Atoi(strings.TrimSpace(c.Query(key)))
	if err != nil {
		return 0
	}
	return n
}

func (s *Server) handleCreateSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		sub, err := ingest.Decode(c.Request.Body)
		if err != nil {
			var ve *ingest.ValidationError
			if errors.As(err, &ve) {
				c.JSON(http.StatusBadRequest, gin.H{"error": ve.Message})
				return
			}
			fail(c, err, errCreateSession)
			return
		}

		sess := sub.Session()
		if err := s.store.CreateSession(c.Request.Context(), sess); err != nil {
			fail(c, err, errCreateSession)
			return
		}
		s.metrics.SessionsCreated.Inc()
		c.JSON(http.StatusCreated, gin.H{"success": true, "session": sess})
	}
}

func (s *Server) handleListSessions() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessions, err := s.store.ListSessions(c.Request.Context(), store.ListParams{
			Limit:    queryInt(c, "limit"),
			Offset:   queryInt(c, "offset"),
			Username: c.Query("username"),
			Sort:     store.ParseSortField(c.Query("sort")),
			Order:    store.ParseOrder(c.Query("order")),
		})
		if err != nil {
			fail(c, err, errFetchSessions)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "sessions": sessions, "count": len(sessions)})
	}
}

func (s *Server) handleLeaderboard() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessions, err := s.store.Leaderboard(c.Request.Context(), queryInt(c, "limit"))
		if err != nil {
			fail(c, err, errFetchLeaderboard)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "sessions": sessions, "count": len(sessions)})
	}
}

func (s *Server) handleGroupedSessions() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessions, err := s.store.SessionsByUser(c.Request.Context(), c.Query("username"), queryInt(c, "limit"))
		if err != nil {
			fail(c, err, errFetchSessions)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "sessions": sessions, "count": len(sessions)})
	}
}

func (s *Server) handleRankings() gin.HandlerFunc {
	return func(c *gin.Context) {
		rankings, err := s.store.UserRankings(c.Request.Context(), store.RankingParams{
			Limit:    queryInt(c, "limit"),
			SortBy:   store.ParseRankingSort(c.Query("sort")),
			Order:    store.ParseOrder(c.Query("order")),
			Username: c.Query("username"),
		})
		if err != nil {
			fail(c, err, errFetchRankings)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "rankings": rankings, "count": len(rankings)})
	}
}

// handleDeleteSessions removes by id when given, otherwise by exact username.
func (s *Server) handleDeleteSessions() gin.HandlerFunc {
	return func(c *gin.Context) {
		rawID := strings.TrimSpace(c.Query("id"))
		username := c.Query("username")
		if rawID == "" && username == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": errDeleteParams})
			return
		}

		var (
			deleted int64
			err     error
		)
		if rawID != "" {
			id, perr := strconv.ParseUint(rawID, 10, 0)
			if perr != nil || id == 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": errDeleteID})
				return
			}
			deleted, err = s.store.DeleteByID(c.Request.Context(), uint(id))
		} else {
			deleted, err = s.store.DeleteByUsername(c.Request.Context(), username)
		}
		if err != nil {
			fail(c, err, errDeleteSessions)
			return
		}

		zerolog.Ctx(c.Request.Context()).Info().
			Str("id", rawID).
			Str("username", username).
			Int64("deleted", deleted).
			Msg("sessions deleted")
		c.JSON(http.StatusOK, gin.H{"success": true, "deletedCount": deleted})
	}
}

func (s *Server) handleStats() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if username := c.Query("username"); username != "" {
			stats, err := s.store.UserStats(ctx, username)
			if err != nil {
				fail(c, err, errFetchStats)
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "username": username, "stats": stats})
			return
		}

		stats, err := s.store.Stats(ctx)
		if err != nil {
			fail(c, err, errFetchStats)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
	}
}

func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.store.Ping(c.Request.Context()); err != nil {
			zerolog.Ctx(c.Request.Context()).Warn().Err(err).Msg("health check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
