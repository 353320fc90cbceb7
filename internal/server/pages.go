package server

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/krellgit/claude-autonomy-tracker/internal/ingest"
	"github.com/krellgit/claude-autonomy-tracker/internal/models"
	"github.com/krellgit/claude-autonomy-tracker/internal/store"
	"github.com/rs/zerolog"
)

// Page defaults and the choices offered by the limit selectors.
const (
	defaultSessionsLimit = 5
	defaultUsersLimit    = 50
	userPageSessions     = 50
)

var sessionLimitOptions = []int{5, 10, 20, 50}

// IndexData feeds index.html.
type IndexData struct {
	Stats         *models.Stats
	Sessions      []models.Session
	Rankings      []models.UserRanking
	SessionsLimit int
	LimitOptions  []int
	UserSort      string
	UserOrder     string
	Username      string
	Submitted     bool
	LoadFailed    bool
}

// UserData feeds user.html.
type UserData struct {
	Username   string
	Stats      *models.UserStats
	Sessions   []models.Session
	LoadFailed bool
}

// SubmitData feeds submit.html.
type SubmitData struct {
	Error string
	Form  url.Values
}

// limitParam parses key, falling back to def for anything not positive.
func limitParam(c *gin.Context, key string, def int) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func (s *Server) handleIndex() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		log := zerolog.Ctx(ctx)

		sortBy := store.ParseRankingSort(c.Query("user_sort"))
		order := store.ParseOrder(c.Query("user_order"))
		data := IndexData{
			Stats:         &models.Stats{},
			Sessions:      []models.Session{},
			Rankings:      []models.UserRanking{},
			SessionsLimit: limitParam(c, "sessions_limit", defaultSessionsLimit),
			LimitOptions:  sessionLimitOptions,
			UserSort:      sortBy.String(),
			UserOrder:     order.String(),
			Username:      strings.TrimSpace(c.Query("username")),
			Submitted:     c.Query("submitted") != "",
		}

		// A failed load renders an empty page rather than an error page.
		var err error
		if data.Stats, err = s.store.Stats(ctx); err != nil {
			log.Error().Err(err).Msg("index: load stats")
			data.Stats, data.LoadFailed = &models.Stats{}, true
		}
		if data.Sessions, err = s.store.Leaderboard(ctx, data.SessionsLimit); err != nil {
			log.Error().Err(err).Msg("index: load leaderboard")
			data.Sessions, data.LoadFailed = []models.Session{}, true
		}
		data.Rankings, err = s.store.UserRankings(ctx, store.RankingParams{
			Limit:    limitParam(c, "users_limit", defaultUsersLimit),
			SortBy:   sortBy,
			Order:    order,
			Username: data.Username,
		})
		if err != nil {
			log.Error().Err(err).Msg("index: load rankings")
			data.Rankings, data.LoadFailed = []models.UserRanking{}, true
		}

		c.HTML(http.StatusOK, "index.html", data)
	}
}

func (s *Server) handleUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		log := zerolog.Ctx(ctx)
		username := c.Param("username")

		data := UserData{Username: username, Stats: &models.UserStats{}, Sessions: []models.Session{}}
		var err error
		if data.Sessions, err = s.store.UserSessions(ctx, username, userPageSessions); err != nil {
			log.Error().Err(err).Str("username", username).Msg("user: load sessions")
			data.Sessions, data.LoadFailed = []models.Session{}, true
		}
		if data.Stats, err = s.store.UserStats(ctx, username); err != nil {
			log.Error().Err(err).Str("username", username).Msg("user: load stats")
			data.Stats, data.LoadFailed = &models.UserStats{}, true
		}
		if len(data.Sessions) > 0 {
			data.Username = data.Sessions[0].Username
		}

		c.HTML(http.StatusOK, "user.html", data)
	}
}

func (s *Server) handleSubmitForm() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.HTML(http.StatusOK, "submit.html", SubmitData{Form: url.Values{}})
	}
}

func (s *Server) handleSubmit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := c.Request.ParseForm(); err != nil {
			c.HTML(http.StatusBadRequest, "submit.html", SubmitData{Error: "Could not read form", Form: url.Values{}})
			return
		}
		form := c.Request.PostForm

		sub, err := ingest.FromForm(form)
		if err != nil {
			var ve *ingest.ValidationError
			if !errors.As(err, &ve) {
				zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("submit: validate")
				c.HTML(http.StatusInternalServerError, "submit.html", SubmitData{Error: errCreateSession, Form: form})
				return
			}
			c.HTML(http.StatusBadRequest, "submit.html", SubmitData{Error: ve.Message, Form: form})
			return
		}

		if err := s.store.CreateSession(c.Request.Context(), sub.Session()); err != nil {
			zerolog.Ctx(c.Request.Context()).Error().
				Err(err).
				Bool("retryable", store.IsRetryable(err)).
				Msg("submit: create session")
			c.HTML(http.StatusInternalServerError, "submit.html", SubmitData{Error: errCreateSession, Form: form})
			return
		}
		s.metrics.SessionsCreated.Inc()
		c.Redirect(http.StatusSeeOther, "/?submitted=1")
	}
}
