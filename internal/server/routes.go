package server

import (
	"io/fs"
	"net/http"

	"github.com/gin-gonic/gin"
)

// registerRoutes sets up every route on the Gin router.
func (s *Server) registerRoutes(router *gin.Engine) {
	staticFS, _ := fs.Sub(assetsFS, "assets")
	router.StaticFS("/static", http.FS(staticFS))

	router.GET("/healthz", s.handleHealth())
	router.GET("/metrics", s.metricsHandler())

	// The event stream outlives the request timeout.
	router.GET("/api/events", s.handleEvents())

	timed := router.Group("/", s.withTimeout())

	api := timed.Group("/api")
	api.POST("/sessions", s.handleCreateSession())
	api.GET("/sessions", s.handleListSessions())
	api.DELETE("/sessions", s.handleDeleteSessions())
	api.GET("/sessions/leaderboard", s.handleLeaderboard())
	api.GET("/sessions/grouped", s.handleGroupedSessions())
	api.GET("/rankings", s.handleRankings())
	api.GET("/stats", s.handleStats())

	timed.GET("/", s.handleIndex())
	timed.GET("/user/:username", s.handleUser())
	timed.GET("/submit", s.handleSubmitForm())
	timed.POST("/submit", s.handleSubmit())
}
