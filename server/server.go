// Package server exposes the dashboard REST API over gin and serves the
// static dashboard when one is present.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"aipulse/config"
	"aipulse/ingest"
	"aipulse/query"
	"aipulse/runlog"
	"aipulse/store"
)

const recentRunLimit = 20

// Store is the local article store the API reads and mutates.
type Store interface {
	Snapshot() (store.Document, error)
	SaveArticle(id string) (bool, error)
	UnsaveArticle(id string) (bool, error)
}

// RunJournal serves the recent ingestion history.
type RunJournal interface {
	Recent(limit int) ([]runlog.Run, error)
}

// Ingester runs a full collection cycle for /api/refresh.
type Ingester interface {
	Run(ctx context.Context) (ingest.Summary, error)
}

// MirrorQueue receives the remote followups to save and unsave.
type MirrorQueue interface {
	EnqueueSavedState(id string, saved bool)
	EnqueueDelete(id string)
}

// Scheduler exposes the next planned refresh for the stats payload.
type Scheduler interface {
	Next() time.Time
}

// Server holds the API's collaborators and its configured router.
type Server struct {
	store        Store
	runs         RunJournal
	ingester     Ingester
	mirror       MirrorQueue
	sched        Scheduler
	lookback     time.Duration
	dashboardDir string
	router       *gin.Engine
}

// New builds the server and registers all routes. sched may be nil when
// no background refresh is running.
func New(st Store, runs RunJournal, ing Ingester, m MirrorQueue, sched Scheduler, cfg *config.Config) *Server {
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		store:        st,
		runs:         runs,
		ingester:     ing,
		mirror:       m,
		sched:        sched,
		lookback:     cfg.Lookback(),
		dashboardDir: cfg.DashboardDir,
	}

	r := gin.New()
	r.Use(gin.Recovery(), corsMiddleware())
	s.registerRoutes(r)
	s.router = r
	return s
}

// Router returns the configured gin engine, ready to serve.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		api.GET("/feed", s.getFeed)
		api.GET("/saved", s.getSaved)
		api.GET("/all", s.getAll)
		api.GET("/stats", s.getStats)
		api.GET("/runs", s.getRuns)
		api.GET("/refresh", s.refresh)
		api.POST("/save", s.saveArticle)
		api.POST("/unsave", s.unsaveArticle)
	}

	s.registerDashboard(r)
}

// registerDashboard wires the static UI when the directory exists. The
// NoRoute fallback lets the dashboard's css and js live next to index.html
// without enumerating them.
func (s *Server) registerDashboard(r *gin.Engine) {
	if s.dashboardDir == "" {
		return
	}
	index := filepath.Join(s.dashboardDir, "index.html")
	if _, err := os.Stat(index); err != nil {
		slog.Info("no dashboard directory, serving API only", "dir", s.dashboardDir)
		return
	}

	r.StaticFile("/", index)
	r.StaticFile("/index.html", index)
	r.NoRoute(func(c *gin.Context) {
		path := filepath.Join(s.dashboardDir, filepath.Clean("/"+c.Request.URL.Path))
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			c.File(path)
			return
		}
		c.Status(http.StatusNotFound)
	})
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

// statsResponse is query.Stats plus the next scheduled refresh time.
type statsResponse struct {
	query.Stats
	NextRefresh *time.Time `json:"next_refresh,omitempty"`
}

func (s *Server) buildStats(doc store.Document) statsResponse {
	resp := statsResponse{Stats: query.BuildStats(doc, s.lookback, time.Now().UTC())}
	if s.sched != nil {
		if next := s.sched.Next(); !next.IsZero() {
			resp.NextRefresh = &next
		}
	}
	return resp
}

func (s *Server) getFeed(c *gin.Context) {
	doc, err := s.store.Snapshot()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"articles": query.TodayFeed(doc, s.lookback, time.Now().UTC()),
		"stats":    s.buildStats(doc),
	})
}

func (s *Server) getSaved(c *gin.Context) {
	doc, err := s.store.Snapshot()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"articles": query.Saved(doc),
		"stats":    s.buildStats(doc),
	})
}

func (s *Server) getAll(c *gin.Context) {
	doc, err := s.store.Snapshot()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"articles": doc.Articles,
		"stats":    s.buildStats(doc),
	})
}

func (s *Server) getStats(c *gin.Context) {
	doc, err := s.store.Snapshot()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.buildStats(doc))
}

func (s *Server) getRuns(c *gin.Context) {
	runs, err := s.runs.Recent(recentRunLimit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// refresh runs a collection cycle inline. Source failures surface in the
// summary status; only a failed store commit maps to a 500.
func (s *Server) refresh(c *gin.Context) {
	slog.Info("manual refresh triggered")
	sum, err := s.ingester.Run(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": sum.Status, "summary": sum})
}

type idRequest struct {
	ID string `json:"id"`
}

func (s *Server) saveArticle(c *gin.Context) {
	var req idRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Missing id"})
		return
	}

	ok, err := s.store.SaveArticle(req.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"status": "not_found"})
		return
	}

	s.mirror.EnqueueSavedState(req.ID, true)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// unsaveArticle hard-deletes locally, then queues the matching remote
// delete so the article does not resurrect on the next pull.
func (s *Server) unsaveArticle(c *gin.Context) {
	var req idRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Missing id"})
		return
	}

	ok, err := s.store.UnsaveArticle(req.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"status": "not_found"})
		return
	}

	s.mirror.EnqueueDelete(req.ID)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
