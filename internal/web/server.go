package web

import (
	"context"
	_ "embed"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

//go:embed index.html
var indexHTML string

// DataSource is what the HTTP handlers need from the dashboard. It is an
// interface so handlers can be tested against a fake.
type DataSource interface {
	Refresh(ctx context.Context) (*Snapshot, error)
	Current() (*Snapshot, bool)
	LastRefresh() (time.Time, bool)
}

// Server is the dashboard web server.
type Server struct {
	dash   DataSource
	router *gin.Engine
	logger *slog.Logger
}

// NewServer creates the web server and wires its routes.
func NewServer(dash DataSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.SetHTMLTemplate(template.Must(template.New("index.html").Parse(indexHTML)))

	s := &Server{
		dash:   dash,
		router: router,
		logger: logger,
	}

	router.GET("/", s.handleIndex)

	api := router.Group("/api")
	{
		api.GET("/dashboard", s.handleDashboard)
		api.POST("/refresh", s.handleRefresh)
		api.GET("/status", s.handleStatus)
	}

	return s
}

// Handler exposes the router for embedding in an http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the server on the given address and blocks.
func (s *Server) Run(addr string) error {
	s.logger.Info("web server listening", "addr", addr)
	return s.router.Run(addr)
}

func (s *Server) handleIndex(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{
		"title": "GitDash",
	})
}

// handleDashboard returns the current snapshot. The first request triggers
// one refresh; after that reads never hit GitHub.
func (s *Server) handleDashboard(c *gin.Context) {
	if snap, ok := s.dash.Current(); ok {
		c.JSON(http.StatusOK, snap)
		return
	}

	snap, err := s.dash.Refresh(c.Request.Context())
	if err != nil {
		s.logger.Error("initial dashboard refresh failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleRefresh(c *gin.Context) {
	snap, err := s.dash.Refresh(c.Request.Context())
	if err != nil {
		s.logger.Error("manual refresh failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleStatus(c *gin.Context) {
	_, hasData := s.dash.Current()

	var lastRefresh any
	if t, ok := s.dash.LastRefresh(); ok {
		lastRefresh = t.Format(time.RFC3339)
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"last_refresh": lastRefresh,
		"has_data":     hasData,
	})
}
