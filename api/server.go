package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"autoexit/config"
	"autoexit/monitor"
	"autoexit/notify"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Controller is the monitor surface exposed over HTTP.
type Controller interface {
	Pause()
	Resume()
	SetTarget(points decimal.Decimal) error
	SetPollInterval(seconds float64) (float64, error)
	SetPaperMode(enabled bool)
	SetAutoExit(enabled bool)
	RetryBlocked() []string
	Status() monitor.Status
	PendingExits() map[string]int
}

// Server serves status, metrics, the notification stream and control
// endpoints.
type Server struct {
	engine     *gin.Engine
	listen     string
	ctl        Controller
	hub        *notify.Hub
	gatherer   prometheus.Gatherer
	secret     string
	totpSecret string
	log        logrus.FieldLogger
}

// Deps are the collaborators of a Server. Hub and Gatherer are optional.
type Deps struct {
	Controller Controller
	Hub        *notify.Hub
	Gatherer   prometheus.Gatherer
	TOTPSecret string
}

func NewServer(cfg config.HTTPConfig, deps Deps, log logrus.FieldLogger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		engine:     gin.New(),
		listen:     cfg.Listen,
		ctl:        deps.Controller,
		hub:        deps.Hub,
		gatherer:   deps.Gatherer,
		secret:     cfg.JWTSecret,
		totpSecret: deps.TOTPSecret,
		log:        log,
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	s.engine.GET("/status", s.handleStatus)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	s.engine.GET("/ws", s.requireToken(), s.handleStream)

	control := s.engine.Group("/control", s.requireToken())
	control.POST("/pause", s.handlePause)
	control.POST("/resume", s.handleResume)
	control.POST("/target", s.handleTarget)
	control.POST("/interval", s.handleInterval)
	control.POST("/paper", s.handlePaper)
	control.POST("/autoexit", s.handleAutoExit)
	control.POST("/retry", s.handleRetry)
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listen,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("🌐 [API] Listening on %s", s.listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	s.log.Info("🌐 [API] Server stopped")
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debugf("🌐 [API] %s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
