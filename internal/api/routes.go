package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/winegame-supervisor/internal/api/handlers"
	"github.com/yourusername/winegame-supervisor/internal/api/middleware"
)

// SetupRouter configures the status router. runs may be nil.
func SetupRouter(status handlers.StatusSource, runs handlers.RunHistory, logLevel string) *gin.Engine {
	if logLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.SecurityHeaders())

	statusHandler := handlers.NewStatusHandler(status, runs)

	router.GET("/health", statusHandler.Health)
	router.GET("/status", statusHandler.Status)
	router.GET("/metrics", handlers.Metrics)

	history := router.Group("/runs")
	{
		history.GET("", statusHandler.ListRuns)
		history.GET("/:id/events", statusHandler.GetRunEvents)
	}

	return router
}

// Server runs the status router until its context is cancelled.
type Server struct {
	http *http.Server
}

// NewServer creates a status server listening on addr.
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{http: &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}}
}

// Start serves in the background and shuts down when ctx is done.
func (s *Server) Start(ctx context.Context) {
	go func() {
		log.Printf("[StatusAPI] Listening on %s", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[StatusAPI] Server error: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		s.Shutdown(5 * time.Second)
	}()
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		log.Printf("[StatusAPI] Forced shutdown: %v", err)
	}
}
