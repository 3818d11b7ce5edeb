// Package server provides the HTTP server implementation.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/poemonsense/geminicli-proxy-go/internal/account"
	"github.com/poemonsense/geminicli-proxy-go/internal/cloudcode"
	"github.com/poemonsense/geminicli-proxy-go/internal/config"
	"github.com/poemonsense/geminicli-proxy-go/internal/modules"
	"github.com/poemonsense/geminicli-proxy-go/internal/server/handlers"
	"github.com/poemonsense/geminicli-proxy-go/internal/utils"
)

// Server is the HTTP front of the proxy
type Server struct {
	engine *gin.Engine
	cfg    *config.Config
	srv    *http.Server
}

// New creates a Server wiring the pool, the pipeline client and the usage
// module into the route handlers.
func New(cfg *config.Config, pool *account.Pool, client *cloudcode.Client, usage *modules.UsageStats) *Server {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.SetTrustedProxies(nil)
	engine.Use(gin.Recovery())
	engine.Use(CORSMiddleware())
	engine.Use(RequestLoggingMiddleware())

	s := &Server{engine: engine, cfg: cfg}

	openai := handlers.NewOpenAIHandler(client, usage)
	gemini := handlers.NewGeminiHandler(client, usage)
	health := handlers.NewHealthHandler(pool, usage)

	// Unauthenticated service endpoints
	engine.GET("/", health.Root)
	engine.GET("/health", health.Health)

	auth := AuthMiddleware(cfg.AuthPassword)

	v1 := engine.Group("/v1", auth)
	v1.POST("/chat/completions", openai.ChatCompletions)
	v1.GET("/models", openai.ListModels)

	v1beta := engine.Group("/v1beta", auth)
	v1beta.GET("/models", gemini.ListModels)
	v1beta.POST("/models/*modelAction", gemini.Generate)

	engine.GET("/usage", auth, health.Usage)

	return s
}

// Handler exposes the underlying http.Handler, used by tests
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run starts the server and blocks until ctx is cancelled or the listener
// fails.
func (s *Server) Run(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:    s.cfg.Addr(),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.ListenAndServe()
	}()

	utils.Success("[Server] Listening on http://%s", s.cfg.Addr())
	if s.cfg.IsDefaultPassword() {
		utils.Warn("[Server] GEMINI_AUTH_PASSWORD is still the default %q, set your own secret",
			config.DefaultAuthPassword)
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
