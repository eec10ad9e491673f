// =============================================================================
// ICBU Broker - HTTP API
// =============================================================================
//
// Routes:
//   GET  /healthz
//   /api/alibaba        : auth, callback, refresh, me
//   /api/alibaba_debug  : call, publish/minimal, publish/rows,
//                         publish/template_generator, schema/parse,
//                         schema/validate, schema/fill
//   /api/youtube        : tasks, tasks/:id, download
//
// Alibaba handlers answer with {code, msg, data}; YouTube handlers answer
// with {success, ...}.
//
// =============================================================================

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/billlvtech/icbu-broker/internal/alibaba"
	"github.com/billlvtech/icbu-broker/internal/youtube"
)

// OAuth is the authorization half of the Alibaba client.
type OAuth interface {
	AuthorizeURL() string
	ExchangeCode(ctx context.Context, code string) (alibaba.Response, error)
}

// FileResolver locates downloaded files.
type FileResolver interface {
	ResolveFile(videoID, kind string) (string, error)
}

// Deps are the services behind the routes.
type Deps struct {
	OAuth           OAuth
	Caller          alibaba.Caller
	Tokens          *alibaba.TokenService
	Flow            *alibaba.Flow
	Tasks           *youtube.Manager
	Files           FileResolver
	DefaultSellerID string
	DefaultQuality  string
	AllowedOrigins  []string
	Logger          *zap.Logger
}

// Handler holds the route handlers.
type Handler struct {
	deps   Deps
	logger *zap.Logger
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(deps Deps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.DefaultQuality == "" {
		deps.DefaultQuality = youtube.DefaultQuality
	}
	h := &Handler{deps: deps, logger: deps.Logger}

	router := gin.New()
	router.Use(ginLogger(deps.Logger))
	router.Use(recoveryMiddleware(deps.Logger))
	router.Use(corsMiddleware(deps.AllowedOrigins))

	router.GET("/healthz", h.Health)

	auth := router.Group("/api/alibaba")
	{
		auth.GET("/auth", h.Authorize)
		auth.GET("/callback", h.Callback)
		auth.POST("/refresh", h.Refresh)
		auth.GET("/me", h.Me)
	}

	debug := router.Group("/api/alibaba_debug")
	{
		debug.POST("/call", h.CallAPI)
		debug.POST("/publish/minimal", h.PublishMinimal)
		debug.POST("/publish/rows", h.PublishRows)
		debug.GET("/publish/template_generator", h.TemplateGenerator)
		debug.POST("/schema/parse", h.ParseSchema)
		debug.POST("/schema/validate", h.ValidateSchema)
		debug.POST("/schema/fill", h.FillSchema)
	}

	yt := router.Group("/api/youtube")
	{
		yt.POST("/tasks", h.CreateTask)
		yt.GET("/tasks/:id", h.GetTask)
		yt.GET("/download", h.Download)
	}

	return router
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Serve runs handler on addr until ctx is cancelled, then drains requests
// for up to grace.
func Serve(ctx context.Context, addr string, handler http.Handler, grace time.Duration, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", zap.String("address", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
