package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/urmzd/homelink/pkg/api/handlers"
)

// Router holds the Gin engine and dependencies
type Router struct {
	engine   *gin.Engine
	conn     handlers.Connectivity
	bus      handlers.Subscriber
	gatherer prometheus.Gatherer
}

// NewRouter creates a new API router. A nil gatherer leaves /metrics
// unregistered.
func NewRouter(conn handlers.Connectivity, bus handlers.Subscriber, gatherer prometheus.Gatherer) *Router {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	SetupMiddleware(engine)

	router := &Router{
		engine:   engine,
		conn:     conn,
		bus:      bus,
		gatherer: gatherer,
	}

	router.setupRoutes()

	return router
}

// setupRoutes configures all API routes
func (r *Router) setupRoutes() {
	// Swagger UI
	r.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.engine.GET("/docs", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})

	if r.gatherer != nil {
		r.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})))
	}

	healthHandler := handlers.NewHealthHandler(r.conn)
	r.engine.GET("/health", healthHandler.Health)

	v1 := r.engine.Group("/api/v1")
	{
		v1.GET("/health", healthHandler.Health)

		centralHandler := handlers.NewCentralHandler(r.conn)
		v1.GET("/central", centralHandler.GetCentral)
		v1.POST("/recover", centralHandler.RecoverAll)

		eventsHandler := handlers.NewEventsHandler(r.conn, r.bus)
		v1.GET("/events", eventsHandler.Events)

		interfacesHandler := handlers.NewInterfacesHandler(r.conn)
		interfaces := v1.Group("/interfaces")
		{
			interfaces.GET("", interfacesHandler.ListInterfaces)
			interfaces.GET("/:id", interfacesHandler.GetInterface)
			interfaces.POST("/:id/recover", interfacesHandler.RecoverInterface)
			interfaces.POST("/:id/heartbeat", interfacesHandler.Heartbeat)
		}
	}
}

// Handler returns the HTTP handler of the router.
func (r *Router) Handler() http.Handler {
	return r.engine
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
// Request contexts derive from ctx so open event streams end with it.
func (r *Router) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.engine,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
