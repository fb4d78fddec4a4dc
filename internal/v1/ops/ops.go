// Package ops serves the out-of-core HTTP surface: health probes,
// Prometheus metrics, and a read-only stats snapshot. It never touches
// engine state directly; everything it reports comes from the engine's
// published snapshot, so the tick loop stays single-threaded.
package ops

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/RoseWrightdev/Parlor/internal/v1/chat"
	"github.com/RoseWrightdev/Parlor/internal/v1/config"
	"github.com/RoseWrightdev/Parlor/internal/v1/logging"
)

// statsRate caps how often one client may hit the stats route.
const statsRate = "120-M"

// shutdownGrace bounds how long Run waits for in-flight requests on exit.
const shutdownGrace = 10 * time.Second

// StatsSource provides the engine's most recent published snapshot, nil
// before the first tick completes.
type StatsSource interface {
	Snapshot() *chat.Stats
}

// Binding reports where the chat listener accepts connections.
type Binding interface {
	Addr() net.Addr
}

// Server is the ops HTTP server.
type Server struct {
	ln      net.Listener
	srv     *http.Server
	engine  StatsSource
	binding Binding
	minTick time.Duration
}

// New binds cfg.OpsAddress and assembles the router. Like the chat
// listener, binding happens here so a taken port fails startup
// immediately. Callers must not construct a Server when ops_address is
// empty; the surface is disabled then.
func New(cfg *config.Config, engine StatsSource, binding Binding) (*Server, error) {
	ln, err := net.Listen("tcp", cfg.OpsAddress)
	if err != nil {
		return nil, fmt.Errorf("ops: bind %s: %w", cfg.OpsAddress, err)
	}

	s := &Server{
		ln:      ln,
		engine:  engine,
		binding: binding,
		minTick: cfg.MinTick(),
	}
	s.srv = &http.Server{Handler: s.router()}
	return s, nil
}

// router assembles the gin engine. Tracing spans are produced only when
// the global tracer provider is configured; otherwise otelgin is a no-op.
func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	router.Use(cors.New(corsCfg))

	router.Use(correlationID())
	router.Use(otelgin.Middleware("parlord"))

	router.GET("/health/live", s.liveness)
	router.GET("/health/ready", s.readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	rate, err := limiter.NewRateFromFormatted(statsRate)
	if err != nil {
		// statsRate is a compile-time constant; a parse failure is a bug.
		panic(err)
	}
	v1 := router.Group("/v1")
	v1.GET("/stats", rateLimit(limiter.New(memory.NewStore(), rate)), s.stats)

	return router
}

// Addr returns the bound ops address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Run serves until ctx is cancelled, then drains in-flight requests and
// returns. Any other serve failure is fatal.
func (s *Server) Run(ctx context.Context) error {
	logging.Info(ctx, "ops server starting",
		zap.String("addr", s.ln.Addr().String()))

	errc := make(chan error, 1)
	go func() {
		err := s.srv.Serve(s.ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errc <- err
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("ops: serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := s.srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("ops: shutdown: %w", err)
	}
	return <-errc
}

// stats returns the engine's published snapshot: totals plus per-room
// occupancy.
func (s *Server) stats(c *gin.Context) {
	snap := s.engine.Snapshot()
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no tick completed yet"})
		return
	}
	c.JSON(http.StatusOK, snap)
}
