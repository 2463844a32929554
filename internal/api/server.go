// Package api is the HTTP surface: it maps verbs/paths onto the pool,
// store, tar-merge, and executor packages, enforcing the expected
// content types and status codes.
package api

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"sandboxd/internal/config"
	"sandboxd/internal/envstore"
	"sandboxd/internal/executor"
	"sandboxd/internal/hostinfo"
	"sandboxd/internal/libraries"
	"sandboxd/internal/middleware"
	"sandboxd/internal/pool"
)

// Server wires every component the HTTP surface calls into.
type Server struct {
	cfg      config.Config
	pool     *pool.Pool
	store    *envstore.Store
	executor *executor.Executor
	hostinfo *hostinfo.Provider
	log      *zap.Logger

	ready atomic.Bool
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}

// New builds a Server bound to the given components.
func New(cfg config.Config, p *pool.Pool, store *envstore.Store, exec *executor.Executor, hi *hostinfo.Provider, log *zap.Logger) *Server {
	return &Server{cfg: cfg, pool: p, store: store, executor: exec, hostinfo: hi, log: log}
}

// SetReady flips the readiness flag consulted by /healthz. Call it once
// pool initialization completes.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Router builds the gin engine: middleware chain, then the environment,
// file, specification, usage, library, and execute routes, plus the
// ambient /metrics, /healthz, and the supplemental streaming execution
// endpoint.
func (s *Server) Router() *gin.Engine {
	if s.cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.Recovery(s.log))
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog(s.log))

	r.GET("/healthz", s.handleHealthz)
	r.GET("/metrics", gin.WrapH(metricsHandler()))

	r.HEAD("/environments/:id/", s.handleEnvironmentHead)
	r.GET("/environments/:id/", s.handleEnvironmentGet)
	r.HEAD("/files/:id/*path", s.handleFileHead)
	r.GET("/files/:id/*path", s.handleFileGet)
	r.GET("/specifications/", s.handleSpecifications)
	r.GET("/usages/", s.handleUsages)
	r.GET("/libraries/", s.handleLibraries)

	limiter := middleware.NewIPRateLimiter(s.cfg.RateLimitRPS, s.cfg.RateLimitBurst)
	execute := r.Group("/")
	execute.Use(middleware.RateLimit(limiter))
	execute.POST("/execute/", s.handleExecute)
	execute.GET("/executions/stream", s.handleExecuteStream)

	return r
}

func (s *Server) handleHealthz(c *gin.Context) {
	ready := s.ready.Load()
	status := http.StatusServiceUnavailable
	if ready {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"ready":             ready,
		"pool_available":    s.pool.Available(),
		"pool_size":         s.pool.Size(),
	})
}

func (s *Server) handleSpecifications(c *gin.Context) {
	specs, err := s.hostinfo.Specifications(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, specs)
}

func (s *Server) handleUsages(c *gin.Context) {
	usage, err := s.hostinfo.Usage(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, usage)
}

func (s *Server) handleLibraries(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	c.JSON(http.StatusOK, libraries.Inspect(ctx))
}
