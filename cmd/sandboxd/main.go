// Command sandboxd is the sandbox execution service entrypoint: it wires
// configuration, the container pool, the environment store, the
// scheduler, and the HTTP surface together and serves until signaled.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"sandboxd/internal/api"
	"sandboxd/internal/config"
	"sandboxd/internal/dockerdriver"
	"sandboxd/internal/envstore"
	"sandboxd/internal/executor"
	"sandboxd/internal/hostinfo"
	"sandboxd/internal/libraries"
	"sandboxd/internal/logging"
	"sandboxd/internal/pool"
	"sandboxd/internal/scheduler"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using process environment")
	}

	logging.Init()
	logger := logging.L()
	defer logging.Sync()

	cfg := config.Load()

	// Start a bootstrap listener immediately so /healthz answers while
	// the docker pool is still warming up.
	var ready atomic.Bool
	var activeHandler atomic.Value

	bootstrap := gin.New()
	bootstrap.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
	})
	activeHandler.Store(http.Handler(bootstrap))

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			activeHandler.Load().(http.Handler).ServeHTTP(w, r)
		}),
	}

	serverErrors := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()
	logger.Info("bootstrap listener started", zap.String("port", cfg.Port))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	driver, err := dockerdriver.New(cfg.Container)
	if err != nil {
		logger.Fatal("docker driver init failed", zap.Error(err))
	}

	containerPool, err := pool.New(ctx, cfg, driver, logger)
	if err != nil {
		logger.Fatal("pool init failed", zap.Error(err))
	}
	logger.Info("sandbox pool ready", zap.Int("size", containerPool.Size()))

	store, err := envstore.New(cfg.EnvironmentRoot, cfg.EnvironmentIndexPath, logger)
	if err != nil {
		logger.Fatal("environment store init failed", zap.Error(err))
	}
	defer store.Close()

	exec := executor.New(driver, store, logger, cfg.ExecuteTimeout, cfg.EnvironmentExpiration)
	hi := hostinfo.New(cfg, containerPool, 2*time.Second)
	stager := libraries.New(cfg.ExternalLibrariesRoot, cfg.Libraries, logger)

	sched := scheduler.New(store, stager, logger, cfg.EnvironmentExpiration, cfg.ExpireInterval, cfg.LibraryRefreshCron)
	go sched.Run(ctx)

	srv := api.New(cfg, containerPool, store, exec, hi, logger)
	router := srv.Router()
	activeHandler.Store(http.Handler(router))
	srv.SetReady(true)
	ready.Store(true)

	logger.Info("sandboxd ready", zap.String("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Fatal("listener failed", zap.Error(err))
	case sig := <-quit:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", zap.Error(err))
	}

	if err := containerPool.ResetAll(context.Background()); err != nil {
		logger.Warn("final pool teardown had errors", zap.Error(err))
	}

	logger.Info("sandboxd shutdown complete")
}
