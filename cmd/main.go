package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stevencox/tycho/internal/httpapi"
	"github.com/stevencox/tycho/internal/k8s"
	"github.com/stevencox/tycho/internal/logger"
	"github.com/stevencox/tycho/internal/tycho/driver"
	"github.com/stevencox/tycho/internal/tycho/engine"
	"github.com/stevencox/tycho/internal/tycho/registry"
	"github.com/stevencox/tycho/internal/tycho/render"
	"github.com/stevencox/tycho/internal/tychoconfig"
)

func main() {
	logger.Initialize("info", false) // re-initialized below once config (which may itself log) is loaded

	cfg, err := tychoconfig.Load()
	if err != nil {
		logger.Engine().Fatal().Err(err).Msg("failed to load configuration")
	}
	logger.Initialize(cfg.LogLevel, cfg.LogPretty)

	logger.Engine().Info().Str("namespace", cfg.Namespace).Str("dev_phase", string(cfg.DevPhase)).Msg("starting tycho")

	reg, err := registry.Load(cfg.RegistryPath, registry.Options{
		Product:      "common",
		RedisEnabled: cfg.RedisEnabled,
		RedisAddr:    cfg.RedisAddr,
	})
	if err != nil {
		logger.Engine().Fatal().Err(err).Msg("failed to load app registry")
	}

	renderEngine := render.NewEngine(cfg.TemplateDirs)

	var client driver.Client
	if cfg.DevPhase == tychoconfig.DevPhaseStub {
		logger.Engine().Warn().Msg("DEV_PHASE=stub: using in-memory orchestrator fabric")
		client = driver.NewStubClient()
	} else {
		kubeClient, err := k8s.NewClient(cfg.Namespace)
		if err != nil {
			logger.Engine().Fatal().Err(err).Msg("failed to connect to kubernetes")
		}
		client = driver.NewKubeClient(kubeClient)
	}

	drv := driver.New(client, cfg)
	eng := engine.New(cfg, reg, renderEngine, drv)

	router := httpapi.NewRouter(eng)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,

		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.HTTP().Info().Str("addr", cfg.HTTPAddr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.HTTP().Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Engine().Info().Str("signal", sig.String()).Msg("shutting down")

	shutdownTimeout := 30 * time.Second
	if timeoutEnv := os.Getenv("SHUTDOWN_TIMEOUT"); timeoutEnv != "" {
		if duration, err := time.ParseDuration(timeoutEnv); err == nil {
			shutdownTimeout = duration
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Engine().Error().Err(err).Msg("server forced to shutdown")
	} else {
		logger.Engine().Info().Msg("server stopped gracefully")
	}
}
