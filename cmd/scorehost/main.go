package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/park285/arcade-scores/internal/adapter/scorepresenter"
	appcfg "github.com/park285/arcade-scores/internal/config"
	"github.com/park285/arcade-scores/internal/hostbuilder"
	"github.com/park285/arcade-scores/internal/hostserver"
	"github.com/park285/arcade-scores/internal/msgcat"
	"github.com/park285/arcade-scores/internal/obslog"
	"go.uber.org/zap"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	deps, err := hostbuilder.New(initCtx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal("deps_init_error", zap.Error(err))
	}

	cat, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		logger.Fatal("messages_init_error", zap.Error(err))
	}
	format := scorepresenter.NewFormatter(cat, cfg.LeaderboardLimit)
	srv := hostserver.New(deps, cfg, format, obslog.Named("host"))

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("host_listen", zap.String("addr", cfg.ListenAddr), zap.String("backend", string(cfg.StoreBackend)))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("host_listen_error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("host_shutdown")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), time.Duration(cfg.WriteTimeoutSec+5)*time.Second)
	defer shutCancel()
	_ = httpSrv.Shutdown(shutCtx)
	// let pending score writes land before the store connections close
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Warn("host_shutdown_timeout", zap.Error(err))
	}
	if err := deps.Close(); err != nil {
		logger.Warn("deps_close_error", zap.Error(err))
	}
}
