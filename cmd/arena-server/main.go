package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/park285/cheese-arena/internal/chessbuilder"
	appcfg "github.com/park285/cheese-arena/internal/config"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

func main() {
	// .env는 로컬 개발용. 없으면 무시한다.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("dotenv: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.With("main")

	cfg, err := appcfg.Load()
	if err != nil {
		logger.Fatal("config_error", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	deps, err := chessbuilder.New(initCtx, cfg)
	cancel()
	if err != nil {
		logger.Fatal("init_error", zap.Error(err))
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Warn("close_error", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           deps.API.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// 웹소켓 세션도 종료 신호를 받는다.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	var wg conc.WaitGroup
	wg.Go(func() {
		if err := deps.Worker.Run(ctx); err != nil {
			logger.Error("settlement_worker_stopped", zap.Error(err))
		}
	})
	wg.Go(func() { deps.Scheduler.Loop(ctx, cfg.MatchmakingInterval) })
	wg.Go(func() {
		logger.Info("http_listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_server_error", zap.Error(err))
			stop()
		}
	})

	<-ctx.Done()
	logger.Info("shutting_down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http_shutdown_error", zap.Error(err))
	}
	wg.Wait()
}
