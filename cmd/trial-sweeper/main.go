// Command trial-sweeper runs one trial expiry pass and exits. It is meant for
// schedulers that start a process instead of calling the HTTP trigger.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/gestor-assinaturas-go/internal/app"
	"github.com/boddenberg/gestor-assinaturas-go/internal/config"
	"github.com/boddenberg/gestor-assinaturas-go/internal/infra/observability"

	"go.uber.org/zap"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	logger := observability.NewLogger(cfg.LogLevel, "trial-sweeper")
	defer logger.Sync()

	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "trial-sweeper")
	if err != nil {
		logger.Error("failed to init tracer", zap.Error(err))
		return 1
	}
	defer shutdown(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	application, err := app.Build(ctx, cfg, observability.NewMetrics(), logger)
	if err != nil {
		logger.Error("failed to wire services", zap.Error(err))
		return 1
	}
	defer application.Close()

	result, err := application.Sweeper.Run(ctx)
	if err != nil {
		logger.Error("trial sweep failed", zap.Error(err))
		return 1
	}

	logger.Info("trial sweep finished",
		zap.Int("expired_trials_updated", result.ExpiredTrialsUpdated),
		zap.Int("trials_expiring_soon", result.TrialsExpiringSoon),
	)
	return 0
}
