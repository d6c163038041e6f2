package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-autoheal/internal/connectors"
	"github.com/xela07ax/spaceai-autoheal/internal/infra"
)

// Имитация внешнего исполнителя ремедиаций для локальных прогонов.
// MOCK_ADDR=:9000 MOCK_MIN_LATENCY=50ms MOCK_MAX_LATENCY=500ms
func main() {
	v := viper.New()
	v.SetEnvPrefix("mock")
	v.AutomaticEnv()
	v.SetDefault("addr", ":9000")
	v.SetDefault("min_latency", 50*time.Millisecond)
	v.SetDefault("max_latency", 500*time.Millisecond)
	v.SetDefault("log_level", "info")

	logger, err := infra.NewLogger(infra.LoggerConfig{Level: v.GetString("log_level"), Format: "console"})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	mock := connectors.NewMockRemediator(v.GetDuration("min_latency"), v.GetDuration("max_latency"), logger)
	srv := &http.Server{
		Addr:         v.GetString("addr"),
		Handler:      mock,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("mock remediator started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
	logger.Info("mock remediator stopped", zap.Int64("handled", mock.Handled()))
}
