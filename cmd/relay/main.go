package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/alym00sa/hira/internal/config"
	"github.com/alym00sa/hira/internal/di"
	"github.com/alym00sa/hira/internal/logger"
	"github.com/alym00sa/hira/internal/relay"
)

func main() {
	if err := config.LoadConfig(); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := logger.InitLogger(); err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	container := di.InitContainer()
	if err := di.RegisterProviders(container); err != nil {
		logger.Fatal("failed to register providers", zap.Error(err))
	}

	// Ctrl+C / SIGTERM触发优雅关闭
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := di.Invoke(func(server *relay.Server) error {
		logger.Info("🚀 Starting HiRA relay service",
			zap.String("host", config.GetAppConfig().Server.Host),
			zap.String("port", config.GetAppConfig().Server.Port),
			zap.String("vector_store", config.GetAppConfig().Knowledge.VectorStore.Provider))
		return server.Start(ctx)
	})
	if err != nil {
		logger.Fatal("relay service exited", zap.Error(err))
	}
	logger.Info("relay service stopped")
}
