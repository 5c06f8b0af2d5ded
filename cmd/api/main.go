package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wenwu/saas-platform/pterodactyl-service/internal/config"
	"github.com/wenwu/saas-platform/pterodactyl-service/internal/db"
	"github.com/wenwu/saas-platform/pterodactyl-service/internal/http"
	"github.com/wenwu/saas-platform/pterodactyl-service/internal/logger"
	"github.com/wenwu/saas-platform/pterodactyl-service/internal/models"
	"github.com/wenwu/saas-platform/pterodactyl-service/internal/repository"
	"github.com/wenwu/saas-platform/pterodactyl-service/internal/service"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	defer log.Sync()

	log.Info("starting pterodactyl service")

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	// Initialize database
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.NewPool(ctx, cfg.Database.DSN())
	cancel()
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	// Initialize repositories
	serviceRepo := repository.NewServiceRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	settingRepo := repository.NewSettingRepository(pool)
	logRepo := repository.NewLogRepository(pool)

	seedPanelSettings(cfg, settingRepo, log)

	// Initialize services
	provisionService := service.NewProvisionService(
		serviceRepo,
		orderRepo,
		settingRepo,
		logRepo,
		log,
	)

	// Initialize HTTP server
	server := http.NewServer(cfg, provisionService)

	// Start server in goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Server.Port)
		log.Info("server starting", zap.String("addr", addr))
		if err := server.Run(addr); err != nil {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
}

// seedPanelSettings copies bootstrap panel credentials from the
// environment into the settings table, but only for parameters that are
// still unset: the settings API owns them afterwards.
func seedPanelSettings(cfg *config.Config, settings *repository.SettingRepository, log logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	seeds := map[string]string{
		models.ParamPanelURL:  cfg.Panel.URL,
		models.ParamAPIKey:    cfg.Panel.APIKey,
		models.ParamSSOSecret: cfg.Panel.SSOSecret,
	}

	for param, value := range seeds {
		if value == "" {
			continue
		}
		current, err := settings.GetParamValue(ctx, param, "")
		if err != nil {
			log.Warn("settings seed read failed", zap.String("param", param), zap.Error(err))
			continue
		}
		if current != "" {
			continue
		}
		if err := settings.SetParamValue(ctx, param, value); err != nil {
			log.Warn("settings seed write failed", zap.String("param", param), zap.Error(err))
			continue
		}
		log.Info("seeded panel setting from environment", zap.String("param", param))
	}
}
