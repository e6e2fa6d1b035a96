package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/wenwu/saas-platform/proxy-provisioner/internal/config"
	"github.com/wenwu/saas-platform/proxy-provisioner/internal/db"
	"github.com/wenwu/saas-platform/proxy-provisioner/internal/gateway"
	httpserver "github.com/wenwu/saas-platform/proxy-provisioner/internal/http"
	"github.com/wenwu/saas-platform/proxy-provisioner/internal/models"
	"github.com/wenwu/saas-platform/proxy-provisioner/internal/repository"
	"github.com/wenwu/saas-platform/proxy-provisioner/internal/service"
)

// panelFactory adapts the gateway client factory to the service layer.
type panelFactory struct {
	factory *gateway.Factory
}

func (f *panelFactory) ClientFor(srv *models.Server) service.PanelClient {
	return f.factory.ClientFor(srv)
}

func main() {
	log.Println("Starting Proxy Provisioner...")

	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize database
	pool, err := db.NewPool(cfg.Database.DSN(), cfg.Database.Schema)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	// Initialize repositories
	serverRepo := repository.NewServerRepository(pool)
	configRepo := repository.NewConfigRepository(pool)
	logRepo := repository.NewLogRepository(pool)

	// Initialize gateway client factory
	panels := &panelFactory{factory: gateway.NewFactory(gateway.RetryPolicy{
		MaxAttempts:    cfg.Gateway.MaxAttempts,
		BackoffBase:    cfg.Gateway.BackoffBase,
		RequestTimeout: cfg.Gateway.RequestTimeout,
	})}

	// Initialize services
	provisioner := service.NewProvisioner(cfg, configRepo, serverRepo, logRepo, panels)
	reconciler := service.NewReconciler(cfg.Reconciler, configRepo, serverRepo, logRepo, panels)

	// Start reconciliation tickers
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reconciler.Start(ctx)

	// Initialize HTTP server
	handler := httpserver.NewHandler(cfg, provisioner, reconciler, logRepo)
	server := httpserver.NewServer(cfg, handler)

	// Start server in goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Server.Port)
		log.Printf("Server starting on %s", addr)
		if err := server.Run(addr); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	cancel()

	log.Println("Server exited")
}
