package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/palma21/mr-comments-bot/internal/config"
	"github.com/palma21/mr-comments-bot/internal/ledger"
	"github.com/palma21/mr-comments-bot/internal/monitoring"
	"github.com/palma21/mr-comments-bot/internal/notifications"
	"github.com/palma21/mr-comments-bot/internal/scheduler"
	"github.com/palma21/mr-comments-bot/internal/sources"
	"github.com/palma21/mr-comments-bot/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

func main() {
	// Load environment variables from .env file if it exists
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment variables")
	}

	configPath := pflag.StringP("config", "c", getEnv("CONFIG_PATH", config.DefaultConfigPath), "path to the YAML config file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	// Set up logging
	logrus.SetLevel(logrus.InfoLevel)
	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})

	logrus.Infof("Starting MR Comments Bot for %s", cfg.GitLabURL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ledgerStore, closeStorage, err := newLedgerStore(ctx, cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize storage: %v", err)
	}
	defer closeStorage()

	gitlab := sources.NewGitLabSource(cfg.GitLabURL, cfg.GitLabToken, cfg.RequestTimeout)
	notificationService := notifications.NewService(cfg)
	monitoringService := monitoring.NewService(cfg, gitlab, ledgerStore, notificationService)

	schedulerService, err := scheduler.NewService(cfg, monitoringService, notificationService)
	if err != nil {
		logrus.Fatalf("Failed to create scheduler: %v", err)
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", healthCheckHandler).Methods("GET")
	router.HandleFunc("/metrics", metricsHandler(monitoringService)).Methods("GET")
	router.HandleFunc("/trigger", triggerHandler(schedulerService)).Methods("POST")

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("HTTP server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// blocks until SIGINT/SIGTERM; a running cycle is allowed to finish
	if err := schedulerService.Run(ctx); err != nil {
		logrus.Errorf("Scheduler exited: %v", err)
	}

	logrus.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	logrus.Info("Server exited")
}

// newLedgerStore opens the configured storage backend and wraps it in a ledger store
func newLedgerStore(ctx context.Context, cfg *config.Config) (*ledger.Store, func(), error) {
	noop := func() {}

	switch cfg.StorageBackend {
	case config.StorageAzure:
		backend, err := storage.NewAzureStorage(ctx, cfg.StorageAccount, cfg.StorageContainer)
		if err != nil {
			return nil, noop, err
		}
		return ledger.NewStore(backend, filepath.Base(cfg.LedgerPath)), noop, nil
	case config.StorageSQLite:
		backend, err := storage.NewSQLiteStorage(cfg.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		closeFn := func() {
			if err := backend.Close(); err != nil {
				logrus.Errorf("Failed to close sqlite storage: %v", err)
			}
		}
		return ledger.NewStore(backend, filepath.Base(cfg.LedgerPath)), closeFn, nil
	default:
		backend, err := storage.NewFileStorage(filepath.Dir(cfg.LedgerPath))
		if err != nil {
			return nil, noop, err
		}
		return ledger.NewStore(backend, filepath.Base(cfg.LedgerPath)), noop, nil
	}
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","timestamp":"` + time.Now().Format(time.RFC3339) + `"}`))
}

func metricsHandler(monitoringService *monitoring.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metrics := monitoringService.GetMetrics()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(metrics))
	}
}

func triggerHandler(schedulerService *scheduler.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !schedulerService.Trigger() {
			w.WriteHeader(http.StatusAccepted)
			w.Write([]byte(`{"message":"A check is already pending"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"message":"Monitoring triggered successfully"}`))
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
