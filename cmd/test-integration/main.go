package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/palma21/mr-comments-bot/internal/config"
	"github.com/palma21/mr-comments-bot/internal/ledger"
	"github.com/palma21/mr-comments-bot/internal/models"
	"github.com/palma21/mr-comments-bot/internal/monitoring"
	"github.com/palma21/mr-comments-bot/internal/sources"
	"github.com/palma21/mr-comments-bot/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// ConsoleNotification prints messages instead of posting them to Slack
type ConsoleNotification struct {
	identityMap map[string]string
	sent        int
}

func (c *ConsoleNotification) Notify(ctx context.Context, handle, text string) bool {
	identity, ok := c.identityMap[handle]
	if !ok || identity == "" {
		fmt.Printf("\n⚠️  No Slack identity for %s, message dropped\n", handle)
		return false
	}

	c.sent++
	fmt.Printf("\n📨 To %s (%s)\n%s\n%s\n", handle, identity, text, strings.Repeat("-", 40))
	return true
}

func (c *ConsoleNotification) SendAlert(alert *models.Alert) error {
	fmt.Printf("🚨 ALERT: %s\n", alert.Message)
	return nil
}

func main() {
	fmt.Println("🧪 MR Comments Bot - Dry Run")
	fmt.Println("============================")

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	configPath := pflag.StringP("config", "c", config.DefaultConfigPath, "path to the YAML config file")
	ledgerDir := pflag.String("ledger-dir", "", "directory for the dry-run ledger (default: a temporary directory)")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logrus.SetLevel(logrus.WarnLevel)
	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	dir := *ledgerDir
	if dir == "" {
		dir, err = os.MkdirTemp("", "mr-comments-bot-")
		if err != nil {
			log.Fatalf("Failed to create temporary directory: %v", err)
		}
		defer os.RemoveAll(dir)
	}

	backend, err := storage.NewFileStorage(dir)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	store := ledger.NewStore(backend, "comment_tracker.json")

	gitlab := sources.NewGitLabSource(cfg.GitLabURL, cfg.GitLabToken, cfg.RequestTimeout)
	console := &ConsoleNotification{identityMap: cfg.IdentityMap}
	service := monitoring.NewService(cfg, gitlab, store, console)

	fmt.Printf("🔍 Running one cycle against %s (nothing is posted to Slack)...\n", gitlab.BaseURL())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := service.RunMonitoring(ctx); err != nil {
		fmt.Printf("\n❌ Cycle failed: %v\n", err)
		os.Exit(1)
	}

	tracked := store.Load(ctx)
	fmt.Printf("\n📊 %d comments tracked, %d messages would be sent\n", len(tracked), console.sent)
	fmt.Println(service.GetMetrics())

	fmt.Println("\n✅ Dry run completed!")
	if *ledgerDir != "" {
		fmt.Printf("💾 Ledger kept at %s/%s\n", dir, store.Name())
	}
}
