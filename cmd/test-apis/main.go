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
	"github.com/palma21/mr-comments-bot/internal/notifications"
	"github.com/palma21/mr-comments-bot/internal/sources"
	"github.com/spf13/pflag"
)

func main() {
	fmt.Println("🔍 MR Comments Bot - API Connectivity Test")
	fmt.Println("==========================================")

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	configPath := pflag.StringP("config", "c", config.DefaultConfigPath, "path to the YAML config file")
	userID := pflag.Int("user-id", 0, "also look up this GitLab user ID")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fmt.Println("\n📡 Testing APIs...")
	fmt.Println(strings.Repeat("-", 40))

	failed := false
	gitlab := sources.NewGitLabSource(cfg.GitLabURL, cfg.GitLabToken, cfg.RequestTimeout)

	fmt.Printf("🔸 Testing GitLab (%s)... ", gitlab.BaseURL())
	if me, err := gitlab.CurrentUser(ctx); err != nil {
		fmt.Printf("❌ ERROR: %v\n", err)
		failed = true
	} else {
		fmt.Printf("✅ SUCCESS (authenticated as %s)\n", me.Username)
	}

	if *userID > 0 {
		fmt.Printf("🔸 Looking up GitLab user %d... ", *userID)
		if user, err := gitlab.GetUser(ctx, *userID); err != nil {
			fmt.Printf("❌ ERROR: %v\n", err)
			failed = true
		} else {
			fmt.Printf("✅ SUCCESS (%s, %s)\n", user.Username, user.Name)
		}
	}

	for _, project := range cfg.TrackedProjects {
		fmt.Printf("🔸 Listing open MRs of %s... ", project.PathWithNamespace)
		mrs, err := gitlab.ListOpenMergeRequests(ctx, project.ID)
		if err != nil {
			fmt.Printf("❌ ERROR: %v\n", err)
			failed = true
			continue
		}
		fmt.Printf("✅ SUCCESS (%d open)\n", len(mrs))
	}

	fmt.Print("🔸 Testing Slack... ")
	slack := notifications.NewService(cfg)
	if user, team, err := slack.AuthTest(ctx); err != nil {
		fmt.Printf("❌ ERROR: %v\n", err)
		failed = true
	} else {
		fmt.Printf("✅ SUCCESS (%s in %s)\n", user, team)
	}

	unmapped := 0
	for _, handle := range cfg.TrackedUsers {
		if _, ok := slack.IdentityFor(handle); !ok {
			fmt.Printf("   ⚠️  %s has no Slack identity and will not be notified\n", handle)
			unmapped++
		}
	}
	fmt.Printf("   📝 %d identities mapped, %d tracked users unmapped\n", len(cfg.IdentityMap), unmapped)

	if failed {
		fmt.Println("\n❌ API connectivity test failed")
		os.Exit(1)
	}

	fmt.Println("\n✅ API connectivity test completed!")
	fmt.Println("\n💡 Next steps:")
	fmt.Println("   • Preview messages with: go run ./cmd/test-report")
	fmt.Println("   • Dry-run one cycle with: go run ./cmd/test-integration")
}
