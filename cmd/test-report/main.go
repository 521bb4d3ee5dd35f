package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/palma21/mr-comments-bot/internal/config"
	"github.com/palma21/mr-comments-bot/internal/ledger"
	"github.com/palma21/mr-comments-bot/internal/models"
	"github.com/palma21/mr-comments-bot/internal/notifications"
	"github.com/palma21/mr-comments-bot/internal/storage"
	"github.com/spf13/pflag"
)

func main() {
	gitlabURL := pflag.String("gitlab-url", config.DefaultGitLabURL, "GitLab instance the links point to")
	outputDir := pflag.StringP("output", "o", "test_output", "directory for the sample ledger")
	pflag.Parse()

	fmt.Println("🧪 MR Comments Bot - Message Preview")
	fmt.Println("====================================")

	project := models.Project{ID: 12345, PathWithNamespace: "group/project-name"}
	mr := models.MergeRequest{IID: 123, Title: "Fix authentication bug", Author: "author1", Reviewers: []string{"reviewer1"}}
	comment := models.Note{
		ID:        456789,
		Author:    "reviewer1",
		CreatedAt: time.Now().Add(-25 * time.Hour).UTC().Format(time.RFC3339),
		Body:      "This returns Result<Vec<String>, Error> but callers expect a slice && ignore the error.",
	}
	response := models.Note{
		ID:        456790,
		Author:    "author1",
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Body:      "Fixed in the latest commit.",
	}

	formatter := notifications.NewFormatter(*gitlabURL)

	preview("New comment → author1", formatter.NewComment(project, mr, comment))
	preview("Follow-up → author1", formatter.FollowUp(project, mr, comment))
	preview("Author responded → reviewer1", formatter.AuthorResponded(project, mr, response))

	alert := &models.Alert{
		ID:        uuid.NewString(),
		Type:      "error",
		Title:     "Monitoring cycle failed",
		Message:   "GET /projects/12345/merge_requests: gitlab unreachable: connection refused",
		CreatedAt: time.Now(),
	}
	preview("Operator alert", fmt.Sprintf("[%s] %s\n%s", strings.ToUpper(alert.Type), alert.Title, alert.Message))

	// write the ledger these messages correspond to
	backend, err := storage.NewFileStorage(*outputDir)
	if err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}
	store := ledger.NewStore(backend, "comment_tracker.json")

	sample := models.Ledger{
		fmt.Sprint(comment.ID): {
			ProjectID:       project.ID,
			ReviewRequestID: mr.IID,
			Author:          comment.Author,
			CreatedAt:       comment.CreatedAt,
			NotifiedAt:      time.Now().UTC().Format(time.RFC3339),
			Responded:       true,
			Responder:       response.Author,
			FollowupSent:    true,
		},
	}
	if err := store.Save(context.Background(), sample); err != nil {
		fmt.Printf("\n⚠️  Warning: Could not save sample ledger: %v\n", err)
	} else {
		fmt.Printf("\n💾 Sample ledger saved to %s/%s\n", *outputDir, store.Name())
	}

	fmt.Println("\n✅ Preview completed!")
}

func preview(title, message string) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	fmt.Printf("📨 %s\n", title)
	fmt.Println(strings.Repeat("-", 70))
	fmt.Println(message)
}
