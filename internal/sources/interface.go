package sources

import (
	"context"

	"github.com/palma21/mr-comments-bot/internal/models"
)

// ReviewPlatform is the read-only view of the code review platform the bot polls.
// List calls return whatever was fetched before a failure together with the error.
type ReviewPlatform interface {
	ListProjects(ctx context.Context) ([]models.Project, error)
	ListOpenMergeRequests(ctx context.Context, projectID int) ([]models.MergeRequest, error)
	GetMergeRequest(ctx context.Context, projectID, iid int) (*models.MergeRequest, error)
	ListDiscussions(ctx context.Context, projectID, iid int) ([]models.Discussion, error)
	GetUser(ctx context.Context, userID int) (*models.User, error)
	CurrentUser(ctx context.Context) (*models.User, error)
}
