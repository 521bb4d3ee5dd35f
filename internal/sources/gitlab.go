package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gregjones/httpcache"
	"github.com/palma21/mr-comments-bot/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	gitlabPerPage = 100
	// cached GET responses kept for ETag revalidation; least recently used go first
	gitlabCacheEntries = 2048
)

// ErrTransport marks failures to reach GitLab at all, as opposed to GitLab
// answering with an error status.
var ErrTransport = errors.New("gitlab unreachable")

// GitLabSource implements ReviewPlatform against the GitLab REST API v4
type GitLabSource struct {
	client  *resty.Client
	baseURL string
}

// Ensure GitLabSource implements ReviewPlatform
var _ ReviewPlatform = (*GitLabSource)(nil)

type gitlabUser struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

type gitlabProject struct {
	ID                int    `json:"id"`
	PathWithNamespace string `json:"path_with_namespace"`
}

type gitlabMergeRequest struct {
	IID       int          `json:"iid"`
	Title     string       `json:"title"`
	Author    gitlabUser   `json:"author"`
	Reviewers []gitlabUser `json:"reviewers"`
	WebURL    string       `json:"web_url"`
}

type gitlabNote struct {
	ID        int        `json:"id"`
	Body      string     `json:"body"`
	Author    gitlabUser `json:"author"`
	CreatedAt string     `json:"created_at"`
	System    bool       `json:"system"`
}

type gitlabDiscussion struct {
	ID    string       `json:"id"`
	Notes []gitlabNote `json:"notes"`
}

// NewGitLabSource creates a GitLab client for the instance at baseURL
// (e.g. https://gitlab.com). GET responses are kept in a bounded in-memory
// cache and revalidated with ETags.
func NewGitLabSource(baseURL, token string, timeout time.Duration) *GitLabSource {
	baseURL = strings.TrimRight(baseURL, "/")

	client := resty.New().
		SetTransport(httpcache.NewTransport(newLRUCache(gitlabCacheEntries))).
		SetBaseURL(baseURL+"/api/v4").
		SetTimeout(timeout).
		SetHeader("PRIVATE-TOKEN", token).
		SetHeader("User-Agent", "MR-Comments-Bot/1.0")

	return &GitLabSource{
		client:  client,
		baseURL: baseURL,
	}
}

// BaseURL returns the instance URL notifications link to
func (g *GitLabSource) BaseURL() string {
	return g.baseURL
}

// get performs a GET and decodes the JSON body into out. It returns the
// X-Next-Page value (0 when there are no more pages).
func (g *GitLabSource) get(ctx context.Context, path string, query map[string]string, out interface{}) (int, error) {
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParams(query).
		Get(path)
	if err != nil {
		return 0, fmt.Errorf("GET %s: %w: %w", path, ErrTransport, err)
	}

	if resp.StatusCode() != 200 {
		return 0, fmt.Errorf("GET %s returned status %d: %s", path, resp.StatusCode(), truncate(string(resp.Body()), 200))
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return 0, fmt.Errorf("GET %s: failed to decode response: %w", path, err)
	}

	next, _ := strconv.Atoi(resp.Header().Get("X-Next-Page"))
	return next, nil
}

// ListProjects returns every project the token's user is a member of
func (g *GitLabSource) ListProjects(ctx context.Context) ([]models.Project, error) {
	var projects []models.Project
	page := 1

	for {
		var data []gitlabProject
		next, err := g.get(ctx, "/projects", map[string]string{
			"membership": "true",
			"per_page":   strconv.Itoa(gitlabPerPage),
			"page":       strconv.Itoa(page),
		}, &data)
		if err != nil {
			return projects, fmt.Errorf("failed to fetch projects: %w", err)
		}

		if len(data) == 0 {
			break
		}

		for _, p := range data {
			projects = append(projects, models.Project{ID: p.ID, PathWithNamespace: p.PathWithNamespace})
		}

		if next == 0 {
			// older instances omit X-Next-Page on large collections; keep walking until an empty page
			next = page + 1
		}
		page = next
	}

	logrus.Debugf("Discovered %d GitLab projects", len(projects))
	return projects, nil
}

// ListOpenMergeRequests returns the opened merge requests of a project
func (g *GitLabSource) ListOpenMergeRequests(ctx context.Context, projectID int) ([]models.MergeRequest, error) {
	var mergeRequests []models.MergeRequest
	page := 1

	for {
		var data []gitlabMergeRequest
		next, err := g.get(ctx, fmt.Sprintf("/projects/%d/merge_requests", projectID), map[string]string{
			"state":    "opened",
			"per_page": strconv.Itoa(gitlabPerPage),
			"page":     strconv.Itoa(page),
		}, &data)
		if err != nil {
			return mergeRequests, fmt.Errorf("failed to fetch MRs for project %d: %w", projectID, err)
		}

		for _, mr := range data {
			mergeRequests = append(mergeRequests, mapMergeRequest(mr))
		}

		if next == 0 {
			break
		}
		page = next
	}

	return mergeRequests, nil
}

// GetMergeRequest returns the full detail of a merge request, including reviewers
func (g *GitLabSource) GetMergeRequest(ctx context.Context, projectID, iid int) (*models.MergeRequest, error) {
	var data gitlabMergeRequest
	if _, err := g.get(ctx, fmt.Sprintf("/projects/%d/merge_requests/%d", projectID, iid), nil, &data); err != nil {
		return nil, fmt.Errorf("failed to fetch MR details for project %d, MR %d: %w", projectID, iid, err)
	}

	mr := mapMergeRequest(data)
	return &mr, nil
}

// ListDiscussions returns every discussion thread of a merge request in order
func (g *GitLabSource) ListDiscussions(ctx context.Context, projectID, iid int) ([]models.Discussion, error) {
	var discussions []models.Discussion
	page := 1

	for {
		var data []gitlabDiscussion
		next, err := g.get(ctx, fmt.Sprintf("/projects/%d/merge_requests/%d/discussions", projectID, iid), map[string]string{
			"per_page": strconv.Itoa(gitlabPerPage),
			"page":     strconv.Itoa(page),
		}, &data)
		if err != nil {
			return discussions, fmt.Errorf("failed to fetch discussions for project %d, MR %d: %w", projectID, iid, err)
		}

		for _, d := range data {
			discussion := models.Discussion{ID: d.ID, Notes: make([]models.Note, 0, len(d.Notes))}
			for _, n := range d.Notes {
				discussion.Notes = append(discussion.Notes, models.Note{
					ID:        n.ID,
					Body:      n.Body,
					Author:    n.Author.Username,
					CreatedAt: n.CreatedAt,
					System:    n.System,
				})
			}
			discussions = append(discussions, discussion)
		}

		if next == 0 {
			break
		}
		page = next
	}

	return discussions, nil
}

// GetUser returns a user by numeric ID
func (g *GitLabSource) GetUser(ctx context.Context, userID int) (*models.User, error) {
	var data gitlabUser
	if _, err := g.get(ctx, fmt.Sprintf("/users/%d", userID), nil, &data); err != nil {
		return nil, fmt.Errorf("failed to fetch user info for %d: %w", userID, err)
	}
	return &models.User{ID: data.ID, Username: data.Username, Name: data.Name}, nil
}

// CurrentUser returns the owner of the configured token
func (g *GitLabSource) CurrentUser(ctx context.Context) (*models.User, error) {
	var data gitlabUser
	if _, err := g.get(ctx, "/user", nil, &data); err != nil {
		return nil, fmt.Errorf("failed to fetch current user: %w", err)
	}
	return &models.User{ID: data.ID, Username: data.Username, Name: data.Name}, nil
}

func mapMergeRequest(mr gitlabMergeRequest) models.MergeRequest {
	out := models.MergeRequest{
		IID:    mr.IID,
		Title:  mr.Title,
		Author: mr.Author.Username,
		WebURL: mr.WebURL,
	}
	for _, r := range mr.Reviewers {
		if r.Username != "" {
			out.Reviewers = append(out.Reviewers, r.Username)
		}
	}
	return out
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length] + "..."
}
