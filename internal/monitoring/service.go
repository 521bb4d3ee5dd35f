package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/palma21/mr-comments-bot/internal/config"
	"github.com/palma21/mr-comments-bot/internal/models"
	"github.com/palma21/mr-comments-bot/internal/notifications"
	"github.com/palma21/mr-comments-bot/internal/sources"
	"github.com/sirupsen/logrus"
)

// FollowupDelay is how long a comment may stay unanswered before the MR author is reminded
const FollowupDelay = 24 * time.Hour

// LedgerStore persists comment tracking state between cycles
type LedgerStore interface {
	Load(ctx context.Context) models.Ledger
	Save(ctx context.Context, ledger models.Ledger) error
}

// Service reconciles merge request discussions against the comment ledger
// and decides who gets notified
type Service struct {
	config              *config.Config
	source              sources.ReviewPlatform
	ledger              LedgerStore
	notificationService notifications.NotificationInterface
	formatter           *notifications.Formatter
	trackedUsers        map[string]bool
	now                 func() time.Time
	metrics             *Metrics
	mu                  sync.RWMutex
}

// Metrics holds the counters of the last reconciliation run
type Metrics struct {
	TotalRuns            int       `json:"total_runs"`
	LastRun              time.Time `json:"last_run"`
	LastRunDuration      string    `json:"last_run_duration"`
	Projects             int       `json:"projects"`
	MergeRequests        int       `json:"merge_requests"`
	NotesSeen            int       `json:"notes_seen"`
	NewComments          int       `json:"new_comments"`
	FollowUps            int       `json:"follow_ups"`
	Responses            int       `json:"responses"`
	NotificationsSent    int       `json:"notifications_sent"`
	NotificationsDropped int       `json:"notifications_dropped"`
	TrackedComments      int       `json:"tracked_comments"`
	ErrorCount           int       `json:"error_count"`
}

// NewService creates a new reconciliation service
func NewService(cfg *config.Config, source sources.ReviewPlatform, ledger LedgerStore, notificationService notifications.NotificationInterface) *Service {
	trackedUsers := make(map[string]bool, len(cfg.TrackedUsers))
	for _, u := range cfg.TrackedUsers {
		trackedUsers[u] = true
	}

	return &Service{
		config:              cfg,
		source:              source,
		ledger:              ledger,
		notificationService: notificationService,
		formatter:           notifications.NewFormatter(cfg.GitLabURL),
		trackedUsers:        trackedUsers,
		now:                 time.Now,
		metrics:             &Metrics{},
	}
}

// RunMonitoring performs one reconciliation cycle over every tracked project.
// GitLab error responses degrade the cycle; only an unreachable GitLab aborts it.
func (s *Service) RunMonitoring(ctx context.Context) error {
	start := s.now()
	logrus.Info("Checking for new merge request comments")

	run := &Metrics{}
	ledger := s.ledger.Load(ctx)
	if ledger == nil {
		ledger = models.Ledger{}
	}

	projects, err := s.trackedProjects(ctx)
	if err != nil {
		if errors.Is(err, sources.ErrTransport) {
			return err
		}
		logrus.Errorf("%v", err)
		run.ErrorCount++
	}
	run.Projects = len(projects)

	for _, project := range projects {
		log := logrus.WithFields(logrus.Fields{"project": project.PathWithNamespace, "project_id": project.ID})
		log.Infof("Checking project: %s (ID: %d)", project.PathWithNamespace, project.ID)

		mrs, err := s.source.ListOpenMergeRequests(ctx, project.ID)
		if err != nil {
			if errors.Is(err, sources.ErrTransport) {
				return err
			}
			log.Errorf("%v", err)
			run.ErrorCount++
		}

		for _, mr := range mrs {
			run.MergeRequests++

			if err := s.processMergeRequest(ctx, ledger, project, mr, run); err != nil {
				if errors.Is(err, sources.ErrTransport) {
					return err
				}
				log.WithField("mr_iid", mr.IID).Errorf("Skipping merge request: %v", err)
				run.ErrorCount++
			}

			if err := s.ledger.Save(ctx, ledger); err != nil {
				log.Errorf("Error saving tracked comments: %v", err)
				run.ErrorCount++
			}
		}
	}

	run.TrackedComments = len(ledger)
	s.updateMetrics(run, start)

	logrus.Infof("Check completed in %v: %d new comments, %d follow-ups, %d responses, %d notifications sent, %d dropped",
		s.now().Sub(start), run.NewComments, run.FollowUps, run.Responses, run.NotificationsSent, run.NotificationsDropped)
	return nil
}

func (s *Service) trackedProjects(ctx context.Context) ([]models.Project, error) {
	if len(s.config.TrackedProjects) > 0 {
		return s.config.TrackedProjects, nil
	}
	return s.source.ListProjects(ctx)
}

// trackedNote is a non-system note with its parsed timestamp
type trackedNote struct {
	note      models.Note
	createdAt time.Time
}

func (s *Service) processMergeRequest(ctx context.Context, ledger models.Ledger, project models.Project, mr models.MergeRequest, run *Metrics) error {
	details, err := s.source.GetMergeRequest(ctx, project.ID, mr.IID)
	if err != nil {
		return err
	}

	mrAuthor := mr.Author
	if details.Author != "" {
		mrAuthor = details.Author
	}
	if mr.Title == "" {
		mr.Title = details.Title
	}
	mr.Author = mrAuthor
	mr.Reviewers = details.Reviewers

	discussions, err := s.source.ListDiscussions(ctx, project.ID, mr.IID)
	if err != nil {
		if errors.Is(err, sources.ErrTransport) {
			return err
		}
		logrus.WithFields(logrus.Fields{"project_id": project.ID, "mr_iid": mr.IID}).Errorf("%v", err)
		run.ErrorCount++
	}

	// Parse everything up front so a malformed timestamp leaves the ledger untouched.
	threads := make([][]trackedNote, 0, len(discussions))
	recordTimes := make(map[string]time.Time)
	for _, discussion := range discussions {
		var thread []trackedNote
		for _, note := range discussion.Notes {
			if note.System {
				continue
			}
			createdAt, err := parseTimestamp(note.CreatedAt)
			if err != nil {
				return fmt.Errorf("note %d: %w", note.ID, err)
			}
			thread = append(thread, trackedNote{note: note, createdAt: createdAt})

			noteID := strconv.Itoa(note.ID)
			if record, ok := ledger[noteID]; ok && record.CreatedAt != note.CreatedAt {
				recorded, err := parseTimestamp(record.CreatedAt)
				if err != nil {
					return fmt.Errorf("ledger record %s: %w", noteID, err)
				}
				recordTimes[noteID] = recorded
			}
		}
		threads = append(threads, thread)
	}

	reviewers := make(map[string]bool)
	for _, r := range mr.Reviewers {
		reviewers[r] = true
	}
	for _, thread := range threads {
		for _, tn := range thread {
			if tn.note.Author != mrAuthor {
				reviewers[tn.note.Author] = true
			}
		}
	}

	now := s.now()
	for _, thread := range threads {
		for _, tn := range thread {
			run.NotesSeen++
			note := tn.note
			noteID := strconv.Itoa(note.ID)

			if !s.shouldTrackUser(note.Author) {
				continue
			}

			record, exists := ledger[noteID]
			isNewComment := false
			if !exists {
				isNewComment = true
				record = &models.CommentRecord{
					ProjectID:       project.ID,
					ReviewRequestID: mr.IID,
					Author:          note.Author,
					CreatedAt:       note.CreatedAt,
					NotifiedAt:      now.Format(time.RFC3339),
				}
				ledger[noteID] = record
				run.NewComments++
			}

			recordCreatedAt := tn.createdAt
			if t, ok := recordTimes[noteID]; ok {
				recordCreatedAt = t
			}

			// followup_sent is committed before dispatch: a failed send is not retried
			needsFollowup := false
			if !record.Responded && !record.FollowupSent && now.Sub(recordCreatedAt) > FollowupDelay {
				needsFollowup = true
				record.FollowupSent = true
				run.FollowUps++
			}

			for _, candidate := range thread {
				if record.Responded {
					break
				}
				if candidate.note.Author == note.Author || !candidate.createdAt.After(tn.createdAt) {
					continue
				}

				record.Responded = true
				record.Responder = candidate.note.Author
				run.Responses++

				if candidate.note.Author == mrAuthor && reviewers[note.Author] && s.shouldTrackUser(note.Author) {
					s.dispatch(ctx, note.Author, s.formatter.AuthorResponded(project, mr, candidate.note), run)
				}
			}

			if (isNewComment || needsFollowup) && note.Author != mrAuthor && s.shouldTrackUser(mrAuthor) {
				var message string
				if needsFollowup {
					message = s.formatter.FollowUp(project, mr, note)
				} else {
					message = s.formatter.NewComment(project, mr, note)
				}
				s.dispatch(ctx, mrAuthor, message, run)
			}
		}
	}

	return nil
}

func (s *Service) dispatch(ctx context.Context, handle, message string, run *Metrics) {
	if s.notificationService.Notify(ctx, handle, message) {
		run.NotificationsSent++
	} else {
		run.NotificationsDropped++
	}
}

// shouldTrackUser applies the tracked-user allowlist; an empty list tracks everyone
func (s *Service) shouldTrackUser(username string) bool {
	if len(s.trackedUsers) == 0 {
		return true
	}
	return s.trackedUsers[username]
}

// parseTimestamp accepts GitLab's ISO-8601 timestamps ("Z" or explicit offset,
// optional fractional seconds) and offset-less ones, read as UTC. Results are
// truncated to whole seconds.
func parseTimestamp(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.Truncate(time.Second), nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05", value); err == nil {
		return t.Truncate(time.Second), nil
	}
	return time.Time{}, fmt.Errorf("malformed timestamp %q", value)
}

func (s *Service) updateMetrics(run *Metrics, start time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run.TotalRuns = s.metrics.TotalRuns + 1
	run.LastRun = start
	run.LastRunDuration = s.now().Sub(start).String()
	s.metrics = run
}

// GetMetrics returns current metrics as JSON
func (s *Service) GetMetrics() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, _ := json.MarshalIndent(s.metrics, "", "  ")
	return string(data)
}
