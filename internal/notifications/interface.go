package notifications

import (
	"context"

	"github.com/palma21/mr-comments-bot/internal/models"
)

// NotificationInterface defines the contract for notification services
type NotificationInterface interface {
	// Notify delivers text to the messaging identity mapped to a GitLab handle.
	// It reports whether the message was accepted; failures are logged, never retried.
	Notify(ctx context.Context, handle, text string) bool
	SendAlert(alert *models.Alert) error
}
