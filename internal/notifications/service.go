package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/palma21/mr-comments-bot/internal/config"
	"github.com/palma21/mr-comments-bot/internal/models"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

const defaultSlackAPIURL = "https://slack.com/api"

// Service sends Slack direct messages and operator alert e-mails
type Service struct {
	config *config.Config
	client *resty.Client
	apiURL string
	send   func(m *gomail.Message) error
}

// Ensure Service implements NotificationInterface
var _ NotificationInterface = (*Service)(nil)

// SlackMessage is the chat.postMessage request body
type SlackMessage struct {
	Channel   string `json:"channel"`
	Text      string `json:"text"`
	LinkNames bool   `json:"link_names"`
	Parse     string `json:"parse"`
}

type slackResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	User  string `json:"user,omitempty"`
	Team  string `json:"team,omitempty"`
}

// NewService creates a new notification service
func NewService(cfg *config.Config) *Service {
	s := &Service{
		config: cfg,
		client: resty.New().SetTimeout(cfg.RequestTimeout),
		apiURL: defaultSlackAPIURL,
	}
	s.send = s.dialAndSend
	return s
}

// IdentityFor returns the Slack user ID mapped to a GitLab handle
func (s *Service) IdentityFor(handle string) (string, bool) {
	id, ok := s.config.IdentityMap[handle]
	return id, ok && id != ""
}

// Notify sends text as a direct message to the Slack user mapped to handle
func (s *Service) Notify(ctx context.Context, handle, text string) bool {
	userID, ok := s.IdentityFor(handle)
	if !ok {
		logrus.WithField("gitlab_user", handle).Warnf("No Slack user ID found for GitLab user, dropping message: %s", firstLine(text))
		return false
	}

	if err := s.postMessage(ctx, userID, text); err != nil {
		logrus.WithField("gitlab_user", handle).Errorf("Failed to send Slack message: %v", err)
		return false
	}

	logrus.WithField("gitlab_user", handle).Debug("Sent Slack message")
	return true
}

func (s *Service) postMessage(ctx context.Context, channel, text string) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetAuthToken(s.config.SlackToken).
		SetHeader("Content-Type", "application/json").
		SetBody(&SlackMessage{
			Channel:   channel,
			Text:      text,
			LinkNames: true,
			Parse:     "full",
		}).
		Post(s.apiURL + "/chat.postMessage")
	if err != nil {
		return fmt.Errorf("failed to post message: %w", err)
	}

	return checkSlackResponse(resp)
}

// AuthTest verifies the Slack token and returns the bot's user and team
func (s *Service) AuthTest(ctx context.Context) (string, string, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetAuthToken(s.config.SlackToken).
		Post(s.apiURL + "/auth.test")
	if err != nil {
		return "", "", fmt.Errorf("failed to call auth.test: %w", err)
	}

	if err := checkSlackResponse(resp); err != nil {
		return "", "", err
	}

	var body slackResponse
	_ = json.Unmarshal(resp.Body(), &body)
	return body.User, body.Team, nil
}

func checkSlackResponse(resp *resty.Response) error {
	if resp.StatusCode() != 200 {
		return fmt.Errorf("Slack API returned status %d: %s", resp.StatusCode(), string(resp.Body()))
	}

	var body slackResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return fmt.Errorf("failed to decode Slack response: %w", err)
	}

	if !body.OK {
		return fmt.Errorf("Slack API error: %s", body.Error)
	}

	return nil
}

// SendAlert notifies the operator about a problem with the bot itself.
// Without SMTP configuration the alert is only logged.
func (s *Service) SendAlert(alert *models.Alert) error {
	logrus.WithFields(logrus.Fields{
		"alert_id":   alert.ID,
		"alert_type": alert.Type,
	}).Warnf("Alert: %s - %s", alert.Title, alert.Message)

	if !s.config.EmailAlertsEnabled() {
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", firstNonEmpty(s.config.SMTPUsername, s.config.AlertEmail))
	m.SetHeader("To", s.config.AlertEmail)
	m.SetHeader("Subject", fmt.Sprintf("[MR Comments Bot] %s: %s", strings.ToUpper(alert.Type), alert.Title))
	m.SetBody("text/plain", s.buildAlertText(alert))

	if err := s.send(m); err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}

	logrus.Infof("Sent alert %s to %s", alert.ID, s.config.AlertEmail)
	return nil
}

func (s *Service) buildAlertText(alert *models.Alert) string {
	var text strings.Builder

	text.WriteString(fmt.Sprintf("%s\n", alert.Title))
	text.WriteString(strings.Repeat("=", len(alert.Title)) + "\n\n")
	text.WriteString(fmt.Sprintf("Type: %s\n", alert.Type))
	text.WriteString(fmt.Sprintf("Time: %s\n", alert.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC")))
	text.WriteString(fmt.Sprintf("ID:   %s\n\n", alert.ID))
	text.WriteString(alert.Message)
	text.WriteString("\n\n---\nThis alert was generated automatically by the MR Comments Bot.\n")

	return text.String()
}

func (s *Service) dialAndSend(m *gomail.Message) error {
	d := gomail.NewDialer(s.config.SMTPHost, s.config.SMTPPort, s.config.SMTPUsername, s.config.SMTPPassword)
	return d.DialAndSend(m)
}

func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return text[:i]
	}
	return text
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
