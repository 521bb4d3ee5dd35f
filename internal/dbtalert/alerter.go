package dbtalert

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

const noDetails = "Could not retrieve duplicate details."

// Runner executes an external command and returns its combined output
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct{}

// Run implements Runner
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return string(out), err
}

// Alerter runs the dbt duplicate test for a model and posts to a Slack
// incoming webhook when it finds duplicates
type Alerter struct {
	runner     Runner
	client     *resty.Client
	webhookURL string
	now        func() time.Time
}

// NewAlerter creates an alerter posting to webhookURL
func NewAlerter(webhookURL string, runner Runner) *Alerter {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Alerter{
		runner:     runner,
		client:     resty.New().SetTimeout(30 * time.Second),
		webhookURL: webhookURL,
		now:        time.Now,
	}
}

type textObject struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type block struct {
	Type string      `json:"type"`
	Text *textObject `json:"text,omitempty"`
}

type webhookMessage struct {
	Blocks []block `json:"blocks"`
}

// CheckModel runs `dbt test` for model and alerts when the duplicate check
// failed. It reports whether duplicates were found.
func (a *Alerter) CheckModel(ctx context.Context, model string) (bool, error) {
	output, err := a.runner.Run(ctx, "dbt", "test", "--select", model)
	if err == nil || !HasDuplicates(output) {
		logrus.WithField("model", model).Info("No duplicates found")
		return false, nil
	}

	logrus.WithField("model", model).Warn("Duplicates found, sending alert")
	details := a.duplicateDetails(ctx, model)
	if err := a.SendAlert(ctx, model, details); err != nil {
		return true, err
	}
	return true, nil
}

// HasDuplicates reports whether dbt test output shows a failed duplicate_check
func HasDuplicates(output string) bool {
	return strings.Contains(output, "duplicate_check") && strings.Contains(output, "FAIL")
}

func (a *Alerter) duplicateDetails(ctx context.Context, model string) string {
	out, err := a.runner.Run(ctx, "dbt", "run-operation", "get_duplicate_records",
		"--args", fmt.Sprintf("{model_name: %s}", model))
	if err != nil {
		logrus.WithField("model", model).Errorf("Failed to fetch duplicate details: %v", err)
		return noDetails
	}
	return out
}

// SendAlert posts the duplicate alert; details may be empty
func (a *Alerter) SendAlert(ctx context.Context, model, details string) error {
	if a.webhookURL == "" {
		return errors.New("SLACK_WEBHOOK_URL is not set")
	}

	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(a.buildMessage(model, details)).
		Post(a.webhookURL)
	if err != nil {
		return fmt.Errorf("failed to post Slack alert: %w", err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("error sending Slack alert: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func (a *Alerter) buildMessage(model, details string) webhookMessage {
	msg := webhookMessage{Blocks: []block{
		{Type: "header", Text: &textObject{Type: "plain_text", Text: "⚠️ Duplicate Records Detected!", Emoji: true}},
		{Type: "section", Text: &textObject{
			Type: "mrkdwn",
			Text: fmt.Sprintf("*Model:* `%s`\n*Time:* %s", model, a.now().Format("2006-01-02 15:04:05")),
		}},
		{Type: "divider"},
	}}

	if details != "" {
		msg.Blocks = append(msg.Blocks, block{Type: "section", Text: &textObject{
			Type: "mrkdwn",
			Text: fmt.Sprintf("*Duplicate Details:*\n```%s```", details),
		}})
	}
	return msg
}
