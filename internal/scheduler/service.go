package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/palma21/mr-comments-bot/internal/config"
	"github.com/palma21/mr-comments-bot/internal/models"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Runner performs one monitoring cycle
type Runner interface {
	RunMonitoring(ctx context.Context) error
}

// Alerter delivers operator alerts
type Alerter interface {
	SendAlert(alert *models.Alert) error
}

// Service drives monitoring cycles one after another
type Service struct {
	config   *config.Config
	runner   Runner
	alerter  Alerter
	schedule cron.Schedule
	trigger  chan struct{}
	now      func() time.Time
}

var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// NewService creates a new scheduler service. check_schedule, when set,
// takes precedence over check_interval.
func NewService(cfg *config.Config, runner Runner, alerter Alerter) (*Service, error) {
	schedule, err := buildSchedule(cfg)
	if err != nil {
		return nil, err
	}

	return &Service{
		config:   cfg,
		runner:   runner,
		alerter:  alerter,
		schedule: schedule,
		trigger:  make(chan struct{}, 1),
		now:      time.Now,
	}, nil
}

func buildSchedule(cfg *config.Config) (cron.Schedule, error) {
	if cfg.CheckSchedule != "" {
		schedule, err := scheduleParser.Parse(cfg.CheckSchedule)
		if err != nil {
			return nil, fmt.Errorf("invalid check_schedule %q: %w", cfg.CheckSchedule, err)
		}
		return schedule, nil
	}
	return cron.Every(cfg.CheckInterval), nil
}

// Run runs a cycle immediately and then one per schedule tick until ctx is
// cancelled. An in-flight cycle always completes.
func (s *Service) Run(ctx context.Context) error {
	if s.config.CheckSchedule != "" {
		logrus.Infof("Scheduler started with schedule %q", s.config.CheckSchedule)
	} else {
		logrus.Infof("Scheduler started, checking every %v", s.config.CheckInterval)
	}

	for {
		var delay time.Duration
		if err := s.runCycle(ctx); err != nil {
			logrus.Errorf("Error in main loop: %v", err)
			s.alert(err)
			delay = s.config.RetryDelay
		} else {
			delay = s.nextDelay()
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			logrus.Info("Scheduler stopped")
			return nil
		case <-s.trigger:
			timer.Stop()
			logrus.Info("Manual check triggered")
		case <-timer.C:
		}
	}
}

// Trigger requests an immediate cycle. It reports false when one is already pending.
func (s *Service) Trigger() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Service) nextDelay() time.Duration {
	now := s.now()
	return s.schedule.Next(now).Sub(now)
}

func (s *Service) runCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during monitoring cycle: %v", r)
		}
	}()

	return s.runner.RunMonitoring(context.WithoutCancel(ctx))
}

func (s *Service) alert(cause error) {
	if s.alerter == nil {
		return
	}

	alert := &models.Alert{
		ID:        uuid.NewString(),
		Type:      "error",
		Title:     "Monitoring cycle failed",
		Message:   fmt.Sprintf("The comment check failed and will be retried in %v.\n\n%v", s.config.RetryDelay, cause),
		CreatedAt: s.now(),
	}
	if err := s.alerter.SendAlert(alert); err != nil {
		logrus.Errorf("Failed to send alert %s: %v", alert.ID, err)
	}
}
