package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/palma21/mr-comments-bot/internal/config"
	"github.com/palma21/mr-comments-bot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeRunner reports every cycle on calls and plays back scripted outcomes
type fakeRunner struct {
	mu      sync.Mutex
	results []func() error
	calls   chan context.Context
}

func newFakeRunner(results ...func() error) *fakeRunner {
	return &fakeRunner{results: results, calls: make(chan context.Context, 16)}
}

func (f *fakeRunner) RunMonitoring(ctx context.Context) error {
	f.mu.Lock()
	var result func() error
	if len(f.results) > 0 {
		result = f.results[0]
		f.results = f.results[1:]
	}
	f.mu.Unlock()

	f.calls <- ctx
	if result == nil {
		return nil
	}
	return result()
}

// MockAlerter is a mock implementation of the alert sink
type MockAlerter struct {
	mock.Mock
}

func (m *MockAlerter) SendAlert(alert *models.Alert) error {
	args := m.Called(alert)
	return args.Error(0)
}

func waitForCall(t *testing.T, runner *fakeRunner) context.Context {
	t.Helper()
	select {
	case ctx := <-runner.calls:
		return ctx
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for monitoring cycle")
		return nil
	}
}

func startService(t *testing.T, s *Service) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestNewService_Schedules(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *config.Config
		wantErr  bool
		expected time.Duration
	}{
		{name: "Interval", cfg: &config.Config{CheckInterval: 5 * time.Minute}, expected: 5 * time.Minute},
		{name: "Cron with seconds", cfg: &config.Config{CheckInterval: time.Hour, CheckSchedule: "0 */10 * * * *"}, expected: 10 * time.Minute},
		{name: "Descriptor", cfg: &config.Config{CheckInterval: time.Hour, CheckSchedule: "@every 2m"}, expected: 2 * time.Minute},
		{name: "Invalid", cfg: &config.Config{CheckInterval: time.Hour, CheckSchedule: "every now and then"}, wantErr: true},
	}

	// on a ten minute boundary so every schedule lands on a full period
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewService(tt.cfg, newFakeRunner(), nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			s.now = func() time.Time { return now }
			assert.Equal(t, tt.expected, s.nextDelay())
		})
	}
}

func TestService_RunsImmediatelyAndStopsOnCancel(t *testing.T) {
	runner := newFakeRunner()
	s, err := NewService(&config.Config{CheckInterval: time.Hour, RetryDelay: time.Hour}, runner, nil)
	require.NoError(t, err)

	cancel, done := startService(t, s)
	ctx := waitForCall(t, runner)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	// cycles run detached from shutdown
	assert.NoError(t, ctx.Err())
}

func TestService_TriggerRunsAnotherCycle(t *testing.T) {
	runner := newFakeRunner()
	s, err := NewService(&config.Config{CheckInterval: time.Hour, RetryDelay: time.Hour}, runner, nil)
	require.NoError(t, err)

	startService(t, s)
	waitForCall(t, runner)

	assert.True(t, s.Trigger())
	waitForCall(t, runner)
}

func TestService_TriggerIsCoalesced(t *testing.T) {
	s, err := NewService(&config.Config{CheckInterval: time.Hour}, newFakeRunner(), nil)
	require.NoError(t, err)

	// loop not running, so the first request stays pending
	assert.True(t, s.Trigger())
	assert.False(t, s.Trigger())
}

func TestService_RetriesAfterFailureAndAlerts(t *testing.T) {
	runner := newFakeRunner(func() error { return errors.New("gitlab unreachable") })
	alerter := &MockAlerter{}
	alerter.On("SendAlert", mock.MatchedBy(func(a *models.Alert) bool {
		return a.Type == "error" && a.ID != "" && assert.ObjectsAreEqual("Monitoring cycle failed", a.Title)
	})).Return(nil)

	s, err := NewService(&config.Config{CheckInterval: time.Hour, RetryDelay: 10 * time.Millisecond}, runner, alerter)
	require.NoError(t, err)

	startService(t, s)
	waitForCall(t, runner)
	// the retry delay, not the hourly schedule, governs the next attempt
	waitForCall(t, runner)

	alerter.AssertNumberOfCalls(t, "SendAlert", 1)
}

func TestService_RecoversFromPanic(t *testing.T) {
	runner := newFakeRunner(func() error { panic("boom") })
	alerter := &MockAlerter{}
	alerter.On("SendAlert", mock.Anything).Return(errors.New("smtp down"))

	s, err := NewService(&config.Config{CheckInterval: time.Hour, RetryDelay: 10 * time.Millisecond}, runner, alerter)
	require.NoError(t, err)

	startService(t, s)
	waitForCall(t, runner)
	waitForCall(t, runner)

	alerter.AssertCalled(t, "SendAlert", mock.MatchedBy(func(a *models.Alert) bool {
		return assert.ObjectsAreEqual("error", a.Type)
	}))
}
