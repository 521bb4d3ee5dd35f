package dbtalert

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner answers dbt invocations by subcommand
type fakeRunner struct {
	outputs map[string]string
	errs    map[string]error
	calls   [][]string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	return f.outputs[args[0]], f.errs[args[0]]
}

func newWebhook(t *testing.T, status int) (*httptest.Server, *[]webhookMessage) {
	t.Helper()
	var received []webhookMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)

		var msg webhookMessage
		assert.NoError(t, json.Unmarshal(body, &msg))
		received = append(received, msg)

		w.WriteHeader(status)
		w.Write([]byte("ok"))
	}))
	t.Cleanup(server.Close)
	return server, &received
}

func TestHasDuplicates(t *testing.T) {
	assert.True(t, HasDuplicates("FAIL 1 duplicate_check_orders_id"))
	assert.False(t, HasDuplicates("PASS duplicate_check_orders_id"))
	assert.False(t, HasDuplicates("FAIL not_null_orders_id"))
}

func TestCheckModel_DuplicatesFound(t *testing.T) {
	server, received := newWebhook(t, http.StatusOK)
	runner := &fakeRunner{
		outputs: map[string]string{
			"test":          "1 of 1 FAIL 3 duplicate_check_orders_id",
			"run-operation": "id=42 count=2",
		},
		errs: map[string]error{"test": errors.New("exit status 1")},
	}

	a := NewAlerter(server.URL, runner)
	a.now = func() time.Time { return time.Date(2024, 3, 1, 9, 30, 0, 0, time.Local) }

	found, err := a.CheckModel(context.Background(), "orders")
	require.NoError(t, err)
	assert.True(t, found)

	require.Len(t, runner.calls, 2)
	assert.Equal(t, []string{"dbt", "test", "--select", "orders"}, runner.calls[0])
	assert.Equal(t, []string{"dbt", "run-operation", "get_duplicate_records", "--args", "{model_name: orders}"}, runner.calls[1])

	require.Len(t, *received, 1)
	blocks := (*received)[0].Blocks
	require.Len(t, blocks, 4)
	assert.Equal(t, "header", blocks[0].Type)
	assert.Equal(t, "⚠️ Duplicate Records Detected!", blocks[0].Text.Text)
	assert.Equal(t, "*Model:* `orders`\n*Time:* 2024-03-01 09:30:00", blocks[1].Text.Text)
	assert.Equal(t, "divider", blocks[2].Type)
	assert.Nil(t, blocks[2].Text)
	assert.Equal(t, "*Duplicate Details:*\n```id=42 count=2```", blocks[3].Text.Text)
}

func TestCheckModel_DetailsUnavailable(t *testing.T) {
	server, received := newWebhook(t, http.StatusOK)
	runner := &fakeRunner{
		outputs: map[string]string{"test": "FAIL duplicate_check"},
		errs: map[string]error{
			"test":          errors.New("exit status 1"),
			"run-operation": errors.New("macro not found"),
		},
	}

	found, err := NewAlerter(server.URL, runner).CheckModel(context.Background(), "orders")
	require.NoError(t, err)
	assert.True(t, found)
	require.Len(t, *received, 1)
	assert.True(t, strings.Contains((*received)[0].Blocks[3].Text.Text, noDetails))
}

func TestCheckModel_NoAlert(t *testing.T) {
	tests := []struct {
		name    string
		outputs map[string]string
		errs    map[string]error
	}{
		{name: "Tests pass", outputs: map[string]string{"test": "PASS duplicate_check_orders_id"}},
		{name: "Other failure", outputs: map[string]string{"test": "FAIL not_null_orders_id"}, errs: map[string]error{"test": errors.New("exit status 1")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, received := newWebhook(t, http.StatusOK)
			runner := &fakeRunner{outputs: tt.outputs, errs: tt.errs}

			found, err := NewAlerter(server.URL, runner).CheckModel(context.Background(), "orders")
			require.NoError(t, err)
			assert.False(t, found)
			assert.Len(t, runner.calls, 1)
			assert.Empty(t, *received)
		})
	}
}

func TestSendAlert_WebhookError(t *testing.T) {
	server, _ := newWebhook(t, http.StatusBadRequest)

	err := NewAlerter(server.URL, &fakeRunner{}).SendAlert(context.Background(), "orders", "")
	assert.ErrorContains(t, err, "status 400")
}

func TestSendAlert_MissingWebhook(t *testing.T) {
	err := NewAlerter("", &fakeRunner{}).SendAlert(context.Background(), "orders", "")
	assert.ErrorContains(t, err, "SLACK_WEBHOOK_URL")
}

func TestBuildMessage_OmitsEmptyDetails(t *testing.T) {
	msg := NewAlerter("http://unused", nil).buildMessage("orders", "")
	assert.Len(t, msg.Blocks, 3)
}
