package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"boqmatch/internal/config"
	"boqmatch/internal/notifications"
)

type capturedRequest struct {
	title    string
	tags     string
	priority string
	body     string
}

func newNtfyServer(t *testing.T, status int) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var (
		mu       sync.Mutex
		captured []capturedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		captured = append(captured, capturedRequest{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), captured...)
	}
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	svc := notifications.NewService(config.Notifications{})
	if err := svc.NotifyJobFinished(context.Background(), notifications.JobSummary{Status: "failed"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNotifyJobFinishedFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		job            notifications.JobSummary
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name: "completed",
			job: notifications.JobSummary{
				ID: "3f2a9c1d-aaaa", Name: "Substructure", Status: "completed",
				Total: 120, Processed: 120, Matched: 110, LowConfidence: 7, Duration: 95 * time.Second,
			},
			expectTitle:   "boqmatch - Job Complete",
			expectMessage: "✅ Substructure: matched 110 of 120 items in 1m35s\n7 results need review",
			expectTags:    "boqmatch,job,completed",
		},
		{
			name:          "cancelled uses short id without a name",
			job:           notifications.JobSummary{ID: "3f2a9c1d-aaaa", Status: "cancelled", Total: 40, Processed: 10},
			expectTitle:   "boqmatch - Job Cancelled",
			expectMessage: "3f2a9c1d cancelled after 10 of 40 items",
			expectTags:    "boqmatch,job,cancelled",
		},
		{
			name:           "failed",
			job:            notifications.JobSummary{Name: "Bill 2", Status: "failed", Total: 40, Processed: 20, Error: "empty catalog"},
			expectTitle:    "boqmatch - Job Failed",
			expectMessage:  "❌ Bill 2 failed after 20 of 40 items: empty catalog",
			expectTags:     "boqmatch,job,error",
			expectPriority: "high",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv, captured := newNtfyServer(t, http.StatusOK)
			svc := notifications.NewService(config.Notifications{NtfyTopic: srv.URL, NotifyOnCompleted: true})
			if err := svc.NotifyJobFinished(context.Background(), tc.job); err != nil {
				t.Fatalf("NotifyJobFinished failed: %v", err)
			}
			reqs := captured()
			if len(reqs) != 1 {
				t.Fatalf("expected 1 request, got %d", len(reqs))
			}
			got := reqs[0]
			if got.title != tc.expectTitle || got.body != tc.expectMessage || got.tags != tc.expectTags || got.priority != tc.expectPriority {
				t.Fatalf("unexpected request: %+v", got)
			}
		})
	}
}

func TestCompletedNotificationsCanBeDisabled(t *testing.T) {
	srv, captured := newNtfyServer(t, http.StatusOK)
	svc := notifications.NewService(config.Notifications{NtfyTopic: srv.URL})
	ctx := context.Background()
	if err := svc.NotifyJobFinished(ctx, notifications.JobSummary{Status: "completed"}); err != nil {
		t.Fatalf("NotifyJobFinished failed: %v", err)
	}
	if err := svc.NotifyJobFinished(ctx, notifications.JobSummary{Status: "failed"}); err != nil {
		t.Fatalf("NotifyJobFinished failed: %v", err)
	}
	reqs := captured()
	if len(reqs) != 1 || reqs[0].title != "boqmatch - Job Failed" {
		t.Fatalf("expected only the failure to be sent, got %+v", reqs)
	}
}

func TestNtfyErrorStatusIsReported(t *testing.T) {
	srv, _ := newNtfyServer(t, http.StatusTooManyRequests)
	svc := notifications.NewService(config.Notifications{NtfyTopic: srv.URL})
	err := svc.TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected 429 error, got %v", err)
	}
}
