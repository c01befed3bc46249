package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"boqmatch/internal/config"
)

const userAgent = "boqmatch/0.1"

// JobSummary describes a job that reached a terminal state.
type JobSummary struct {
	ID            string
	Name          string
	Status        string
	Total         int
	Processed     int
	Matched       int
	LowConfidence int
	Duration      time.Duration
	Error         string
}

// Service defines the notification surface used by the job coordinator.
type Service interface {
	NotifyJobFinished(ctx context.Context, job JobSummary) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
func NewService(cfg config.Notifications) Service {
	topic := strings.TrimSpace(cfg.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint:    topic,
		client:      &http.Client{Timeout: timeout},
		onCompleted: cfg.NotifyOnCompleted,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint    string
	client      *http.Client
	onCompleted bool
}

func (n *ntfyService) NotifyJobFinished(ctx context.Context, job JobSummary) error {
	label := strings.TrimSpace(job.Name)
	if label == "" {
		label = shortID(job.ID)
	}
	duration := formatDuration(job.Duration)

	switch job.Status {
	case "completed":
		if !n.onCompleted {
			return nil
		}
		message := fmt.Sprintf("✅ %s: matched %d of %d items in %s", label, job.Matched, job.Total, duration)
		if job.LowConfidence > 0 {
			message += fmt.Sprintf("\n%d results need review", job.LowConfidence)
		}
		return n.send(ctx, payload{
			title:   "boqmatch - Job Complete",
			message: message,
			tags:    []string{"boqmatch", "job", "completed"},
		})
	case "cancelled":
		return n.send(ctx, payload{
			title:   "boqmatch - Job Cancelled",
			message: fmt.Sprintf("%s cancelled after %d of %d items", label, job.Processed, job.Total),
			tags:    []string{"boqmatch", "job", "cancelled"},
		})
	default:
		reason := strings.TrimSpace(job.Error)
		if reason == "" {
			reason = "unknown"
		}
		return n.send(ctx, payload{
			title:    "boqmatch - Job Failed",
			message:  fmt.Sprintf("❌ %s failed after %d of %d items: %s", label, job.Processed, job.Total, reason),
			tags:     []string{"boqmatch", "job", "error"},
			priority: "high",
		})
	}
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "boqmatch - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"boqmatch", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	return d.String()
}

type noopService struct{}

func (noopService) NotifyJobFinished(context.Context, JobSummary) error { return nil }
func (noopService) TestNotification(context.Context) error              { return nil }
