package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Job is one generation request handed to the worker pool.
type Job struct {
	JobID  string `json:"job_id"`
	ChatID int64  `json:"chat_id"`
	Prompt string `json:"prompt"`
	// CallbackURL is where the worker reports completion; the submitting
	// request never waits for it.
	CallbackURL string `json:"callback_url"`
}

// Callback is the completion report the worker posts back.
type Callback struct {
	JobID    string `json:"job_id"`
	ChatID   int64  `json:"chat_id"`
	Status   string `json:"status"` // succeeded | failed
	ImageURL string `json:"image_url,omitempty"`
	Error    string `json:"error,omitempty"`
}

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Client submits generation jobs to the external worker pool. Submission is
// fire-and-forget: a 2xx means the pool accepted the job, nothing more.
type Client struct {
	apiKey     string
	baseURL    string
	submitPath string
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(baseURL, submitPath, apiKey string, timeout time.Duration, log *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		submitPath: submitPath,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// Submit enqueues one job and returns as soon as the pool acknowledges it.
// An error here means the job never started; the caller must roll back any
// credit it consumed on admission.
func (c *Client) Submit(ctx context.Context, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	url := c.baseURL + c.submitPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post worker: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		c.log.Error("worker rejected job", "status", resp.StatusCode, "job", job.JobID, "body", truncateBody(rawBody))
		return fmt.Errorf("worker error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
	}

	c.log.Info("job submitted", "job", job.JobID, "chat", job.ChatID)
	return nil
}

// ParseCallback decodes and validates a completion report.
func ParseCallback(body []byte) (*Callback, error) {
	var cb Callback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, fmt.Errorf("decode callback: %w", err)
	}
	if cb.JobID == "" || cb.ChatID == 0 {
		return nil, fmt.Errorf("callback missing job_id or chat_id")
	}
	switch cb.Status {
	case StatusSucceeded:
		if cb.ImageURL == "" {
			return nil, fmt.Errorf("succeeded callback missing image_url")
		}
	case StatusFailed:
	default:
		return nil, fmt.Errorf("unknown callback status: %q", cb.Status)
	}
	return &cb, nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
