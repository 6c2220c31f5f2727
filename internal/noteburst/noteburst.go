// Package noteburst is the HTTP client for the notebook execution service.
// Execution is fire and poll: a submitted notebook returns a job resource
// URL which is polled until the job reports a terminal state.
package noteburst

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/lsst-sqre/times-square/internal/platform/env"
)

// JobStatus is the lifecycle state of an execution job.
type JobStatus string

const (
	StatusDeferred   JobStatus = "deferred"
	StatusQueued     JobStatus = "queued"
	StatusInProgress JobStatus = "in_progress"
	StatusComplete   JobStatus = "complete"
	StatusNotFound   JobStatus = "not_found"
)

// Terminal reports whether polling can stop.
func (s JobStatus) Terminal() bool {
	return s == StatusComplete || s == StatusNotFound
}

// Job is the execution service's job resource. ResultDeleted distinguishes
// a completed job whose result has expired from one that still holds it.
type Job struct {
	SelfURL     string     `json:"self_url"`
	Status      JobStatus  `json:"status"`
	EnqueueTime time.Time  `json:"enqueue_time"`
	StartTime   *time.Time `json:"start_time,omitempty"`
	FinishTime  *time.Time `json:"finish_time,omitempty"`
	Success     *bool      `json:"success,omitempty"`
	Ipynb       string     `json:"ipynb,omitempty"`
	IpynbError  *JobError  `json:"ipynb_error,omitempty"`
}

// JobError reports an exception raised during notebook execution.
type JobError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// RuntimeDuration returns how long the job executed, when both timestamps
// are known.
func (j *Job) RuntimeDuration() (time.Duration, bool) {
	if j.StartTime == nil || j.FinishTime == nil {
		return 0, false
	}
	return j.FinishTime.Sub(*j.StartTime), true
}

// Config configures the client.
type Config struct {
	// BaseURL is the execution service root, e.g. http://noteburst:8080.
	BaseURL string
	// Token is the bearer token for service-to-service auth.
	Token string
	// Timeout bounds a single HTTP request.
	Timeout time.Duration
}

func ConfigFromEnv() (Config, error) {
	timeout, err := env.Duration("NOTEBURST_TIMEOUT", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		BaseURL: env.String("NOTEBURST_URL", "http://noteburst:8080"),
		Token:   env.String("NOTEBURST_TOKEN", ""),
		Timeout: timeout,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("noteburst base URL must be set")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("noteburst base URL: %w", err)
	}
	return nil
}

// Client talks to the execution service.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

type submitRequest struct {
	Ipynb         string `json:"ipynb"`
	KernelName    string `json:"kernel_name,omitempty"`
	EnableRetry   bool   `json:"enable_retry"`
	TimeoutSecond int    `json:"timeout,omitempty"`
}

// SubmitOptions tune a single execution request.
type SubmitOptions struct {
	KernelName string
	// EnableRetry should be false for user-triggered executions so a
	// broken notebook fails fast instead of retrying in the queue.
	EnableRetry bool
	Timeout     time.Duration
}

// SubmitJob submits a notebook for execution and returns the pending job.
func (c *Client) SubmitJob(ctx context.Context, ipynb string, opts SubmitOptions) (*Job, error) {
	payload := submitRequest{
		Ipynb:       ipynb,
		KernelName:  opts.KernelName,
		EnableRetry: opts.EnableRetry,
	}
	if opts.Timeout > 0 {
		payload.TimeoutSecond = int(opts.Timeout.Seconds())
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode job request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/noteburst/v1/notebooks/", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit notebook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusCreated {
		return nil, statusError("submit notebook", resp)
	}
	return decodeJob(resp.Body)
}

// GetJob fetches the current state of a job by its resource URL. Asking for
// the source notebook is only worthwhile once the job is complete.
func (c *Client) GetJob(ctx context.Context, jobURL string) (*Job, error) {
	u, err := url.Parse(jobURL)
	if err != nil {
		return nil, fmt.Errorf("job URL: %w", err)
	}
	q := u.Query()
	q.Set("source", "true")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &Job{SelfURL: jobURL, Status: StatusNotFound}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("get job", resp)
	}
	return decodeJob(resp.Body)
}

func (c *Client) authorize(req *http.Request) {
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
}

func decodeJob(r io.Reader) (*Job, error) {
	var job Job
	if err := json.NewDecoder(r).Decode(&job); err != nil {
		return nil, fmt.Errorf("decode job response: %w", err)
	}
	return &job, nil
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s: unexpected status %d: %s", op, resp.StatusCode, bytes.TrimSpace(body))
}
