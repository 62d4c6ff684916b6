package taskrunner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultTimeout applies when HTTPClientConfig.Timeout is zero.
const DefaultTimeout = 30 * time.Second

const maxErrorBodyLen = 512

// HTTPClientConfig configures the task runner REST client.
type HTTPClientConfig struct {
	BaseURL  string `validate:"required,url"`
	Username string
	Password string
	Timeout  time.Duration
	// RequestsPerSecond caps the call rate shared by every executor of the process; 0 disables it.
	RequestsPerSecond float64
}

// HTTPClient talks to the task runner REST API.
type HTTPClient struct {
	baseURL  string
	username string
	password string
	client   *http.Client
	limiter  *rate.Limiter
	logger   *slog.Logger
}

func NewHTTPClient(config HTTPClientConfig, logger *slog.Logger) *HTTPClient {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if config.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1)
	}

	return &HTTPClient{
		baseURL:  strings.TrimRight(config.BaseURL, "/"),
		username: config.Username,
		password: config.Password,
		client:   &http.Client{Timeout: timeout},
		limiter:  limiter,
		logger:   logger.With("module", "taskrunner"),
	}
}

type submitResponse struct {
	TaskID json.Number `json:"task_id"`
}

func (c *HTTPClient) Submit(ctx context.Context, request TaskRequest) (string, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return "", &TaskError{Op: "submit", Topology: request.Topology, Err: err}
	}

	endpoint := c.baseURL + "/topologies/" + url.PathEscape(request.Topology) + "/tasks"

	var response submitResponse

	err = c.do(ctx, http.MethodPost, endpoint, body, &response)
	if err != nil {
		return "", wrapTaskError(err, "submit", request.Topology, "")
	}

	if response.TaskID == "" {
		return "", &TaskError{Op: "submit", Topology: request.Topology, Err: fmt.Errorf("%w: empty task id", ErrTaskRunner)}
	}

	c.logger.DebugContext(ctx, "Submitted task", "topology", request.Topology, "task_id", response.TaskID.String())

	return response.TaskID.String(), nil
}

func (c *HTTPClient) Progress(ctx context.Context, topology, taskID string) (*TaskProgress, error) {
	var progress TaskProgress

	err := c.do(ctx, http.MethodGet, c.taskURL(topology, taskID)+"/progress", nil, &progress)
	if err != nil {
		return nil, wrapTaskError(err, "progress", topology, taskID)
	}

	return &progress, nil
}

func (c *HTTPClient) Cancel(ctx context.Context, topology, taskID string) error {
	err := c.do(ctx, http.MethodPost, c.taskURL(topology, taskID)+"/kill", nil, nil)
	if err != nil {
		return wrapTaskError(err, "cancel", topology, taskID)
	}

	return nil
}

func (c *HTTPClient) taskURL(topology, taskID string) string {
	return c.baseURL + "/topologies/" + url.PathEscape(topology) + "/tasks/" + url.PathEscape(taskID)
}

type statusError struct {
	code int
	err  error
}

func (e *statusError) Error() string { return e.err.Error() }
func (e *statusError) Unwrap() error { return e.err }

func wrapTaskError(err error, op, topology, taskID string) error {
	taskErr := &TaskError{Op: op, Topology: topology, TaskID: taskID, Err: err}

	var se *statusError
	if errors.As(err, &se) {
		taskErr.StatusCode = se.code
	}

	return taskErr
}

func (c *HTTPClient) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	err := c.limiter.Wait(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTaskRunner, err)
	}

	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.ErrorContext(ctx, "failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode == http.StatusNotFound {
		return &statusError{code: resp.StatusCode, err: ErrTaskNotFound}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))

		return &statusError{
			code: resp.StatusCode,
			err:  fmt.Errorf("%w: %s", ErrTaskRunner, strings.TrimSpace(string(detail))),
		}
	}

	if out == nil {
		return nil
	}

	err = json.NewDecoder(resp.Body).Decode(out)
	if err != nil {
		return fmt.Errorf("%w: failed to decode response: %w", ErrTaskRunner, err)
	}

	return nil
}
