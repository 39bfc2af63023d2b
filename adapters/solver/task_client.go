package solver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/layer-3/clearway/core"
	"github.com/layer-3/clearway/ports"
	"github.com/rs/zerolog"
)

const (
	// DefaultSolveTimeout bounds a whole solve including polling
	DefaultSolveTimeout = 120 * time.Second
	// DefaultPollInterval is the wait between result polls
	DefaultPollInterval = 2 * time.Second

	cookieName = "cf_clearance"
)

var _ ports.ChallengeSolver = (*TaskClient)(nil)

// TaskClient solves challenges through a task-based solver service:
// a task is created for a URL and its result is polled until ready.
type TaskClient struct {
	baseURL      string
	http         *retryablehttp.Client
	solveTimeout time.Duration
	pollInterval time.Duration
	logger       zerolog.Logger
}

// NewTaskClient creates a solver client
func NewTaskClient(httpClient *retryablehttp.Client, baseURL string, solveTimeout, pollInterval time.Duration, logger zerolog.Logger) *TaskClient {
	if solveTimeout <= 0 {
		solveTimeout = DefaultSolveTimeout
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &TaskClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		http:         httpClient,
		solveTimeout: solveTimeout,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

type taskResponse struct {
	ErrorID  int    `json:"errorId"`
	TaskID   string `json:"taskId"`
	Status   string `json:"status"`
	Value    string `json:"value"`
	Solution struct {
		Token string `json:"token"`
	} `json:"solution"`
}

// Solve returns a cookie pair "cf_clearance=<value>" for target
func (c *TaskClient) Solve(ctx context.Context, target string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.solveTimeout)
	defer cancel()

	var created taskResponse
	if err := c.getJSON(ctx, "/cloudflare?url="+url.QueryEscape(target), &created); err != nil {
		return "", fmt.Errorf("failed to create solve task: %w", err)
	}
	if created.ErrorID != 0 || created.TaskID == "" {
		return "", fmt.Errorf("solver rejected task (errorId %d %s): %w", created.ErrorID, created.Value, core.ErrSolverFailed)
	}

	c.logger.Debug().Str("task_id", created.TaskID).Str("url", target).Msg("solve task created")

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("solve task %s: %w: %v", created.TaskID, core.ErrSolverFailed, ctx.Err())
		case <-ticker.C:
		}

		var result taskResponse
		if err := c.getJSON(ctx, "/result?id="+url.QueryEscape(created.TaskID), &result); err != nil {
			return "", fmt.Errorf("failed to poll solve task: %w", err)
		}
		if result.ErrorID != 0 {
			return "", fmt.Errorf("solve task %s failed (%s): %w", created.TaskID, result.Value, core.ErrSolverFailed)
		}
		if result.Status == "ready" {
			if result.Solution.Token == "" {
				return "", fmt.Errorf("solve task %s returned no token: %w", created.TaskID, core.ErrSolverFailed)
			}
			return NormalizeClearance(result.Solution.Token), nil
		}
	}
}

// NormalizeClearance turns a bare clearance value into its cookie pair form
func NormalizeClearance(value string) string {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, cookieName+"=") {
		return value
	}
	return cookieName + "=" + value
}

func (c *TaskClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("solver returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode solver response: %w", err)
	}

	return nil
}
