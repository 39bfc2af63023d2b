package upstream

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/layer-3/clearway/core"
	"github.com/layer-3/clearway/ports"
)

const (
	maxDenialBody = 64 << 10
	maxUnitSize   = 4 << 20
)

var _ ports.Upstream = (*Client)(nil)

// Client opens relay calls against the upstream endpoint
type Client struct {
	endpoint string
	http     *retryablehttp.Client
}

// NewClient creates an upstream client posting to endpoint. It shares the
// transport and hooks of httpClient but never retries: a relay call is not
// idempotent and every attempt spends account quota.
func NewClient(httpClient *retryablehttp.Client, endpoint string) *Client {
	single := retryablehttp.NewClient()
	single.HTTPClient = httpClient.HTTPClient
	single.Logger = httpClient.Logger
	single.CheckRetry = httpClient.CheckRetry
	single.ErrorHandler = retryablehttp.PassthroughErrorHandler
	single.RetryMax = 0
	return &Client{endpoint: endpoint, http: single}
}

// Open posts payload with the given cookie and returns the response as a unit source.
// Units are newline-delimited; blank lines are skipped.
func (c *Client) Open(ctx context.Context, cookie string, payload []byte) (ports.UnitSource, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson, application/json")
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxDenialBody))
		return nil, &core.DenialError{
			StatusCode: resp.StatusCode,
			Kind:       core.ClassifyDenial(resp.StatusCode, body),
			Message:    summarize(body),
		}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64<<10), maxUnitSize)

	return &lineSource{body: resp.Body, scanner: scanner}, nil
}

func summarize(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}

type lineSource struct {
	body      io.Closer
	scanner   *bufio.Scanner
	closeOnce sync.Once
	closeErr  error
}

func (s *lineSource) Next(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return nil, fmt.Errorf("failed to read upstream unit: %w", err)
			}
			return nil, io.EOF
		}
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		return bytes.Clone(line), nil
	}
}

func (s *lineSource) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}
