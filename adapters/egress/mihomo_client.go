package egress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/layer-3/clearway/core"
	"github.com/layer-3/clearway/ports"
)

// DefaultTimeout bounds every controller call
const DefaultTimeout = 5 * time.Second

// builtin outbounds are never rotation candidates
var builtinOutbounds = map[string]struct{}{
	"DIRECT": {},
	"REJECT": {},
}

var _ ports.EgressController = (*MihomoClient)(nil)

// MihomoClient drives a selector group through a mihomo-compatible external controller API
type MihomoClient struct {
	baseURL string
	group   string
	secret  string
	timeout time.Duration
	http    *retryablehttp.Client
}

// NewMihomoClient creates a controller client for one selector group
func NewMihomoClient(httpClient *retryablehttp.Client, baseURL, group, secret string) *MihomoClient {
	return &MihomoClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		group:   group,
		secret:  secret,
		timeout: DefaultTimeout,
		http:    httpClient,
	}
}

type groupResponse struct {
	Now string   `json:"now"`
	All []string `json:"all"`
}

type providersResponse struct {
	Providers map[string]struct {
		Proxies []struct {
			Name    string `json:"name"`
			History []struct {
				Delay int `json:"delay"`
			} `json:"history"`
		} `json:"proxies"`
	} `json:"providers"`
}

// GroupStatus returns the active node and the selectable candidates of the group
func (c *MihomoClient) GroupStatus(ctx context.Context) (core.GroupStatus, error) {
	var body groupResponse
	if err := c.getJSON(ctx, "/proxies/"+url.PathEscape(c.group), &body); err != nil {
		return core.GroupStatus{}, fmt.Errorf("failed to read group %s: %w", c.group, err)
	}

	candidates := make([]string, 0, len(body.All))
	for _, name := range body.All {
		if _, builtin := builtinOutbounds[name]; builtin {
			continue
		}
		candidates = append(candidates, name)
	}

	return core.GroupStatus{Active: body.Now, Candidates: candidates}, nil
}

// LatencySamples returns the most recent positive delay recorded for each node
func (c *MihomoClient) LatencySamples(ctx context.Context) (map[string]time.Duration, error) {
	var body providersResponse
	if err := c.getJSON(ctx, "/providers/proxies", &body); err != nil {
		return nil, fmt.Errorf("failed to read latency history: %w", err)
	}

	samples := make(map[string]time.Duration)
	for _, provider := range body.Providers {
		for _, proxy := range provider.Proxies {
			if len(proxy.History) == 0 {
				continue
			}
			if delay := proxy.History[len(proxy.History)-1].Delay; delay > 0 {
				samples[proxy.Name] = time.Duration(delay) * time.Millisecond
			}
		}
	}

	return samples, nil
}

// SwitchTo selects node in the group
func (c *MihomoClient) SwitchTo(ctx context.Context, node string) error {
	payload, err := json.Marshal(map[string]string{"name": node})
	if err != nil {
		return fmt.Errorf("failed to marshal switch request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodPut, "/proxies/"+url.PathEscape(c.group), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to switch to %s: %w", node, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("switch to %s returned %d: %w", node, resp.StatusCode, core.ErrSwitchFailed)
	}

	return nil
}

func (c *MihomoClient) getJSON(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrEgressUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", core.ErrEgressUnavailable, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

func (c *MihomoClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*retryablehttp.Request, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if c.secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.secret)
	}
	return req, nil
}
