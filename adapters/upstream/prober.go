package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/layer-3/clearway/core"
	"github.com/layer-3/clearway/ports"
)

// DefaultProbeTimeout bounds a single probe request
const DefaultProbeTimeout = 5 * time.Second

const maxProbeBody = 256 << 10

var _ ports.ChallengeProber = (*Prober)(nil)

// Prober checks whether the upstream answers anonymous requests with a challenge
type Prober struct {
	url     string
	http    *retryablehttp.Client
	timeout time.Duration
}

// NewProber creates a prober for the upstream landing page
func NewProber(httpClient *retryablehttp.Client, url string, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Prober{url: url, http: httpClient, timeout: timeout}
}

// Probe reports true when a challenge is being served. Callers should treat an
// error as a challenge too.
func (p *Prober) Probe(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return true, fmt.Errorf("failed to build probe request: %w", err)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return true, fmt.Errorf("%w: %v", core.ErrProbeFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return true, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
	if err != nil {
		return true, fmt.Errorf("%w: %v", core.ErrProbeFailed, err)
	}

	return core.LooksLikeChallenge(body), nil
}
