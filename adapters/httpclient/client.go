package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/layer-3/clearway/logger"
	"github.com/rs/zerolog"
)

// Options configures an outbound client
type Options struct {
	Timeout      time.Duration // Per-attempt timeout; zero leaves it to the caller's context
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	ProxyURL     string // Routes requests through the egress proxy when set
	Logger       zerolog.Logger
}

// New builds a retrying client on top of a pooled cleanhttp transport
func New(opts Options) (*retryablehttp.Client, error) {
	transport := cleanhttp.DefaultPooledTransport()
	if opts.ProxyURL != "" {
		proxy, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}

	client := retryablehttp.NewClient()
	client.HTTPClient = &http.Client{Transport: transport, Timeout: opts.Timeout}
	client.RetryMax = opts.RetryMax
	if opts.RetryWaitMin > 0 {
		client.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		client.RetryWaitMax = opts.RetryWaitMax
	}
	client.Backoff = retryablehttp.RateLimitLinearJitterBackoff
	client.CheckRetry = RetryPolicy
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = logger.NewLeveledAdapter(opts.Logger)

	return client, nil
}

// RetryPolicy is retryablehttp.DefaultRetryPolicy except that a 403 or 429 is
// never retried: those carry denial information the caller must classify.
func RetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && (resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests) {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}
