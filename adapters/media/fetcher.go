package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/layer-3/clearway/ports"
)

const maxAssetSize = 64 << 20

// DefaultFetchTimeout bounds a single asset download including the body copy
const DefaultFetchTimeout = 60 * time.Second

var _ ports.AssetFetcher = (*Fetcher)(nil)

// Fetcher downloads assets referenced by relayed units into a local directory
type Fetcher struct {
	http    *retryablehttp.Client
	baseURL *url.URL
	dir     string
	cookie  func() string
	timeout time.Duration
}

// NewFetcher creates a fetcher. Relative references resolve against baseURL;
// cookie, when not nil, supplies the Cookie header for each download.
func NewFetcher(httpClient *retryablehttp.Client, baseURL, dir string, cookie func() string) (*Fetcher, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse asset base url: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create asset dir: %w", err)
	}
	return &Fetcher{http: httpClient, baseURL: base, dir: dir, cookie: cookie, timeout: DefaultFetchTimeout}, nil
}

// Fetch downloads ref and returns the local file path
func (f *Fetcher) Fetch(ctx context.Context, ref string) (string, error) {
	target, err := f.baseURL.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid asset reference %q: %w", ref, err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build asset request: %w", err)
	}
	if f.cookie != nil {
		if c := f.cookie(); c != "" {
			req.Header.Set("Cookie", c)
		}
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("asset download returned status %d", resp.StatusCode)
	}

	name := uuid.NewString() + path.Ext(target.Path)
	local := filepath.Join(f.dir, name)

	file, err := os.Create(local)
	if err != nil {
		return "", fmt.Errorf("failed to create asset file: %w", err)
	}

	_, copyErr := io.Copy(file, io.LimitReader(resp.Body, maxAssetSize))
	closeErr := file.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(local)
		return "", fmt.Errorf("failed to write asset: %v %v", copyErr, closeErr)
	}

	return local, nil
}
