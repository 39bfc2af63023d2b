package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/layer-3/clearway/core"
	"github.com/layer-3/clearway/logger"
	"github.com/layer-3/clearway/service"
)

const envPrefix = "CLEARWAY_"

// Config holds every tunable of a clearway process
type Config struct {
	ListenAddr string
	Log        logger.Config

	RedisURL string // empty selects the in-memory store and event bus

	UpstreamBaseURL string
	RelayEndpoint   string
	ProxyURL        string

	ClearanceEnabled bool
	ClearanceTTL     time.Duration
	ProbeURL         string
	ProbeTimeout     time.Duration
	SolveTimeout     time.Duration
	SolverURL        string
	SolverPoll       time.Duration

	RotationEnabled       bool
	EgressAPIURL          string
	EgressGroup           string
	EgressSecret          string
	MaxRotationAttempts   int
	RotationDelay         time.Duration
	TokenFailureThreshold int

	TokenFile      string
	OperatorSecret string
	AssetDir       string

	RefreshRateLimit time.Duration // minimum spacing between operator refreshes
}

// Load reads the configuration from CLEARWAY_* environment variables,
// applies defaults and validates the result.
func Load() (*Config, error) {
	var errs []error
	r := reader{errs: &errs}

	cfg := &Config{
		ListenAddr: r.str("LISTEN_ADDR", ":9000"),
		Log: logger.Config{
			Level:      r.str("LOG_LEVEL", "info"),
			Format:     r.str("LOG_FORMAT", "console"),
			File:       r.str("LOG_FILE", ""),
			MaxSizeMB:  r.int("LOG_MAX_SIZE_MB", 100),
			MaxBackups: r.int("LOG_MAX_BACKUPS", 3),
			MaxAgeDays: r.int("LOG_MAX_AGE_DAYS", 28),
		},

		RedisURL: r.str("REDIS_URL", ""),

		UpstreamBaseURL: r.str("UPSTREAM_BASE_URL", "https://grok.com"),
		RelayEndpoint:   r.str("RELAY_ENDPOINT", "/rest/app-chat/conversations/new"),
		ProxyURL:        r.str("PROXY_URL", ""),

		ClearanceEnabled: r.bool("CLEARANCE_ENABLED", false),
		ClearanceTTL:     r.duration("CLEARANCE_TTL", core.DefaultClearanceTTL),
		ProbeURL:         r.str("PROBE_URL", ""),
		ProbeTimeout:     r.duration("PROBE_TIMEOUT", 5*time.Second),
		SolveTimeout:     r.duration("SOLVE_TIMEOUT", 120*time.Second),
		SolverURL:        r.str("SOLVER_URL", "http://localhost:5072"),
		SolverPoll:       r.duration("SOLVER_POLL_INTERVAL", 2*time.Second),

		RotationEnabled:       r.bool("ROTATION_ENABLED", false),
		EgressAPIURL:          r.str("EGRESS_API_URL", "http://localhost:9090"),
		EgressGroup:           r.str("EGRESS_GROUP", "GLOBAL"),
		EgressSecret:          r.str("EGRESS_SECRET", ""),
		MaxRotationAttempts:   r.int("MAX_ROTATION_ATTEMPTS", service.DefaultMaxRotationAttempts),
		RotationDelay:         r.duration("ROTATION_DELAY", service.DefaultRotationDelay),
		TokenFailureThreshold: r.int("TOKEN_FAILURE_THRESHOLD", service.DefaultFailureThreshold),

		TokenFile:      r.str("TOKEN_FILE", ""),
		OperatorSecret: r.str("OPERATOR_SECRET", ""),
		AssetDir:       r.str("ASSET_DIR", "data/assets"),

		RefreshRateLimit: r.duration("REFRESH_RATE_LIMIT", 30*time.Second),
	}

	if cfg.ProbeURL == "" {
		cfg.ProbeURL = cfg.UpstreamBaseURL
	}

	errs = append(errs, cfg.validate()...)
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// RelayURL is the absolute URL relay calls are posted to
func (c *Config) RelayURL() string {
	return strings.TrimRight(c.UpstreamBaseURL, "/") + "/" + strings.TrimLeft(c.RelayEndpoint, "/")
}

func (c *Config) validate() []error {
	var errs []error
	if c.OperatorSecret == "" {
		errs = append(errs, fmt.Errorf("%sOPERATOR_SECRET is required", envPrefix))
	}
	for name, raw := range map[string]string{
		"UPSTREAM_BASE_URL": c.UpstreamBaseURL,
		"PROBE_URL":         c.ProbeURL,
	} {
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s%s must be an absolute URL, got %q", envPrefix, name, raw))
		}
	}
	if c.ClearanceTTL <= 0 {
		errs = append(errs, fmt.Errorf("%sCLEARANCE_TTL must be positive", envPrefix))
	}
	if c.MaxRotationAttempts < 1 {
		errs = append(errs, fmt.Errorf("%sMAX_ROTATION_ATTEMPTS must be at least 1", envPrefix))
	}
	if c.TokenFailureThreshold < 1 {
		errs = append(errs, fmt.Errorf("%sTOKEN_FAILURE_THRESHOLD must be at least 1", envPrefix))
	}
	if c.RotationDelay < 0 {
		errs = append(errs, fmt.Errorf("%sROTATION_DELAY must not be negative", envPrefix))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("%sLOG_FORMAT must be console or json", envPrefix))
	}
	return errs
}

type reader struct {
	errs *[]error
}

func (r reader) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (r reader) str(key, def string) string {
	if v, ok := r.lookup(key); ok {
		return v
	}
	return def
}

func (r reader) int(key string, def int) int {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*r.errs = append(*r.errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
		return def
	}
	return n
}

func (r reader) bool(key string, def bool) bool {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*r.errs = append(*r.errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
		return def
	}
	return b
}

// duration accepts Go duration strings or a bare number of seconds
func (r reader) duration(key string, def time.Duration) time.Duration {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*r.errs = append(*r.errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
		return def
	}
	return d
}
