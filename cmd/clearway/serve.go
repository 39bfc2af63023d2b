package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/layer-3/clearway/adapters/egress"
	"github.com/layer-3/clearway/adapters/events"
	"github.com/layer-3/clearway/adapters/httpclient"
	"github.com/layer-3/clearway/adapters/media"
	"github.com/layer-3/clearway/adapters/solver"
	"github.com/layer-3/clearway/adapters/store"
	"github.com/layer-3/clearway/adapters/tokenizer"
	"github.com/layer-3/clearway/adapters/upstream"
	"github.com/layer-3/clearway/config"
	"github.com/layer-3/clearway/core"
	"github.com/layer-3/clearway/logger"
	"github.com/layer-3/clearway/metrics"
	"github.com/layer-3/clearway/ports"
	"github.com/layer-3/clearway/service"
	transport "github.com/layer-3/clearway/transport/http"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the clearway HTTP server",
	RunE:  runServe,
}

type storage interface {
	ports.TokenStore
	ports.CredentialStore
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, logCloser, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, publisher, closeBackend, err := openBackend(cfg, log)
	if err != nil {
		return err
	}
	defer closeBackend()

	clk := clock.New()
	eventPub := events.NewWatermillPublisher(publisher)

	// Upstream traffic goes through the egress proxy; control-plane traffic does not
	proxied, err := httpclient.New(httpclient.Options{
		ProxyURL: cfg.ProxyURL,
		RetryMax: 2,
		Logger:   logger.Component(log, "upstream-http"),
	})
	if err != nil {
		return err
	}
	direct, err := httpclient.New(httpclient.Options{
		Timeout:  30 * time.Second,
		RetryMax: 2,
		Logger:   logger.Component(log, "control-http"),
	})
	if err != nil {
		return err
	}

	var rotator *service.NodeRotator
	if cfg.RotationEnabled {
		controller := egress.NewMihomoClient(direct, cfg.EgressAPIURL, cfg.EgressGroup, cfg.EgressSecret)
		rotator = service.NewNodeRotator(controller, eventPub, clk, logger.Component(log, "rotator"), cfg.MaxRotationAttempts, cfg.RotationDelay)
	}

	clearance := service.NewClearanceService(
		service.ClearanceConfig{
			Enabled:      cfg.ClearanceEnabled,
			TTL:          cfg.ClearanceTTL,
			TargetURL:    cfg.UpstreamBaseURL,
			ProbeTimeout: cfg.ProbeTimeout,
			SolveTimeout: cfg.SolveTimeout,
		},
		solver.NewTaskClient(direct, cfg.SolverURL, cfg.SolveTimeout, cfg.SolverPoll, logger.Component(log, "solver")),
		upstream.NewProber(proxied, cfg.ProbeURL, cfg.ProbeTimeout),
		rotator,
		st,
		eventPub,
		clk,
		logger.Component(log, "clearance"),
	)
	coordinator := service.NewFailureCoordinator(clearance, logger.Component(log, "coordinator"))

	pool := service.NewTokenPool(st, eventPub, nil, clk, logger.Component(log, "tokens"), cfg.TokenFailureThreshold)
	pool.SetNotifier(coordinator)

	if err := startup(ctx, cfg, clearance, pool, log); err != nil {
		return err
	}

	fetcher, err := media.NewFetcher(proxied, cfg.UpstreamBaseURL, cfg.AssetDir, clearance.Current)
	if err != nil {
		return err
	}
	relay := service.NewStreamRelay(fetcher, logger.Component(log, "relay"))
	gateway := service.NewGatewayService(pool, clearance, upstream.NewClient(proxied, cfg.RelayURL()), relay, logger.Component(log, "gateway"))

	gin.SetMode(gin.ReleaseMode)
	router := transport.SetupRouter(transport.RouterConfig{
		Auth:            service.NewAuthService(tokenizer.NewJWTTokenizer([]byte(cfg.OperatorSecret)), clk),
		Clearance:       clearance,
		Coordinator:     coordinator,
		Pool:            pool,
		Gateway:         gateway,
		Metrics:         metrics.NewRegistry(clearance, pool, coordinator),
		RefreshInterval: cfg.RefreshRateLimit,
		Logger:          logger.Component(log, "http"),
	})

	return serveHTTP(ctx, cfg.ListenAddr, router, []waiter{pool, gateway}, log)
}

// openBackend picks redis when a URL is configured and in-memory storage otherwise
func openBackend(cfg *config.Config, log zerolog.Logger) (storage, message.Publisher, func(), error) {
	wmLogger := logger.NewWatermillAdapter(logger.Component(log, "events"))

	if cfg.RedisURL == "" {
		log.Warn().Msg("no redis configured, tokens and clearance will not survive a restart")
		pubsub := gochannel.NewGoChannel(gochannel.Config{}, wmLogger)
		return store.NewMemoryStore(), pubsub, func() { _ = pubsub.Close() }, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	redisClient := redis.NewClient(opts)

	publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: redisClient}, wmLogger)
	if err != nil {
		_ = redisClient.Close()
		return nil, nil, nil, fmt.Errorf("failed to create redis publisher: %w", err)
	}

	closeAll := func() {
		_ = publisher.Close()
		_ = redisClient.Close()
	}
	return store.NewRedisStore(redisClient), publisher, closeAll, nil
}

// startup restores persisted state, imports the token file and moves to the best egress node
func startup(ctx context.Context, cfg *config.Config, clearance *service.ClearanceService, pool *service.TokenPool, log zerolog.Logger) error {
	if err := clearance.Restore(ctx); err != nil {
		log.Warn().Err(err).Msg("starting without a persisted clearance")
	}
	if err := pool.Load(ctx); err != nil {
		return err
	}

	if cfg.TokenFile != "" {
		file, err := config.LoadTokenFile(cfg.TokenFile)
		if err != nil {
			return err
		}
		imported := importTokens(ctx, pool, file, log)
		log.Info().Int("imported", imported).Int("listed", len(file.Tokens)).Msg("token file processed")
	}

	if err := clearance.InitEgress(ctx); err != nil {
		log.Warn().Err(err).Msg("egress initialisation failed, keeping current node")
	}
	return nil
}

func importTokens(ctx context.Context, pool *service.TokenPool, file *config.TokenFile, log zerolog.Logger) int {
	imported := 0
	for _, entry := range file.Tokens {
		tier, _ := core.ParseTier(entry.Tier)
		token, err := pool.Add(ctx, entry.Token, tier)
		if errors.Is(err, core.ErrTokenExists) {
			continue
		}
		if err != nil {
			log.Warn().Err(err).Msg("skipping token entry")
			continue
		}
		for capability, remaining := range entry.Quotas {
			if err := pool.UpdateQuota(ctx, token.ID, capability, remaining); err != nil {
				log.Warn().Err(err).Str("token", token.ID).Msg("failed to set quota")
			}
		}
		imported++
	}
	return imported
}

// waiter is a component with background work to drain on shutdown
type waiter interface {
	Wait()
}

func serveHTTP(ctx context.Context, addr string, handler http.Handler, background []waiter, log zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	for _, w := range background {
		w.Wait()
	}
	return nil
}
