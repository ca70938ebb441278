package commands

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/wonny/metricengine/internal/batch"
	"github.com/wonny/metricengine/internal/definition"
	"github.com/wonny/metricengine/internal/engine"
	"github.com/wonny/metricengine/internal/fairvalue"
	"github.com/wonny/metricengine/internal/provider"
	"github.com/wonny/metricengine/internal/ratelimit"
	"github.com/wonny/metricengine/internal/store"
	"github.com/wonny/metricengine/internal/telemetry"
	"github.com/wonny/metricengine/pkg/config"
	"github.com/wonny/metricengine/pkg/database"
	"github.com/wonny/metricengine/pkg/httputil"
	"github.com/wonny/metricengine/pkg/logger"
	"github.com/wonny/metricengine/pkg/redis"
)

const redisPrefix = "metricengine"

// app holds every wired component of one CLI invocation
type app struct {
	cfg       *config.Config
	log       *logger.Logger
	db        *database.DB
	redis     *redis.Client
	metrics   *telemetry.Metrics
	defs      *definition.FileStore
	registry  *engine.Registry
	limiter   *ratelimit.RateLimiter
	processor *batch.Processor
}

// loadConfig loads config and applies global flag overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if definitionsPath != "" {
		cfg.Engine.DefinitionsPath = definitionsPath
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

// newRegistry registers every custom calculator kind
func newRegistry(cfg *config.Config) *engine.Registry {
	return engine.NewRegistry(fairvalue.New(cfg.Engine.MaxPeers))
}

// newApp wires config → logger → db/redis → provider → limiter → processor
// ⭐ SSOT: 컴포넌트 조립은 여기서만
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	log := logger.New(cfg)

	db, err := database.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	log.Info("Connected to database")

	rc, err := redis.New(ctx, cfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	a := &app{
		cfg:      cfg,
		log:      log,
		db:       db,
		redis:    rc,
		defs:     definition.NewFileStore(cfg.Engine.DefinitionsPath),
		registry: newRegistry(cfg),
	}
	if cfg.MetricsEnabled {
		a.metrics = telemetry.New()
	}

	// 여러 프로세스가 같은 provider quota를 공유할 때 Redis window로 합산
	limiterOpts := []ratelimit.Option{}
	if rc.Enabled() {
		window := redis.NewSlidingWindow(rc, redisPrefix, redis.ProviderWindowName(providerName(cfg.Provider.BaseURL)), time.Minute)
		limiterOpts = append(limiterOpts, ratelimit.WithSharedWindow(window))
	}
	a.limiter = ratelimit.New(cfg.Provider.RateLimitPerMin, limiterOpts...)

	httpClient := provider.NewLimitedClient(httputil.New(cfg, log), a.limiter)
	p := provider.NewHTTPProvider(httpClient, cfg.Provider.BaseURL, cfg.Provider.APIKey, log)
	fetcher := provider.NewFetcher(p, a.limiter, cfg.Provider.Timeout, a.metrics, log)

	cat, err := a.defs.LoadCatalog(ctx)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("load definitions: %w", err)
	}

	opts := []batch.Option{
		batch.WithEventSource(store.NewEventRepository(db.Pool, log)),
		batch.WithSink(store.NewResultRepository(db.Pool, log, cat.Position.FairValueMetric, cat.Position.PriceMetric)),
		batch.WithMetrics(a.metrics),
	}
	if rc.Enabled() {
		opts = append(opts, batch.WithPeerCache(redis.NewCache(rc, redisPrefix)))
	}

	a.processor = batch.NewProcessor(a.defs, a.registry, fetcher, a.limiter, batch.Config{Workers: cfg.Engine.Workers}, log, opts...)

	log.WithFields(map[string]interface{}{
		"definitions": cfg.Engine.DefinitionsPath,
		"metrics":     len(cat.Metrics),
		"workers":     cfg.Engine.Workers,
		"rate_limit":  cfg.Provider.RateLimitPerMin,
		"redis":       rc.Enabled(),
	}).Info("Metric engine initialized")

	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

// providerName names the shared quota window after the provider host
func providerName(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return "default"
	}
	return u.Host
}
