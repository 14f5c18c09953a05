package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mailfinder/internal/db"
	"github.com/sells-group/mailfinder/internal/domain"
	"github.com/sells-group/mailfinder/internal/harvest"
	"github.com/sells-group/mailfinder/internal/lock"
	"github.com/sells-group/mailfinder/internal/mx"
	"github.com/sells-group/mailfinder/internal/orchestrator"
	"github.com/sells-group/mailfinder/internal/pace"
	"github.com/sells-group/mailfinder/internal/pattern"
	"github.com/sells-group/mailfinder/internal/progress"
	"github.com/sells-group/mailfinder/internal/scrape"
	"github.com/sells-group/mailfinder/internal/search"
	"github.com/sells-group/mailfinder/internal/store"
	"github.com/sells-group/mailfinder/internal/verify"
	"github.com/sells-group/mailfinder/pkg/hunter"
)

const lockKey = "mailfinder:run"

// initStore opens and migrates the configured store.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite", "sqlite3":
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initRedis returns nil unless a backend needs Redis.
func initRedis(ctx context.Context) (*redis.Client, error) {
	if cfg.Lock.Backend != lock.BackendRedis && cfg.Progress.Backend != progress.BackendRedis {
		return nil, nil
	}
	if cfg.Redis.Addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, eris.Wrapf(err, "redis: ping %s", cfg.Redis.Addr)
	}
	return rdb, nil
}

// initSink builds the progress sink.
func initSink(rdb *redis.Client) (progress.Sink, error) {
	return progress.New(cfg.Progress.Backend, cfg.Progress.Path, rdb, cfg.Progress.Key)
}

// pipelineEnv holds everything the find and serve commands need.
type pipelineEnv struct {
	Store    store.Store
	Redis    *redis.Client
	Sink     progress.Sink
	Runner   *orchestrator.Runner
	Domains  *domain.Resolver
	Harvest  *harvest.Discoverer
	Patterns *pattern.Engine
	Verifier *verify.Verifier
}

// Close releases resources held by the environment.
func (pe *pipelineEnv) Close() {
	if pe.Redis != nil {
		_ = pe.Redis.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline wires the domain resolver, discoverer, pattern engine,
// verifier, lock and sink into a Runner. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &pipelineEnv{Store: st}

	env.Redis, err = initRedis(ctx)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Sink, err = initSink(env.Redis)
	if err != nil {
		env.Close()
		return nil, err
	}

	var pool db.Pool
	if pg, ok := st.(*store.PostgresStore); ok {
		pool = pg.Pool()
	}
	runLock, err := lock.New(cfg.Lock.Backend, env.Redis, pool, lockKey, time.Duration(cfg.Lock.TTLSecs)*time.Second)
	if err != nil {
		env.Close()
		return nil, err
	}

	limiter := pace.NewHostLimiter(2, 2)
	searcher := search.New(
		search.WithBaseURL(cfg.Search.BaseURL),
		search.WithTimeout(time.Duration(cfg.Search.TimeoutSecs)*time.Second),
		search.WithRetries(cfg.Search.Retries),
		search.WithMaxResults(cfg.Search.MaxResults),
		search.WithLimiter(limiter),
	)
	resolver := mx.NewDNS(0)

	env.Domains = domain.New(searcher, resolver, st)
	env.Domains.Pacer = pace.Seconds(cfg.Search.MinDelay, cfg.Search.MaxDelay)

	fetcher := scrape.NewHTTPFetcher(
		scrape.WithTimeout(time.Duration(cfg.Crawl.PageTimeoutSecs)*time.Second),
		scrape.WithLimiter(limiter),
	)
	env.Harvest = harvest.New(fetcher, searcher)
	env.Harvest.Exclude = scrape.NewPathMatcher(cfg.Crawl.ExcludePaths)
	env.Harvest.Pacer = pace.Seconds(cfg.Crawl.MinDelay, cfg.Crawl.MaxDelay)
	env.Harvest.Concurrency = cfg.Crawl.Concurrency

	env.Patterns = pattern.NewEngine(st)

	var hunterClient hunter.Client
	if cfg.Hunter.APIKey != "" {
		hunterClient = hunter.NewClient(cfg.Hunter.APIKey, hunter.WithBaseURL(cfg.Hunter.BaseURL))
	} else {
		zap.L().Info("hunter.io disabled: no api key")
	}
	prober := verify.NewProber(resolver, cfg.Probe.HeloHost, cfg.Probe.MailFrom)
	prober.Timeout = time.Duration(cfg.Probe.TimeoutSecs) * time.Second
	env.Verifier = verify.New(hunterClient, prober)
	env.Verifier.Pacer = pace.Seconds(cfg.Probe.MinDelay, cfg.Probe.MaxDelay)

	env.Runner = &orchestrator.Runner{
		Store:     st,
		Domains:   env.Domains,
		Harvester: env.Harvest,
		Patterns:  env.Patterns,
		Verifier:  env.Verifier,
		Sink:      env.Sink,
		Lock:      runLock,
		MaxPages:  cfg.Crawl.MaxPages,
	}
	return env, nil
}
