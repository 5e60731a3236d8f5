package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/oppfinder/pipeline/internal/ai"
	"github.com/oppfinder/pipeline/internal/ai/gemini"
	"github.com/oppfinder/pipeline/internal/ai/groq"
	"github.com/oppfinder/pipeline/internal/ai/ollama"
	"github.com/oppfinder/pipeline/internal/ai/stub"
	"github.com/oppfinder/pipeline/internal/ingestion"
	"github.com/oppfinder/pipeline/internal/language"
	"github.com/oppfinder/pipeline/internal/matching"
	"github.com/oppfinder/pipeline/internal/model"
	"github.com/oppfinder/pipeline/internal/processing"
	"github.com/oppfinder/pipeline/internal/queue"
	"github.com/oppfinder/pipeline/internal/secrets"
	"github.com/oppfinder/pipeline/internal/store"
	"github.com/oppfinder/pipeline/internal/throttle"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	geminiWindowKey   = "oppfinder:gemini:window"
	geminiLockKey     = "oppfinder:gemini:lock"
	geminiCooldownKey = "oppfinder:gemini:cooldown"
)

// deps holds the long-lived clients shared by the commands.
type deps struct {
	cfg   *Config
	log   *zap.Logger
	pool  *pgxpool.Pool
	rdb   *redis.Client
	store *store.Store

	router *ai.Router
}

// setup loads the config and connects to Postgres, and to Redis when it is
// configured or required.
func setup(ctx context.Context, log *zap.Logger, requireRedis bool) (*deps, error) {
	cfg, err := getConfig()
	if err != nil {
		return nil, fmt.Errorf("getting a config: %w", err)
	}
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if requireRedis && cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required for this command")
	}

	pool, err := store.NewPostgresPool(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	d := &deps{cfg: cfg, log: log, pool: pool, store: store.New(pool, log)}

	if cfg.Redis.URL != "" {
		rdb, err := store.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			pool.Close()
			return nil, err
		}
		d.rdb = rdb
	}

	d.router = ai.NewRouter(cfg.AI.Provider, cfg.AI.Chain, d.factories())
	return d, nil
}

func mustSetup(ctx context.Context, log *zap.Logger, requireRedis bool) *deps {
	d, err := setup(ctx, log, requireRedis)
	if err != nil {
		log.Fatal("initializing dependencies", zap.Error(err))
	}
	return d
}

func (d *deps) close() {
	if d.rdb != nil {
		if err := d.rdb.Close(); err != nil {
			d.log.Warn("closing redis client", zap.Error(err))
		}
	}
	d.pool.Close()
}

func (d *deps) factories() map[string]ai.Factory {
	usage := ai.NewUsageRecorder(d.store, d.log)
	return map[string]ai.Factory{
		"gemini": func() (ai.Provider, error) {
			c := d.cfg.AI.Gemini
			keys, err := secrets.LoadList(secrets.Source{Name: "gemini api keys", File: c.APIKeyFile}, c.APIKeys...)
			if err != nil {
				return nil, ai.Wrap(ai.KindConfiguration, "gemini", err, "loading api keys")
			}
			return gemini.New(gemini.Config{
				APIKeys:         keys,
				Model:           c.Model,
				Timeout:         d.cfg.AI.Timeout,
				DefaultCooldown: c.Cooldown,
				MaxLogLength:    c.MaxLogLength,
			},
				gemini.WithThrottle(d.geminiGate()),
				gemini.WithUsage(usage),
				gemini.WithLogger(d.log),
			)
		},
		"groq": func() (ai.Provider, error) {
			c := d.cfg.AI.Groq
			key, err := secrets.Load(secrets.Source{Name: "groq api key", Value: c.APIKey, File: c.APIKeyFile})
			if err != nil {
				return nil, ai.Wrap(ai.KindConfiguration, "groq", err, "loading api key")
			}
			return groq.New(groq.Config{
				APIKey:  key,
				BaseURL: c.BaseURL,
				Model:   c.Model,
				Timeout: d.cfg.AI.Timeout,
			}, groq.WithUsage(usage), groq.WithLogger(d.log))
		},
		"ollama": func() (ai.Provider, error) {
			c := d.cfg.AI.Ollama
			return ollama.New(ollama.Config{
				BaseURL: c.BaseURL,
				Model:   c.Model,
				Timeout: d.cfg.AI.Timeout,
			}, nil, ollama.WithUsage(usage), ollama.WithLogger(d.log))
		},
		"stub": func() (ai.Provider, error) {
			return stub.New(), nil
		},
	}
}

// geminiGate shares the quota across processes through Redis when it is
// available.
func (d *deps) geminiGate() *throttle.Gate {
	c := d.cfg.AI.Gemini
	rpm := c.RPMLimit
	if rpm <= 0 {
		rpm = gemini.DefaultRPMLimit
	}
	g := &throttle.Gate{
		Bucket: throttle.NewTokenBucket(rpm, throttle.RealClock),
		Limit:  rpm,
		Clock:  throttle.RealClock,
		Logger: d.log,
	}
	if d.rdb != nil {
		g.Window = throttle.NewRedisWindow(d.rdb, geminiWindowKey)
		g.Lock = throttle.NewRedisLock(d.rdb, geminiLockKey, c.LockTTL)
		g.Cooldown = throttle.NewRedisCooldown(d.rdb, geminiCooldownKey)
	} else {
		g.Window = throttle.NewMemoryWindow()
		g.Lock = throttle.NewMemoryLock()
		g.Cooldown = throttle.NewMemoryCooldown(throttle.RealClock)
	}
	return g
}

func (d *deps) queueBackend() *queue.RedisBackend {
	return queue.NewRedisBackend(d.rdb, queue.DefaultPrefix)
}

// taskQueue returns nil without Redis, in which case nothing is enqueued.
func (d *deps) taskQueue() *queue.Queue {
	if d.rdb == nil {
		return nil
	}
	return queue.New(d.queueBackend(), queue.WithLogger(d.log))
}

func (d *deps) extraction() *processing.Service {
	c := d.cfg.Processing
	opts := []processing.Option{processing.WithLogger(d.log)}
	if q := d.taskQueue(); q != nil {
		opts = append(opts, processing.WithEnqueuer(q))
	}
	return processing.New(d.store, d.router, processing.Config{
		Detector:            language.Detector{MinAlpha: c.MinAlpha, MinLatinRatio: c.MinLatinRatio},
		LegacyScanLimit:     c.LegacyScanLimit,
		LocationPromptLimit: c.LocationPromptLimit,
		MatchDelay:          c.MatchDelay,
		BatchSize:           c.BatchSize,
	}, opts...)
}

func (d *deps) matcher() *matching.Engine {
	c := d.cfg.Matching
	opts := []matching.Option{matching.WithLogger(d.log)}
	if d.rdb != nil {
		opts = append(opts, matching.WithNotifier(queue.NewNotifier(d.rdb, d.log)))
	}
	return matching.New(d.store, d.router, matching.Config{
		Threshold:           c.Threshold,
		MaxStage1Candidates: c.MaxStage1Candidates,
		HoursBack:           c.HoursBack,
		BatchSize:           c.BatchSize,
	}, opts...)
}

func (d *deps) registry() *ingestion.Registry {
	c := d.cfg.Ingestion
	r := ingestion.NewRegistry()
	r.Register(model.SourceRSS, ingestion.NewRSSAdapter(c.UserAgent, c.Timeout))
	r.Register(model.SourceTelegram, ingestion.NewTelegramAdapter(c.UserAgent, c.Timeout))
	return r
}

func (d *deps) runner() *ingestion.Runner {
	opts := []ingestion.RunnerOption{
		ingestion.WithLimit(d.cfg.Ingestion.LimitPerSource),
		ingestion.WithLogger(d.log),
	}
	if q := d.taskQueue(); q != nil {
		opts = append(opts, ingestion.WithExtractEnqueuer(q))
	}
	return ingestion.NewRunner(d.store, d.registry(), opts...)
}
