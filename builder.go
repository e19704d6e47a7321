package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/notify"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/onetime"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/storage"
	"github.com/MrEthical07/authcore/storage/memory"
	"github.com/MrEthical07/authcore/storage/postgres"
	"github.com/MrEthical07/authcore/storage/redisstore"
	"github.com/MrEthical07/authcore/totp"
	"github.com/redis/go-redis/v9"
)

// dummyPassword is hashed once at build time so that logins for unknown
// accounts can burn a comparable verification.
const dummyPassword = "authcore-timing-equalizer"

// Builder assembles an [Engine].
//
// Builder instances are configured during initialization and used once;
// a second Build fails.
type Builder struct {
	config Config

	store    storage.Store
	redis    redis.UniversalClient
	notifier Notifier
	sink     AuditSink
	logger   *slog.Logger
	now      func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig]. Keys must still be
// supplied through WithConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore injects a storage backend and skips the Storage.Backend factory.
// The engine does not close an injected store.
func (b *Builder) WithStore(store storage.Store) *Builder {
	b.store = store
	return b
}

// WithRedis supplies the client used by the redis backend and the login
// throttle. The engine never closes it.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithNotifier sets the out-of-band token delivery. The default logs.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock replaces time.Now for token issuance, expiry checks and TOTP.
// Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, opens the storage backend and starts
// the background workers.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.validate(b.store != nil || b.redis != nil); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default().With("component", "authcore")
	}

	hasher, err := password.New(password.Config{
		Algorithm:  cfg.Password.Algorithm,
		BcryptCost: cfg.Password.BcryptCost,
		Argon2:     cfg.Password.Argon2,
	})
	if err != nil {
		return nil, err
	}
	dummy, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("hash timing equalizer: %w", err)
	}

	codec, err := jwt.NewCodec(jwt.Config{
		SigningMethod: cfg.JWT.SigningMethod,
		Keys:          cfg.JWT.codecKeys(),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	totpEngine, err := totp.New(cfg.TOTP.engineConfig())
	if err != nil {
		return nil, err
	}

	// -------- STORAGE --------
	store, ownsStore, client, err := b.openStore(cfg)
	if err != nil {
		return nil, err
	}

	// -------- LOGIN THROTTLE --------
	throttle := rate.Config{
		Scope:       "login",
		MaxAttempts: cfg.Security.MaxLoginAttempts,
		Window:      cfg.Security.LoginWindow,
	}
	var limiter rate.Limiter
	if client != nil {
		limiter = rate.NewRedis(client, cfg.Storage.RedisPrefix, throttle)
	} else {
		limiter = rate.NewLocal(throttle, now)
	}

	notifier := b.notifier
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}

	slots := cfg.Password.MaxConcurrentHashes
	if slots <= 0 {
		slots = 1
	}

	engine := &Engine{
		config:    cfg,
		store:     store,
		ownsStore: ownsStore,
		hasher:    hasher,
		codec:     codec,
		tokens:    onetime.New(store, now),
		totp:      totpEngine,
		limiter:   limiter,
		notifier:  notifier,
		notify: notify.New(notify.Config{
			BufferSize:  cfg.Notify.BufferSize,
			Workers:     cfg.Notify.Workers,
			SendTimeout: cfg.Notify.SendTimeout,
		}, logger),
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.sink),
		metrics:   NewMetrics(cfg.Metrics),
		logger:    logger,
		now:       now,
		hashSlots: make(chan struct{}, slots),
		dummyHash: dummy,
	}

	if cfg.Storage.SweepInterval > 0 {
		engine.StartSweeper(context.Background(), cfg.Storage.SweepInterval)
	}

	b.built = true

	return engine, nil
}

// openStore returns the injected store or opens the configured backend.
// The returned client, when non-nil, also backs the login throttle.
func (b *Builder) openStore(cfg Config) (storage.Store, bool, redis.UniversalClient, error) {
	if b.store != nil {
		return b.store, false, b.redis, nil
	}

	switch cfg.Storage.Backend {
	case BackendRedis:
		client := b.redis
		owns := false
		if client == nil {
			client = redis.NewClient(&redis.Options{
				Addr:     cfg.Storage.RedisAddr,
				Password: cfg.Storage.RedisPassword,
				DB:       cfg.Storage.RedisDB,
			})
			owns = true
		}
		store := redisstore.New(client, redisstore.Options{
			Prefix:     cfg.Storage.RedisPrefix,
			OwnsClient: owns,
		})
		return store, true, client, nil
	case BackendPostgres:
		store, err := postgres.Open(cfg.Storage.PostgresDSN, cfg.Storage.PostgresPool)
		if err != nil {
			return nil, false, nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, true, b.redis, nil
	default:
		return memory.New(), true, b.redis, nil
	}
}
