package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/storage/postgres"
	"github.com/MrEthical07/authcore/totp"
)

// Config is the complete engine configuration. Start from [DefaultConfig]
// and override what differs; [Builder.Build] validates it once.
type Config struct {
	JWT              JWTConfig
	Tokens           TokenConfig
	Password         PasswordConfig
	TOTP             TOTPConfig
	Account          AccountConfig
	Security         SecurityConfig
	Audit            AuditConfig
	Metrics          MetricsConfig
	Notify           NotifyConfig
	Storage          StorageConfig
	OperationTimeout time.Duration
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig holds signing material. Every token type carries its own key so
// a token of one type never verifies as another.
type JWTConfig struct {
	SigningMethod jwt.SigningMethod // "hs256" (default) or "ed25519"
	AccessKey     jwt.Key
	RefreshKey    jwt.Key
	PendingKey    jwt.Key
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig holds lifetimes for every issued credential.
type TokenConfig struct {
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	PendingTTL      time.Duration
	VerificationTTL time.Duration
	ResetTTL        time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

type PasswordConfig struct {
	Algorithm           password.Algorithm
	BcryptCost          int
	Argon2              password.Argon2Config
	Policy              password.Policy
	MaxConcurrentHashes int
	UpgradeOnLogin      bool
}

/*
====================================
TOTP CONFIG
====================================
*/

type TOTPConfig struct {
	Issuer            string
	Digits            int
	Period            int
	Skew              int
	Algorithm         string
	SecretBytes       int
	RecoveryCodeCount int
}

/*
====================================
ACCOUNT CONFIG
====================================
*/

// AccountConfig holds registration and role defaults.
type AccountConfig struct {
	DefaultRole                string
	AdminRole                  string
	RequireVerification        bool
	SendVerificationOnRegister bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds throttling and enumeration hardening.
type SecurityConfig struct {
	MaxLoginAttempts int
	LoginWindow      time.Duration
	EnumerationDelay time.Duration
	ProductionMode   bool
}

/*
====================================
AUDIT CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
NOTIFY CONFIG
====================================
*/

// NotifyConfig sizes the asynchronous notifier queue.
type NotifyConfig struct {
	BufferSize  int
	Workers     int
	SendTimeout time.Duration
}

/*
====================================
STORAGE CONFIG
====================================
*/

// StorageBackend names a storage implementation.
type StorageBackend string

const (
	BackendMemory   StorageBackend = "memory"
	BackendRedis    StorageBackend = "redis"
	BackendPostgres StorageBackend = "postgres"
)

// StorageConfig selects and configures the storage backend. It is ignored
// when a store is injected with [Builder.WithStore].
type StorageConfig struct {
	Backend       StorageBackend
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	PostgresDSN   string
	PostgresPool  postgres.PoolConfig
	SweepInterval time.Duration
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the configuration used when none is supplied. JWT
// keys are left empty and must be provided.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			SigningMethod: jwt.MethodHS256,
			Issuer:        "authcore",
		},
		Tokens: TokenConfig{
			AccessTTL:       15 * time.Minute,
			RefreshTTL:      7 * 24 * time.Hour,
			PendingTTL:      5 * time.Minute,
			VerificationTTL: 24 * time.Hour,
			ResetTTL:        1 * time.Hour,
		},
		Password: PasswordConfig{
			Algorithm:           password.AlgorithmBcrypt,
			BcryptCost:          password.DefaultBcryptCost,
			Argon2:              password.DefaultArgon2Config(),
			Policy:              password.DefaultPolicy(),
			MaxConcurrentHashes: 8,
			UpgradeOnLogin:      true,
		},
		TOTP: TOTPConfig{
			Issuer:            "authcore",
			Digits:            6,
			Period:            30,
			Skew:              1,
			Algorithm:         "SHA1",
			SecretBytes:       20,
			RecoveryCodeCount: totp.DefaultRecoveryCodes,
		},
		Account: AccountConfig{
			DefaultRole:                "user",
			AdminRole:                  "admin",
			RequireVerification:        false,
			SendVerificationOnRegister: true,
		},
		Security: SecurityConfig{
			MaxLoginAttempts: 5,
			LoginWindow:      15 * time.Minute,
			EnumerationDelay: 0,
			ProductionMode:   false,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Notify: NotifyConfig{
			BufferSize:  256,
			Workers:     2,
			SendTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Backend:       BackendMemory,
			RedisPrefix:   "ac",
			PostgresPool:  postgres.DefaultPoolConfig(),
			SweepInterval: 0,
		},
		OperationTimeout: 10 * time.Second,
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.AccessKey = cloneKey(cfg.JWT.AccessKey)
	out.JWT.RefreshKey = cloneKey(cfg.JWT.RefreshKey)
	out.JWT.PendingKey = cloneKey(cfg.JWT.PendingKey)
	return out
}

func cloneKey(k jwt.Key) jwt.Key {
	return jwt.Key{
		Private: cloneBytes(k.Private),
		Public:  cloneBytes(k.Public),
	}
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (c JWTConfig) codecKeys() map[jwt.TokenType]jwt.Key {
	keys := map[jwt.TokenType]jwt.Key{
		jwt.TypeAccess:  cloneKey(c.AccessKey),
		jwt.TypeRefresh: cloneKey(c.RefreshKey),
		jwt.TypePending: cloneKey(c.PendingKey),
	}
	return keys
}

func (c TOTPConfig) engineConfig() totp.Config {
	return totp.Config{
		Issuer:      c.Issuer,
		Digits:      c.Digits,
		Period:      c.Period,
		Skew:        c.Skew,
		Algorithm:   c.Algorithm,
		SecretBytes: c.SecretBytes,
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate rejects inconsistent or unsafe settings.
func (c *Config) Validate() error {
	return c.validate(false)
}

// validate skips the backend address checks when the builder was handed a
// live store or client.
func (c *Config) validate(injected bool) error {
	// JWT
	if c.JWT.SigningMethod != jwt.MethodHS256 && c.JWT.SigningMethod != jwt.MethodEd25519 {
		return errors.New("unsupported JWT signing method")
	}
	if len(c.JWT.AccessKey.Private) == 0 && len(c.JWT.AccessKey.Public) == 0 {
		return errors.New("JWT AccessKey is required")
	}
	if len(c.JWT.RefreshKey.Private) == 0 && len(c.JWT.RefreshKey.Public) == 0 {
		return errors.New("JWT RefreshKey is required")
	}
	if len(c.JWT.PendingKey.Private) == 0 && len(c.JWT.PendingKey.Public) == 0 {
		return errors.New("JWT PendingKey is required")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be within [0, 2m]")
	}

	// Tokens
	if c.Tokens.AccessTTL <= 0 {
		return errors.New("Tokens AccessTTL must be > 0")
	}
	if c.Tokens.RefreshTTL <= 0 {
		return errors.New("Tokens RefreshTTL must be > 0")
	}
	if c.Tokens.RefreshTTL <= c.Tokens.AccessTTL {
		return errors.New("Tokens RefreshTTL must exceed AccessTTL")
	}
	if c.Tokens.PendingTTL <= 0 || c.Tokens.PendingTTL > 30*time.Minute {
		return errors.New("Tokens PendingTTL must be within (0, 30m]")
	}
	if c.Tokens.VerificationTTL <= 0 {
		return errors.New("Tokens VerificationTTL must be > 0")
	}
	if c.Tokens.ResetTTL <= 0 {
		return errors.New("Tokens ResetTTL must be > 0")
	}

	// Password
	if err := c.Password.Policy.Validate(); err != nil {
		return err
	}
	if c.Password.MaxConcurrentHashes <= 0 {
		return errors.New("Password MaxConcurrentHashes must be > 0")
	}
	if c.Password.Algorithm != password.AlgorithmBcrypt && c.Password.Algorithm != password.AlgorithmArgon2id {
		return errors.New("unsupported password algorithm")
	}

	// TOTP
	if err := c.TOTP.engineConfig().Validate(); err != nil {
		return fmt.Errorf("TOTP: %w", err)
	}
	if c.TOTP.RecoveryCodeCount < 1 || c.TOTP.RecoveryCodeCount > 32 {
		return errors.New("TOTP RecoveryCodeCount must be within [1, 32]")
	}

	// Account
	if c.Account.DefaultRole == "" {
		return errors.New("Account DefaultRole is required")
	}
	if c.Account.AdminRole == "" {
		return errors.New("Account AdminRole is required")
	}

	// Security
	if c.Security.MaxLoginAttempts < 0 {
		return errors.New("Security MaxLoginAttempts must be >= 0")
	}
	if c.Security.MaxLoginAttempts > 0 && c.Security.LoginWindow <= 0 {
		return errors.New("Security LoginWindow must be > 0 when login throttling is enabled")
	}
	if c.Security.EnumerationDelay < 0 || c.Security.EnumerationDelay > 5*time.Second {
		return errors.New("Security EnumerationDelay must be within [0, 5s]")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	// Notify
	if c.Notify.BufferSize <= 0 {
		return errors.New("Notify BufferSize must be > 0")
	}
	if c.Notify.Workers <= 0 {
		return errors.New("Notify Workers must be > 0")
	}

	// Storage
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendRedis:
		if !injected && c.Storage.RedisAddr == "" {
			return errors.New("Storage RedisAddr is required for the redis backend")
		}
	case BackendPostgres:
		if !injected && c.Storage.PostgresDSN == "" {
			return errors.New("Storage PostgresDSN is required for the postgres backend")
		}
	default:
		return errors.New("unsupported storage backend")
	}
	if c.Storage.SweepInterval < 0 {
		return errors.New("Storage SweepInterval must be >= 0")
	}

	if c.OperationTimeout < 0 {
		return errors.New("OperationTimeout must be >= 0")
	}

	if c.Security.ProductionMode {
		if c.Storage.Backend == BackendMemory {
			return errors.New("ProductionMode requires a shared storage backend")
		}
		if c.Password.Algorithm == password.AlgorithmBcrypt && c.Password.BcryptCost < password.DefaultBcryptCost {
			return errors.New("ProductionMode requires BcryptCost >= 12")
		}
		if c.Security.MaxLoginAttempts == 0 {
			return errors.New("ProductionMode requires login throttling")
		}
		if !c.Account.RequireVerification {
			return errors.New("ProductionMode requires Account RequireVerification")
		}
	}

	return nil
}
