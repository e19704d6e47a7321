package authcore

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/password"
	"github.com/caarlos0/env/v11"
)

// envPrefix is prepended to every variable read by LoadConfig.
const envPrefix = "AUTHCORE_"

// envConfig is the flat environment schema. Keys are base64 (std encoding)
// so binary secrets survive the environment.
type envConfig struct {
	SigningMethod string        `env:"JWT_SIGNING_METHOD"`
	AccessKey     string        `env:"JWT_ACCESS_KEY"`
	RefreshKey    string        `env:"JWT_REFRESH_KEY"`
	PendingKey    string        `env:"JWT_PENDING_KEY"`
	Issuer        string        `env:"JWT_ISSUER"`
	Audience      string        `env:"JWT_AUDIENCE"`
	Leeway        time.Duration `env:"JWT_LEEWAY"`

	AccessTTL       time.Duration `env:"ACCESS_TTL"`
	RefreshTTL      time.Duration `env:"REFRESH_TTL"`
	PendingTTL      time.Duration `env:"PENDING_TTL"`
	VerificationTTL time.Duration `env:"VERIFICATION_TTL"`
	ResetTTL        time.Duration `env:"RESET_TTL"`

	PasswordAlgorithm   string `env:"PASSWORD_ALGORITHM"`
	BcryptCost          int    `env:"BCRYPT_COST"`
	MaxConcurrentHashes int    `env:"MAX_CONCURRENT_HASHES"`

	TOTPIssuer string `env:"TOTP_ISSUER"`

	DefaultRole         string `env:"DEFAULT_ROLE"`
	AdminRole           string `env:"ADMIN_ROLE"`
	RequireVerification bool   `env:"REQUIRE_VERIFICATION"`

	MaxLoginAttempts int           `env:"MAX_LOGIN_ATTEMPTS"`
	LoginWindow      time.Duration `env:"LOGIN_WINDOW"`
	EnumerationDelay time.Duration `env:"ENUMERATION_DELAY"`
	ProductionMode   bool          `env:"PRODUCTION_MODE"`

	AuditEnabled   bool `env:"AUDIT_ENABLED"`
	MetricsEnabled bool `env:"METRICS_ENABLED"`

	StorageBackend string        `env:"STORAGE_BACKEND"`
	RedisAddr      string        `env:"REDIS_ADDR"`
	RedisPassword  string        `env:"REDIS_PASSWORD"`
	RedisDB        int           `env:"REDIS_DB"`
	RedisPrefix    string        `env:"REDIS_PREFIX"`
	PostgresDSN    string        `env:"POSTGRES_DSN"`
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL"`

	OperationTimeout time.Duration `env:"OPERATION_TIMEOUT"`
}

// LoadConfig returns DefaultConfig overridden by AUTHCORE_* environment
// variables. Unset variables keep their defaults. The result is not
// validated; Builder.Build does that.
func LoadConfig() (Config, error) {
	cfg := defaultConfig()
	in := toEnvConfig(cfg)

	if err := env.ParseWithOptions(&in, env.Options{Prefix: envPrefix}); err != nil {
		return Config{}, fmt.Errorf("authcore: parse environment: %w", err)
	}

	for _, k := range []struct {
		name   string
		raw    string
		target *jwt.Key
	}{
		{"JWT_ACCESS_KEY", in.AccessKey, &cfg.JWT.AccessKey},
		{"JWT_REFRESH_KEY", in.RefreshKey, &cfg.JWT.RefreshKey},
		{"JWT_PENDING_KEY", in.PendingKey, &cfg.JWT.PendingKey},
	} {
		if k.raw == "" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(k.raw)
		if err != nil {
			return Config{}, fmt.Errorf("authcore: %s%s is not valid base64: %w", envPrefix, k.name, err)
		}
		k.target.Private = decoded
	}

	cfg.JWT.SigningMethod = jwt.SigningMethod(in.SigningMethod)
	cfg.JWT.Issuer = in.Issuer
	cfg.JWT.Audience = in.Audience
	cfg.JWT.Leeway = in.Leeway

	cfg.Tokens = TokenConfig{
		AccessTTL:       in.AccessTTL,
		RefreshTTL:      in.RefreshTTL,
		PendingTTL:      in.PendingTTL,
		VerificationTTL: in.VerificationTTL,
		ResetTTL:        in.ResetTTL,
	}

	cfg.Password.Algorithm = password.Algorithm(in.PasswordAlgorithm)
	cfg.Password.BcryptCost = in.BcryptCost
	cfg.Password.MaxConcurrentHashes = in.MaxConcurrentHashes

	cfg.TOTP.Issuer = in.TOTPIssuer

	cfg.Account.DefaultRole = in.DefaultRole
	cfg.Account.AdminRole = in.AdminRole
	cfg.Account.RequireVerification = in.RequireVerification

	cfg.Security.MaxLoginAttempts = in.MaxLoginAttempts
	cfg.Security.LoginWindow = in.LoginWindow
	cfg.Security.EnumerationDelay = in.EnumerationDelay
	cfg.Security.ProductionMode = in.ProductionMode

	cfg.Audit.Enabled = in.AuditEnabled
	cfg.Metrics.Enabled = in.MetricsEnabled

	cfg.Storage.Backend = StorageBackend(in.StorageBackend)
	cfg.Storage.RedisAddr = in.RedisAddr
	cfg.Storage.RedisPassword = in.RedisPassword
	cfg.Storage.RedisDB = in.RedisDB
	cfg.Storage.RedisPrefix = in.RedisPrefix
	cfg.Storage.PostgresDSN = in.PostgresDSN
	cfg.Storage.SweepInterval = in.SweepInterval

	cfg.OperationTimeout = in.OperationTimeout

	return cfg, nil
}

// toEnvConfig seeds the schema with cfg so unset variables keep defaults.
func toEnvConfig(cfg Config) envConfig {
	return envConfig{
		SigningMethod:       string(cfg.JWT.SigningMethod),
		Issuer:              cfg.JWT.Issuer,
		Audience:            cfg.JWT.Audience,
		Leeway:              cfg.JWT.Leeway,
		AccessTTL:           cfg.Tokens.AccessTTL,
		RefreshTTL:          cfg.Tokens.RefreshTTL,
		PendingTTL:          cfg.Tokens.PendingTTL,
		VerificationTTL:     cfg.Tokens.VerificationTTL,
		ResetTTL:            cfg.Tokens.ResetTTL,
		PasswordAlgorithm:   string(cfg.Password.Algorithm),
		BcryptCost:          cfg.Password.BcryptCost,
		MaxConcurrentHashes: cfg.Password.MaxConcurrentHashes,
		TOTPIssuer:          cfg.TOTP.Issuer,
		DefaultRole:         cfg.Account.DefaultRole,
		AdminRole:           cfg.Account.AdminRole,
		RequireVerification: cfg.Account.RequireVerification,
		MaxLoginAttempts:    cfg.Security.MaxLoginAttempts,
		LoginWindow:         cfg.Security.LoginWindow,
		EnumerationDelay:    cfg.Security.EnumerationDelay,
		ProductionMode:      cfg.Security.ProductionMode,
		AuditEnabled:        cfg.Audit.Enabled,
		MetricsEnabled:      cfg.Metrics.Enabled,
		StorageBackend:      string(cfg.Storage.Backend),
		RedisAddr:           cfg.Storage.RedisAddr,
		RedisPassword:       cfg.Storage.RedisPassword,
		RedisDB:             cfg.Storage.RedisDB,
		RedisPrefix:         cfg.Storage.RedisPrefix,
		PostgresDSN:         cfg.Storage.PostgresDSN,
		SweepInterval:       cfg.Storage.SweepInterval,
		OperationTimeout:    cfg.OperationTimeout,
	}
}
