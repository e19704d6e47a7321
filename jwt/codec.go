package jwt

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/internal/ids"
	"github.com/golang-jwt/jwt/v5"
)

// TokenType discriminates access, refresh and pending tokens.
type TokenType string

const (
	// TypeAccess marks a short-lived bearer token.
	TypeAccess TokenType = "access"
	// TypeRefresh marks a storage-tracked token exchanged for a new pair.
	TypeRefresh TokenType = "refresh"
	// TypePending marks a partially authenticated login awaiting a second factor.
	TypePending TokenType = "pending"
)

// SigningMethod selects the JWS algorithm.
type SigningMethod string

const (
	// MethodHS256 signs with a per-type shared secret.
	MethodHS256 SigningMethod = "hs256"
	// MethodEd25519 signs with a per-type Ed25519 key pair.
	MethodEd25519 SigningMethod = "ed25519"
)

const minHMACSecret = 32

var (
	// ErrBadSignature covers unparseable tokens, invalid signatures, unexpected
	// algorithms, and issuer or audience mismatches.
	ErrBadSignature = errors.New("token signature invalid")
	// ErrWrongType is returned when the typ claim differs from the expected type.
	ErrWrongType = errors.New("token type mismatch")
	// ErrExpired is returned once now >= exp.
	ErrExpired = errors.New("token expired")
	// ErrNoKey is returned when minting or verifying a type without a configured key.
	ErrNoKey = errors.New("no key configured for token type")
)

// Key holds signing material for one token type. For HS256 only Private is
// used and holds the shared secret. For Ed25519 Public may be omitted when
// Private is present; verify-only codecs may carry just Public.
type Key struct {
	Private []byte
	Public  []byte
}

// Config configures a [Codec].
type Config struct {
	SigningMethod SigningMethod
	Keys          map[TokenType]Key
	Issuer        string
	Audience      string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
	Now           func() time.Time
}

// Claims is the claim set carried by every token type.
type Claims struct {
	Type TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// Codec mints and verifies tokens. It is safe for concurrent use.
type Codec struct {
	config Config
	method jwt.SigningMethod
	sign   map[TokenType]interface{}
	verify map[TokenType]interface{}
}

// NewCodec validates cfg and prepares the per-type keys. Access and refresh
// keys are mandatory; pending is optional but must be distinct when present.
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.SigningMethod == "" {
		cfg.SigningMethod = MethodHS256
	}
	for _, required := range []TokenType{TypeAccess, TypeRefresh} {
		if _, ok := cfg.Keys[required]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoKey, required)
		}
	}

	c := &Codec{
		config: cfg,
		sign:   make(map[TokenType]interface{}, len(cfg.Keys)),
		verify: make(map[TokenType]interface{}, len(cfg.Keys)),
	}

	switch cfg.SigningMethod {
	case MethodHS256:
		c.method = jwt.SigningMethodHS256
		for typ, key := range cfg.Keys {
			if len(key.Private) < minHMACSecret {
				return nil, fmt.Errorf("hs256 secret for %s must be at least %d bytes", typ, minHMACSecret)
			}
			c.sign[typ] = key.Private
			c.verify[typ] = key.Private
		}
	case MethodEd25519:
		c.method = jwt.SigningMethodEdDSA
		for typ, key := range cfg.Keys {
			if len(key.Private) > 0 {
				priv, err := parseEdPrivateKey(key.Private)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", typ, err)
				}
				c.sign[typ] = priv
				c.verify[typ] = priv.Public()
			}
			if len(key.Public) > 0 {
				pub, err := parseEdPublicKey(key.Public)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", typ, err)
				}
				c.verify[typ] = pub
			}
			if _, ok := c.verify[typ]; !ok {
				return nil, fmt.Errorf("ed25519 requires a key for %s", typ)
			}
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	if err := c.ensureDistinctKeys(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Codec) ensureDistinctKeys() error {
	types := []TokenType{TypeAccess, TypeRefresh, TypePending}
	for i := 0; i < len(types); i++ {
		for j := i + 1; j < len(types); j++ {
			a, okA := c.verify[types[i]]
			b, okB := c.verify[types[j]]
			if !okA || !okB {
				continue
			}
			if bytes.Equal(keyBytes(a), keyBytes(b)) {
				return fmt.Errorf("%s and %s tokens must use different keys", types[i], types[j])
			}
		}
	}
	return nil
}

func keyBytes(k interface{}) []byte {
	switch v := k.(type) {
	case []byte:
		return v
	case ed25519.PublicKey:
		return v
	default:
		return nil
	}
}

// Mint issues a token of typ for subject valid for ttl. The returned claims
// mirror the signed payload.
func (c *Codec) Mint(subject string, typ TokenType, ttl time.Duration) (string, *Claims, error) {
	if ttl <= 0 {
		return "", nil, errors.New("token ttl must be positive")
	}
	key, ok := c.sign[typ]
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", ErrNoKey, typ)
	}

	now := c.config.Now()
	claims := &Claims{
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        ids.New(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    c.config.Issuer,
		},
	}
	if c.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{c.config.Audience}
	}

	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(key)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// Verify checks typ, signature and expiry, in that order, and returns the
// claims. Failures are ErrWrongType, ErrBadSignature or ErrExpired.
func (c *Codec) Verify(token string, expected TokenType) (*Claims, error) {
	key, ok := c.verify[expected]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoKey, expected)
	}

	var peek Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &peek); err != nil {
		return nil, ErrBadSignature
	}
	if peek.Type != expected {
		return nil, ErrWrongType
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithTimeFunc(c.config.Now),
		jwt.WithExpirationRequired(),
	}
	if c.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(c.config.Leeway))
	}
	if c.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.config.Issuer))
	}
	if c.config.Audience != "" {
		options = append(options, jwt.WithAudience(c.config.Audience))
	}

	claims := &Claims{}
	parsed, err := jwt.NewParser(options...).ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != c.method.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrBadSignature
	}
	if !parsed.Valid || claims.Type != expected || claims.Subject == "" {
		return nil, ErrBadSignature
	}
	if claims.IssuedAt != nil && claims.IssuedAt.Time.After(c.config.Now().Add(c.config.MaxFutureIAT)) {
		return nil, ErrBadSignature
	}

	return claims, nil
}

// Fingerprint returns a stable storage key for token without retaining it.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
