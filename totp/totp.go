package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultSecretBytes = 20

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// ErrEmptySecret is returned when a code is requested for an empty secret.
var ErrEmptySecret = errors.New("empty totp secret")

// Config tunes code generation and verification.
type Config struct {
	Issuer      string
	Digits      int
	Period      int
	Skew        int
	Algorithm   string
	SecretBytes int
}

// DefaultConfig returns 6 digits, 30 second steps, one step of drift each way
// and HMAC-SHA1, which every mainstream authenticator understands.
func DefaultConfig() Config {
	return Config{
		Issuer:      "authcore",
		Digits:      6,
		Period:      30,
		Skew:        1,
		Algorithm:   "SHA1",
		SecretBytes: defaultSecretBytes,
	}
}

// Validate rejects configurations authenticator apps cannot reproduce.
func (c Config) Validate() error {
	if c.Digits < 6 || c.Digits > 8 {
		return errors.New("totp digits must be 6, 7 or 8")
	}
	if c.Period <= 0 {
		return errors.New("totp period must be positive")
	}
	if c.Skew < 0 || c.Skew > 3 {
		return errors.New("totp skew must be within [0, 3]")
	}
	if _, ok := algorithms[strings.ToUpper(c.Algorithm)]; !ok && c.Algorithm != "" {
		return fmt.Errorf("unsupported totp algorithm %q", c.Algorithm)
	}
	if c.SecretBytes != 0 && c.SecretBytes < 16 {
		return errors.New("totp secret must be at least 16 bytes")
	}
	return nil
}

// Secret is freshly generated shared key material.
type Secret struct {
	Raw    []byte
	Base32 string
}

var algorithms = map[string]func() hash.Hash{
	"SHA1":   sha1.New,
	"SHA256": sha256.New,
	"SHA512": sha512.New,
}

// Engine computes and verifies codes for one configuration.
type Engine struct {
	config Config
	mac    func() hash.Hash
	modulo uint32
}

// New validates cfg and returns an [Engine].
func New(cfg Config) (*Engine, error) {
	if cfg.Algorithm == "" {
		cfg.Algorithm = "SHA1"
	}
	if cfg.SecretBytes == 0 {
		cfg.SecretBytes = defaultSecretBytes
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{config: cfg, mac: algorithms[strings.ToUpper(cfg.Algorithm)], modulo: 1}
	for range cfg.Digits {
		e.modulo *= 10
	}
	return e, nil
}

// GenerateSecret returns a new random secret.
func (e *Engine) GenerateSecret() (Secret, error) {
	raw := make([]byte, e.config.SecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return Secret{}, err
	}
	return Secret{Raw: raw, Base32: secretEncoding.EncodeToString(raw)}, nil
}

// DecodeSecret parses the base32 form handed to authenticator apps.
// Case and padding are tolerated.
func DecodeSecret(encoded string) ([]byte, error) {
	cleaned := strings.TrimRight(strings.ToUpper(strings.TrimSpace(encoded)), "=")
	raw, err := secretEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("decode totp secret: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrEmptySecret
	}
	return raw, nil
}

// ProvisionURI renders the otpauth:// URI encoded into enrollment QR codes.
func (e *Engine) ProvisionURI(secretBase32, account string) string {
	issuer := e.config.Issuer
	label := url.PathEscape(issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secretBase32)
	v.Set("issuer", issuer)
	v.Set("period", strconv.Itoa(e.config.Period))
	v.Set("digits", strconv.Itoa(e.config.Digits))
	v.Set("algorithm", strings.ToUpper(e.config.Algorithm))

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// Counter returns the time step containing at.
func (e *Engine) Counter(at time.Time) int64 {
	return at.Unix() / int64(e.config.Period)
}

// Code returns the code for the step containing at.
func (e *Engine) Code(secret []byte, at time.Time) (string, error) {
	if len(secret) == 0 {
		return "", ErrEmptySecret
	}
	return e.codeAt(secret, e.Counter(at)), nil
}

// Verify reports whether code matches any step in [counter-skew, counter+skew]
// around at, and returns the matching step so callers can reject replays.
// Malformed codes are a plain mismatch, not an error.
func (e *Engine) Verify(secret []byte, code string, at time.Time) (bool, int64, error) {
	code = strings.TrimSpace(code)
	if !e.wellFormed(code) {
		return false, 0, nil
	}
	if len(secret) == 0 {
		return false, 0, ErrEmptySecret
	}

	// the whole window is computed whatever matches
	now, skew := e.Counter(at), int64(e.config.Skew)
	var (
		matched int64
		found   bool
	)
	for c := max(now-skew, 0); c <= now+skew; c++ {
		if subtle.ConstantTimeCompare([]byte(e.codeAt(secret, c)), []byte(code)) == 1 && !found {
			matched, found = c, true
		}
	}
	return found, matched, nil
}

// codeAt is the RFC 4226 value for counter, zero-padded to the digit count.
func (e *Engine) codeAt(secret []byte, counter int64) string {
	mac := hmac.New(e.mac, secret)
	mac.Write(binary.BigEndian.AppendUint64(nil, uint64(counter)))
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	truncated := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	digits := strconv.FormatUint(uint64(truncated%e.modulo), 10)
	return strings.Repeat("0", e.config.Digits-len(digits)) + digits
}

func (e *Engine) wellFormed(code string) bool {
	if len(code) != e.config.Digits {
		return false
	}
	return strings.IndexFunc(code, func(r rune) bool { return r < '0' || r > '9' }) < 0
}
