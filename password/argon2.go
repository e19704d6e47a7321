package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const argon2Prefix = "$argon2id$"

// Argon2Config holds argon2id work factors. Memory is in KiB.
type Argon2Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Config returns the parameters used when argon2id is selected
// without explicit tuning.
func DefaultArgon2Config() Argon2Config {
	return Argon2Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func (c Argon2Config) validate() error {
	switch {
	case c.Memory < 8*1024:
		return errors.New("argon2 memory must be >= 8192 KiB")
	case c.Time < 1:
		return errors.New("argon2 time must be >= 1")
	case c.Parallelism < 1:
		return errors.New("argon2 parallelism must be >= 1")
	case c.SaltLength < 16:
		return errors.New("argon2 salt length must be >= 16")
	case c.KeyLength < 16:
		return errors.New("argon2 key length must be >= 16")
	}
	return nil
}

// Argon2 hashes passwords with argon2id and encodes them in PHC string
// format with unpadded base64 salt and key.
type Argon2 struct {
	config Argon2Config
}

// NewArgon2 validates cfg and returns an argon2id encoder. A zero config
// selects DefaultArgon2Config.
func NewArgon2(cfg Argon2Config) (*Argon2, error) {
	if cfg == (Argon2Config{}) {
		cfg = DefaultArgon2Config()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Argon2{config: cfg}, nil
}

// phc is a decoded argon2id PHC string.
type phc struct {
	params Argon2Config
	salt   []byte
	key    []byte
}

func (p phc) derive(plaintext string) []byte {
	return argon2.IDKey([]byte(plaintext), p.salt, p.params.Time, p.params.Memory, p.params.Parallelism, p.params.KeyLength)
}

func (p phc) String() string {
	b64 := base64.RawStdEncoding
	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Prefix, argon2.Version,
		p.params.Memory, p.params.Time, p.params.Parallelism,
		b64.EncodeToString(p.salt), b64.EncodeToString(p.key))
}

// decodePHC parses $argon2id$v=19$m=..,t=..,p=..$salt$key. Parameters below
// the accepted minimums are rejected so a tampered row cannot force a
// trivially cheap derivation.
func decodePHC(encoded string) (phc, error) {
	var p phc
	if !strings.HasPrefix(encoded, argon2Prefix) {
		return p, fmt.Errorf("%w: not argon2id", ErrMalformedHash)
	}
	fields := strings.Split(strings.TrimPrefix(encoded, argon2Prefix), "$")
	if len(fields) != 4 {
		return p, fmt.Errorf("%w: want 4 fields after prefix, got %d", ErrMalformedHash, len(fields))
	}

	var version int
	if _, err := fmt.Sscanf(fields[0], "v=%d", &version); err != nil {
		return p, fmt.Errorf("%w: version: %v", ErrMalformedHash, err)
	}
	if version != argon2.Version {
		return p, fmt.Errorf("%w: unsupported version %d", ErrMalformedHash, version)
	}

	var parallelism uint32
	if _, err := fmt.Sscanf(fields[1], "m=%d,t=%d,p=%d", &p.params.Memory, &p.params.Time, &parallelism); err != nil {
		return p, fmt.Errorf("%w: parameters: %v", ErrMalformedHash, err)
	}
	if parallelism > 255 {
		return p, fmt.Errorf("%w: parallelism %d", ErrMalformedHash, parallelism)
	}
	p.params.Parallelism = uint8(parallelism)

	var err error
	if p.salt, err = decodeB64(fields[2]); err != nil {
		return p, fmt.Errorf("%w: salt: %v", ErrMalformedHash, err)
	}
	if p.key, err = decodeB64(fields[3]); err != nil {
		return p, fmt.Errorf("%w: key: %v", ErrMalformedHash, err)
	}
	p.params.SaltLength = uint32(len(p.salt))
	p.params.KeyLength = uint32(len(p.key))

	if err := p.params.validate(); err != nil {
		return p, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
	return p, nil
}

// decodeB64 accepts both unpadded and padded standard base64.
func decodeB64(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

// Hash derives a fresh salted argon2id hash. Password bytes are used exactly
// as provided, without Unicode normalization.
func (a *Argon2) Hash(plaintext string) (string, error) {
	p := phc{params: a.config, salt: make([]byte, a.config.SaltLength)}
	if _, err := rand.Read(p.salt); err != nil {
		return "", err
	}
	p.key = p.derive(plaintext)
	return p.String(), nil
}

// Verify recomputes the key with the stored parameters and compares in
// constant time.
func (a *Argon2) Verify(plaintext, encoded string) (bool, error) {
	p, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(p.derive(plaintext), p.key) == 1, nil
}

// NeedsUpgrade reports whether encoded used weaker parameters than the
// current configuration.
func (a *Argon2) NeedsUpgrade(encoded string) (bool, error) {
	p, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}
	stored, want := p.params, a.config
	return stored.Memory < want.Memory ||
		stored.Time < want.Time ||
		stored.Parallelism < want.Parallelism ||
		stored.KeyLength != want.KeyLength, nil
}
