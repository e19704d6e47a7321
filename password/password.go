package password

import (
	"errors"
	"strings"
)

// Algorithm selects the encoder used for new hashes.
type Algorithm string

const (
	// AlgorithmBcrypt hashes with bcrypt.
	AlgorithmBcrypt Algorithm = "bcrypt"
	// AlgorithmArgon2id hashes with argon2id.
	AlgorithmArgon2id Algorithm = "argon2id"
)

var (
	// ErrMalformedHash is returned by Verify when the stored hash cannot be parsed.
	// It signals a configuration or data problem, not a wrong password.
	ErrMalformedHash = errors.New("malformed password hash")
	// ErrEmptyPassword is returned by Hash for an empty plaintext.
	ErrEmptyPassword = errors.New("empty password")
)

// Config selects the algorithm and its work factors.
type Config struct {
	Algorithm  Algorithm
	BcryptCost int
	Argon2     Argon2Config
}

type encoder interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
	NeedsUpgrade(encoded string) (bool, error)
}

// Hasher hashes with the configured algorithm and verifies any supported format.
type Hasher struct {
	algorithm Algorithm
	bcrypt    *Bcrypt
	argon2    *Argon2
}

// New validates cfg and returns a ready [Hasher].
func New(cfg Config) (*Hasher, error) {
	if cfg.Algorithm == "" {
		cfg.Algorithm = AlgorithmBcrypt
	}

	h := &Hasher{algorithm: cfg.Algorithm}

	switch cfg.Algorithm {
	case AlgorithmBcrypt:
		b, err := NewBcrypt(cfg.BcryptCost)
		if err != nil {
			return nil, err
		}
		h.bcrypt = b
	case AlgorithmArgon2id:
		a, err := NewArgon2(cfg.Argon2)
		if err != nil {
			return nil, err
		}
		h.argon2 = a
	default:
		return nil, errors.New("unsupported password algorithm")
	}

	return h, nil
}

// Algorithm reports the algorithm used for new hashes.
func (h *Hasher) Algorithm() Algorithm {
	return h.algorithm
}

// Hash returns a salted hash of password using the configured algorithm.
func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	return h.primary().Hash(password)
}

// Verify reports whether password matches encoded. A hash in an unknown or
// corrupt format yields false together with ErrMalformedHash.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	enc, err := h.encoderFor(encoded)
	if err != nil {
		return false, err
	}
	return enc.Verify(password, encoded)
}

// NeedsUpgrade reports whether encoded should be replaced by a fresh Hash:
// either it was produced by the other algorithm or with weaker parameters.
func (h *Hasher) NeedsUpgrade(encoded string) (bool, error) {
	if detect(encoded) != h.algorithm {
		if detect(encoded) == "" {
			return false, ErrMalformedHash
		}
		return true, nil
	}
	return h.primary().NeedsUpgrade(encoded)
}

func (h *Hasher) primary() encoder {
	if h.algorithm == AlgorithmArgon2id {
		return h.argon2
	}
	return h.bcrypt
}

// encoderFor returns the configured encoder when it matches, otherwise a
// verify-only encoder with default parameters.
func (h *Hasher) encoderFor(encoded string) (encoder, error) {
	switch detect(encoded) {
	case AlgorithmBcrypt:
		if h.bcrypt != nil {
			return h.bcrypt, nil
		}
		return &Bcrypt{cost: DefaultBcryptCost}, nil
	case AlgorithmArgon2id:
		if h.argon2 != nil {
			return h.argon2, nil
		}
		return &Argon2{config: DefaultArgon2Config()}, nil
	default:
		return nil, ErrMalformedHash
	}
}

func detect(encoded string) Algorithm {
	switch {
	case strings.HasPrefix(encoded, "$2a$"), strings.HasPrefix(encoded, "$2b$"), strings.HasPrefix(encoded, "$2y$"):
		return AlgorithmBcrypt
	case strings.HasPrefix(encoded, argon2Prefix):
		return AlgorithmArgon2id
	default:
		return ""
	}
}
