// Package onetime issues and redeems single-use, time-bound opaque tokens for
// email verification and password reset.
//
// A token is 32 bytes from crypto/rand encoded as unpadded base64url. It
// carries no subject information and is never stored verbatim: the backing
// store sees only its SHA-256 digest, so a leaked table cannot be replayed.
package onetime

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/storage"
)

const tokenBytes = 32

// ErrInvalidTTL is returned by Issue for non-positive lifetimes.
var ErrInvalidTTL = errors.New("one-time token ttl must be positive")

// Store is the subset of storage.Store this package needs.
type Store interface {
	SaveOneTimeToken(ctx context.Context, t storage.OneTimeToken) error
	RedeemOneTimeToken(ctx context.Context, hash string, purpose storage.Purpose, now time.Time) (storage.OneTimeToken, error)
}

// Subject is who a token is issued to. A non-empty EmailDigest pins the
// token to the address it was sent to.
type Subject struct {
	ID          string
	EmailDigest string
}

// Issued is a freshly minted token. Token must be delivered out of band and
// is unrecoverable afterwards.
type Issued struct {
	Token     string
	ExpiresAt time.Time
}

// Manager binds a store to a clock.
type Manager struct {
	store Store
	now   func() time.Time
}

// New returns a Manager. A nil now uses time.Now.
func New(store Store, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{store: store, now: now}
}

// Issue persists a new token for sub bound to purpose.
func (m *Manager) Issue(ctx context.Context, sub Subject, purpose storage.Purpose, ttl time.Duration) (Issued, error) {
	if ttl <= 0 {
		return Issued{}, ErrInvalidTTL
	}
	token, err := NewToken()
	if err != nil {
		return Issued{}, err
	}
	now := m.now()
	rec := storage.OneTimeToken{
		Hash:        Hash(token),
		SubjectID:   sub.ID,
		EmailDigest: sub.EmailDigest,
		Purpose:     purpose,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	if err := m.store.SaveOneTimeToken(ctx, rec); err != nil {
		return Issued{}, err
	}
	return Issued{Token: token, ExpiresAt: rec.ExpiresAt}, nil
}

// Redeem consumes token for purpose and returns its subject. Errors are
// storage.ErrNotFound for unknown, malformed, already used or wrong-purpose
// tokens, storage.ErrExpired once now >= expiry, or a backend failure.
func (m *Manager) Redeem(ctx context.Context, token string, purpose storage.Purpose) (Subject, error) {
	if !WellFormed(token) {
		return Subject{}, storage.ErrNotFound
	}
	rec, err := m.store.RedeemOneTimeToken(ctx, Hash(token), purpose, m.now())
	if err != nil {
		return Subject{}, err
	}
	return Subject{ID: rec.SubjectID, EmailDigest: rec.EmailDigest}, nil
}

// NewToken returns a random opaque token.
func NewToken() (string, error) {
	var raw [tokenBytes]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// Hash returns the storage key of token.
func Hash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// WellFormed reports whether token decodes to the expected size.
func WellFormed(token string) bool {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	return err == nil && len(raw) == tokenBytes
}
