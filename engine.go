package authcore

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"math/big"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/notify"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/onetime"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/storage"
	"github.com/MrEthical07/authcore/totp"
)

// passwordHasher is satisfied by *password.Hasher.
type passwordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
	NeedsUpgrade(encoded string) (bool, error)
}

// Engine runs every authentication and session operation. It holds no
// per-principal state between calls: everything is re-read from storage,
// so any number of engines may share one backend.
//
// Engine is safe for concurrent use. Build one with [New].
type Engine struct {
	config    Config
	store     storage.Store
	ownsStore bool
	hasher    passwordHasher
	codec     *jwt.Codec
	tokens    *onetime.Manager
	totp      *totp.Engine
	limiter   rate.Limiter
	notifier  Notifier
	notify    *notify.Dispatcher
	audit     *audit.Dispatcher
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
	hashSlots chan struct{}
	dummyHash string

	sweepMu     sync.Mutex
	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
	closeOnce   sync.Once
}

// Close stops the sweeper, flushes queued notifications and audit events,
// and closes the store when the builder opened it.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	var err error
	e.closeOnce.Do(func() {
		e.StopSweeper()
		e.notify.Close()
		e.audit.Close()
		if e.ownsStore {
			err = e.store.Close()
		}
	})
	return err
}

// AuditDropped reports audit events discarded under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Ping checks the storage backend.
func (e *Engine) Ping(ctx context.Context) error {
	ctx, cancel := e.operationContext(ctx)
	defer cancel()
	if err := e.store.Ping(ctx); err != nil {
		return newError(KindUnavailable, err)
	}
	return nil
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// countFailure bumps id, and the outage counter as well when err is
// Unavailable.
func (e *Engine) countFailure(id MetricID, err error) {
	e.metricInc(id)
	if KindOf(err) == KindUnavailable {
		e.metricInc(MetricUnavailable)
	}
}

// operationContext bounds ctx by OperationTimeout unless ctx already ends
// sooner.
func (e *Engine) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := e.config.OperationTimeout
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= timeout {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

/*
====================================
PASSWORD HASHING
====================================
*/

// offload runs fn on its own goroutine, bounded by hashSlots, and gives up
// when ctx ends. An abandoned fn still finishes and then frees its slot.
func offload[T any](ctx context.Context, slots chan struct{}, fn func() (T, error)) (T, error) {
	var zero T

	select {
	case slots <- struct{}{}:
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() { <-slots }()
		v, err := fn()
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (e *Engine) hashPassword(ctx context.Context, plaintext string) (string, error) {
	start := time.Now()
	hash, err := offload(ctx, e.hashSlots, func() (string, error) {
		return e.hasher.Hash(plaintext)
	})
	e.metrics.Observe(MetricHashLatency, time.Since(start))
	if err != nil {
		if u := unavailableIfTransient(err); u != nil {
			return "", u
		}
		return "", newError(KindUnavailable, err)
	}
	return hash, nil
}

// verifyPassword reports a match. A malformed stored hash is a mismatch and
// is logged as a configuration problem; only context failures are errors.
func (e *Engine) verifyPassword(ctx context.Context, subjectID, plaintext, encoded string) (bool, error) {
	start := time.Now()
	ok, err := offload(ctx, e.hashSlots, func() (bool, error) {
		return e.hasher.Verify(plaintext, encoded)
	})
	e.metrics.Observe(MetricHashLatency, time.Since(start))
	if err != nil {
		if u := unavailableIfTransient(err); u != nil {
			return false, u
		}
		if errors.Is(err, password.ErrMalformedHash) && subjectID != "" {
			e.logger.Error("stored password hash is malformed", "subject_id", subjectID)
		}
		return false, nil
	}
	return ok, nil
}

// burnVerify spends the same work as a real verification so unknown
// accounts cannot be told apart by latency.
func (e *Engine) burnVerify(ctx context.Context, plaintext string) error {
	_, err := e.verifyPassword(ctx, "", plaintext, e.dummyHash)
	return err
}

func (e *Engine) checkPolicy(plaintext, email string) error {
	if reasons := e.config.Password.Policy.Check(plaintext, localPart(email)); len(reasons) > 0 {
		return weakPassword(reasons)
	}
	return nil
}

/*
====================================
TOKEN ISSUANCE
====================================
*/

// issuePair mints an access and a refresh token and records the refresh
// token in storage.
func (e *Engine) issuePair(ctx context.Context, subjectID string) (*TokenPair, error) {
	access, accessClaims, err := e.codec.Mint(subjectID, jwt.TypeAccess, e.config.Tokens.AccessTTL)
	if err != nil {
		return nil, newError(KindUnavailable, err)
	}
	refresh, refreshClaims, err := e.codec.Mint(subjectID, jwt.TypeRefresh, e.config.Tokens.RefreshTTL)
	if err != nil {
		return nil, newError(KindUnavailable, err)
	}

	record := storage.RefreshToken{
		Hash:      jwt.Fingerprint(refresh),
		SubjectID: subjectID,
		CreatedAt: refreshClaims.IssuedAt.Time,
		ExpiresAt: refreshClaims.ExpiresAt.Time,
	}
	if err := e.store.StoreRefreshToken(ctx, record); err != nil {
		return nil, storageError(err, KindUnavailable)
	}

	return &TokenPair{
		SubjectID:        subjectID,
		AccessToken:      access,
		AccessExpiresAt:  accessClaims.ExpiresAt.Time,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshClaims.ExpiresAt.Time,
	}, nil
}

// tokenError maps codec failures onto kinds.
func tokenError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrExpired):
		return newError(KindTokenExpired, err)
	default:
		return newError(KindInvalidToken, err)
	}
}

/*
====================================
HELPERS
====================================
*/

// normalizeEmail lower-cases and trims email and checks it is a bare
// address.
func normalizeEmail(email string) (string, bool) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || len(email) > 254 {
		return "", false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", false
	}
	return email, true
}

func localPart(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}

// enumerationDelay sleeps a random duration up to the configured delay so
// the unknown-account branch of a request flow costs about as much as the
// real one.
func (e *Engine) enumerationDelay(ctx context.Context) error {
	ceiling := e.config.Security.EnumerationDelay
	if ceiling <= 0 {
		return nil
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(ceiling/2)+1))
	if err != nil {
		return err
	}
	timer := time.NewTimer(ceiling/2 + time.Duration(n.Int64()))
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loadActive returns the principal or the kind for a missing or disabled
// account.
func (e *Engine) loadActive(ctx context.Context, subjectID string) (storage.Principal, error) {
	p, err := e.store.GetPrincipalByID(ctx, subjectID)
	if err != nil {
		return storage.Principal{}, storageError(err, KindUserNotFound)
	}
	if !p.Active {
		return storage.Principal{}, ErrAccountInactive
	}
	return p, nil
}

func (e *Engine) touchLastLogin(ctx context.Context, subjectID string) {
	now := e.now()
	_, err := e.store.UpdatePrincipal(ctx, subjectID, storage.PrincipalPatch{
		LastLoginAt: &now,
		UpdatedAt:   now,
	})
	if err != nil {
		e.logger.Warn("last login update failed", "subject_id", subjectID, "error", err)
	}
}
