// Package memory is an in-process [storage.Store] guarded by a single mutex.
// It is the default backend for tests and single-instance deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/MrEthical07/authcore/storage"
)

type otKey struct {
	purpose storage.Purpose
	hash    string
}

// Store implements [storage.Store] with plain maps.
type Store struct {
	mu sync.Mutex

	principals map[string]storage.Principal
	emails     map[string]string
	roles      map[string]storage.Role
	roleNames  map[string]string
	oneTime    map[otKey]storage.OneTimeToken
	refresh    map[string]storage.RefreshToken
	blacklist  map[string]time.Time
	twoFactor  map[string]storage.TwoFactor
	closed     bool
}

var _ storage.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		principals: make(map[string]storage.Principal),
		emails:     make(map[string]string),
		roles:      make(map[string]storage.Role),
		roleNames:  make(map[string]string),
		oneTime:    make(map[otKey]storage.OneTimeToken),
		refresh:    make(map[string]storage.RefreshToken),
		blacklist:  make(map[string]time.Time),
		twoFactor:  make(map[string]storage.TwoFactor),
	}
}

func (s *Store) lock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return wrapUnavailable(err)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return wrapUnavailable(errClosed)
	}
	return nil
}

func (s *Store) CreatePrincipal(ctx context.Context, p storage.Principal) (storage.Principal, error) {
	if err := s.lock(ctx); err != nil {
		return storage.Principal{}, err
	}
	defer s.mu.Unlock()

	if _, ok := s.emails[p.Email]; ok {
		return storage.Principal{}, storage.ErrEmailInUse
	}
	p = p.Clone()
	s.principals[p.ID] = p
	s.emails[p.Email] = p.ID
	return p.Clone(), nil
}

func (s *Store) GetPrincipalByID(ctx context.Context, id string) (storage.Principal, error) {
	if err := s.lock(ctx); err != nil {
		return storage.Principal{}, err
	}
	defer s.mu.Unlock()

	p, ok := s.principals[id]
	if !ok {
		return storage.Principal{}, storage.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *Store) GetPrincipalByEmail(ctx context.Context, email string) (storage.Principal, error) {
	if err := s.lock(ctx); err != nil {
		return storage.Principal{}, err
	}
	defer s.mu.Unlock()

	id, ok := s.emails[email]
	if !ok {
		return storage.Principal{}, storage.ErrNotFound
	}
	return s.principals[id].Clone(), nil
}

func (s *Store) UpdatePrincipal(ctx context.Context, id string, patch storage.PrincipalPatch) (storage.Principal, error) {
	if err := s.lock(ctx); err != nil {
		return storage.Principal{}, err
	}
	defer s.mu.Unlock()

	p, ok := s.principals[id]
	if !ok {
		return storage.Principal{}, storage.ErrNotFound
	}
	oldEmail := p.Email
	patch.Apply(&p)
	if p.Email != oldEmail {
		if owner, taken := s.emails[p.Email]; taken && owner != id {
			return storage.Principal{}, storage.ErrEmailInUse
		}
		delete(s.emails, oldEmail)
		s.emails[p.Email] = id
	}
	s.principals[id] = p
	return p.Clone(), nil
}

func (s *Store) CreateRole(ctx context.Context, r storage.Role) (storage.Role, error) {
	if err := s.lock(ctx); err != nil {
		return storage.Role{}, err
	}
	defer s.mu.Unlock()

	if _, ok := s.roleNames[r.Name]; ok {
		return storage.Role{}, storage.ErrRoleNameInUse
	}
	r = r.Clone()
	s.roles[r.ID] = r
	s.roleNames[r.Name] = r.ID
	return r.Clone(), nil
}

func (s *Store) GetRoleByID(ctx context.Context, id string) (storage.Role, error) {
	if err := s.lock(ctx); err != nil {
		return storage.Role{}, err
	}
	defer s.mu.Unlock()

	r, ok := s.roles[id]
	if !ok {
		return storage.Role{}, storage.ErrNotFound
	}
	return r.Clone(), nil
}

func (s *Store) GetRoleByName(ctx context.Context, name string) (storage.Role, error) {
	if err := s.lock(ctx); err != nil {
		return storage.Role{}, err
	}
	defer s.mu.Unlock()

	id, ok := s.roleNames[name]
	if !ok {
		return storage.Role{}, storage.ErrNotFound
	}
	return s.roles[id].Clone(), nil
}

func (s *Store) UpdateRole(ctx context.Context, id string, patch storage.RolePatch) (storage.Role, error) {
	if err := s.lock(ctx); err != nil {
		return storage.Role{}, err
	}
	defer s.mu.Unlock()

	r, ok := s.roles[id]
	if !ok {
		return storage.Role{}, storage.ErrNotFound
	}
	oldName := r.Name
	patch.Apply(&r)
	if r.Name != oldName {
		if owner, taken := s.roleNames[r.Name]; taken && owner != id {
			return storage.Role{}, storage.ErrRoleNameInUse
		}
		delete(s.roleNames, oldName)
		s.roleNames[r.Name] = id
	}
	s.roles[id] = r
	return r.Clone(), nil
}

func (s *Store) DeleteRole(ctx context.Context, id string) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()

	r, ok := s.roles[id]
	if !ok {
		return storage.ErrNotFound
	}
	delete(s.roles, id)
	delete(s.roleNames, r.Name)
	return nil
}

func (s *Store) SaveOneTimeToken(ctx context.Context, t storage.OneTimeToken) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()

	s.oneTime[otKey{purpose: t.Purpose, hash: t.Hash}] = t
	return nil
}

func (s *Store) RedeemOneTimeToken(ctx context.Context, hash string, purpose storage.Purpose, now time.Time) (storage.OneTimeToken, error) {
	if err := s.lock(ctx); err != nil {
		return storage.OneTimeToken{}, err
	}
	defer s.mu.Unlock()

	key := otKey{purpose: purpose, hash: hash}
	t, ok := s.oneTime[key]
	if !ok {
		return storage.OneTimeToken{}, storage.ErrNotFound
	}
	delete(s.oneTime, key)
	if !now.Before(t.ExpiresAt) {
		return storage.OneTimeToken{}, storage.ErrExpired
	}
	return t, nil
}

func (s *Store) StoreRefreshToken(ctx context.Context, t storage.RefreshToken) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()

	s.refresh[t.Hash] = t
	return nil
}

func (s *Store) RedeemRefreshToken(ctx context.Context, hash string, now time.Time) (string, error) {
	if err := s.lock(ctx); err != nil {
		return "", err
	}
	defer s.mu.Unlock()

	t, ok := s.refresh[hash]
	if !ok {
		return "", storage.ErrNotFound
	}
	delete(s.refresh, hash)
	if !now.Before(t.ExpiresAt) {
		return "", storage.ErrExpired
	}
	return t.SubjectID, nil
}

func (s *Store) DeleteRefreshToken(ctx context.Context, hash string) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()

	delete(s.refresh, hash)
	return nil
}

func (s *Store) DeleteAllRefreshTokensFor(ctx context.Context, subjectID string) (int, error) {
	if err := s.lock(ctx); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	n := 0
	for hash, t := range s.refresh {
		if t.SubjectID == subjectID {
			delete(s.refresh, hash)
			n++
		}
	}
	return n, nil
}

func (s *Store) Blacklist(ctx context.Context, e storage.BlacklistEntry) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()

	if cur, ok := s.blacklist[e.Fingerprint]; !ok || e.ExpiresAt.After(cur) {
		s.blacklist[e.Fingerprint] = e.ExpiresAt
	}
	return nil
}

func (s *Store) ClaimBlacklist(ctx context.Context, e storage.BlacklistEntry) (bool, error) {
	if err := s.lock(ctx); err != nil {
		return false, err
	}
	defer s.mu.Unlock()

	if cur, ok := s.blacklist[e.Fingerprint]; ok && e.CreatedAt.Before(cur) {
		return false, nil
	}
	s.blacklist[e.Fingerprint] = e.ExpiresAt
	return true, nil
}

func (s *Store) IsBlacklisted(ctx context.Context, fingerprint string, now time.Time) (bool, error) {
	if err := s.lock(ctx); err != nil {
		return false, err
	}
	defer s.mu.Unlock()

	exp, ok := s.blacklist[fingerprint]
	return ok && now.Before(exp), nil
}

func (s *Store) GetTwoFactor(ctx context.Context, subjectID string) (storage.TwoFactor, error) {
	if err := s.lock(ctx); err != nil {
		return storage.TwoFactor{}, err
	}
	defer s.mu.Unlock()

	tf, ok := s.twoFactor[subjectID]
	if !ok {
		return storage.TwoFactor{}, storage.ErrNotFound
	}
	return tf.Clone(), nil
}

func (s *Store) SetTwoFactor(ctx context.Context, tf storage.TwoFactor) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()

	s.twoFactor[tf.SubjectID] = tf.Clone()
	return nil
}

func (s *Store) ClearTwoFactor(ctx context.Context, subjectID string) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()

	delete(s.twoFactor, subjectID)
	return nil
}

func (s *Store) ConsumeRecoveryCode(ctx context.Context, subjectID, digest string) (bool, error) {
	if err := s.lock(ctx); err != nil {
		return false, err
	}
	defer s.mu.Unlock()

	tf, ok := s.twoFactor[subjectID]
	if !ok {
		return false, storage.ErrNotFound
	}
	used, remaining := storage.RemoveRecoveryCode(tf.RecoveryCodes, digest)
	if !used {
		return false, nil
	}
	tf.RecoveryCodes = remaining
	s.twoFactor[subjectID] = tf
	return true, nil
}

func (s *Store) AdvanceTOTPCounter(ctx context.Context, subjectID string, counter int64) (bool, error) {
	if err := s.lock(ctx); err != nil {
		return false, err
	}
	defer s.mu.Unlock()

	tf, ok := s.twoFactor[subjectID]
	if !ok {
		return false, storage.ErrNotFound
	}
	if counter <= tf.LastUsedCounter {
		return false, nil
	}
	tf.LastUsedCounter = counter
	s.twoFactor[subjectID] = tf
	return true, nil
}

func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	if err := s.lock(ctx); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	n := 0
	for k, t := range s.oneTime {
		if !now.Before(t.ExpiresAt) {
			delete(s.oneTime, k)
			n++
		}
	}
	for k, t := range s.refresh {
		if !now.Before(t.ExpiresAt) {
			delete(s.refresh, k)
			n++
		}
	}
	for k, exp := range s.blacklist {
		if !now.Before(exp) {
			delete(s.blacklist, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	s.mu.Unlock()
	return nil
}

// Close marks the store closed; later calls fail with storage.ErrUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// RefreshTokenCount reports how many refresh tokens are tracked for subjectID.
func (s *Store) RefreshTokenCount(subjectID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.refresh {
		if t.SubjectID == subjectID {
			n++
		}
	}
	return n
}
