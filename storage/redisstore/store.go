// Package redisstore implements storage.Store on Redis.
//
// Layout (prefix defaults to "ac"):
//
//	{p}:p:{id}            principal JSON
//	{p}:pe:{email}        principal id
//	{p}:r:{id}            role JSON
//	{p}:rn:{name}         role id
//	{p}:ot:{purpose}:{h}  one-time token record
//	{p}:rt:{h}            refresh token record
//	{p}:rs:{subject}      set of refresh hashes per subject
//	{p}:bl:{fingerprint}  blacklist expiry (unix ms)
//	{p}:tf:{subject}      two-factor JSON
//	{p}:exp               sorted set of expiring keys scored by expiry (unix ms)
//
// Uniqueness and single-use consumption rely on Lua scripts; read-modify-write
// updates use WATCH with a bounded number of retries.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore/storage"
)

const (
	defaultPrefix = "ac"
	maxRetries    = 4
	// keyGrace keeps expired records around long enough for redeem to report
	// storage.ErrExpired instead of storage.ErrNotFound.
	keyGrace = 10 * time.Minute
)

var errTooMuchContention = errors.New("optimistic transaction retries exhausted")

const createIndexedScript = `
if redis.call("SETNX", KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call("SET", KEYS[2], ARGV[2])
return 1
`

var createIndexedLua = redis.NewScript(createIndexedScript)

// Options configures a [Store].
type Options struct {
	// Prefix namespaces every key. Empty means "ac".
	Prefix string
	// OwnsClient makes Close close the underlying client.
	OwnsClient bool
}

// Store implements [storage.Store].
type Store struct {
	redis  redis.UniversalClient
	prefix string
	owns   bool
}

var _ storage.Store = (*Store)(nil)

// New wraps client.
func New(client redis.UniversalClient, opts Options) *Store {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{redis: client, prefix: prefix, owns: opts.OwnsClient}
}

func (s *Store) principalKey(id string) string { return s.prefix + ":p:" + id }
func (s *Store) emailKey(email string) string { return s.prefix + ":pe:" + email }
func (s *Store) roleKey(id string) string { return s.prefix + ":r:" + id }
func (s *Store) roleNameKey(name string) string { return s.prefix + ":rn:" + name }
func (s *Store) twoFactorKey(subject string) string { return s.prefix + ":tf:" + subject }
func (s *Store) expiryIndexKey() string { return s.prefix + ":exp" }

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
}

type principalRecord struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"password_hash"`
	Roles         []string  `json:"roles"`
	Active        bool      `json:"active"`
	EmailVerified bool      `json:"email_verified"`
	LastLoginAt   time.Time `json:"last_login_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (s *Store) CreatePrincipal(ctx context.Context, p storage.Principal) (storage.Principal, error) {
	data, err := json.Marshal(principalRecord(p))
	if err != nil {
		return storage.Principal{}, err
	}
	created, err := createIndexedLua.Run(ctx, s.redis,
		[]string{s.emailKey(p.Email), s.principalKey(p.ID)},
		p.ID, data,
	).Int()
	if err != nil {
		return storage.Principal{}, unavailable(err)
	}
	if created == 0 {
		return storage.Principal{}, storage.ErrEmailInUse
	}
	return p.Clone(), nil
}

func (s *Store) GetPrincipalByID(ctx context.Context, id string) (storage.Principal, error) {
	return s.loadPrincipal(ctx, s.redis, id)
}

func (s *Store) GetPrincipalByEmail(ctx context.Context, email string) (storage.Principal, error) {
	id, err := s.redis.Get(ctx, s.emailKey(email)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return storage.Principal{}, storage.ErrNotFound
		}
		return storage.Principal{}, unavailable(err)
	}
	return s.loadPrincipal(ctx, s.redis, id)
}

func (s *Store) loadPrincipal(ctx context.Context, c getter, id string) (storage.Principal, error) {
	data, err := c.Get(ctx, s.principalKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return storage.Principal{}, storage.ErrNotFound
		}
		return storage.Principal{}, unavailable(err)
	}
	var rec principalRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return storage.Principal{}, fmt.Errorf("decode principal %s: %w", id, err)
	}
	return storage.Principal(rec), nil
}

func (s *Store) UpdatePrincipal(ctx context.Context, id string, patch storage.PrincipalPatch) (storage.Principal, error) {
	key := s.principalKey(id)

	for i := 0; i < maxRetries; i++ {
		var updated storage.Principal

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			p, err := s.loadPrincipal(ctx, tx, id)
			if err != nil {
				return err
			}
			oldEmail := p.Email
			patch.Apply(&p)

			emailChanged := p.Email != oldEmail
			if emailChanged {
				newKey := s.emailKey(p.Email)
				if err := tx.Watch(ctx, newKey).Err(); err != nil {
					return err
				}
				owner, err := tx.Get(ctx, newKey).Result()
				if err != nil && !errors.Is(err, redis.Nil) {
					return err
				}
				if err == nil && owner != id {
					return storage.ErrEmailInUse
				}
			}

			data, err := json.Marshal(principalRecord(p))
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				if emailChanged {
					pipe.Del(ctx, s.emailKey(oldEmail))
					pipe.Set(ctx, s.emailKey(p.Email), id, 0)
				}
				return nil
			})
			if err != nil {
				return err
			}
			updated = p
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return storage.Principal{}, passThrough(err)
		}
		return updated, nil
	}

	return storage.Principal{}, unavailable(errTooMuchContention)
}

type roleRecord struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (s *Store) CreateRole(ctx context.Context, r storage.Role) (storage.Role, error) {
	data, err := json.Marshal(roleRecord(r))
	if err != nil {
		return storage.Role{}, err
	}
	created, err := createIndexedLua.Run(ctx, s.redis,
		[]string{s.roleNameKey(r.Name), s.roleKey(r.ID)},
		r.ID, data,
	).Int()
	if err != nil {
		return storage.Role{}, unavailable(err)
	}
	if created == 0 {
		return storage.Role{}, storage.ErrRoleNameInUse
	}
	return r.Clone(), nil
}

func (s *Store) GetRoleByID(ctx context.Context, id string) (storage.Role, error) {
	return s.loadRole(ctx, s.redis, id)
}

func (s *Store) GetRoleByName(ctx context.Context, name string) (storage.Role, error) {
	id, err := s.redis.Get(ctx, s.roleNameKey(name)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return storage.Role{}, storage.ErrNotFound
		}
		return storage.Role{}, unavailable(err)
	}
	return s.loadRole(ctx, s.redis, id)
}

func (s *Store) loadRole(ctx context.Context, c getter, id string) (storage.Role, error) {
	data, err := c.Get(ctx, s.roleKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return storage.Role{}, storage.ErrNotFound
		}
		return storage.Role{}, unavailable(err)
	}
	var rec roleRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return storage.Role{}, fmt.Errorf("decode role %s: %w", id, err)
	}
	return storage.Role(rec), nil
}

func (s *Store) UpdateRole(ctx context.Context, id string, patch storage.RolePatch) (storage.Role, error) {
	key := s.roleKey(id)

	for i := 0; i < maxRetries; i++ {
		var updated storage.Role

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			r, err := s.loadRole(ctx, tx, id)
			if err != nil {
				return err
			}
			oldName := r.Name
			patch.Apply(&r)

			renamed := r.Name != oldName
			if renamed {
				newKey := s.roleNameKey(r.Name)
				if err := tx.Watch(ctx, newKey).Err(); err != nil {
					return err
				}
				owner, err := tx.Get(ctx, newKey).Result()
				if err != nil && !errors.Is(err, redis.Nil) {
					return err
				}
				if err == nil && owner != id {
					return storage.ErrRoleNameInUse
				}
			}

			data, err := json.Marshal(roleRecord(r))
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				if renamed {
					pipe.Del(ctx, s.roleNameKey(oldName))
					pipe.Set(ctx, s.roleNameKey(r.Name), id, 0)
				}
				return nil
			})
			if err != nil {
				return err
			}
			updated = r
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return storage.Role{}, passThrough(err)
		}
		return updated, nil
	}

	return storage.Role{}, unavailable(errTooMuchContention)
}

func (s *Store) DeleteRole(ctx context.Context, id string) error {
	key := s.roleKey(id)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			r, err := s.loadRole(ctx, tx, id)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key, s.roleNameKey(r.Name))
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return passThrough(err)
		}
		return nil
	}

	return unavailable(errTooMuchContention)
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// Close closes the client when the store owns it.
func (s *Store) Close() error {
	if !s.owns {
		return nil
	}
	return s.redis.Close()
}

// passThrough keeps storage sentinels intact and marks everything else as an
// outage.
func passThrough(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, storage.ErrEmailInUse),
		errors.Is(err, storage.ErrRoleNameInUse),
		errors.Is(err, storage.ErrExpired),
		errors.Is(err, storage.ErrUnavailable):
		return err
	default:
		return unavailable(err)
	}
}
