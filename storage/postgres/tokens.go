package postgres

import (
	"context"
	"time"

	"github.com/MrEthical07/authcore/storage"
)

func (s *Store) SaveOneTimeToken(ctx context.Context, t storage.OneTimeToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into one_time_tokens (hash, purpose, subject_id, email_digest, created_at, expires_at)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (hash, purpose) do update
		set subject_id = excluded.subject_id, email_digest = excluded.email_digest,
			created_at = excluded.created_at, expires_at = excluded.expires_at
	`, t.Hash, string(t.Purpose), t.SubjectID, t.EmailDigest, t.CreatedAt, t.ExpiresAt)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) RedeemOneTimeToken(ctx context.Context, hash string, purpose storage.Purpose, now time.Time) (storage.OneTimeToken, error) {
	t := storage.OneTimeToken{Hash: hash, Purpose: purpose}
	err := s.db.QueryRowContext(ctx, `
		delete from one_time_tokens
		where hash = $1 and purpose = $2
		returning subject_id, email_digest, created_at, expires_at
	`, hash, string(purpose)).Scan(&t.SubjectID, &t.EmailDigest, &t.CreatedAt, &t.ExpiresAt)
	if err != nil {
		return storage.OneTimeToken{}, classify(err, storage.ErrNotFound)
	}
	if !now.Before(t.ExpiresAt) {
		return storage.OneTimeToken{}, storage.ErrExpired
	}
	return t, nil
}

func (s *Store) StoreRefreshToken(ctx context.Context, t storage.RefreshToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into refresh_tokens (hash, subject_id, created_at, expires_at)
		values ($1, $2, $3, $4)
	`, t.Hash, t.SubjectID, t.CreatedAt, t.ExpiresAt)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) RedeemRefreshToken(ctx context.Context, hash string, now time.Time) (string, error) {
	var (
		subject   string
		expiresAt time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		delete from refresh_tokens
		where hash = $1
		returning subject_id, expires_at
	`, hash).Scan(&subject, &expiresAt)
	if err != nil {
		return "", classify(err, storage.ErrNotFound)
	}
	if !now.Before(expiresAt) {
		return "", storage.ErrExpired
	}
	return subject, nil
}

func (s *Store) DeleteRefreshToken(ctx context.Context, hash string) error {
	if _, err := s.db.ExecContext(ctx, `delete from refresh_tokens where hash = $1`, hash); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) DeleteAllRefreshTokensFor(ctx context.Context, subjectID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `delete from refresh_tokens where subject_id = $1`, subjectID)
	if err != nil {
		return 0, unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}

func (s *Store) Blacklist(ctx context.Context, e storage.BlacklistEntry) error {
	_, err := s.db.ExecContext(ctx, `
		insert into token_blacklist (fingerprint, created_at, expires_at)
		values ($1, $2, $3)
		on conflict (fingerprint) do update
		set expires_at = greatest(token_blacklist.expires_at, excluded.expires_at)
	`, e.Fingerprint, e.CreatedAt, e.ExpiresAt)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// ClaimBlacklist inserts the entry, or takes over a lapsed one. A live row
// leaves the statement with no affected rows.
func (s *Store) ClaimBlacklist(ctx context.Context, e storage.BlacklistEntry) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		insert into token_blacklist (fingerprint, created_at, expires_at)
		values ($1, $2, $3)
		on conflict (fingerprint) do update
		set created_at = excluded.created_at, expires_at = excluded.expires_at
		where token_blacklist.expires_at <= excluded.created_at
	`, e.Fingerprint, e.CreatedAt, e.ExpiresAt)
	if err != nil {
		return false, unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

func (s *Store) IsBlacklisted(ctx context.Context, fingerprint string, now time.Time) (bool, error) {
	var listed bool
	err := s.db.QueryRowContext(ctx, `
		select exists(select 1 from token_blacklist where fingerprint = $1 and expires_at > $2)
	`, fingerprint, now).Scan(&listed)
	if err != nil {
		return false, unavailable(err)
	}
	return listed, nil
}

func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, unavailable(err)
	}
	defer func() { _ = tx.Rollback() }()

	total := 0
	for _, q := range []string{
		`delete from one_time_tokens where expires_at <= $1`,
		`delete from refresh_tokens where expires_at <= $1`,
		`delete from token_blacklist where expires_at <= $1`,
	} {
		res, err := tx.ExecContext(ctx, q, now)
		if err != nil {
			return 0, unavailable(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, unavailable(err)
		}
		total += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, unavailable(err)
	}
	return total, nil
}
