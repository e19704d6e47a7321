package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MrEthical07/authcore/storage"
)

func scanTwoFactor(row rowScanner) (storage.TwoFactor, error) {
	var (
		tf       storage.TwoFactor
		rawCodes []byte
	)
	if err := row.Scan(&tf.SubjectID, &tf.Secret, &rawCodes, &tf.LastUsedCounter, &tf.EnabledAt); err != nil {
		return storage.TwoFactor{}, err
	}
	if len(rawCodes) > 0 {
		if err := json.Unmarshal(rawCodes, &tf.RecoveryCodes); err != nil {
			return storage.TwoFactor{}, fmt.Errorf("decode recovery codes: %w", err)
		}
	}
	return tf, nil
}

func (s *Store) GetTwoFactor(ctx context.Context, subjectID string) (storage.TwoFactor, error) {
	tf, err := scanTwoFactor(s.db.QueryRowContext(ctx, `
		select subject_id, secret, recovery_codes, last_used_counter, enabled_at
		from two_factor where subject_id = $1
	`, subjectID))
	if err != nil {
		return storage.TwoFactor{}, classify(err, storage.ErrNotFound)
	}
	return tf, nil
}

func (s *Store) SetTwoFactor(ctx context.Context, tf storage.TwoFactor) error {
	codes, err := encodeList(tf.RecoveryCodes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into two_factor (subject_id, secret, recovery_codes, last_used_counter, enabled_at)
		values ($1, $2, $3, $4, $5)
		on conflict (subject_id) do update
		set secret = excluded.secret, recovery_codes = excluded.recovery_codes,
		    last_used_counter = excluded.last_used_counter, enabled_at = excluded.enabled_at
	`, tf.SubjectID, tf.Secret, codes, tf.LastUsedCounter, tf.EnabledAt)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) ClearTwoFactor(ctx context.Context, subjectID string) error {
	if _, err := s.db.ExecContext(ctx, `delete from two_factor where subject_id = $1`, subjectID); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) ConsumeRecoveryCode(ctx context.Context, subjectID, digest string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, unavailable(err)
	}
	defer func() { _ = tx.Rollback() }()

	var rawCodes []byte
	err = tx.QueryRowContext(ctx, `select recovery_codes from two_factor where subject_id = $1 for update`, subjectID).Scan(&rawCodes)
	if err != nil {
		return false, classify(err, storage.ErrNotFound)
	}
	var stored []string
	if err := json.Unmarshal(rawCodes, &stored); err != nil {
		return false, fmt.Errorf("decode recovery codes: %w", err)
	}

	ok, remaining := storage.RemoveRecoveryCode(stored, digest)
	if !ok {
		return false, nil
	}
	codes, err := encodeList(remaining)
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `update two_factor set recovery_codes = $2 where subject_id = $1`, subjectID, codes); err != nil {
		return false, unavailable(err)
	}
	if err := tx.Commit(); err != nil {
		return false, unavailable(err)
	}
	return true, nil
}

func (s *Store) AdvanceTOTPCounter(ctx context.Context, subjectID string, counter int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update two_factor set last_used_counter = $2
		where subject_id = $1 and last_used_counter < $2
	`, subjectID, counter)
	if err != nil {
		return false, unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable(err)
	}
	if n == 1 {
		return true, nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `select exists(select 1 from two_factor where subject_id = $1)`, subjectID).Scan(&exists); err != nil {
		return false, unavailable(err)
	}
	if !exists {
		return false, storage.ErrNotFound
	}
	return false, nil
}
