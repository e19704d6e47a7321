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

type twoFactorRecord struct {
	SubjectID       string    `json:"subject_id"`
	Secret          []byte    `json:"secret"`
	RecoveryCodes   []string  `json:"recovery_codes"`
	LastUsedCounter int64     `json:"last_used_counter"`
	EnabledAt       time.Time `json:"enabled_at"`
}

func (s *Store) loadTwoFactor(ctx context.Context, c getter, subjectID string) (storage.TwoFactor, error) {
	data, err := c.Get(ctx, s.twoFactorKey(subjectID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return storage.TwoFactor{}, storage.ErrNotFound
		}
		return storage.TwoFactor{}, unavailable(err)
	}
	var rec twoFactorRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return storage.TwoFactor{}, fmt.Errorf("decode two-factor %s: %w", subjectID, err)
	}
	return storage.TwoFactor(rec), nil
}

func (s *Store) GetTwoFactor(ctx context.Context, subjectID string) (storage.TwoFactor, error) {
	return s.loadTwoFactor(ctx, s.redis, subjectID)
}

func (s *Store) SetTwoFactor(ctx context.Context, tf storage.TwoFactor) error {
	data, err := json.Marshal(twoFactorRecord(tf))
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.twoFactorKey(tf.SubjectID), data, 0).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) ClearTwoFactor(ctx context.Context, subjectID string) error {
	if err := s.redis.Del(ctx, s.twoFactorKey(subjectID)).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) ConsumeRecoveryCode(ctx context.Context, subjectID, digest string) (bool, error) {
	return s.mutateTwoFactor(ctx, subjectID, func(tf *storage.TwoFactor) bool {
		ok, remaining := storage.RemoveRecoveryCode(tf.RecoveryCodes, digest)
		if ok {
			tf.RecoveryCodes = remaining
		}
		return ok
	})
}

func (s *Store) AdvanceTOTPCounter(ctx context.Context, subjectID string, counter int64) (bool, error) {
	return s.mutateTwoFactor(ctx, subjectID, func(tf *storage.TwoFactor) bool {
		if counter <= tf.LastUsedCounter {
			return false
		}
		tf.LastUsedCounter = counter
		return true
	})
}

// mutateTwoFactor applies fn under WATCH and writes the record back only when
// fn reports a change.
func (s *Store) mutateTwoFactor(ctx context.Context, subjectID string, fn func(*storage.TwoFactor) bool) (bool, error) {
	key := s.twoFactorKey(subjectID)

	for i := 0; i < maxRetries; i++ {
		var changed bool

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			tf, err := s.loadTwoFactor(ctx, tx, subjectID)
			if err != nil {
				return err
			}
			if !fn(&tf) {
				changed = false
				return nil
			}
			data, err := json.Marshal(twoFactorRecord(tf))
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				return nil
			})
			if err != nil {
				return err
			}
			changed = true
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, passThrough(err)
		}
		return changed, nil
	}

	return false, unavailable(errTooMuchContention)
}
