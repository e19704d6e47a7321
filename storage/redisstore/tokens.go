package redisstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore/storage"
)

const (
	tokenRecordVersionV1 = 1
	// v2 appends the email digest of one-time tokens
	tokenRecordVersionV2 = 2
)

var errInvalidTokenRecord = errors.New("invalid token record")

const consumeScript = `
local v = redis.call("GET", KEYS[1])
if not v then
  return false
end
redis.call("DEL", KEYS[1])
return v
`

var consumeLua = redis.NewScript(consumeScript)

const deleteAllRefreshScript = `
local members = redis.call("SMEMBERS", KEYS[1])
local n = 0
for _, h in ipairs(members) do
  n = n + redis.call("DEL", ARGV[1] .. h)
end
redis.call("DEL", KEYS[1])
return n
`

var deleteAllRefreshLua = redis.NewScript(deleteAllRefreshScript)

const blacklistScript = `
local cur = redis.call("GET", KEYS[1])
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
redis.call("ZADD", KEYS[2], ARGV[1], KEYS[1])
return 1
`

var blacklistLua = redis.NewScript(blacklistScript)

// ARGV[3] is the claim time; a stored expiry after it means the entry is
// still live.
const claimBlacklistScript = `
local cur = redis.call("GET", KEYS[1])
if cur and tonumber(cur) > tonumber(ARGV[3]) then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
redis.call("ZADD", KEYS[2], ARGV[1], KEYS[1])
return 1
`

var claimBlacklistLua = redis.NewScript(claimBlacklistScript)

const purgeScript = `
local keys = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
local n = 0
for _, k in ipairs(keys) do
  n = n + redis.call("DEL", k)
end
if #keys > 0 then
  redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
end
return n
`

var purgeLua = redis.NewScript(purgeScript)

func (s *Store) oneTimeKey(purpose storage.Purpose, hash string) string {
	return s.prefix + ":ot:" + string(purpose) + ":" + hash
}

func (s *Store) refreshPrefix() string { return s.prefix + ":rt:" }

func (s *Store) refreshKey(hash string) string { return s.refreshPrefix() + hash }

func (s *Store) refreshSetKey(subject string) string { return s.prefix + ":rs:" + subject }

func (s *Store) blacklistKey(fp string) string { return s.prefix + ":bl:" + fp }

// keyTTL is the Redis lifetime of a record valid over [created, expires).
func keyTTL(created, expires time.Time) time.Duration {
	var ttl time.Duration
	if created.IsZero() {
		ttl = time.Until(expires)
	} else {
		ttl = expires.Sub(created)
	}
	if ttl < 0 {
		ttl = 0
	}
	return ttl + keyGrace
}

func (s *Store) SaveOneTimeToken(ctx context.Context, t storage.OneTimeToken) error {
	data, err := encodeTokenRecord(tokenRecord{subjectID: t.SubjectID, emailDigest: t.EmailDigest, expiresAt: t.ExpiresAt})
	if err != nil {
		return err
	}
	key := s.oneTimeKey(t.Purpose, t.Hash)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, keyTTL(t.CreatedAt, t.ExpiresAt))
		pipe.ZAdd(ctx, s.expiryIndexKey(), redis.Z{Score: float64(t.ExpiresAt.UnixMilli()), Member: key})
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) RedeemOneTimeToken(ctx context.Context, hash string, purpose storage.Purpose, now time.Time) (storage.OneTimeToken, error) {
	rec, err := s.consume(ctx, s.oneTimeKey(purpose, hash), now)
	if err != nil {
		return storage.OneTimeToken{}, err
	}
	return storage.OneTimeToken{
		Hash:        hash,
		SubjectID:   rec.subjectID,
		EmailDigest: rec.emailDigest,
		Purpose:     purpose,
		ExpiresAt:   rec.expiresAt,
	}, nil
}

func (s *Store) StoreRefreshToken(ctx context.Context, t storage.RefreshToken) error {
	data, err := encodeTokenRecord(tokenRecord{subjectID: t.SubjectID, expiresAt: t.ExpiresAt})
	if err != nil {
		return err
	}
	key := s.refreshKey(t.Hash)
	setKey := s.refreshSetKey(t.SubjectID)
	ttl := keyTTL(t.CreatedAt, t.ExpiresAt)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, ttl)
		pipe.SAdd(ctx, setKey, t.Hash)
		pipe.Expire(ctx, setKey, ttl)
		pipe.ZAdd(ctx, s.expiryIndexKey(), redis.Z{Score: float64(t.ExpiresAt.UnixMilli()), Member: key})
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) RedeemRefreshToken(ctx context.Context, hash string, now time.Time) (string, error) {
	rec, err := s.consume(ctx, s.refreshKey(hash), now)
	if err != nil {
		return "", err
	}
	return rec.subjectID, nil
}

// consume atomically reads and deletes key, then checks expiry on the
// returned record.
func (s *Store) consume(ctx context.Context, key string, now time.Time) (tokenRecord, error) {
	data, err := consumeLua.Run(ctx, s.redis, []string{key}).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return tokenRecord{}, storage.ErrNotFound
		}
		return tokenRecord{}, unavailable(err)
	}
	rec, err := decodeTokenRecord([]byte(data))
	if err != nil {
		return tokenRecord{}, err
	}
	if !now.Before(rec.expiresAt) {
		return tokenRecord{}, storage.ErrExpired
	}
	return rec, nil
}

func (s *Store) DeleteRefreshToken(ctx context.Context, hash string) error {
	if err := s.redis.Del(ctx, s.refreshKey(hash)).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) DeleteAllRefreshTokensFor(ctx context.Context, subjectID string) (int, error) {
	n, err := deleteAllRefreshLua.Run(ctx, s.redis,
		[]string{s.refreshSetKey(subjectID)},
		s.refreshPrefix(),
	).Int()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

func (s *Store) Blacklist(ctx context.Context, e storage.BlacklistEntry) error {
	ttl := keyTTL(e.CreatedAt, e.ExpiresAt)
	err := blacklistLua.Run(ctx, s.redis,
		[]string{s.blacklistKey(e.Fingerprint), s.expiryIndexKey()},
		e.ExpiresAt.UnixMilli(), ttl.Milliseconds(),
	).Err()
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) ClaimBlacklist(ctx context.Context, e storage.BlacklistEntry) (bool, error) {
	ttl := keyTTL(e.CreatedAt, e.ExpiresAt)
	n, err := claimBlacklistLua.Run(ctx, s.redis,
		[]string{s.blacklistKey(e.Fingerprint), s.expiryIndexKey()},
		e.ExpiresAt.UnixMilli(), ttl.Milliseconds(), e.CreatedAt.UnixMilli(),
	).Int()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

func (s *Store) IsBlacklisted(ctx context.Context, fingerprint string, now time.Time) (bool, error) {
	exp, err := s.redis.Get(ctx, s.blacklistKey(fingerprint)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, unavailable(err)
	}
	return now.UnixMilli() < exp, nil
}

func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	n, err := purgeLua.Run(ctx, s.redis,
		[]string{s.expiryIndexKey()},
		strconv.FormatInt(now.UnixMilli(), 10),
	).Int()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// tokenRecord is the value stored under a one-time or refresh token key.
type tokenRecord struct {
	subjectID   string
	emailDigest string
	expiresAt   time.Time
}

func encodeTokenRecord(r tokenRecord) ([]byte, error) {
	if len(r.subjectID) > 65535 || len(r.emailDigest) > 65535 {
		return nil, errors.New("token record field too long")
	}
	var buf bytes.Buffer
	buf.WriteByte(tokenRecordVersionV2)
	if err := binary.Write(&buf, binary.BigEndian, r.expiresAt.UnixMilli()); err != nil {
		return nil, err
	}
	for _, field := range []string{r.subjectID, r.emailDigest} {
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}
	return buf.Bytes(), nil
}

// decodeTokenRecord reads both record versions; v1 has no email digest.
func decodeTokenRecord(data []byte) (tokenRecord, error) {
	var r tokenRecord
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil || (version != tokenRecordVersionV1 && version != tokenRecordVersionV2) {
		return r, errInvalidTokenRecord
	}
	var expiresMs int64
	if err := binary.Read(reader, binary.BigEndian, &expiresMs); err != nil {
		return r, errInvalidTokenRecord
	}
	r.expiresAt = time.UnixMilli(expiresMs)

	if r.subjectID, err = readField(reader); err != nil {
		return r, err
	}
	if version == tokenRecordVersionV2 {
		if r.emailDigest, err = readField(reader); err != nil {
			return r, err
		}
	}
	if reader.Len() != 0 {
		return tokenRecord{}, errInvalidTokenRecord
	}
	return r, nil
}

func readField(reader *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
		return "", errInvalidTokenRecord
	}
	if reader.Len() < int(n) {
		return "", errInvalidTokenRecord
	}
	field := make([]byte, n)
	if _, err := io.ReadFull(reader, field); err != nil {
		return "", errInvalidTokenRecord
	}
	return string(field), nil
}
