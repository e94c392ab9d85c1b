package rate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "dmarcauth:"

// casScript writes ARGV[2] with PX ARGV[3] when the stored value equals
// ARGV[1]. An empty ARGV[1] means the key must be absent.
var casScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
local expected = ARGV[1]
if expected == "" then
  if cur then
    return 0
  end
elseif (not cur) or cur ~= expected then
  return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

// RedisStore keeps entries in Redis so every instance shares one view of
// each key.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a RedisStore. An empty prefix uses "dmarcauth:".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

type wireEntry struct {
	Attempts    int   `json:"a"`
	FirstAt     int64 `json:"f"`
	LockedUntil int64 `json:"l,omitempty"`
}

func encodeEntry(e Entry) (string, error) {
	w := wireEntry{Attempts: e.Attempts, FirstAt: unixNano(e.FirstAttemptAt), LockedUntil: unixNano(e.LockedUntil)}
	raw, err := json.Marshal(w)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeEntry(raw string) (Entry, error) {
	var w wireEntry
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return Entry{}, err
	}
	return Entry{Attempts: w.Attempts, FirstAttemptAt: fromUnixNano(w.FirstAt), LockedUntil: fromUnixNano(w.LockedUntil)}, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	e, err := decodeEntry(raw)
	if err != nil {
		return Entry{}, false, fmt.Errorf("decode rate entry: %w", err)
	}
	return e, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	raw, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.prefix+key, raw, ttl).Err()
}

func (s *RedisStore) CompareAndSwap(ctx context.Context, key string, prev *Entry, next Entry, ttl time.Duration) (bool, error) {
	expected := ""
	if prev != nil {
		raw, err := encodeEntry(*prev)
		if err != nil {
			return false, err
		}
		expected = raw
	}
	nextRaw, err := encodeEntry(next)
	if err != nil {
		return false, err
	}

	ttlMS := ttl.Milliseconds()
	if ttlMS <= 0 {
		ttlMS = 1
	}
	res, err := casScript.Run(ctx, s.client, []string{s.prefix + key}, expected, nextRaw, ttlMS).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}
