package loopdetect

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// SignatureStore persists a run's rolling signature window outside process
// memory, so loop detection survives process restarts and can be shared
// across a horizontally scaled fleet of runners working the same run (the
// in-memory Detector is the default and sufficient for a single process).
type SignatureStore interface {
	// Push appends sig to the run's history and returns the current window
	// (most recent last), trimmed to window entries.
	Push(ctx context.Context, runID string, sig Signature, window int) ([]Signature, error)
}

// RedisSignatureStore implements SignatureStore on top of a Redis list,
// grounded on the registry package's direct *redis.Client usage for
// cluster-shared state. Each run gets its own list key; entries expire after
// ttl of inactivity so abandoned runs don't leak keys.
type RedisSignatureStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisSignatureStore returns a store backed by client. prefix namespaces
// keys (e.g. "agentloop:loopdetect:"); ttl is refreshed on every Push.
func NewRedisSignatureStore(client *redis.Client, prefix string, ttl time.Duration) *RedisSignatureStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisSignatureStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisSignatureStore) key(runID string) string {
	return fmt.Sprintf("%s%s", s.prefix, runID)
}

// Push encodes sig as "toolName\x00inputKey", RPUSHes it, trims the list to
// the last window entries, refreshes the TTL, and returns the decoded
// window.
func (s *RedisSignatureStore) Push(ctx context.Context, runID string, sig Signature, window int) ([]Signature, error) {
	key := s.key(runID)
	encoded := encodeSignature(sig)

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, encoded)
	pipe.LTrim(ctx, key, int64(-window), -1)
	pipe.Expire(ctx, key, s.ttl)
	rangeCmd := pipe.LRange(ctx, key, 0, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("loopdetect: redis push: %w", err)
	}

	raw, err := rangeCmd.Result()
	if err != nil {
		return nil, fmt.Errorf("loopdetect: redis range: %w", err)
	}
	out := make([]Signature, 0, len(raw))
	for _, r := range raw {
		sig, err := decodeSignature(r)
		if err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, nil
}

func encodeSignature(sig Signature) string {
	return sig.ToolName + "\x00" + strconv.FormatUint(sig.InputKey, 16)
}

func decodeSignature(s string) (Signature, error) {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			key, err := strconv.ParseUint(s[i+1:], 16, 64)
			if err != nil {
				return Signature{}, fmt.Errorf("loopdetect: decode signature: %w", err)
			}
			return Signature{ToolName: s[:i], InputKey: key}, nil
		}
	}
	return Signature{}, fmt.Errorf("loopdetect: malformed signature %q", s)
}

// AllEqual reports whether sigs has at least window entries and its last
// window entries are all identical - the Redis-backed equivalent of Detector's
// in-memory pairwise check, used by callers that source signatures from a
// SignatureStore instead of a local Detector.
func AllEqual(sigs []Signature, window int) bool {
	if len(sigs) < window {
		return false
	}
	first := sigs[len(sigs)-window]
	for _, s := range sigs[len(sigs)-window:] {
		if s != first {
			return false
		}
	}
	return true
}
