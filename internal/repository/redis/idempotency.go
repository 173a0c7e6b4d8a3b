package redisrepo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	idemLock   = "LOCK"
	idemResult = "RES:"
)

// IdempotencyState is what a key currently holds.
type IdempotencyState int

const (
	IdemFresh IdempotencyState = iota
	IdemInFlight
	IdemDone
)

// IdempotencyStore remembers the response of a non-repeatable staff action
// (e.g. approving a request) so a retried submission replays it.
type IdempotencyStore struct {
	rdb     *redis.Client
	ttl     time.Duration
	lockTTL time.Duration
}

func NewIdempotencyStore(rdb *redis.Client, ttl, lockTTL time.Duration) *IdempotencyStore {
	return &IdempotencyStore{rdb: rdb, ttl: ttl, lockTTL: lockTTL}
}

// Begin claims key for the caller. When the key already finished, the
// stored payload is returned with IdemDone; when another request holds it,
// IdemInFlight.
func (s *IdempotencyStore) Begin(ctx context.Context, key string) (IdempotencyState, string, error) {
	ok, err := s.rdb.SetNX(ctx, key, idemLock, s.lockTTL).Result()
	if err != nil {
		return IdemFresh, "", err
	}
	if ok {
		return IdemFresh, "", nil
	}

	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// lock expired between the two calls; treat as in flight and let
		// the client retry
		return IdemInFlight, "", nil
	}
	if err != nil {
		return IdemFresh, "", err
	}
	if payload, found := strings.CutPrefix(v, idemResult); found {
		return IdemDone, payload, nil
	}

	return IdemInFlight, "", nil
}

func (s *IdempotencyStore) Complete(ctx context.Context, key string, jsonPayload string) error {
	return s.rdb.Set(ctx, key, idemResult+jsonPayload, s.ttl).Err()
}

// Abandon releases a claimed key after a failed attempt.
func (s *IdempotencyStore) Abandon(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
