package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/rfichi/borrowed-book-api/internal/infrastructure/redis"
)

const (
	idempotencyPrefix  = "idempotency:borrow:"
	idempotencyPending = "pending"
)

// KeyValueStore is the subset of the Redis client the idempotency store needs
type KeyValueStore interface {
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// IdempotencyRepository implements domain.IdempotencyRepository using Redis.
// A key holds "pending" while its borrow runs and the record ID afterwards.
type IdempotencyRepository struct {
	store  KeyValueStore
	ttl    time.Duration
	logger *slog.Logger
}

// NewIdempotencyRepository creates a new idempotency repository
func NewIdempotencyRepository(store KeyValueStore, ttl time.Duration, logger *slog.Logger) *IdempotencyRepository {
	return &IdempotencyRepository{
		store:  store,
		ttl:    ttl,
		logger: logger,
	}
}

// Claim reserves key for a new attempt
func (r *IdempotencyRepository) Claim(ctx context.Context, key string) (bool, int64, error) {
	for range 2 {
		ok, err := r.store.SetNX(ctx, idempotencyPrefix+key, idempotencyPending, r.ttl)
		if err != nil {
			return false, 0, fmt.Errorf("failed to claim idempotency key: %w", err)
		}
		if ok {
			return true, 0, nil
		}

		val, err := r.store.Get(ctx, idempotencyPrefix+key)
		if errors.Is(err, redis.ErrNil) {
			// expired or released between SETNX and GET
			continue
		}
		if err != nil {
			return false, 0, fmt.Errorf("failed to read idempotency key: %w", err)
		}
		if val == idempotencyPending {
			return false, 0, nil
		}
		id, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return false, 0, fmt.Errorf("corrupt idempotency key %q: %w", key, err)
		}
		return false, id, nil
	}
	return false, 0, nil
}

// Complete stores the record ID produced under key
func (r *IdempotencyRepository) Complete(ctx context.Context, key string, recordID int64) error {
	if err := r.store.Set(ctx, idempotencyPrefix+key, strconv.FormatInt(recordID, 10), r.ttl); err != nil {
		return fmt.Errorf("failed to complete idempotency key: %w", err)
	}
	r.logger.Debug("idempotency key completed", slog.String("key", key), slog.Int64("record_id", recordID))
	return nil
}

// Release forgets key so the request can be retried
func (r *IdempotencyRepository) Release(ctx context.Context, key string) error {
	if err := r.store.Delete(ctx, idempotencyPrefix+key); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}
