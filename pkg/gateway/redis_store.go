package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/askdb-inc/askdb-engine/pkg/apperrors"
	"github.com/askdb-inc/askdb-engine/pkg/models"
)

// RedisStore keeps pending operations in Redis so confirmations survive
// engine restarts. Keys carry the pending TTL plus a grace period so a
// just-expired operation can still report its expiry instead of vanishing.
// Writes run as WATCH transactions on the session key, so concurrent
// submissions for one session cannot interleave a read-modify-write.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

const (
	redisExpiryGrace = time.Hour

	// redisTxRetries bounds optimistic-lock retries when the watched key
	// changes mid-transaction.
	redisTxRetries = 20
)

// NewRedisStore creates a Redis-backed pending store.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func pendingKey(sessionID uuid.UUID) string {
	return "pending_op:" + sessionID.String()
}

func (s *RedisStore) Put(ctx context.Context, op *models.PendingOperation) (*models.PendingOperation, error) {
	data, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("encode pending operation: %w", err)
	}
	key := pendingKey(op.SessionID)

	var superseded *models.PendingOperation
	err = s.transact(ctx, key, func(tx *redis.Tx) error {
		superseded = nil
		prev, err := decodePending(tx.Get(ctx, key))
		if err != nil {
			return err
		}
		if prev != nil && prev.IsAwaiting() {
			prev.Status = models.PendingStatusExpired
			superseded = prev
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl+redisExpiryGrace)
			return nil
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("store pending operation: %w", err)
	}
	return superseded, nil
}

func (s *RedisStore) Get(ctx context.Context, sessionID, pendingID uuid.UUID) (*models.PendingOperation, error) {
	op, err := s.Current(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if op == nil || op.ID != pendingID {
		return nil, apperrors.ErrStaleConfirmation
	}
	return op, nil
}

func (s *RedisStore) Current(ctx context.Context, sessionID uuid.UUID) (*models.PendingOperation, error) {
	return decodePending(s.client.Get(ctx, pendingKey(sessionID)))
}

// Update replaces the stored operation only while it is still the session's
// current one; anything else is a stale confirmation.
func (s *RedisStore) Update(ctx context.Context, op *models.PendingOperation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("encode pending operation: %w", err)
	}
	key := pendingKey(op.SessionID)

	err = s.transact(ctx, key, func(tx *redis.Tx) error {
		current, err := decodePending(tx.Get(ctx, key))
		if err != nil {
			return err
		}
		if current == nil || current.ID != op.ID {
			return apperrors.ErrStaleConfirmation
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl+redisExpiryGrace)
			return nil
		})
		return err
	})
	if err != nil && !errors.Is(err, apperrors.ErrStaleConfirmation) {
		return fmt.Errorf("update pending operation: %w", err)
	}
	return err
}

// transact runs fn under WATCH on key, retrying when a concurrent write
// aborts the transaction.
func (s *RedisStore) transact(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	var err error
	for attempt := 0; attempt < redisTxRetries; attempt++ {
		err = s.client.Watch(ctx, fn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

func decodePending(cmd *redis.StringCmd) (*models.PendingOperation, error) {
	data, err := cmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pending operation: %w", err)
	}

	var op models.PendingOperation
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, fmt.Errorf("decode pending operation: %w", err)
	}
	return &op, nil
}

var _ PendingStore = (*RedisStore)(nil)
