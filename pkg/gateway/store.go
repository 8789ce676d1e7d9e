// Package gateway is the single execution path for SQL produced by the
// agent. Read statements are verified read-only before running; mutating
// statements above the configured risk threshold are parked as pending
// operations until the user approves or rejects them.
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/askdb-inc/askdb-engine/pkg/apperrors"
	"github.com/askdb-inc/askdb-engine/pkg/models"
)

// PendingStore persists pending operations. Each session holds at most one;
// storing a new one supersedes the previous.
type PendingStore interface {
	// Put stores op as the session's current pending operation, returning
	// the superseded operation if one was still awaiting.
	Put(ctx context.Context, op *models.PendingOperation) (superseded *models.PendingOperation, err error)

	// Get returns the session's current operation if it matches pendingID.
	// Unknown sessions and mismatched ids return apperrors.ErrStaleConfirmation.
	Get(ctx context.Context, sessionID, pendingID uuid.UUID) (*models.PendingOperation, error)

	// Current returns the session's current operation, or nil if none.
	Current(ctx context.Context, sessionID uuid.UUID) (*models.PendingOperation, error)

	// Update rewrites the stored operation after a state change.
	Update(ctx context.Context, op *models.PendingOperation) error
}

// MemoryStore is the default in-process store, used when Redis is not
// configured. Safe for concurrent use.
type MemoryStore struct {
	mu  sync.Mutex
	ops map[uuid.UUID]*models.PendingOperation
}

// NewMemoryStore creates an empty in-memory pending store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ops: make(map[uuid.UUID]*models.PendingOperation)}
}

func (s *MemoryStore) Put(ctx context.Context, op *models.PendingOperation) (*models.PendingOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var superseded *models.PendingOperation
	if prev, ok := s.ops[op.SessionID]; ok && prev.IsAwaiting() {
		prev.Status = models.PendingStatusExpired
		superseded = clone(prev)
	}
	s.ops[op.SessionID] = clone(op)
	return superseded, nil
}

func (s *MemoryStore) Get(ctx context.Context, sessionID, pendingID uuid.UUID) (*models.PendingOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.ops[sessionID]
	if !ok || op.ID != pendingID {
		return nil, apperrors.ErrStaleConfirmation
	}
	return clone(op), nil
}

func (s *MemoryStore) Current(ctx context.Context, sessionID uuid.UUID) (*models.PendingOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.ops[sessionID]
	if !ok {
		return nil, nil
	}
	return clone(op), nil
}

func (s *MemoryStore) Update(ctx context.Context, op *models.PendingOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.ops[op.SessionID]
	if !ok || current.ID != op.ID {
		return apperrors.ErrStaleConfirmation
	}
	s.ops[op.SessionID] = clone(op)
	return nil
}

// clone guards against callers mutating stored state through shared pointers.
func clone(op *models.PendingOperation) *models.PendingOperation {
	cp := *op
	if op.Warnings != nil {
		cp.Warnings = append([]string(nil), op.Warnings...)
	}
	if op.Outcome != nil {
		outcome := *op.Outcome
		cp.Outcome = &outcome
	}
	return &cp
}

// expired reports whether the operation's TTL has lapsed.
func expired(op *models.PendingOperation, now time.Time) bool {
	return !op.ExpiresAt.IsZero() && now.After(op.ExpiresAt)
}

var _ PendingStore = (*MemoryStore)(nil)
