package schemaindex

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/askdb-inc/askdb-engine/pkg/adapters/datasource"
	"github.com/askdb-inc/askdb-engine/pkg/apperrors"
	"github.com/askdb-inc/askdb-engine/pkg/models"
)

// BuildStatus is a point-in-time view of the background rebuild.
type BuildStatus struct {
	Running    bool       `json:"running"`
	Step       string     `json:"step,omitempty"`
	Completed  int        `json:"completed"`
	Total      int        `json:"total"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Builder runs index rebuilds in the background, one at a time, exposing
// progress to the status endpoint.
type Builder struct {
	index  *Index
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	status  BuildStatus
}

// NewBuilder wraps an index with background rebuild management.
func NewBuilder(index *Index, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{index: index, logger: logger.Named("index-builder")}
}

// Start kicks off a rebuild in a new goroutine. Returns
// apperrors.ErrRebuildInProgress if one is already running.
func (b *Builder) Start(extractor datasource.SchemaExtractor, terms []models.BusinessTerm) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return apperrors.ErrRebuildInProgress
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	b.running = true
	b.cancel = cancel
	b.status = BuildStatus{Running: true, StartedAt: &now}
	b.mu.Unlock()

	go func() {
		defer cancel()

		_, err := b.index.Rebuild(ctx, extractor, terms, b.recordProgress)

		b.mu.Lock()
		defer b.mu.Unlock()
		finished := time.Now()
		b.running = false
		b.cancel = nil
		b.status.Running = false
		b.status.FinishedAt = &finished
		if err != nil {
			b.status.Error = err.Error()
			b.logger.Error("Background index rebuild failed", zap.Error(err))
		}
	}()

	return nil
}

// Cancel aborts a running rebuild. No-op when idle.
func (b *Builder) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
	}
}

// Status returns a copy of the current progress.
func (b *Builder) Status() BuildStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *Builder) recordProgress(step string, completed, total int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.Step = step
	b.status.Completed = completed
	b.status.Total = total
}
