package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/askdb-inc/askdb-engine/pkg/adapters/datasource"
	"github.com/askdb-inc/askdb-engine/pkg/apperrors"
	"github.com/askdb-inc/askdb-engine/pkg/config"
	"github.com/askdb-inc/askdb-engine/pkg/logging"
	"github.com/askdb-inc/askdb-engine/pkg/models"
	sqlpkg "github.com/askdb-inc/askdb-engine/pkg/sql"
)

// Gateway enforces the safety policy on every SQL statement the agent
// produces before it reaches the datasource.
type Gateway struct {
	exec       datasource.QueryExecutor
	store      PendingStore
	threshold  sqlpkg.RiskTier
	ttl        time.Duration
	maxRows    int
	minExplain int
	logger     *zap.Logger

	now func() time.Time
}

// defaultMinExplainChars backstops deployments that leave the knob unset;
// zero would let empty explanations through.
const defaultMinExplainChars = 10

// New creates a gateway with the configured safety policy.
func New(exec datasource.QueryExecutor, store PendingStore, cfg *config.SafetyConfig, logger *zap.Logger) (*Gateway, error) {
	threshold, err := sqlpkg.ParseRiskTier(cfg.ConfirmationThreshold)
	if err != nil {
		return nil, fmt.Errorf("invalid confirmation threshold: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	minExplain := cfg.MinExplanationChars
	if minExplain <= 0 {
		minExplain = defaultMinExplainChars
	}

	return &Gateway{
		exec:       exec,
		store:      store,
		threshold:  threshold,
		ttl:        cfg.PendingTTL(),
		maxRows:    cfg.MaxResultRows,
		minExplain: minExplain,
		logger:     logger.Named("gateway"),
		now:        time.Now,
	}, nil
}

// ExecuteReadOnly runs a statement that must not modify data. Multi-
// statement scripts come back as an unsuccessful outcome the model can
// read; mutating SQL is rejected with apperrors.ErrUnexpectedWrite before
// touching the datasource; execution failures also fold into the outcome,
// never an error.
func (g *Gateway) ExecuteReadOnly(ctx context.Context, sqlText string) (*models.ExecutionOutcome, error) {
	validated := sqlpkg.ValidateAndNormalize(sqlText)
	if validated.Error != nil {
		return &models.ExecutionOutcome{
			Success: false,
			Message: validated.Error.Error(),
		}, nil
	}
	sqlText = validated.NormalizedSQL

	if !sqlpkg.IsReadOnly(sqlText) {
		return nil, apperrors.ErrUnexpectedWrite
	}

	// Query one row past the cap so truncation is detectable.
	result, err := g.exec.Query(ctx, sqlText, g.maxRows+1)
	if err != nil {
		g.logger.Warn("Read query failed",
			zap.String("query", logging.SanitizeQuery(sqlText)),
			zap.Error(err))
		return &models.ExecutionOutcome{
			Success: false,
			Message: fmt.Sprintf("Query failed: %v", err),
		}, nil
	}

	outcome := &models.ExecutionOutcome{
		Success:  true,
		Rows:     result.Rows,
		RowCount: result.RowCount,
	}
	for _, col := range result.Columns {
		outcome.Columns = append(outcome.Columns, col.Name)
	}
	if result.RowCount > g.maxRows {
		outcome.Rows = outcome.Rows[:g.maxRows]
		outcome.RowCount = g.maxRows
		outcome.Truncated = true
	}
	outcome.Message = fmt.Sprintf("Returned %d rows.", outcome.RowCount)
	if outcome.Truncated {
		outcome.Message = fmt.Sprintf("Returned the first %d rows; the result was truncated.", outcome.RowCount)
	}

	return outcome, nil
}

// ExecuteWithExplanation is the mutating path. The statement is classified;
// below the confirmation threshold it executes immediately, at or above it
// a pending operation is parked for the session and returned instead.
// Explanation or impact text shorter than the configured minimum is
// defaulted, never rejected.
func (g *Gateway) ExecuteWithExplanation(ctx context.Context, sessionID uuid.UUID, sqlText, explanation, expectedImpact string) (*models.ExecutionOutcome, *models.PendingOperation, error) {
	validated := sqlpkg.ValidateAndNormalize(sqlText)
	if validated.Error != nil {
		return &models.ExecutionOutcome{
			Success: false,
			Message: validated.Error.Error(),
		}, nil, nil
	}
	sqlText = validated.NormalizedSQL

	classification := sqlpkg.Classify(sqlText)

	explanation = strings.TrimSpace(explanation)
	if len(explanation) < g.minExplain {
		explanation = defaultExplanation(sqlText)
	}
	expectedImpact = strings.TrimSpace(expectedImpact)
	if len(expectedImpact) < g.minExplain {
		expectedImpact = classification.Impact
	}

	if !classification.Tier.RequiresConfirmation(g.threshold) {
		outcome := g.run(ctx, sqlText)
		return outcome, nil, nil
	}

	now := g.now()
	op := &models.PendingOperation{
		ID:             uuid.New(),
		SessionID:      sessionID,
		SQL:            sqlText,
		Explanation:    explanation,
		ExpectedImpact: expectedImpact,
		RiskLevel:      classification.Tier.String(),
		Warnings:       sqlpkg.Warnings(sqlpkg.ScreenLiterals(sqlText)),
		Status:         models.PendingStatusAwaiting,
		CreatedAt:      now,
		ExpiresAt:      now.Add(g.ttl),
	}

	superseded, err := g.store.Put(ctx, op)
	if err != nil {
		return nil, nil, fmt.Errorf("park pending operation: %w", err)
	}
	if superseded != nil {
		g.logger.Info("Pending operation superseded",
			zap.String("session_id", sessionID.String()),
			zap.String("superseded_id", superseded.ID.String()),
			zap.String("pending_id", op.ID.String()))
	}

	g.logger.Info("Operation parked for confirmation",
		zap.String("session_id", sessionID.String()),
		zap.String("pending_id", op.ID.String()),
		zap.String("risk_level", op.RiskLevel),
		zap.String("query", logging.SanitizeQuery(sqlText)))

	return nil, op, nil
}

// Resolve applies the user's decision to a parked operation. Approval runs
// the stored SQL verbatim, exactly once; repeated resolutions return the
// recorded result. Unknown, superseded or expired ids return
// apperrors.ErrStaleConfirmation.
func (g *Gateway) Resolve(ctx context.Context, sessionID, pendingID uuid.UUID, decision string) (*models.PendingOperation, error) {
	if !models.IsValidDecision(decision) {
		return nil, fmt.Errorf("invalid decision %q: must be %q or %q", decision, models.DecisionApprove, models.DecisionReject)
	}

	op, err := g.store.Get(ctx, sessionID, pendingID)
	if err != nil {
		return nil, err
	}

	// Already resolved: return the recorded outcome unchanged. Expired
	// operations carry no outcome, so they resolve as stale.
	if !op.IsAwaiting() {
		if op.Status == models.PendingStatusExpired {
			return nil, apperrors.ErrStaleConfirmation
		}
		return op, nil
	}

	if expired(op, g.now()) {
		op.Status = models.PendingStatusExpired
		if err := g.store.Update(ctx, op); err != nil {
			return nil, err
		}
		return nil, apperrors.ErrStaleConfirmation
	}

	switch decision {
	case models.DecisionReject:
		op.Status = models.PendingStatusRejected
		op.Outcome = &models.ExecutionOutcome{
			Success: false,
			Message: "Rejected by user; the statement was not executed.",
		}
	case models.DecisionApprove:
		op.Status = models.PendingStatusExecuted
		op.Outcome = g.run(ctx, op.SQL)
	}

	if err := g.store.Update(ctx, op); err != nil {
		return nil, err
	}

	g.logger.Info("Pending operation resolved",
		zap.String("session_id", sessionID.String()),
		zap.String("pending_id", pendingID.String()),
		zap.String("decision", decision),
		zap.Bool("success", op.Outcome.Success))

	return op, nil
}

// Pending returns the session's outstanding awaiting operation, or nil.
// Operations found past their TTL are marked expired on the way out.
func (g *Gateway) Pending(ctx context.Context, sessionID uuid.UUID) (*models.PendingOperation, error) {
	op, err := g.store.Current(ctx, sessionID)
	if err != nil || op == nil {
		return nil, err
	}
	if !op.IsAwaiting() {
		return nil, nil
	}
	if expired(op, g.now()) {
		op.Status = models.PendingStatusExpired
		if err := g.store.Update(ctx, op); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return op, nil
}

// run executes SQL and folds any failure into the outcome.
func (g *Gateway) run(ctx context.Context, sqlText string) *models.ExecutionOutcome {
	result, err := g.exec.Execute(ctx, sqlText)
	if err != nil {
		g.logger.Warn("Statement execution failed",
			zap.String("query", logging.SanitizeQuery(sqlText)),
			zap.Error(err))
		return &models.ExecutionOutcome{
			Success: false,
			Message: fmt.Sprintf("Execution failed: %v", err),
		}
	}

	outcome := &models.ExecutionOutcome{
		Success:      true,
		Columns:      result.Columns,
		Rows:         result.Rows,
		RowCount:     result.RowCount,
		RowsAffected: result.RowsAffected,
	}
	if result.RowCount > 0 {
		outcome.Message = fmt.Sprintf("Statement returned %d rows.", result.RowCount)
	} else {
		outcome.Message = fmt.Sprintf("Statement executed; %d rows affected.", result.RowsAffected)
	}
	return outcome
}

// defaultExplanation derives a usable explanation from the SQL itself when
// the model supplied none.
func defaultExplanation(sqlText string) string {
	normalized := strings.Join(strings.Fields(sqlText), " ")
	if len(normalized) > 120 {
		normalized = normalized[:120] + "..."
	}
	return "Executes the statement: " + normalized
}
