package models

import (
	"time"

	"github.com/google/uuid"
)

// Pending operation status constants.
const (
	PendingStatusAwaiting = "awaiting"
	PendingStatusExecuted = "executed"
	PendingStatusRejected = "rejected"
	PendingStatusExpired  = "expired"
)

// Confirmation decisions.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

// IsValidDecision checks the decision value of a confirmation request.
func IsValidDecision(d string) bool {
	return d == DecisionApprove || d == DecisionReject
}

// PendingOperation is a risky SQL statement parked until the user resolves
// it. The SQL is stored verbatim; approval executes exactly this text.
type PendingOperation struct {
	ID             uuid.UUID `json:"id"`
	SessionID      uuid.UUID `json:"session_id"`
	SQL            string    `json:"sql"`
	Explanation    string    `json:"explanation"`
	ExpectedImpact string    `json:"expected_impact"`
	RiskLevel      string    `json:"risk_level"`
	Warnings       []string  `json:"warnings,omitempty"`
	Status         string    `json:"status"`
	// Outcome is recorded when the operation leaves the awaiting state, so
	// repeated resolutions can return the same answer.
	Outcome   *ExecutionOutcome `json:"outcome,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// IsAwaiting returns true while the operation can still be resolved.
func (p *PendingOperation) IsAwaiting() bool {
	return p.Status == PendingStatusAwaiting
}

// Prompt builds the confirmation payload streamed to the caller.
func (p *PendingOperation) Prompt() *ConfirmationPrompt {
	return &ConfirmationPrompt{
		PendingID:      p.ID,
		SessionID:      p.SessionID,
		SQL:            p.SQL,
		Explanation:    p.Explanation,
		ExpectedImpact: p.ExpectedImpact,
		RiskLevel:      p.RiskLevel,
		Warnings:       p.Warnings,
		ExpiresAt:      p.ExpiresAt,
	}
}

// ExecutionOutcome is the terminal result of a SQL execution attempt.
// Executor failures are represented as Success=false, not as Go errors,
// so the model can read them and adjust.
type ExecutionOutcome struct {
	Success      bool             `json:"success"`
	Message      string           `json:"message"`
	Columns      []string         `json:"columns,omitempty"`
	Rows         []map[string]any `json:"rows,omitempty"`
	RowCount     int              `json:"row_count"`
	RowsAffected int64            `json:"rows_affected"`
	Truncated    bool             `json:"truncated,omitempty"`
}
