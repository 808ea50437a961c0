/**
 * @description
 * This file defines the durable audit models of the conversation-service:
 * the Transaction record for every attempted financial operation and the
 * LedgerEntry that makes gateway calls safe under retry. Both are
 * append-only with respect to terminal outcomes.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Transaction outcomes. A record never changes status once it reaches
// StatusSucceeded or StatusFailed.
const (
	StatusInFlight  = "in_flight"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Transaction is the durable record of an executed or attempted Action.
// Its lifetime is independent of the Session that produced it.
type Transaction struct {
	ID             uuid.UUID  `json:"id"`
	UserID         uuid.UUID  `json:"user_id"`
	Kind           ActionKind `json:"kind"`
	Amount         int64      `json:"amount"` // in cents
	RecipientRef   string     `json:"recipient_ref"`
	Network        string     `json:"network,omitempty"`
	IdempotencyKey string     `json:"idempotency_key"`
	Status         string     `json:"status"`
	GatewayRef     *string    `json:"gateway_ref,omitempty"`
	FailureReason  *string    `json:"failure_reason,omitempty"`
	RequestedAt    time.Time  `json:"requested_at"`
	SettledAt      *time.Time `json:"settled_at,omitempty"`
}

// LedgerEntry records the outcome of a gateway call keyed by idempotency
// key. The entry is the single source of truth for "this call already
// happened": a terminal entry is reused on retry without re-calling the
// gateway.
type LedgerEntry struct {
	IdempotencyKey string    `json:"idempotency_key"`
	Status         string    `json:"status"`
	GatewayRef     *string   `json:"gateway_ref,omitempty"`
	FailureReason  *string   `json:"failure_reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Terminal reports whether the entry has a final outcome.
func (e *LedgerEntry) Terminal() bool {
	return e != nil && (e.Status == StatusSucceeded || e.Status == StatusFailed)
}

// RiskDecision is the outcome of one risk evaluation.
type RiskDecision string

const (
	RiskAllow     RiskDecision = "allow"
	RiskDeny      RiskDecision = "deny"
	RiskChallenge RiskDecision = "challenge"
)

// RiskAssessment is ephemeral: computed per evaluation, used once, never
// persisted as its own entity. Only its effect (a denial reason on a
// Transaction) outlives the evaluation.
type RiskAssessment struct {
	Decision RiskDecision
	Reason   string
}
