/**
 * @description
 * Risk engine consulted after PIN verification and before execution. It is
 * advisory-in, binding-out: the engine applies per-kind hard ceilings, a
 * rolling spend velocity window, a recent PIN-failure blocklist, and a soft
 * amount threshold that downgrades an Allow to a Challenge (one extra
 * confirmation).
 *
 * @notes
 * - Deny reasons are stable strings surfaced in audit logs, never raw to users.
 * - A Challenge is issued at most once per pending action; the orchestrator
 *   coerces a repeat Challenge to Allow using the session's challenged flag.
 */
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cyrax/conversation-service/internal/domain"
	"github.com/cyrax/conversation-service/internal/store"
)

// KindLimits holds the money-movement limits for one action kind, in minor units.
type KindLimits struct {
	HardCeiling   int64 // amounts above this are denied outright
	SoftThreshold int64 // amounts above this trigger a challenge
}

// RiskLimits is the full limit set the engine evaluates against.
type RiskLimits struct {
	PerKind          map[domain.ActionKind]KindLimits
	VelocityWindow   time.Duration // rolling window for settled spend
	VelocityLimit    int64         // max settled spend within the window
	PinFailureWindow time.Duration // recent-mismatch lookback
	PinFailureMax    int           // mismatches within the window that block execution
}

// RiskEngine evaluates pending money movements against account history.
type RiskEngine struct {
	repo   store.Repository
	limits RiskLimits
}

func NewRiskEngine(repo store.Repository, limits RiskLimits) *RiskEngine {
	return &RiskEngine{repo: repo, limits: limits}
}

// Assess returns the decision for executing the given action now.
func (e *RiskEngine) Assess(ctx context.Context, userID uuid.UUID, action *domain.Action) (domain.RiskAssessment, error) {
	if !action.Kind.MovesMoney() {
		return domain.RiskAssessment{Decision: domain.RiskAllow}, nil
	}

	limits, ok := e.limits.PerKind[action.Kind]
	if !ok {
		return domain.RiskAssessment{Decision: domain.RiskDeny, Reason: "no limits configured for kind"}, nil
	}

	if limits.HardCeiling > 0 && action.Amount > limits.HardCeiling {
		return domain.RiskAssessment{Decision: domain.RiskDeny, Reason: "amount exceeds per-transaction ceiling"}, nil
	}

	if e.limits.VelocityLimit > 0 {
		since := time.Now().Add(-e.limits.VelocityWindow)
		spent, err := e.repo.SumSettledAmountSince(ctx, userID, since)
		if err != nil {
			return domain.RiskAssessment{}, fmt.Errorf("summing settled spend: %w", err)
		}
		if spent+action.Amount > e.limits.VelocityLimit {
			return domain.RiskAssessment{Decision: domain.RiskDeny, Reason: "rolling spend limit exceeded"}, nil
		}
	}

	if e.limits.PinFailureMax > 0 {
		since := time.Now().Add(-e.limits.PinFailureWindow)
		failures, err := e.repo.CountFailedPinAttemptsSince(ctx, userID, since)
		if err != nil {
			return domain.RiskAssessment{}, fmt.Errorf("counting recent pin failures: %w", err)
		}
		if failures >= e.limits.PinFailureMax {
			return domain.RiskAssessment{Decision: domain.RiskDeny, Reason: "recent pin failures"}, nil
		}
	}

	if limits.SoftThreshold > 0 && action.Amount > limits.SoftThreshold {
		return domain.RiskAssessment{Decision: domain.RiskChallenge, Reason: "amount above challenge threshold"}, nil
	}

	return domain.RiskAssessment{Decision: domain.RiskAllow}, nil
}
