package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cyrax/conversation-service/internal/domain"
)

func testRiskLimits() RiskLimits {
	return RiskLimits{
		PerKind: map[domain.ActionKind]KindLimits{
			domain.ActionTransfer: {HardCeiling: 500000, SoftThreshold: 100000},
		},
		VelocityWindow:   24 * time.Hour,
		VelocityLimit:    1000000,
		PinFailureWindow: time.Hour,
		PinFailureMax:    3,
	}
}

func TestAssess_AmountOverCeilingDenied(t *testing.T) {
	repo := newEngineRepoStub()
	engine := NewRiskEngine(repo, testRiskLimits())

	assessment, err := engine.Assess(context.Background(), uuid.New(), &domain.Action{
		Kind: domain.ActionTransfer, Amount: 600000,
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if assessment.Decision != domain.RiskDeny {
		t.Fatalf("expected deny, got %s", assessment.Decision)
	}
}

func TestAssess_VelocityLimitDenied(t *testing.T) {
	repo := newEngineRepoStub()
	engine := NewRiskEngine(repo, testRiskLimits())
	userID := uuid.New()
	ctx := context.Background()

	// Settled spend of R9,900 in the window; another R200 breaches R10,000.
	now := time.Now()
	repo.txs = append(repo.txs, &domain.Transaction{
		UserID: userID, Amount: 990000, Status: domain.StatusSucceeded, SettledAt: &now,
	})

	assessment, err := engine.Assess(ctx, userID, &domain.Action{Kind: domain.ActionTransfer, Amount: 20000})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if assessment.Decision != domain.RiskDeny {
		t.Fatalf("expected velocity denial, got %s", assessment.Decision)
	}
}

func TestAssess_SoftThresholdChallenges(t *testing.T) {
	repo := newEngineRepoStub()
	engine := NewRiskEngine(repo, testRiskLimits())

	assessment, err := engine.Assess(context.Background(), uuid.New(), &domain.Action{
		Kind: domain.ActionTransfer, Amount: 200000,
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if assessment.Decision != domain.RiskChallenge {
		t.Fatalf("expected challenge, got %s", assessment.Decision)
	}
}

func TestAssess_RecentPinFailuresDenied(t *testing.T) {
	repo := newEngineRepoStub()
	engine := NewRiskEngine(repo, testRiskLimits())
	userID := uuid.New()
	repo.pinFails[userID] = 50

	assessment, err := engine.Assess(context.Background(), userID, &domain.Action{
		Kind: domain.ActionTransfer, Amount: 10000,
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if assessment.Decision != domain.RiskDeny {
		t.Fatalf("expected deny from pin failures, got %s (reason %q)", assessment.Decision, assessment.Reason)
	}
}

func TestAssess_PinFailuresDenyBeforeSoftThreshold(t *testing.T) {
	repo := newEngineRepoStub()
	engine := NewRiskEngine(repo, testRiskLimits())
	userID := uuid.New()
	repo.pinFails[userID] = 3

	// Amount is above the soft threshold, but the PIN-failure block wins.
	assessment, err := engine.Assess(context.Background(), userID, &domain.Action{
		Kind: domain.ActionTransfer, Amount: 200000,
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if assessment.Decision != domain.RiskDeny {
		t.Fatalf("expected deny, got %s", assessment.Decision)
	}
	if assessment.Reason != "recent pin failures" {
		t.Fatalf("expected pin failure reason, got %q", assessment.Reason)
	}
}

func TestAssess_SmallAmountAllowed(t *testing.T) {
	repo := newEngineRepoStub()
	engine := NewRiskEngine(repo, testRiskLimits())

	assessment, err := engine.Assess(context.Background(), uuid.New(), &domain.Action{
		Kind: domain.ActionTransfer, Amount: 10000,
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if assessment.Decision != domain.RiskAllow {
		t.Fatalf("expected allow, got %s", assessment.Decision)
	}
}

func TestAssess_ReadOnlyKindsAlwaysAllowed(t *testing.T) {
	repo := newEngineRepoStub()
	engine := NewRiskEngine(repo, testRiskLimits())

	assessment, err := engine.Assess(context.Background(), uuid.New(), &domain.Action{
		Kind: domain.ActionBalanceQuery,
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if assessment.Decision != domain.RiskAllow {
		t.Fatalf("expected allow for read-only kind, got %s", assessment.Decision)
	}
}
