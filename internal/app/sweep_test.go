package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cyrax/conversation-service/internal/domain"
	"github.com/cyrax/conversation-service/pkg/rabbitmq"
)

type publisherStub struct {
	published []struct {
		exchange   string
		routingKey string
		body       interface{}
	}
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.published = append(p.published, struct {
		exchange   string
		routingKey string
		body       interface{}
	}{exchange, routingKey, body})
	return nil
}

func (p *publisherStub) Close() {}

func TestSweepOnce_ExpiresOverdueSession(t *testing.T) {
	repo := newEngineRepoStub()
	publisher := &publisherStub{}
	sweeper := NewSweeper(repo, publisher, "test.events", 100)
	userID := uuid.New()

	session := domain.NewSession(userID)
	session.State = domain.StateAwaitingConfirmation
	session.PendingAction = &domain.Action{Kind: domain.ActionTransfer, Amount: 10000, RecipientRef: "27821234567", IdempotencyKey: uuid.NewString()}
	past := time.Now().Add(-time.Minute)
	session.ExpiresAt = &past
	if err := repo.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("failed to seed session: %v", err)
	}

	if err := sweeper.SweepOnce(context.Background()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	stored := repo.sessions[userID]
	if stored.State != domain.StateIdle || stored.PendingAction != nil {
		t.Fatalf("expected session reset, got %+v", stored)
	}
	if len(publisher.published) != 1 {
		t.Fatalf("expected one expiry notice, got %d", len(publisher.published))
	}
	if publisher.published[0].routingKey != rabbitmq.ExpiryNoticeRoutingKey {
		t.Fatalf("expected expiry routing key, got %s", publisher.published[0].routingKey)
	}
	notice, ok := publisher.published[0].body.(*domain.OutboundMessage)
	if !ok || notice.UserID != userID {
		t.Fatalf("expected expiry notice for user, got %+v", publisher.published[0].body)
	}
}

func TestSweepOnce_SkipsSessionsWonByConcurrentMessage(t *testing.T) {
	repo := newEngineRepoStub()
	publisher := &publisherStub{}
	sweeper := NewSweeper(repo, publisher, "test.events", 100)
	userID := uuid.New()

	session := domain.NewSession(userID)
	session.State = domain.StateAwaitingPIN
	past := time.Now().Add(-time.Minute)
	session.ExpiresAt = &past
	if err := repo.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("failed to seed session: %v", err)
	}

	// A message handler wins the CAS race before the sweep writes.
	repo.conflictsToInject = 1

	if err := sweeper.SweepOnce(context.Background()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(publisher.published) != 0 {
		t.Fatalf("expected no notice for skipped session, got %d", len(publisher.published))
	}
	if repo.sessions[userID].State != domain.StateAwaitingPIN {
		t.Fatal("expected session untouched after lost race")
	}
}

func TestSweepOnce_LeavesFreshSessionsAlone(t *testing.T) {
	repo := newEngineRepoStub()
	sweeper := NewSweeper(repo, nil, "test.events", 100)
	userID := uuid.New()

	session := domain.NewSession(userID)
	session.State = domain.StateAwaitingConfirmation
	future := time.Now().Add(5 * time.Minute)
	session.ExpiresAt = &future
	if err := repo.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("failed to seed session: %v", err)
	}

	if err := sweeper.SweepOnce(context.Background()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if repo.sessions[userID].State != domain.StateAwaitingConfirmation {
		t.Fatal("expected unexpired session untouched")
	}
}
