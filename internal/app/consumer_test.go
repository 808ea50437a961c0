package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cyrax/conversation-service/internal/domain"
)

func TestSettlementConsumer_ResolvesInFlightEntry(t *testing.T) {
	repo := newEngineRepoStub()
	consumer := NewSettlementConsumer(repo)
	key := uuid.NewString()
	ctx := context.Background()

	repo.CreateLedgerEntry(ctx, key)
	repo.CreateTransaction(ctx, &domain.Transaction{
		ID: uuid.New(), UserID: uuid.New(), Kind: domain.ActionTransfer,
		Amount: 10000, IdempotencyKey: key, Status: domain.StatusInFlight, RequestedAt: time.Now(),
	})

	handler := consumer.Handlers()[SettlementSucceededRoutingKey]
	if ack := handler([]byte(`{"idempotency_key":"` + key + `","reference":"gw_evt"}`)); !ack {
		t.Fatal("expected event acked")
	}

	entry := repo.ledger[key]
	if entry.Status != domain.StatusSucceeded || entry.GatewayRef == nil || *entry.GatewayRef != "gw_evt" {
		t.Fatalf("expected succeeded entry with reference, got %+v", entry)
	}
	if repo.txs[0].Status != domain.StatusSucceeded {
		t.Fatalf("expected transaction settled, got %s", repo.txs[0].Status)
	}
}

func TestSettlementConsumer_LeavesTerminalEntriesAlone(t *testing.T) {
	repo := newEngineRepoStub()
	consumer := NewSettlementConsumer(repo)
	key := uuid.NewString()
	ctx := context.Background()

	repo.CreateLedgerEntry(ctx, key)
	ref := "gw_first"
	repo.ResolveLedgerEntry(ctx, key, domain.StatusSucceeded, &ref, nil)

	handler := consumer.Handlers()[SettlementFailedRoutingKey]
	if ack := handler([]byte(`{"idempotency_key":"` + key + `","reason":"late decline"}`)); !ack {
		t.Fatal("expected stale event acked")
	}

	entry := repo.ledger[key]
	if entry.Status != domain.StatusSucceeded || *entry.GatewayRef != "gw_first" {
		t.Fatalf("expected terminal entry untouched, got %+v", entry)
	}
}

func TestSettlementConsumer_AcksMalformedAndUnknownEvents(t *testing.T) {
	repo := newEngineRepoStub()
	consumer := NewSettlementConsumer(repo)
	handler := consumer.Handlers()[SettlementSucceededRoutingKey]

	if ack := handler([]byte(`not json`)); !ack {
		t.Fatal("expected malformed event acked, requeueing cannot help")
	}
	if ack := handler([]byte(`{"reference":"gw_x"}`)); !ack {
		t.Fatal("expected keyless event acked")
	}
	if ack := handler([]byte(`{"idempotency_key":"` + uuid.NewString() + `"}`)); !ack {
		t.Fatal("expected unknown-key event acked")
	}
}
