/**
 * @description
 * Handler for asynchronous settlement events relayed from the payment
 * gateway over RabbitMQ. Events resolve only ledger entries still in flight,
 * which covers the window where the engine crashed between dispatching a
 * charge and recording its outcome; entries already terminal are left alone.
 *
 * @notes
 * - Handlers return true to ack. Malformed payloads are acked after logging:
 *   requeueing them can never succeed.
 */
package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/cyrax/conversation-service/internal/domain"
	"github.com/cyrax/conversation-service/internal/store"
)

// Settlement routing keys emitted by the gateway webhook relay.
const (
	SettlementSucceededRoutingKey = "gateway.settlement.succeeded"
	SettlementFailedRoutingKey    = "gateway.settlement.failed"
)

// settlementEvent is the relay's payload for one settled charge.
type settlementEvent struct {
	IdempotencyKey string `json:"idempotency_key"`
	Reference      string `json:"reference"`
	Reason         string `json:"reason,omitempty"`
}

// SettlementConsumer resolves in-flight ledger entries from gateway events.
type SettlementConsumer struct {
	repo store.Repository
}

func NewSettlementConsumer(repo store.Repository) *SettlementConsumer {
	return &SettlementConsumer{repo: repo}
}

// Handlers returns the routing-key bindings for the settlement queue.
func (c *SettlementConsumer) Handlers() map[string]func(body []byte) bool {
	return map[string]func(body []byte) bool{
		SettlementSucceededRoutingKey: func(body []byte) bool {
			return c.handle(body, domain.StatusSucceeded)
		},
		SettlementFailedRoutingKey: func(body []byte) bool {
			return c.handle(body, domain.StatusFailed)
		},
	}
}

func (c *SettlementConsumer) handle(body []byte, status string) bool {
	var event settlementEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=error component=settlement_consumer msg=\"malformed settlement event\" err=%v", err)
		return true
	}
	if event.IdempotencyKey == "" {
		log.Printf("level=error component=settlement_consumer msg=\"settlement event missing idempotency key\"")
		return true
	}

	ctx := context.Background()

	var refPtr, reasonPtr *string
	if event.Reference != "" {
		refPtr = &event.Reference
	}
	if event.Reason != "" {
		reasonPtr = &event.Reason
	}

	resolved, err := c.repo.ResolveLedgerEntry(ctx, event.IdempotencyKey, status, refPtr, reasonPtr)
	if err != nil {
		log.Printf("level=error component=settlement_consumer msg=\"failed to resolve ledger entry\" idempotency_key=%s err=%v", event.IdempotencyKey, err)
		return false
	}
	if !resolved {
		if _, err := c.repo.GetLedgerEntry(ctx, event.IdempotencyKey); errors.Is(err, store.ErrLedgerEntryNotFound) {
			// An event for a charge this engine never dispatched.
			log.Printf("level=warn component=settlement_consumer msg=\"settlement for unknown key\" idempotency_key=%s", event.IdempotencyKey)
		}
		// Otherwise already terminal: the synchronous path won.
		return true
	}

	settlementsTotal.WithLabelValues(status, "event").Inc()
	if err := c.repo.SettleTransactionByKey(ctx, event.IdempotencyKey, status, refPtr, reasonPtr); err != nil && !errors.Is(err, store.ErrTransactionNotFound) {
		log.Printf("level=error component=settlement_consumer msg=\"failed to settle transaction\" idempotency_key=%s err=%v", event.IdempotencyKey, err)
	}

	log.Printf("level=info component=settlement_consumer msg=\"settlement applied\" idempotency_key=%s status=%s", event.IdempotencyKey, status)
	return true
}
