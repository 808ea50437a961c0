/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the conversation-service. By defining an interface,
 * we decouple the engine's business logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/cyrax/conversation-service/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionConflict     = errors.New("session version conflict")
	ErrLedgerEntryNotFound = errors.New("ledger entry not found")
	ErrPINNotSet           = errors.New("transaction pin not set")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Session methods. UpdateSessionCAS writes the session only if the
	// stored version equals expectedVersion, returning ErrSessionConflict
	// otherwise. On success the session's Version has been incremented.
	GetSession(ctx context.Context, userID uuid.UUID) (*domain.Session, error)
	CreateSession(ctx context.Context, session *domain.Session) error
	UpdateSessionCAS(ctx context.Context, session *domain.Session, expectedVersion int64) error
	ListExpiredSessions(ctx context.Context, now time.Time, limit int) ([]domain.Session, error)
	CountSessionsByState(ctx context.Context) (map[string]int64, error)

	// Inbound message dedupe. ClaimInboundMessage atomically reserves a
	// (userID, messageID) pair for processing; claimed=false means the
	// message was seen before, with the stored reply when processing
	// already finished. ReleaseInboundMessage gives a claim back when
	// processing failed, so the channel's redelivery is reprocessed instead
	// of suppressed; claims that already stored a reply are never released.
	ClaimInboundMessage(ctx context.Context, userID uuid.UUID, messageID string) (claimed bool, reply *string, err error)
	ReleaseInboundMessage(ctx context.Context, userID uuid.UUID, messageID string) error
	StoreInboundMessageReply(ctx context.Context, userID uuid.UUID, messageID string, reply string) error

	// Idempotency ledger. CreateLedgerEntry conditionally inserts an
	// in-flight entry; created=false means an entry already existed and is
	// returned instead. ResolveLedgerEntry moves an in-flight entry to a
	// terminal status; it is a no-op (resolved=false) when the entry is
	// already terminal, which is what makes concurrent retries single-writer.
	CreateLedgerEntry(ctx context.Context, key string) (entry *domain.LedgerEntry, created bool, err error)
	GetLedgerEntry(ctx context.Context, key string) (*domain.LedgerEntry, error)
	ResolveLedgerEntry(ctx context.Context, key, status string, gatewayRef, failureReason *string) (resolved bool, err error)
	CountLedgerEntriesByStatus(ctx context.Context) (map[string]int64, error)

	// Transaction audit records.
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	SettleTransactionByKey(ctx context.Context, idempotencyKey, status string, gatewayRef, failureReason *string) error
	FindTransactionsByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Transaction, error)
	SumSettledAmountSince(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error)

	// PIN credential methods.
	GetPinCredential(ctx context.Context, userID uuid.UUID) (*domain.PinCredential, error)
	UpsertPinCredential(ctx context.Context, userID uuid.UUID, pinHash string) error
	RecordFailedPinAttempt(ctx context.Context, userID uuid.UUID, maxAttempts int, lockoutSeconds int) (*domain.PinCredential, error)
	ResetPinFailureState(ctx context.Context, userID uuid.UUID) error
	CountFailedPinAttemptsSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)
}
