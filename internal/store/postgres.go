/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface
 * using the pgx driver. It contains the SQL queries that back session CAS
 * updates, the idempotency ledger's conditional writes, the append-only
 * transaction log, PIN credentials, and inbound-message dedupe.
 *
 * @notes
 * - Session flow state (pending action, gathering/queued intents) is stored
 *   as JSONB so the schema does not change with every new slot.
 * - The ledger's resolve query is conditional on `status = 'in_flight'`:
 *   under concurrent retries of the same key only one writer lands the
 *   terminal outcome.
 */

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cyrax/conversation-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository implements Repository against a pgx connection pool.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new repository backed by the given pool.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// sessionRow is the JSONB-backed flow state of a session.
type sessionFlowState struct {
	PendingAction   *domain.Action `json:"pending_action,omitempty"`
	GatheringIntent *domain.Intent `json:"gathering_intent,omitempty"`
	QueuedIntent    *domain.Intent `json:"queued_intent,omitempty"`
}

func marshalFlowState(s *domain.Session) ([]byte, error) {
	return json.Marshal(sessionFlowState{
		PendingAction:   s.PendingAction,
		GatheringIntent: s.GatheringIntent,
		QueuedIntent:    s.QueuedIntent,
	})
}

func unmarshalFlowState(raw []byte, s *domain.Session) error {
	if len(raw) == 0 {
		return nil
	}
	var fs sessionFlowState
	if err := json.Unmarshal(raw, &fs); err != nil {
		return fmt.Errorf("failed to decode session flow state: %w", err)
	}
	s.PendingAction = fs.PendingAction
	s.GatheringIntent = fs.GatheringIntent
	s.QueuedIntent = fs.QueuedIntent
	return nil
}

// GetSession retrieves the session for a user.
func (r *PostgresRepository) GetSession(ctx context.Context, userID uuid.UUID) (*domain.Session, error) {
	var (
		session domain.Session
		flow    []byte
	)
	query := `
		SELECT user_id, state, flow_state, failed_pin_attempts, risk_challenged,
		       version, created_at, last_activity_at, expires_at
		FROM sessions
		WHERE user_id = $1
	`
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&session.UserID,
		&session.State,
		&flow,
		&session.FailedPinAttempts,
		&session.RiskChallenged,
		&session.Version,
		&session.CreatedAt,
		&session.LastActivityAt,
		&session.ExpiresAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if err := unmarshalFlowState(flow, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// CreateSession inserts a fresh session row. A concurrent insert for the
// same user surfaces as ErrSessionConflict so the caller reloads.
func (r *PostgresRepository) CreateSession(ctx context.Context, session *domain.Session) error {
	flow, err := marshalFlowState(session)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO sessions (user_id, state, flow_state, failed_pin_attempts, risk_challenged,
		                      version, created_at, last_activity_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query,
		session.UserID, session.State, flow, session.FailedPinAttempts, session.RiskChallenged,
		session.Version, session.CreatedAt, session.LastActivityAt, session.ExpiresAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionConflict
	}
	return nil
}

// UpdateSessionCAS persists the session only if the stored version still
// equals expectedVersion. On success the in-memory Version is bumped to
// match the row.
func (r *PostgresRepository) UpdateSessionCAS(ctx context.Context, session *domain.Session, expectedVersion int64) error {
	flow, err := marshalFlowState(session)
	if err != nil {
		return err
	}
	query := `
		UPDATE sessions
		SET state = $2, flow_state = $3, failed_pin_attempts = $4, risk_challenged = $5,
		    version = version + 1, last_activity_at = $6, expires_at = $7
		WHERE user_id = $1 AND version = $8
	`
	tag, err := r.db.Exec(ctx, query,
		session.UserID, session.State, flow, session.FailedPinAttempts, session.RiskChallenged,
		session.LastActivityAt, session.ExpiresAt, expectedVersion,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionConflict
	}
	session.Version = expectedVersion + 1
	return nil
}

// ListExpiredSessions returns non-terminal sessions past their deadline.
func (r *PostgresRepository) ListExpiredSessions(ctx context.Context, now time.Time, limit int) ([]domain.Session, error) {
	query := `
		SELECT user_id, state, flow_state, failed_pin_attempts, risk_challenged,
		       version, created_at, last_activity_at, expires_at
		FROM sessions
		WHERE expires_at IS NOT NULL AND expires_at < $1
		  AND state NOT IN ('idle', 'settled', 'declined')
		ORDER BY expires_at
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var (
			session domain.Session
			flow    []byte
		)
		if err := rows.Scan(
			&session.UserID, &session.State, &flow, &session.FailedPinAttempts,
			&session.RiskChallenged, &session.Version, &session.CreatedAt,
			&session.LastActivityAt, &session.ExpiresAt,
		); err != nil {
			return nil, err
		}
		if err := unmarshalFlowState(flow, &session); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// CountSessionsByState returns live session counts for the admin surface.
func (r *PostgresRepository) CountSessionsByState(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT state, COUNT(*) FROM sessions GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			state string
			n     int64
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

// ClaimInboundMessage reserves a (user, message) pair for processing.
func (r *PostgresRepository) ClaimInboundMessage(ctx context.Context, userID uuid.UUID, messageID string) (bool, *string, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO processed_messages (user_id, message_id, processed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id, message_id) DO NOTHING
	`, userID, messageID)
	if err != nil {
		return false, nil, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil, nil
	}

	var reply *string
	err = r.db.QueryRow(ctx,
		`SELECT reply_text FROM processed_messages WHERE user_id = $1 AND message_id = $2`,
		userID, messageID,
	).Scan(&reply)
	if err != nil && err != pgx.ErrNoRows {
		return false, nil, err
	}
	return false, reply, nil
}

// ReleaseInboundMessage deletes a claim whose processing failed so the
// channel's redelivery of the same message is reprocessed. The reply_text
// guard keeps finished messages claimed.
func (r *PostgresRepository) ReleaseInboundMessage(ctx context.Context, userID uuid.UUID, messageID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM processed_messages WHERE user_id = $1 AND message_id = $2 AND reply_text IS NULL`,
		userID, messageID,
	)
	return err
}

// StoreInboundMessageReply records the reply emitted for a processed message
// so duplicate deliveries can be acknowledged with the same text.
func (r *PostgresRepository) StoreInboundMessageReply(ctx context.Context, userID uuid.UUID, messageID string, reply string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE processed_messages SET reply_text = $3 WHERE user_id = $1 AND message_id = $2`,
		userID, messageID, reply,
	)
	return err
}

// CreateLedgerEntry conditionally inserts an in-flight entry for the key.
func (r *PostgresRepository) CreateLedgerEntry(ctx context.Context, key string) (*domain.LedgerEntry, bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO idempotency_ledger (idempotency_key, status, created_at, updated_at)
		VALUES ($1, 'in_flight', NOW(), NOW())
		ON CONFLICT (idempotency_key) DO NOTHING
	`, key)
	if err != nil {
		return nil, false, err
	}
	entry, err := r.GetLedgerEntry(ctx, key)
	if err != nil {
		return nil, false, err
	}
	return entry, tag.RowsAffected() == 1, nil
}

// GetLedgerEntry fetches the ledger entry for an idempotency key.
func (r *PostgresRepository) GetLedgerEntry(ctx context.Context, key string) (*domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	err := r.db.QueryRow(ctx, `
		SELECT idempotency_key, status, gateway_ref, failure_reason, created_at, updated_at
		FROM idempotency_ledger
		WHERE idempotency_key = $1
	`, key).Scan(
		&entry.IdempotencyKey, &entry.Status, &entry.GatewayRef,
		&entry.FailureReason, &entry.CreatedAt, &entry.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrLedgerEntryNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// ResolveLedgerEntry moves an in-flight entry to a terminal status. The
// WHERE clause makes the write single-writer-wins: a second resolver for
// the same key observes resolved=false and must reload the entry.
func (r *PostgresRepository) ResolveLedgerEntry(ctx context.Context, key, status string, gatewayRef, failureReason *string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE idempotency_ledger
		SET status = $2, gateway_ref = $3, failure_reason = $4, updated_at = NOW()
		WHERE idempotency_key = $1 AND status = 'in_flight'
	`, key, status, gatewayRef, failureReason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CountLedgerEntriesByStatus returns ledger counts for the admin surface.
func (r *PostgresRepository) CountLedgerEntriesByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM idempotency_ledger GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// CreateTransaction appends a new transaction audit record.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO transactions (id, user_id, kind, amount, recipient_ref, network,
		                          idempotency_key, status, gateway_ref, failure_reason, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, tx.ID, tx.UserID, tx.Kind, tx.Amount, tx.RecipientRef, tx.Network,
		tx.IdempotencyKey, tx.Status, tx.GatewayRef, tx.FailureReason, tx.RequestedAt)
	return err
}

// SettleTransactionByKey records the terminal outcome for a transaction.
// Records already settled are left untouched; the transaction log is
// append-only with respect to terminal outcomes.
func (r *PostgresRepository) SettleTransactionByKey(ctx context.Context, idempotencyKey, status string, gatewayRef, failureReason *string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE transactions
		SET status = $2, gateway_ref = COALESCE($3, gateway_ref),
		    failure_reason = $4, settled_at = NOW()
		WHERE idempotency_key = $1 AND status = 'in_flight'
	`, idempotencyKey, status, gatewayRef, failureReason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// FindTransactionsByUserID returns the user's most recent transactions.
func (r *PostgresRepository) FindTransactionsByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Transaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, kind, amount, recipient_ref, network, idempotency_key,
		       status, gateway_ref, failure_reason, requested_at, settled_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY requested_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		if err := rows.Scan(
			&tx.ID, &tx.UserID, &tx.Kind, &tx.Amount, &tx.RecipientRef, &tx.Network,
			&tx.IdempotencyKey, &tx.Status, &tx.GatewayRef, &tx.FailureReason,
			&tx.RequestedAt, &tx.SettledAt,
		); err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// SumSettledAmountSince returns the user's cumulative succeeded amount in
// the trailing window. Used for velocity checks.
func (r *PostgresRepository) SumSettledAmountSince(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error) {
	var total int64
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE user_id = $1 AND status = 'succeeded' AND settled_at >= $2
	`, userID, since).Scan(&total)
	return total, err
}

// GetPinCredential returns transaction PIN security metadata for a user.
func (r *PostgresRepository) GetPinCredential(ctx context.Context, userID uuid.UUID) (*domain.PinCredential, error) {
	var credential domain.PinCredential
	err := r.db.QueryRow(ctx, `
		SELECT user_id, pin_hash, failed_attempts, locked_until, updated_at
		FROM pin_credentials
		WHERE user_id = $1
	`, userID).Scan(
		&credential.UserID,
		&credential.PinHash,
		&credential.FailedAttempts,
		&credential.LockedUntil,
		&credential.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPINNotSet
		}
		return nil, err
	}
	if credential.PinHash == "" {
		return nil, ErrPINNotSet
	}
	return &credential, nil
}

// UpsertPinCredential stores a new PIN hash and clears failure state.
func (r *PostgresRepository) UpsertPinCredential(ctx context.Context, userID uuid.UUID, pinHash string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO pin_credentials (user_id, pin_hash, failed_attempts, locked_until, updated_at)
		VALUES ($1, $2, 0, NULL, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET pin_hash = EXCLUDED.pin_hash, failed_attempts = 0, locked_until = NULL, updated_at = NOW()
	`, userID, pinHash)
	return err
}

// RecordFailedPinAttempt atomically increments failed attempts, applies
// lockout on reaching maxAttempts, and logs the attempt for risk checks.
func (r *PostgresRepository) RecordFailedPinAttempt(ctx context.Context, userID uuid.UUID, maxAttempts int, lockoutSeconds int) (*domain.PinCredential, error) {
	var credential domain.PinCredential
	err := r.db.QueryRow(ctx, `
		UPDATE pin_credentials
		SET
			failed_attempts = CASE
				WHEN locked_until IS NOT NULL AND locked_until <= NOW() THEN 1
				ELSE failed_attempts + 1
			END,
			locked_until = CASE
				WHEN (
					CASE
						WHEN locked_until IS NOT NULL AND locked_until <= NOW() THEN 1
						ELSE failed_attempts + 1
					END
				) >= $2 THEN NOW() + ($3 * INTERVAL '1 second')
				ELSE locked_until
			END,
			updated_at = NOW()
		WHERE user_id = $1
		RETURNING user_id, pin_hash, failed_attempts, locked_until, updated_at
	`, userID, maxAttempts, lockoutSeconds).Scan(
		&credential.UserID,
		&credential.PinHash,
		&credential.FailedAttempts,
		&credential.LockedUntil,
		&credential.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPINNotSet
		}
		return nil, err
	}

	if _, err := r.db.Exec(ctx,
		`INSERT INTO pin_attempt_log (user_id, attempted_at) VALUES ($1, NOW())`,
		userID,
	); err != nil {
		return nil, err
	}
	return &credential, nil
}

// ResetPinFailureState clears failure counters after a successful verify.
func (r *PostgresRepository) ResetPinFailureState(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE pin_credentials
		SET failed_attempts = 0, locked_until = NULL, updated_at = NOW()
		WHERE user_id = $1
	`, userID)
	return err
}

// CountFailedPinAttemptsSince counts recent failed attempts for risk checks.
func (r *PostgresRepository) CountFailedPinAttemptsSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM pin_attempt_log WHERE user_id = $1 AND attempted_at >= $2`,
		userID, since,
	).Scan(&n)
	return n, err
}
