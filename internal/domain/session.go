/**
 * @description
 * This file defines the conversational session model for the conversation-service.
 * A Session is the durable, per-user unit of state that carries a conversation
 * across inbound message turns. It is mutated exclusively by the engine through
 * compare-and-swap updates on the Version column.
 *
 * @notes
 * - A session in StateIdle must have PendingAction == nil.
 * - Sessions never persist in a terminal state: when the engine reaches
 *   StateSettled/StateDeclined it emits the final message and resets the
 *   row to StateIdle in the same write.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// ConversationState is the top-level state of a user's session.
type ConversationState string

const (
	StateIdle                 ConversationState = "idle"
	StateAwaitingConfirmation ConversationState = "awaiting_confirmation"
	StateAwaitingPIN          ConversationState = "awaiting_pin"
	StateExecuting            ConversationState = "executing"
	StateSettled              ConversationState = "settled"
	StateDeclined             ConversationState = "declined"
)

// Terminal reports whether the state ends the current conversational flow.
func (s ConversationState) Terminal() bool {
	return s == StateSettled || s == StateDeclined
}

// Session is the durable per-user conversation record.
// This struct maps directly to the `sessions` table in the database.
type Session struct {
	UserID            uuid.UUID         `json:"user_id"`
	State             ConversationState `json:"state"`
	PendingAction     *Action           `json:"pending_action,omitempty"`
	GatheringIntent   *Intent           `json:"gathering_intent,omitempty"`
	QueuedIntent      *Intent           `json:"queued_intent,omitempty"`
	FailedPinAttempts int               `json:"failed_pin_attempts"`
	RiskChallenged    bool              `json:"risk_challenged"`
	Version           int64             `json:"version"`
	CreatedAt         time.Time         `json:"created_at"`
	LastActivityAt    time.Time         `json:"last_activity_at"`
	ExpiresAt         *time.Time        `json:"expires_at,omitempty"`
}

// NewSession returns a fresh idle session for a user.
func NewSession(userID uuid.UUID) *Session {
	now := time.Now().UTC()
	return &Session{
		UserID:         userID,
		State:          StateIdle,
		Version:        1,
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// ResetToIdle clears all flow state. Called when a flow reaches a terminal
// outcome, is cancelled, or is expired by the sweep.
func (s *Session) ResetToIdle() {
	s.State = StateIdle
	s.PendingAction = nil
	s.GatheringIntent = nil
	s.FailedPinAttempts = 0
	s.RiskChallenged = false
	s.ExpiresAt = nil
}
