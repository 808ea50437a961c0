package domain

import (
	"time"

	"github.com/google/uuid"
)

// PinCredential stores server-owned transaction PIN security metadata.
// The plaintext PIN is never persisted; PinHash is a bcrypt hash.
type PinCredential struct {
	UserID         uuid.UUID  `json:"user_id"`
	PinHash        string     `json:"-"`
	FailedAttempts int        `json:"failed_attempts"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Locked reports whether the credential is under an active lockout.
func (c *PinCredential) Locked(now time.Time) bool {
	return c != nil && c.LockedUntil != nil && c.LockedUntil.After(now)
}
