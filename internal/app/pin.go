/**
 * @description
 * PIN authentication and enrollment. PINs are bcrypt-hashed at rest; a bounded
 * number of consecutive mismatches locks the credential for a configured
 * window. Lockout accounting lives in the store so it survives restarts and
 * is atomic under concurrent attempts.
 *
 * @dependencies
 * - golang.org/x/crypto/bcrypt: One-way PIN hashing.
 * - internal/store: Credential persistence and lockout accounting.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/cyrax/conversation-service/internal/store"
)

// PinVerdict is the outcome of a single PIN verification.
type PinVerdict string

const (
	PinMatch     PinVerdict = "match"
	PinMismatch  PinVerdict = "mismatch"
	PinLockedOut PinVerdict = "locked_out"
	PinNotSet    PinVerdict = "not_set"
)

// Sequential and repeated-digit PINs rejected at enrollment.
var weakPINs = map[string]bool{
	"0000": true, "1111": true, "2222": true, "3333": true, "4444": true,
	"5555": true, "6666": true, "7777": true, "8888": true, "9999": true,
	"1234": true, "4321": true, "0123": true, "123456": true, "654321": true,
	"000000": true, "111111": true,
}

var (
	ErrPINFormat = errors.New("pin must be 4 to 6 digits")
	ErrPINWeak   = errors.New("pin is too easy to guess")
)

// PinAuthenticator verifies and enrolls transaction PINs.
type PinAuthenticator struct {
	repo           store.Repository
	maxAttempts    int
	lockoutSeconds int
	bcryptCost     int
}

func NewPinAuthenticator(repo store.Repository, maxAttempts, lockoutSeconds int) *PinAuthenticator {
	return &PinAuthenticator{
		repo:           repo,
		maxAttempts:    maxAttempts,
		lockoutSeconds: lockoutSeconds,
		bcryptCost:     bcrypt.DefaultCost,
	}
}

// Verify checks the candidate PIN against the stored credential. A mismatch
// increments the persistent failure counter; crossing the attempt ceiling
// locks the credential. remaining is meaningful only for PinMismatch.
func (a *PinAuthenticator) Verify(ctx context.Context, userID uuid.UUID, candidate string) (verdict PinVerdict, remaining int, err error) {
	cred, err := a.repo.GetPinCredential(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrPINNotSet) {
			return PinNotSet, 0, nil
		}
		return "", 0, fmt.Errorf("loading pin credential: %w", err)
	}

	if cred.Locked(time.Now()) {
		return PinLockedOut, 0, nil
	}

	if bcrypt.CompareHashAndPassword([]byte(cred.PinHash), []byte(candidate)) == nil {
		if err := a.repo.ResetPinFailureState(ctx, userID); err != nil {
			// The match stands; a stale counter only shortens the next allowance.
			log.Printf("level=warn component=pin_auth msg=\"failed to reset pin failure state\" user_id=%s err=%v", userID, err)
		}
		return PinMatch, 0, nil
	}

	updated, err := a.repo.RecordFailedPinAttempt(ctx, userID, a.maxAttempts, a.lockoutSeconds)
	if err != nil {
		return "", 0, fmt.Errorf("recording failed pin attempt: %w", err)
	}
	if updated.Locked(time.Now()) {
		return PinLockedOut, 0, nil
	}
	remaining = a.maxAttempts - updated.FailedAttempts
	if remaining < 0 {
		remaining = 0
	}
	return PinMismatch, remaining, nil
}

// SetPIN validates and enrolls a new PIN, replacing any previous one and
// clearing failure state.
func (a *PinAuthenticator) SetPIN(ctx context.Context, userID uuid.UUID, pin string) error {
	if err := validatePINFormat(pin); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), a.bcryptCost)
	if err != nil {
		return fmt.Errorf("hashing pin: %w", err)
	}
	if err := a.repo.UpsertPinCredential(ctx, userID, string(hash)); err != nil {
		return fmt.Errorf("storing pin credential: %w", err)
	}
	return nil
}

func validatePINFormat(pin string) error {
	if len(pin) < 4 || len(pin) > 6 {
		return ErrPINFormat
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return ErrPINFormat
		}
	}
	if weakPINs[pin] {
		return ErrPINWeak
	}
	return nil
}
