package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestPinAuthenticator_SetAndVerify(t *testing.T) {
	repo := newEngineRepoStub()
	auth := NewPinAuthenticator(repo, 3, 1800)
	userID := uuid.New()
	ctx := context.Background()

	if err := auth.SetPIN(ctx, userID, "4591"); err != nil {
		t.Fatalf("expected pin enrolled, got %v", err)
	}
	if cred := repo.creds[userID]; cred.PinHash == "4591" {
		t.Fatal("expected pin stored hashed, found plaintext")
	}

	verdict, _, err := auth.Verify(ctx, userID, "4591")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if verdict != PinMatch {
		t.Fatalf("expected match, got %s", verdict)
	}
}

func TestPinAuthenticator_VerifyWithoutCredential(t *testing.T) {
	repo := newEngineRepoStub()
	auth := NewPinAuthenticator(repo, 3, 1800)

	verdict, _, err := auth.Verify(context.Background(), uuid.New(), "4591")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if verdict != PinNotSet {
		t.Fatalf("expected not_set, got %s", verdict)
	}
}

func TestPinAuthenticator_LockoutAfterMaxMismatches(t *testing.T) {
	repo := newEngineRepoStub()
	auth := NewPinAuthenticator(repo, 3, 1800)
	userID := uuid.New()
	ctx := context.Background()

	if err := auth.SetPIN(ctx, userID, "4591"); err != nil {
		t.Fatalf("expected pin enrolled, got %v", err)
	}

	verdict, remaining, _ := auth.Verify(ctx, userID, "0001")
	if verdict != PinMismatch || remaining != 2 {
		t.Fatalf("expected mismatch with 2 remaining, got %s %d", verdict, remaining)
	}
	verdict, remaining, _ = auth.Verify(ctx, userID, "0002")
	if verdict != PinMismatch || remaining != 1 {
		t.Fatalf("expected mismatch with 1 remaining, got %s %d", verdict, remaining)
	}
	if verdict, _, _ = auth.Verify(ctx, userID, "0003"); verdict != PinLockedOut {
		t.Fatalf("expected lockout on third mismatch, got %s", verdict)
	}

	// The correct PIN is still rejected until the lockout expires.
	if verdict, _, _ = auth.Verify(ctx, userID, "4591"); verdict != PinLockedOut {
		t.Fatalf("expected lockout to hold for correct pin, got %s", verdict)
	}

	// Expired lockout: a correct PIN matches and resets the counter.
	past := time.Now().Add(-time.Second)
	repo.creds[userID].LockedUntil = &past
	if verdict, _, _ = auth.Verify(ctx, userID, "4591"); verdict != PinMatch {
		t.Fatalf("expected match after lockout expiry, got %s", verdict)
	}
	if repo.creds[userID].FailedAttempts != 0 {
		t.Fatalf("expected counter reset on match, got %d", repo.creds[userID].FailedAttempts)
	}
}

func TestPinAuthenticator_MatchResetsCounter(t *testing.T) {
	repo := newEngineRepoStub()
	auth := NewPinAuthenticator(repo, 3, 1800)
	userID := uuid.New()
	ctx := context.Background()

	if err := auth.SetPIN(ctx, userID, "4591"); err != nil {
		t.Fatalf("expected pin enrolled, got %v", err)
	}
	auth.Verify(ctx, userID, "0001")
	auth.Verify(ctx, userID, "4591")

	verdict, remaining, _ := auth.Verify(ctx, userID, "0002")
	if verdict != PinMismatch || remaining != 2 {
		t.Fatalf("expected full attempt budget after match, got %s %d", verdict, remaining)
	}
}

func TestSetPIN_RejectsBadFormats(t *testing.T) {
	repo := newEngineRepoStub()
	auth := NewPinAuthenticator(repo, 3, 1800)
	userID := uuid.New()
	ctx := context.Background()

	for _, pin := range []string{"123", "1234567", "12a4", ""} {
		if err := auth.SetPIN(ctx, userID, pin); err != ErrPINFormat {
			t.Fatalf("expected format error for %q, got %v", pin, err)
		}
	}
	for _, pin := range []string{"1234", "0000", "123456"} {
		if err := auth.SetPIN(ctx, userID, pin); err != ErrPINWeak {
			t.Fatalf("expected weak-pin error for %q, got %v", pin, err)
		}
	}
	if len(repo.creds) != 0 {
		t.Fatal("expected no credential stored for rejected pins")
	}
}
