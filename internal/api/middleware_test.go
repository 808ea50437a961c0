package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func signBody(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookSignatureMiddleware_AcceptsValidSignature(t *testing.T) {
	secret := "whsec_test"
	body := `{"user_id":"u1"}`

	var sawBody string
	handler := WebhookSignatureMiddleware(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		sawBody = string(raw)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/engine/messages", strings.NewReader(body))
	req.Header.Set(SignatureHeader, signBody(secret, body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if sawBody != body {
		t.Fatalf("expected body passed through intact, got %q", sawBody)
	}
}

func TestWebhookSignatureMiddleware_RejectsBadSignature(t *testing.T) {
	handler := WebhookSignatureMiddleware("whsec_test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run for a bad signature")
	}))

	req := httptest.NewRequest(http.MethodPost, "/engine/messages", strings.NewReader(`{}`))
	req.Header.Set(SignatureHeader, "deadbeef")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestWebhookSignatureMiddleware_RejectsMissingSignature(t *testing.T) {
	handler := WebhookSignatureMiddleware("whsec_test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without a signature")
	}))

	req := httptest.NewRequest(http.MethodPost, "/engine/messages", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestWebhookSignatureMiddleware_DisabledWithoutSecret(t *testing.T) {
	handler := WebhookSignatureMiddleware("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/engine/messages", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected verification skipped, got %d", rec.Code)
	}
}
