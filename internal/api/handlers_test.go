package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cyrax/conversation-service/internal/store"
)

// countsRepoStub backs the admin handlers. Embedding the interface keeps the
// stub small; only the methods a test exercises are implemented.
type countsRepoStub struct {
	store.Repository
	sessionCounts map[string]int64
	ledgerCounts  map[string]int64
	err           error
}

func (s *countsRepoStub) CountSessionsByState(ctx context.Context) (map[string]int64, error) {
	return s.sessionCounts, s.err
}

func (s *countsRepoStub) CountLedgerEntriesByStatus(ctx context.Context) (map[string]int64, error) {
	return s.ledgerCounts, s.err
}

func TestInboundMessageHandler_RejectsMalformedBody(t *testing.T) {
	h := NewEngineHandlers(nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/engine/messages", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.InboundMessageHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestInboundMessageHandler_RejectsBadUserID(t *testing.T) {
	h := NewEngineHandlers(nil, nil)

	body := `{"user_id":"not-a-uuid","message_id":"wamid.1","text":"hi"}`
	req := httptest.NewRequest(http.MethodPost, "/engine/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.InboundMessageHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	if !strings.Contains(resp["error"], "user_id") {
		t.Fatalf("expected user_id error, got %q", resp["error"])
	}
}

func TestInboundMessageHandler_RejectsMissingMessageID(t *testing.T) {
	h := NewEngineHandlers(nil, nil)

	body := `{"user_id":"6ba7b810-9dad-11d1-80b4-00c04fd430c8","text":"hi"}`
	req := httptest.NewRequest(http.MethodPost, "/engine/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.InboundMessageHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestInboundMessageHandler_RejectsEmptyPayload(t *testing.T) {
	h := NewEngineHandlers(nil, nil)

	body := `{"user_id":"6ba7b810-9dad-11d1-80b4-00c04fd430c8","message_id":"wamid.1"}`
	req := httptest.NewRequest(http.MethodPost, "/engine/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.InboundMessageHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a message with no text, got %d", rec.Code)
	}
}

func TestSessionCountsHandler(t *testing.T) {
	h := NewEngineHandlers(nil, &countsRepoStub{
		sessionCounts: map[string]int64{"idle": 12, "awaiting_pin": 2},
	})

	req := httptest.NewRequest(http.MethodGet, "/admin/sessions/counts", nil)
	rec := httptest.NewRecorder()
	h.SessionCountsHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Counts map[string]int `json:"counts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Counts["idle"] != 12 || resp.Counts["awaiting_pin"] != 2 {
		t.Fatalf("unexpected counts: %+v", resp.Counts)
	}
}

func TestLedgerCountsHandler(t *testing.T) {
	h := NewEngineHandlers(nil, &countsRepoStub{
		ledgerCounts: map[string]int64{"in_flight": 1, "succeeded": 40},
	})

	req := httptest.NewRequest(http.MethodGet, "/admin/ledger/counts", nil)
	rec := httptest.NewRecorder()
	h.LedgerCountsHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Counts map[string]int `json:"counts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Counts["succeeded"] != 40 {
		t.Fatalf("unexpected counts: %+v", resp.Counts)
	}
}
