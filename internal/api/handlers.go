/**
 * @description
 * This file contains the HTTP handlers for the conversation-service's API
 * endpoints. Handlers are responsible for parsing incoming requests, calling
 * the appropriate methods on the engine, and writing the HTTP response. They
 * act as the bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For engine logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/cyrax/conversation-service/internal/app"
	"github.com/cyrax/conversation-service/internal/domain"
	"github.com/cyrax/conversation-service/internal/store"
)

// EngineHandlers holds the engine and repository that handlers will use.
type EngineHandlers struct {
	orchestrator *app.Orchestrator
	repo         store.Repository
}

func NewEngineHandlers(orchestrator *app.Orchestrator, repo store.Repository) *EngineHandlers {
	return &EngineHandlers{orchestrator: orchestrator, repo: repo}
}

// inboundMessageRequest is the webhook payload delivered by the messaging
// channel collaborator.
type inboundMessageRequest struct {
	UserID             string         `json:"user_id"`
	MessageID          string         `json:"message_id"`
	Text               string         `json:"text,omitempty"`
	VoiceTranscript    string         `json:"voice_transcript,omitempty"`
	ImageExtractedText string         `json:"image_extracted_text,omitempty"`
	Timestamp          time.Time      `json:"timestamp"`
	Intent             *domain.Intent `json:"intent,omitempty"`
}

// InboundMessageHandler accepts one inbound message and returns the engine's
// reply synchronously.
func (h *EngineHandlers) InboundMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req inboundMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "user_id must be a UUID")
		return
	}
	if req.MessageID == "" {
		respondWithError(w, http.StatusBadRequest, "message_id is required")
		return
	}

	msg := domain.InboundMessage{
		UserID:             userID,
		MessageID:          req.MessageID,
		Text:               req.Text,
		VoiceTranscript:    req.VoiceTranscript,
		ImageExtractedText: req.ImageExtractedText,
		Timestamp:          req.Timestamp,
		Intent:             req.Intent,
	}
	if msg.Body() == "" {
		respondWithError(w, http.StatusBadRequest, "message carries no text payload")
		return
	}

	out, err := h.orchestrator.HandleInbound(r.Context(), msg)
	if err != nil {
		log.Printf("level=error component=api msg=\"failed to handle inbound message\" user_id=%s message_id=%s err=%v", req.UserID, req.MessageID, err)
		if errors.Is(err, app.ErrEngineUnavailable) {
			respondWithError(w, http.StatusServiceUnavailable, "engine temporarily unavailable")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "failed to process message")
		return
	}

	respondWithJSON(w, http.StatusOK, out)
}

// SessionCountsHandler reports session counts grouped by state.
func (h *EngineHandlers) SessionCountsHandler(w http.ResponseWriter, r *http.Request) {
	counts, err := h.repo.CountSessionsByState(r.Context())
	if err != nil {
		log.Printf("level=error component=api msg=\"failed to count sessions\" err=%v", err)
		respondWithError(w, http.StatusInternalServerError, "failed to count sessions")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"counts": counts})
}

// LedgerCountsHandler reports idempotency ledger counts grouped by status.
func (h *EngineHandlers) LedgerCountsHandler(w http.ResponseWriter, r *http.Request) {
	counts, err := h.repo.CountLedgerEntriesByStatus(r.Context())
	if err != nil {
		log.Printf("level=error component=api msg=\"failed to count ledger entries\" err=%v", err)
		respondWithError(w, http.StatusInternalServerError, "failed to count ledger entries")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"counts": counts})
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"failed to marshal response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
