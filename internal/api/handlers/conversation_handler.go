package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/relaydesk/relaydesk/internal/core"
	"github.com/relaydesk/relaydesk/internal/core/convstate"
	"github.com/relaydesk/relaydesk/internal/core/orchestrator"
	"github.com/relaydesk/relaydesk/internal/models"
)

// ConversationHandler binds the orchestration core to HTTP.
type ConversationHandler struct {
	store core.Store
	orch  *orchestrator.Orchestrator
}

func NewConversationHandler(store core.Store, orch *orchestrator.Orchestrator) *ConversationHandler {
	return &ConversationHandler{store: store, orch: orch}
}

type openConversationRequest struct {
	TenantID string         `json:"tenant_id"`
	Channel  models.Channel `json:"channel"`
}

func (h *ConversationHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req openConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.TenantID == "" {
		http.Error(w, "tenant_id required", http.StatusBadRequest)
		return
	}
	switch req.Channel {
	case models.ChannelWeb, models.ChannelEmail, models.ChannelChatApp, models.ChannelAPI:
	default:
		http.Error(w, "unknown channel", http.StatusBadRequest)
		return
	}

	now := time.Now()
	conv := &models.Conversation{
		ID:             uuid.NewString(),
		TenantID:       req.TenantID,
		Channel:        req.Channel,
		State:          convstate.Initial,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := h.store.CreateConversation(r.Context(), conv); err != nil {
		http.Error(w, "create conversation failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(conv)
}

func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	conv, err := h.store.GetConversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	if conv == nil {
		http.Error(w, "conversation not found", http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(conv)
}

type postMessageRequest struct {
	Content             string  `json:"content"`
	EscalationThreshold float64 `json:"escalation_threshold,omitempty"`
}

// PostMessage runs one message through the orchestrator.
func (h *ConversationHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	res, err := h.orch.Process(r.Context(), orchestrator.Request{
		ConversationID:      chi.URLParam(r, "id"),
		Content:             req.Content,
		EscalationThreshold: req.EscalationThreshold,
	})
	if err != nil {
		writeCoreError(w, err)
		return
	}
	json.NewEncoder(w).Encode(res)
}

// Transfer records a human agent accepting an escalated conversation.
func (h *ConversationHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	conv, err := h.orch.Transfer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeCoreError(w, err)
		return
	}
	json.NewEncoder(w).Encode(conv)
}

// Resolve closes out a conversation.
func (h *ConversationHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	conv, err := h.orch.Resolve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeCoreError(w, err)
		return
	}
	json.NewEncoder(w).Encode(conv)
}

// writeCoreError maps core error kinds onto HTTP statuses. Hard failures
// carry their diagnostic text; the end user never sees these (the web
// frontend does, operators do).
func writeCoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrConversationNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, core.ErrEmptyMessage):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, core.ErrConcurrentProcessing):
		http.Error(w, err.Error(), http.StatusConflict)
	case core.IsInvalidTransition(err):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
