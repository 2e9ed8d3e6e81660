package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/nourly/nourly/internal/chat"
	"github.com/nourly/nourly/internal/log"
	"github.com/nourly/nourly/internal/rag"
)

const maxRequestBody = 1 << 20 // 1 MiB

// chatRunner is the slice of the chat engine the handler needs.
type chatRunner interface {
	Chat(ctx context.Context, req chat.Request) (*chat.Response, error)
}

// ingester is the slice of the indexer the ingest handler needs.
type ingester interface {
	Index(ctx context.Context, src rag.Source) (rag.IndexResult, error)
}

type chatHandler struct {
	engine chatRunner
	logger log.Logger
}

type chatRequestBody struct {
	UserID      string   `json:"user_id"`
	Name        string   `json:"name"`
	Goal        string   `json:"goal"`
	AccessTier  string   `json:"access_tier"`
	CoachID     string   `json:"coach_id"`
	CoachName   string   `json:"coach_name"`
	DomainType  string   `json:"domain_type"`
	Specialties []string `json:"specialties"`
	Message     string   `json:"message"`
}

type chatResponseBody struct {
	Text          string `json:"text"`
	Source        string `json:"source"`
	Category      string `json:"category,omitempty"`
	RetrievedDocs int    `json:"retrieved_docs"`
	RequestID     string `json:"request_id,omitempty"`
}

// send handles POST /api/v1/chat.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	var body chatRequestBody
	if !decodeBody(w, r, &body, h.logger) {
		return
	}
	if strings.TrimSpace(body.UserID) == "" || strings.TrimSpace(body.CoachID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "user_id and coach_id are required", h.logger)
		return
	}
	if strings.TrimSpace(body.Message) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "message is required", h.logger)
		return
	}

	resp, err := h.engine.Chat(r.Context(), chat.Request{
		User: chat.Profile{
			UserID:     body.UserID,
			Name:       body.Name,
			Goal:       body.Goal,
			AccessTier: body.AccessTier,
		},
		Coach: chat.Coach{
			ID:          body.CoachID,
			DisplayName: body.CoachName,
			DomainType:  body.DomainType,
			Specialties: body.Specialties,
		},
		Message: body.Message,
	})
	if err != nil {
		h.logger.Error("chat turn failed", "error", err, "request_id", requestIDFromContext(r.Context()))
		writeError(w, http.StatusInternalServerError, "chat_failed", "could not process the message", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, chatResponseBody{
		Text:          resp.Text,
		Source:        string(resp.Source),
		Category:      string(resp.Category),
		RetrievedDocs: resp.RetrievedDocs,
		RequestID:     requestIDFromContext(r.Context()),
	}, h.logger)
}

type ingestHandler struct {
	indexer ingester
	logger  log.Logger
}

type ingestRequestBody struct {
	SourceID   string `json:"source_id"`
	Text       string `json:"text"`
	CoachID    string `json:"coach_id"`
	UserID     string `json:"user_id"`
	Category   string `json:"category"`
	Title      string `json:"title"`
	AccessTier string `json:"access_tier"`
}

type ingestResponseBody struct {
	SourceID string `json:"source_id"`
	Chunks   int    `json:"chunks"`
}

// ingest handles POST /api/v1/ingest.
func (h *ingestHandler) ingest(w http.ResponseWriter, r *http.Request) {
	var body ingestRequestBody
	if !decodeBody(w, r, &body, h.logger) {
		return
	}
	if strings.TrimSpace(body.SourceID) == "" || strings.TrimSpace(body.CoachID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "source_id and coach_id are required", h.logger)
		return
	}

	res, err := h.indexer.Index(r.Context(), rag.Source{
		ID:         body.SourceID,
		Text:       body.Text,
		CoachID:    body.CoachID,
		UserID:     body.UserID,
		Category:   body.Category,
		Title:      body.Title,
		AccessTier: body.AccessTier,
	})
	if err != nil {
		h.logger.Error("ingest failed", "error", err, "source_id", body.SourceID)
		writeError(w, http.StatusInternalServerError, "ingest_failed", "could not index the source", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, ingestResponseBody{SourceID: res.SourceID, Chunks: res.Chunks}, h.logger)
}

// decodeBody reads a bounded JSON body, rejecting unknown fields.
// Writes the error response itself and reports success.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, logger log.Logger) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large", logger)
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_json", "could not parse request body", logger)
		return false
	}
	return true
}
