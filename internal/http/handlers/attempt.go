package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/examwatch/proctor/internal/attempt"
	"github.com/examwatch/proctor/internal/middleware"
	"github.com/examwatch/proctor/internal/model"
	"github.com/examwatch/proctor/internal/repo"
	"github.com/go-chi/chi/v5"
)

const (
	// AttemptIDParam is the chi URL parameter carrying the attempt id.
	AttemptIDParam = "attemptId"

	// DefaultMaxEventsBody caps a log-events request body. A batch of
	// small events is well under 200 bytes each.
	DefaultMaxEventsBody int64 = 16 << 20

	msgAttemptNotFound = "Attempt not found"
	msgInvalidEvents   = "Invalid events format"
	msgBatchTooLarge   = "Event batch too large"
	msgUnauthorized    = "invalid or missing attempt token"
	msgInternal        = "internal error"
)

var errInvalidEvents = errors.New("events is not an array of events")

// AttemptHandler serves the collector API
type AttemptHandler struct {
	service      *attempt.Service
	logger       *slog.Logger
	maxBodyBytes int64
}

// HandlerOption customises an AttemptHandler.
type HandlerOption func(*AttemptHandler)

// WithMaxEventsBody sets the log-events body cap. Non-positive values keep
// DefaultMaxEventsBody.
func WithMaxEventsBody(n int64) HandlerOption {
	return func(h *AttemptHandler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// NewAttemptHandler creates a new attempt handler
func NewAttemptHandler(service *attempt.Service, logger *slog.Logger, opts ...HandlerOption) *AttemptHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &AttemptHandler{service: service, logger: logger, maxBodyBytes: DefaultMaxEventsBody}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// logEventsRequest is the request body for POST /log-events/{attemptId}.
// Events stays raw so a non-array payload can be told apart from a
// malformed element.
type logEventsRequest struct {
	Events json.RawMessage `json:"events"`
}

// HandleStartAttempt handles POST /start-attempt
func (h *AttemptHandler) HandleStartAttempt(w http.ResponseWriter, r *http.Request) {
	identity := middleware.NetworkIdentity(r)

	start, err := h.service.Start(r.Context(), identity)
	if err != nil {
		h.logger.Error("failed to start attempt", "identity", identity, "error", err)
		respondWithError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	respondJSON(w, http.StatusOK, start)
}

// HandleCheckIP handles GET /check-ip/{attemptId}
func (h *AttemptHandler) HandleCheckIP(w http.ResponseWriter, r *http.Request) {
	attemptID := chi.URLParam(r, AttemptIDParam)

	check, err := h.service.CheckIdentity(r.Context(), attemptID, middleware.NetworkIdentity(r))
	if err != nil {
		h.respondServiceError(w, attemptID, err)
		return
	}
	respondJSON(w, http.StatusOK, check)
}

// HandleLogEvents handles POST /log-events/{attemptId}
func (h *AttemptHandler) HandleLogEvents(w http.ResponseWriter, r *http.Request) {
	attemptID := chi.URLParam(r, AttemptIDParam)

	if err := h.service.Exists(r.Context(), attemptID); err != nil {
		h.respondServiceError(w, attemptID, err)
		return
	}

	if h.service.TokensEnabled() {
		token, err := middleware.BearerToken(r)
		if err == nil {
			err = h.service.Authorize(attemptID, token)
		}
		if err != nil {
			h.logger.Warn("rejected log-events", "attempt_id", attemptID, "error", err)
			respondWithError(w, http.StatusUnauthorized, msgUnauthorized)
			return
		}
	}

	events, err := decodeEvents(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.Warn("rejected oversized batch", "attempt_id", attemptID, "limit_bytes", tooLarge.Limit)
			respondWithError(w, http.StatusRequestEntityTooLarge, msgBatchTooLarge)
			return
		}
		respondWithError(w, http.StatusBadRequest, msgInvalidEvents)
		return
	}

	if err := h.service.LogEvents(r.Context(), attemptID, events); err != nil {
		h.respondServiceError(w, attemptID, err)
		return
	}
	respondJSON(w, http.StatusOK, messageResponse{Message: "Events stored successfully"})
}

// HandleGetAttempt handles GET /attempt/{attemptId}
func (h *AttemptHandler) HandleGetAttempt(w http.ResponseWriter, r *http.Request) {
	attemptID := chi.URLParam(r, AttemptIDParam)

	a, err := h.service.Get(r.Context(), attemptID)
	if err != nil {
		h.respondServiceError(w, attemptID, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (h *AttemptHandler) respondServiceError(w http.ResponseWriter, attemptID string, err error) {
	if errors.Is(err, repo.ErrNotFound) {
		respondWithError(w, http.StatusNotFound, msgAttemptNotFound)
		return
	}
	h.logger.Error("attempt store failure", "attempt_id", attemptID, "error", err)
	respondWithError(w, http.StatusInternalServerError, msgInternal)
}

// decodeEvents accepts only a body whose "events" member is a JSON array
// of event objects. Read errors, including *http.MaxBytesError, are
// returned as is.
func decodeEvents(body io.Reader) ([]model.Event, error) {
	var req logEventsRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", errInvalidEvents, err)
	}
	raw := bytes.TrimSpace(req.Events)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, errInvalidEvents
	}
	var events []model.Event
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidEvents, err)
	}
	return events, nil
}
