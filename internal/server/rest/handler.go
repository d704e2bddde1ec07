// Package rest exposes the HTTP surface of the server: health, directory
// lookups, relay submission, hidden-service management, the inbound
// direct-delivery endpoint, the WebSocket hub and Prometheus metrics.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/burrow/internal/common"
	"github.com/dmitrijs2005/burrow/internal/logging"
	"github.com/dmitrijs2005/burrow/internal/server/models"
	"github.com/dmitrijs2005/burrow/internal/server/services"
)

const maxBodyBytes = 1 << 20

// Service is the part of the chat service reachable over HTTP.
type Service interface {
	LookupUser(ctx context.Context, username string) (*services.LookupResult, bool, error)
	Relay(ctx context.Context, msg *models.Message) (models.DeliveryOutcome, error)
	ReceiveDirect(ctx context.Context, msg *models.Message) error
	RegisterHiddenService(ctx context.Context, userID string, port int) (*models.HiddenAddress, error)
	RemoveHiddenService(ctx context.Context, userID string) (bool, error)
	Stats() services.Stats
}

type Handler struct {
	svc       Service
	ws        http.Handler
	metrics   http.Handler
	jwtSecret []byte
	clock     clock.Clock
	logger    logging.Logger
}

func NewHandler(svc Service, ws, metrics http.Handler, secretKey string, clk clock.Clock, logger logging.Logger) *Handler {
	return &Handler{
		svc:       svc,
		ws:        ws,
		metrics:   metrics,
		jwtSecret: []byte(secretKey),
		clock:     clk,
		logger:    logger.With("module", "rest"),
	}
}

// Routes builds the request multiplexer.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /api/users/{username}", h.lookupUser)
	mux.Handle("POST /api/relay", h.requireToken(http.HandlerFunc(h.relay)))
	mux.Handle("POST /api/hidden-services", h.requireToken(http.HandlerFunc(h.registerHiddenService)))
	mux.Handle("DELETE /api/hidden-services/{userId}", h.requireToken(http.HandlerFunc(h.removeHiddenService)))
	mux.HandleFunc("POST "+common.DirectMessagePath, h.receiveDirect)
	if h.ws != nil {
		mux.Handle("GET /ws", h.ws)
	}
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}
	return mux
}

type healthResponse struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Stats     services.Stats `json:"stats"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: h.clock.Now().UTC(),
		Stats:     h.svc.Stats(),
	})
}

func (h *Handler) lookupUser(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	res, found, err := h.svc.LookupUser(r.Context(), username)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !found {
		h.writeError(w, r, fmt.Errorf("%w: user %q", common.ErrorNotFound, username))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) relay(w http.ResponseWriter, r *http.Request) {
	var msg models.Message
	if err := decode(w, r, &msg); err != nil {
		h.writeError(w, r, err)
		return
	}

	uid := userIDFrom(r.Context())
	if msg.SenderID == "" {
		msg.SenderID = uid
	}
	if msg.SenderID != uid {
		h.writeError(w, r, fmt.Errorf("%w: sender does not match token", common.ErrorUnauthorized))
		return
	}

	out, err := h.svc.Relay(r.Context(), &msg)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, out)
}

type hiddenServiceRequest struct {
	Port int `json:"port"`
}

func (h *Handler) registerHiddenService(w http.ResponseWriter, r *http.Request) {
	var req hiddenServiceRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	hs, err := h.svc.RegisterHiddenService(r.Context(), userIDFrom(r.Context()), req.Port)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, hs)
}

func (h *Handler) removeHiddenService(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	if userID != userIDFrom(r.Context()) {
		h.writeError(w, r, fmt.Errorf("%w: cannot remove another user's service", common.ErrorUnauthorized))
		return
	}

	ok, err := h.svc.RemoveHiddenService(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !ok {
		h.writeError(w, r, fmt.Errorf("%w: no hidden service for %s", common.ErrorNotFound, userID))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type receivedResponse struct {
	Received  bool   `json:"received"`
	MessageID string `json:"messageId"`
}

func (h *Handler) receiveDirect(w http.ResponseWriter, r *http.Request) {
	var msg models.Message
	if err := decode(w, r, &msg); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.ReceiveDirect(r.Context(), &msg); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receivedResponse{Received: true, MessageID: msg.ID})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %w", common.ErrorValidation, err)
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrorValidation):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrInvalidToken), errors.Is(err, common.ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrorUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrorAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, common.ErrorStorageUnavailable), errors.Is(err, common.ErrorTransportFailure):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code >= http.StatusInternalServerError {
		h.logger.Error(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = http.StatusText(code)
	}
	writeJSON(w, code, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
