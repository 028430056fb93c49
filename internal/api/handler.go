package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/eugenenazirov/crowdsale-migrations/internal/migration"
	"github.com/eugenenazirov/crowdsale-migrations/internal/storage"
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

// Planner reports which migrations are still outstanding on a network.
type Planner interface {
	Pending(opts migration.RunOptions) ([]migration.Migration, error)
}

// Handler exposes migration progress and deployment records over HTTP.
type Handler struct {
	planner Planner
	storage storage.Storage

	clock func() time.Time
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// NewHandler constructs a Handler with the provided dependencies.
func NewHandler(planner Planner, store storage.Storage, opts ...HandlerOption) *Handler {
	h := &Handler{
		planner: planner,
		storage: store,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Timestamp: h.clock(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	network := strings.TrimSpace(r.PathValue("network"))

	last, err := h.storage.LastCompleted(network)
	if err != nil {
		writeStorageError(w, err)
		return
	}

	pending, err := h.planner.Pending(migration.RunOptions{Network: network})
	if err != nil {
		writeStorageError(w, err)
		return
	}

	names := make([]string, 0, len(pending))
	for _, m := range pending {
		names = append(names, m.Name)
	}

	resp := statusResponse{
		Network:                network,
		LastCompletedMigration: last,
		Pending:                names,
		Timestamp:              h.clock(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleDeployments(w http.ResponseWriter, r *http.Request) {
	network := strings.TrimSpace(r.PathValue("network"))

	deployments, err := h.storage.Deployments(network)
	if err != nil {
		writeStorageError(w, err)
		return
	}

	if contract := strings.TrimSpace(r.URL.Query().Get("contract")); contract != "" {
		filtered := make([]storage.Deployment, 0, len(deployments))
		for _, d := range deployments {
			if d.Contract == contract {
				filtered = append(filtered, d)
			}
		}
		deployments = filtered
	}

	resp := deploymentsResponse{
		Network:     network,
		Deployments: deployments,
		Count:       len(deployments),
	}
	writeJSON(w, http.StatusOK, resp)
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

type statusResponse struct {
	Network                string    `json:"network"`
	LastCompletedMigration int       `json:"lastCompletedMigration"`
	Pending                []string  `json:"pending"`
	Timestamp              time.Time `json:"timestamp"`
}

type deploymentsResponse struct {
	Network     string               `json:"network"`
	Deployments []storage.Deployment `json:"deployments"`
	Count       int                  `json:"count"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, errorResponse{
		Error:   message,
		Details: details,
	})
}

func writeStorageError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrInvalidNetwork) {
		writeError(w, http.StatusBadRequest, "Invalid network", err.Error())
		return
	}
	writeInternalError(w, err)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusInternalServerError, "Internal error", err.Error())
}
