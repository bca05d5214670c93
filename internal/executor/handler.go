package executor

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/chainstrategy/internal/domain"
	"github.com/alanyoungcy/chainstrategy/internal/reqid"
)

// Handler serves the Executor's internal HTTP endpoint.
type Handler struct {
	engine       *Engine
	serviceToken string
	logger       *slog.Logger
}

// NewHandler creates a Handler guarded by serviceToken (spec.md §4.4, §6).
// An empty serviceToken disables auth, matching the teacher's Auth
// middleware convention of "empty key disables the check."
func NewHandler(engine *Engine, serviceToken string, logger *slog.Logger) *Handler {
	return &Handler{engine: engine, serviceToken: serviceToken, logger: logger.With(slog.String("component", "executor_handler"))}
}

// Register attaches the handler's routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /transaction/execute/internal", h.auth(h.executeInternal))
}

// auth wraps next with a constant-time service-token check.
func (h *Handler) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.serviceToken != "" {
			token := r.Header.Get("x-service-token")
			if subtle.ConstantTimeCompare([]byte(token), []byte(h.serviceToken)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid service token")
				return
			}
		}
		next(w, r)
	}
}

// executeInternal handles POST /transaction/execute/internal.
func (h *Handler) executeInternal(w http.ResponseWriter, r *http.Request) {
	var req domain.ExecuteIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.IdempotencyKey == "" || req.SessionKeyID == 0 {
		writeError(w, http.StatusBadRequest, "idempotencyKey and sessionKeyId are required")
		return
	}

	ctx := reqid.WithID(r.Context(), reqid.FromContextOrNew(r.Context()))

	log, err := h.engine.Execute(ctx, req)
	if err != nil {
		h.logger.ErrorContext(ctx, "execute failed", slog.String("error", err.Error()))
		if errors.Is(err, domain.ErrConflict) {
			writeError(w, http.StatusConflict, "lock contention, retry later")
			return
		}
		writeError(w, http.StatusInternalServerError, "execution failed")
		return
	}

	writeJSON(w, http.StatusOK, domain.ExecuteIntentResponse{Log: log})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
