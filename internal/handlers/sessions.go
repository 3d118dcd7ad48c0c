package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/viaschema/ucp-samples/internal/capability"
	"github.com/viaschema/ucp-samples/internal/platform/httpx"
	"github.com/viaschema/ucp-samples/internal/schema"
	"github.com/viaschema/ucp-samples/internal/session"
)

const maxSessionRequestBody = 8 * 1024

// sessionCreator is the slice of session.Manager used by the session handlers.
type sessionCreator interface {
	Create(ctx context.Context, clientProfileRef string) (session.Session, error)
	Get(ctx context.Context, id string) (session.Session, error)
}

// SessionHandlers exposes session negotiation endpoints.
type SessionHandlers struct {
	sessions sessionCreator
}

// NewSessionHandlers constructs the session negotiation handlers.
func NewSessionHandlers(sessions sessionCreator) *SessionHandlers {
	return &SessionHandlers{sessions: sessions}
}

// Routes registers session endpoints under the provided router.
func (h *SessionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createSession)
	r.Get("/{sessionID}", h.getSession)
}

type createSessionRequest struct {
	ClientProfileURL string `json:"client_profile_url"`
}

type sessionResponse struct {
	ID              string                  `json:"id"`
	ProtocolVersion string                  `json:"protocol_version"`
	Capabilities    []capability.Capability `json:"capabilities"`
	Fields          []string                `json:"fields"`
	CreatedAt       string                  `json:"created_at"`
}

func (h *SessionHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sessions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("sessions_unavailable", "session service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxSessionRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req createSessionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	profileURL := strings.TrimSpace(req.ClientProfileURL)
	if profileURL == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "client_profile_url is required", http.StatusBadRequest))
		return
	}

	sess, err := h.sessions.Create(ctx, profileURL)
	if err != nil {
		writeSessionError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, newSessionResponse(sess))
}

func (h *SessionHandlers) getSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sessions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("sessions_unavailable", "session service unavailable", http.StatusServiceUnavailable))
		return
	}

	sess, err := h.sessions.Get(ctx, chi.URLParam(r, "sessionID"))
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			httpx.WriteError(ctx, w, httpx.NewError("session_not_found", "unknown session", http.StatusNotFound))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("sessions_unavailable", "unable to load session", http.StatusServiceUnavailable))
		return
	}

	writeJSONResponse(w, http.StatusOK, newSessionResponse(sess))
}

func newSessionResponse(sess session.Session) sessionResponse {
	return sessionResponse{
		ID:              sess.ID,
		ProtocolVersion: sess.Negotiated.ProtocolVersion,
		Capabilities:    sess.Negotiated.Capabilities,
		Fields:          sess.Fields.Fields(),
		CreatedAt:       sess.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func writeSessionError(ctx context.Context, w http.ResponseWriter, err error) {
	var fetchErr *capability.FetchError
	var malformedErr *capability.MalformedProfileError
	var versionErr *capability.VersionIncompatibleError
	var conflictErr *schema.ConflictError

	switch {
	case errors.As(err, &fetchErr):
		httpx.WriteError(ctx, w, httpx.NewError("profile_fetch_failed", err.Error(), http.StatusBadGateway))
	case errors.As(err, &malformedErr):
		httpx.WriteError(ctx, w, httpx.NewError("malformed_profile", err.Error(), http.StatusUnprocessableEntity))
	case errors.As(err, &versionErr):
		httpx.WriteError(ctx, w, httpx.NewError("version_incompatible", err.Error(), http.StatusConflict).
			WithDetails(map[string]any{
				"client_version":   versionErr.Client,
				"merchant_version": versionErr.Merchant,
			}))
	case errors.As(err, &conflictErr):
		httpx.WriteError(ctx, w, httpx.NewError("capability_conflict", err.Error(), http.StatusConflict).
			WithDetails(map[string]any{
				"field":        conflictErr.Field,
				"capabilities": conflictErr.Capabilities,
			}))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("session_create_failed", "unable to create session", http.StatusInternalServerError))
	}
}
