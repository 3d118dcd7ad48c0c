package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/viaschema/ucp-samples/internal/platform/httpx"
	"github.com/viaschema/ucp-samples/internal/platform/requestctx"
	"github.com/viaschema/ucp-samples/internal/session"
)

// SessionHeader carries the negotiated session id on checkout requests.
const SessionHeader = "UCP-Session"

type sessionContextKeyType struct{}

var sessionContextKey sessionContextKeyType

// sessionGetter is the slice of session.Manager the middleware needs.
type sessionGetter interface {
	Get(ctx context.Context, id string) (session.Session, error)
}

// RequireSession resolves the UCP-Session header into a negotiated session
// and stores it on the request context. Requests without a valid session
// never reach the checkout handlers.
func RequireSession(sessions sessionGetter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			id := strings.TrimSpace(r.Header.Get(SessionHeader))
			if id == "" {
				httpx.WriteError(ctx, w, httpx.NewError("session_required", "missing "+SessionHeader+" header", http.StatusUnauthorized))
				return
			}
			sess, err := sessions.Get(ctx, id)
			if err != nil {
				if errors.Is(err, session.ErrSessionNotFound) {
					httpx.WriteError(ctx, w, httpx.NewError("session_not_found", "unknown session", http.StatusUnauthorized))
					return
				}
				httpx.WriteError(ctx, w, httpx.NewError("session_unavailable", "unable to load session", http.StatusServiceUnavailable))
				return
			}

			ctx = context.WithValue(ctx, sessionContextKey, sess)
			ctx = requestctx.WithSessionID(ctx, sess.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func sessionFromContext(ctx context.Context) (session.Session, bool) {
	sess, ok := ctx.Value(sessionContextKey).(session.Session)
	return sess, ok
}
