package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	applog "github.com/HyphaGroup/chatsidecar/internal/logger"
)

type ctxKey int

const ctxKeyLogger ctxKey = iota

// withRequestLogger attaches a request-scoped logger carrying the chi request id (and, once a
// handler knows it, the session id) to the request context.
func (s *Server) withRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), applog.ContextKeyRequestID, middleware.GetReqID(r.Context()))
		log := applog.WithContext(ctx).With("method", r.Method, "path", r.URL.Path)
		ctx = context.WithValue(ctx, ctxKeyLogger, log)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggerFrom(ctx context.Context) *slog.Logger {
	if log, ok := ctx.Value(ctxKeyLogger).(*slog.Logger); ok {
		return log
	}
	return slog.Default()
}

// withSessionLogger returns a child of loggerFrom(ctx) carrying session_id, and a context holding
// it, so downstream code that re-derives its logger from context (rather than the value this
// returns) still sees the field.
func withSessionLogger(ctx context.Context, sessionID string) (context.Context, *slog.Logger) {
	log := loggerFrom(ctx).With("session_id", sessionID)
	ctx = context.WithValue(ctx, applog.ContextKeySessionID, sessionID)
	ctx = context.WithValue(ctx, ctxKeyLogger, log)
	return ctx, log
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
