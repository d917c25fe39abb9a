package httpx

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ariefcatur/storefront-orders/internal/auth"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/go-chi/chi/v5/middleware"
)

type TokenVerifier interface {
	Verify(token string) (orders.Actor, error)
}

// Authenticate resolves the bearer token and stores the caller in the context.
func Authenticate(v TokenVerifier, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := auth.BearerToken(r.Header.Get("Authorization"))
			if err != nil {
				writeMessage(w, r, http.StatusUnauthorized, "Not authorized, no token")
				return
			}
			actor, err := v.Verify(token)
			if err != nil {
				log.Debug("token rejected", "err", err)
				writeMessage(w, r, http.StatusUnauthorized, "Not authorized, token failed")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithActor(r.Context(), actor)))
		})
	}
}

func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a, ok := auth.ActorFrom(r.Context()); !ok || !a.IsAdmin {
			writeMessage(w, r, http.StatusForbidden, "Admin access only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// traceContext hands the chi request id to the domain layer for event envelopes.
func traceContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := orders.WithTraceID(r.Context(), middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
