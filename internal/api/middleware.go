package api

import (
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/signalsfoundry/satlink/internal/logging"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestID attaches a request ID (taken from the inbound header when
// present) and a request-scoped logger to the context, and echoes the ID.
func RequestID(log logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := strings.TrimSpace(r.Header.Get(RequestIDHeader)); id != "" {
			ctx = logging.ContextWithRequestID(ctx, id)
		}
		ctx, reqLog := logging.WithRequestLogger(ctx, log)
		ctx = logging.ContextWithLogger(ctx, reqLog)
		w.Header().Set(RequestIDHeader, logging.RequestIDFromContext(ctx))

		reqLog.Debug(ctx, "request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.String("client_ip", ClientIP(r)),
		)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// recoverer turns a panicking handler into a SERVER_ERROR envelope. The
// request is passed through unchanged so outer middleware still sees the
// matched route.
func recoverer(b base, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.LoggerFromContext(r.Context(), b.log).Error(r.Context(), "handler panic",
					logging.Any("panic", rec),
					logging.String("stack", string(debug.Stack())),
				)
				b.fail(w, r, CodeServerError, fmt.Sprint(rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the first X-Forwarded-For hop, else the remote host.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, _ := strings.Cut(fwd, ","); strings.TrimSpace(first) != "" {
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Credential extracts the shared secret from X-Auth-Key or a bearer token.
func Credential(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-Auth-Key")); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
