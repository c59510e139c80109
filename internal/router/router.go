// Package router mounts the daemon's HTTP endpoints.
package router

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Paths served by New.
const (
	RPCPath     = "/rpc"
	MetricsPath = "/metrics"
	HealthPath  = "/healthz"
)

// Options configure the routes.
type Options struct {
	// Secret is the bearer token required on RPCPath. Empty disables auth.
	Secret string
	// Gatherer backs MetricsPath. Nil leaves the route unmounted.
	Gatherer prometheus.Gatherer
	Log      *slog.Logger
}

// New returns a router serving rpc on RPCPath plus metrics and health checks.
func New(rpc http.Handler, opts Options) chi.Router {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()
	var h http.Handler = rpc
	if opts.Secret != "" {
		h = RequireToken(opts.Secret, rpc)
	}
	r.Method(http.MethodPost, RPCPath, h)
	r.Method(http.MethodGet, HealthPath, http.HandlerFunc(health))
	if opts.Gatherer != nil {
		r.Method(http.MethodGet, MetricsPath, promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{
			ErrorLog: slog.NewLogLogger(log.Handler(), slog.LevelError),
		}))
	}
	return r
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

// RequireToken wraps next with bearer token authentication. Failures get a
// JSON-RPC error body with status 401.
func RequireToken(secret string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ValidToken(secret, r.Header.Get("Authorization")) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0",
				"error": map[string]any{
					"code":    -32600,
					"message": "Unauthorized",
				},
				"id": nil,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ValidToken reports whether authHeader carries secret as a bearer token.
// An empty secret never matches.
func ValidToken(secret, authHeader string) bool {
	if secret == "" {
		return false
	}
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}
