package api

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/agentify/agentifyd/internal/ratelimit"
	"github.com/agentify/agentifyd/internal/state"
)

// LoopbackOnly rejects anything that didn't arrive over the loopback
// interface. The daemon drives a logged-in browser; it must never be
// reachable off-box even if the listener is misconfigured.
func LoopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			writeError(w, http.StatusForbidden, "forbidden", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// BearerAuth checks the Authorization header against the current token.
// The token can rotate at runtime, so the comparison always reads
// through the ref.
func BearerAuth(token *state.TokenRef) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hdr := r.Header.Get("Authorization")
			presented, ok := strings.CutPrefix(hdr, "Bearer ")
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", nil)
				return
			}
			presented = strings.TrimSpace(presented)
			current := token.Get()
			if current == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(current)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit throttles per client address. Coarse abuse protection for
// the transport only; query admission is enforced separately.
func RateLimit(limiter *ratelimit.Limiter, perMinute int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				client = r.RemoteAddr
			}
			if !limiter.Allow(client) {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(perMinute))
				w.Header().Set("X-RateLimit-Remaining", "0")
				writeError(w, http.StatusTooManyRequests, "rate_limited", nil)
				return
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(perMinute))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(limiter.Tokens(client))))
			next.ServeHTTP(w, r)
		})
	}
}

// CORS allows local tooling served from a loopback origin to call the
// API from a browser context.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "http://127.0.0.1")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Cache-Control", "no-store, max-age=0")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
