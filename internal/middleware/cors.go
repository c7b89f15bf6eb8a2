// Package middleware provides HTTP middleware for the navigation API.
package middleware

import (
	"net/http"
	"strconv"
	"time"
)

const (
	corsMethods = "GET, POST, OPTIONS"
	corsHeaders = "Content-Type, X-User-ID"
	// corsMaxAge lets browsers cache a preflight between location uploads.
	corsMaxAge = 10 * time.Minute
)

// originPolicy is the allow list split into explicit origins and the wildcard.
type originPolicy struct {
	explicit map[string]struct{}
	wildcard bool
}

func newOriginPolicy(allowed []string) originPolicy {
	p := originPolicy{explicit: make(map[string]struct{}, len(allowed))}
	for _, o := range allowed {
		if o == "*" {
			p.wildcard = true
			continue
		}
		p.explicit[o] = struct{}{}
	}
	return p
}

// allow reports whether origin may call the API and whether it may send
// credentials. Credentials are granted to listed origins only; echoing a
// wildcard match with credentials would enable CSRF.
func (p originPolicy) allow(origin string) (ok, credentials bool) {
	if origin == "" {
		return false, false
	}
	if _, listed := p.explicit[origin]; listed {
		return true, true
	}
	return p.wildcard, false
}

// CORS returns middleware that handles CORS headers. Preflight requests are
// answered directly and never reach next.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	policy := newOriginPolicy(allowedOrigins)
	maxAge := strconv.Itoa(int(corsMaxAge.Seconds()))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			w.Header().Add("Vary", "Origin")

			ok, credentials := policy.allow(origin)
			if ok {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", corsMethods)
				h.Set("Access-Control-Allow-Headers", corsHeaders)
				if credentials {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				if ok {
					w.Header().Set("Access-Control-Max-Age", maxAge)
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
