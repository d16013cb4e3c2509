package middleware

import (
	"net/http"
	"strings"
)

// OriginPolicy is a parsed comma separated origin list where "*" admits
// any origin.
type OriginPolicy struct {
	origins  map[string]bool
	wildcard bool
}

func ParseOrigins(allowedOrigins string) *OriginPolicy {
	p := &OriginPolicy{origins: make(map[string]bool)}
	for _, o := range strings.Split(allowedOrigins, ",") {
		o = strings.TrimSpace(o)
		if o == "*" {
			p.wildcard = true
		} else if o != "" {
			p.origins[o] = true
		}
	}
	return p
}

func (p *OriginPolicy) Allows(origin string) bool {
	return p.wildcard || p.origins[origin]
}

// CheckOrigin is an upgrade origin check. Requests without an Origin header
// come from non-browser clients and are let through.
func (p *OriginPolicy) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || p.Allows(origin)
}

// CORSMiddleware echoes an allowed Origin back.
func CORSMiddleware(allowedOrigins, allowedMethods, allowedHeaders string) func(http.Handler) http.Handler {
	policy := ParseOrigins(allowedOrigins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			switch {
			case origin != "" && policy.Allows(origin):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			case origin == "" && policy.wildcard:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}

			w.Header().Set("Access-Control-Allow-Methods", allowedMethods)
			w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
			w.Header().Set("Access-Control-Max-Age", "3600")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
