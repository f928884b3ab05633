package middleware

import (
	"net/http"
	"slices"
	"strings"
)

// corsPolicy is the origin allowlist of the browser client.
type corsPolicy struct {
	anyOrigin bool
	origins   map[string]bool
	methods   []string
	headers   []string
	expose    []string
}

func newCORSPolicy(allowedOrigins []string) *corsPolicy {
	p := &corsPolicy{
		origins: map[string]bool{},
		methods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		headers: []string{"Authorization", "Content-Type", "X-Request-ID"},
		expose:  []string{"Retry-After", "X-Request-ID"},
	}
	for _, origin := range allowedOrigins {
		switch origin = strings.TrimRight(strings.TrimSpace(origin), "/"); origin {
		case "":
		case "*":
			p.anyOrigin = true
		default:
			p.origins[origin] = true
		}
	}
	return p
}

func (p *corsPolicy) allows(origin string) bool {
	return origin != "" && (p.anyOrigin || p.origins[origin])
}

func (p *corsPolicy) allowsMethod(method string) bool {
	return slices.Contains(p.methods, strings.ToUpper(method))
}

func (p *corsPolicy) writeHeaders(h http.Header, origin string) {
	h.Set("Access-Control-Allow-Origin", origin)
	h.Add("Vary", "Origin")
	h.Set("Access-Control-Allow-Methods", strings.Join(p.methods, ", "))
	h.Set("Access-Control-Allow-Headers", strings.Join(p.headers, ", "))
	h.Set("Access-Control-Expose-Headers", strings.Join(p.expose, ", "))
	h.Set("Access-Control-Max-Age", "600")
}

// CORS lets the browser client on the allowlisted origins call the API and
// read Retry-After on busy responses. "*" echoes any Origin back. Preflights
// for methods the API does not serve get 405.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	policy := newCORSPolicy(allowedOrigins)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			allowed := policy.allows(origin)
			if allowed {
				policy.writeHeaders(w.Header(), origin)
			}

			requested := r.Header.Get("Access-Control-Request-Method")
			if r.Method != http.MethodOptions || origin == "" || requested == "" {
				next.ServeHTTP(w, r)
				return
			}
			if allowed && !policy.allowsMethod(requested) {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}
