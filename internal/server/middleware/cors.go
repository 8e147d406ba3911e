package middleware

import (
	"net/http"
	"strings"

	"github.com/alanyoungcy/bondvault/internal/crypto"
)

var corsAllowHeaders = strings.Join([]string{
	"Content-Type",
	HeaderAPIKey,
	crypto.HeaderAddress,
	crypto.HeaderTimestamp,
	crypto.HeaderNonce,
	crypto.HeaderSignature,
}, ", ")

// CORS answers preflight requests and sets the allow headers for origins in
// allowedOrigins. "*" or an empty list allows any origin. Preflights from
// other origins get 403 so a misconfigured browser client fails loudly.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	anyOrigin := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		o = strings.ToLower(strings.TrimSpace(o))
		if o == "*" {
			anyOrigin = true
		}
		allowed[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			ok := anyOrigin || allowed[strings.ToLower(origin)]
			if ok {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Expose-Headers", "Retry-After")
			}
			if !preflight {
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			h := w.Header()
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusNoContent)
		})
	}
}
