// Package middleware holds the HTTP middleware chain of the API server.
package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// HeaderAPIKey carries the static API key.
const HeaderAPIKey = "X-API-Key"

// Auth gates every request behind a static API key taken from the
// X-API-Key header, or from the api_key query parameter on GET requests
// (browsers cannot set headers on a WebSocket handshake). An empty apiKey
// disables the gate. Paths listed in open skip the check.
func Auth(apiKey string, open ...string) func(http.Handler) http.Handler {
	exempt := make(map[string]bool, len(open))
	for _, p := range open {
		exempt[p] = true
	}
	want := []byte(apiKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" || exempt[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			key := strings.TrimSpace(r.Header.Get(HeaderAPIKey))
			if key == "" && r.Method == http.MethodGet {
				key = r.URL.Query().Get("api_key")
			}
			switch {
			case key == "":
				writeUnauthorized(w, "missing API key")
			case subtle.ConstantTimeCompare([]byte(key), want) != 1:
				writeUnauthorized(w, "invalid API key")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// writeError sends the API's {"error","code"} body.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}{msg, code})
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusUnauthorized, "Unauthorized", msg)
}
