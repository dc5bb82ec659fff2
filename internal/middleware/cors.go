package middleware

import (
	"net/http"
	"strings"
)

// AllowedHeaders lists the request headers the embedding page may send.
var AllowedHeaders = []string{"Content-Type", "Cache-Control", "Authorization", "X-AUTH-SIGNATURE", "X-Coreg-Session"}

// CORS sets the cross-origin headers on every response and answers
// preflight requests with 200.
func CORS(allowedOrigin string) func(http.Handler) http.Handler {
	if allowedOrigin == "" {
		allowedOrigin = "*"
	}
	headers := strings.Join(AllowedHeaders, ", ")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allowedOrigin)
			h.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			h.Set("Access-Control-Allow-Headers", headers)
			if allowedOrigin != "*" {
				h.Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
