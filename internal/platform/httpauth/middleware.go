package httpauth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Admin guards back-office routes with a static bearer token compared in
// constant time.
func Admin(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserID extracts the authenticated customer id. Identity is established
// upstream at the storefront gateway; this service trusts the header.
func UserID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}
