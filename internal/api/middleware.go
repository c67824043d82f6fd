// Package api implements the REST API using chi.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// RequireToken rejects requests that do not present token. The token is read
// from "Authorization: Bearer <token>"; with fromQuery set, a ?token= query
// parameter is accepted as well, which is the only way a browser EventSource
// can authenticate.
func RequireToken(token string, fromQuery bool) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := bearer(r)
			if got == "" && fromQuery {
				got = r.URL.Query().Get("token")
			}
			if got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="inkwell"`)
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearer(r *http.Request) string {
	scheme, cred, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(cred)
}
