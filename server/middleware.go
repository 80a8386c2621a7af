package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// authScheme is the authorization scheme used by the CI pipeline:
// "Authorization: AdminKey <token>".
const authScheme = "AdminKey"

// adminKeyAuth guards mutating endpoints with a static token set.
type adminKeyAuth struct {
	keys []string
}

func newAdminKeyAuth(keys []string) *adminKeyAuth {
	return &adminKeyAuth{keys: keys}
}

// require wraps a handler with AdminKey validation.
func (a *adminKeyAuth) require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Message: "Authorization header required"})
			return
		}

		if !strings.HasPrefix(header, authScheme+" ") {
			writeJSON(w, http.StatusUnauthorized, errorBody{Message: authScheme + " authorization required"})
			return
		}

		token := strings.TrimPrefix(header, authScheme+" ")
		if !a.valid(token) {
			writeJSON(w, http.StatusUnauthorized, errorBody{Message: "Invalid credentials"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *adminKeyAuth) valid(token string) bool {
	for _, key := range a.keys {
		if subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1 {
			return true
		}
	}
	return false
}
