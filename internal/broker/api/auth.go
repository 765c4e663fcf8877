package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/silentline/sentinel/internal/broker/model"
)

// adminAuth returns middleware that requires X-Admin-Key to match key
// byte-for-byte (constant time). An empty key fails closed: every
// request is rejected rather than the check being silently skipped,
// since an unset key is far more likely to be a deployment mistake
// than an intentional "no auth" choice.
func adminAuth(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				writeErr(w, r, model.NewAuthorization("admin api key is not configured"))
				return
			}
			given := r.Header.Get("X-Admin-Key")
			if given == "" || subtle.ConstantTimeCompare([]byte(given), []byte(key)) != 1 {
				writeErr(w, r, model.NewAuthentication("invalid or missing admin key"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
