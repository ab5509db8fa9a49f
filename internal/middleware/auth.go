package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"devbook/internal/models"
)

// BearerAuth пускает только запросы с Authorization: Bearer <token>.
// Пустой token закрывает доступ целиком.
func BearerAuth(token string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const p = "Bearer "
			auth := r.Header.Get("Authorization")
			got := strings.TrimPrefix(auth, p)
			if token == "" || !strings.HasPrefix(auth, p) ||
				subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				models.WriteProblem(w, r, http.StatusUnauthorized, "missing or invalid bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
