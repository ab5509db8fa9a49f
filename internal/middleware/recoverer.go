package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/sirupsen/logrus"

	"devbook/internal/logs"
	"devbook/internal/models"
)

// Recoverer перехватывает панику в обработчике, пишет лог со стеком
// и возвращает 500 в формате application/problem+json.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				reqid := GetRequestID(r)
				logs.Logger.WithFields(logrus.Fields{
					"component": "http",
					"reqid":     reqid,
					"uri":       r.RequestURI,
					"method":    r.Method,
				}).Errorf("panic: %v\nstack:\n%s", rec, debug.Stack())
				models.WriteProblem(w, r, http.StatusInternalServerError, "unexpected server error, see logs by request_id")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
