package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"devbook/internal/models"
)

const RequestIDHeader = models.RequestIDHeader

// maxRequestID: чужой id длиннее не принимаем, генерируем свой.
const maxRequestID = 64

type ctxKey string

const requestIDKey ctxKey = "reqid"

func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > maxRequestID {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func GetRequestID(r *http.Request) string {
	if s, ok := r.Context().Value(requestIDKey).(string); ok {
		return s
	}
	return ""
}
