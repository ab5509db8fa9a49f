// Package admin отдаёт служебный HTTP API (справочники, CSV-выгрузки и
// снятие брони). Закрыт bearer-токеном.
package admin

import (
	"context"

	"github.com/gorilla/mux"

	"devbook/internal/booking"
	"devbook/internal/middleware"
	"devbook/internal/models"
	"devbook/internal/registry"
)

// HistorySource: SQL-зеркало истории, repo.HistoryStore.
type HistorySource interface {
	BySN(ctx context.Context, sn string, limit int) ([]models.HistoryRecord, error)
}

type Dependencies struct {
	Registry *registry.Registry
	Booking  *booking.Service
	History  HistorySource // nil, если БД не настроена
	Token    string
}

func Attach(r *mux.Router, d Dependencies) {
	h := &Handler{d: d}
	sub := r.PathPrefix("/admin").Subrouter()
	sub.Use(middleware.BearerAuth(d.Token))

	sub.HandleFunc("/api/devices", h.APIDevices).Methods("GET")
	sub.HandleFunc("/api/devices/{id:[0-9]+}/history", h.APIDeviceHistory).Methods("GET")
	sub.HandleFunc("/api/devices/{id:[0-9]+}/release", h.APIRelease).Methods("POST")
	sub.HandleFunc("/api/users", h.APIUsers).Methods("GET")
	sub.HandleFunc("/api/groups", h.APIGroups).Methods("GET")

	sub.HandleFunc("/export/devices.csv", h.ExportDevices).Methods("GET")
	sub.HandleFunc("/export/users.csv", h.ExportUsers).Methods("GET")
	sub.HandleFunc("/export/logs.csv", h.ExportLogs).Methods("GET")
}
