package admin

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"devbook/internal/booking"
	"devbook/internal/export"
	"devbook/internal/logs"
	"devbook/internal/middleware"
	"devbook/internal/models"
)

type Handler struct {
	d Dependencies
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil
}

// ---------- JSON ----------

// APIDevices: все устройства; ?type= фильтрует по типу, ?booked=1 только занятые.
func (h *Handler) APIDevices(w http.ResponseWriter, r *http.Request) {
	var rows []models.Device
	if t := strings.TrimSpace(r.URL.Query().Get("type")); t != "" {
		rows = h.d.Registry.DevicesByType(t)
	} else {
		rows = h.d.Registry.Devices()
	}
	if r.URL.Query().Get("booked") == "1" {
		booked := rows[:0:0]
		for _, d := range rows {
			if d.IsBooked() {
				booked = append(booked, d)
			}
		}
		rows = booked
	}
	models.WriteJSON(w, http.StatusOK, rows)
}

// defaultHistoryLimit: сколько записей отдаёт ?source=db без ?limit=.
const defaultHistoryLimit = 100

// APIDeviceHistory: история устройства из device_logs.json, с ?source=db
// из SQL-зеркала (новые первыми, ?limit=).
func (h *Handler) APIDeviceHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		models.WriteProblem(w, r, http.StatusBadRequest, "invalid device id")
		return
	}
	d, ok := h.d.Registry.Device(id)
	if !ok {
		models.WriteProblem(w, r, http.StatusNotFound, "device not found")
		return
	}
	if r.URL.Query().Get("source") == "db" {
		h.dbHistory(w, r, d.SN)
		return
	}
	entries := h.d.Registry.History()[d.SN]
	if entries == nil {
		entries = []models.LogEntry{}
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{"sn": d.SN, "entries": entries})
}

func (h *Handler) dbHistory(w http.ResponseWriter, r *http.Request, sn string) {
	if h.d.History == nil {
		models.WriteProblem(w, r, http.StatusNotImplemented, "history database is not configured")
		return
	}
	limit := defaultHistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			models.WriteProblem(w, r, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	records, err := h.d.History.BySN(r.Context(), sn, limit)
	if err != nil {
		logs.Logger.WithFields(logrus.Fields{
			"component": "admin",
			"reqid":     middleware.GetRequestID(r),
			"sn":        sn,
		}).WithError(err).Error("history query failed")
		models.WriteProblem(w, r, http.StatusBadGateway, "history query failed")
		return
	}
	if records == nil {
		records = []models.HistoryRecord{}
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{"sn": sn, "records": records})
}

func (h *Handler) APIUsers(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("status") == string(models.UserPending) {
		models.WriteJSON(w, http.StatusOK, h.d.Registry.PendingUsers())
		return
	}
	models.WriteJSON(w, http.StatusOK, h.d.Registry.Users())
}

func (h *Handler) APIGroups(w http.ResponseWriter, _ *http.Request) {
	type row struct {
		models.Group
		Users   int `json:"users"`
		Devices int `json:"devices"`
	}
	groups := h.d.Registry.Groups()
	out := make([]row, 0, len(groups))
	for _, g := range groups {
		users, devices := h.d.Registry.GroupMembers(g.ID)
		out = append(out, row{Group: g, Users: len(users), Devices: len(devices)})
	}
	models.WriteJSON(w, http.StatusOK, out)
}

// APIRelease снимает бронь с устройства, владельцу уходит уведомление.
func (h *Handler) APIRelease(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		models.WriteProblem(w, r, http.StatusBadRequest, "invalid device id")
		return
	}
	rel, err := h.d.Booking.ReleaseByOperator(r.Context(), id)
	switch {
	case errors.Is(err, booking.ErrDeviceNotFound):
		models.WriteProblem(w, r, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, booking.ErrNotBooked):
		models.WriteProblem(w, r, http.StatusConflict, err.Error())
		return
	case err != nil:
		logs.Logger.WithFields(logrus.Fields{
			"component": "admin",
			"reqid":     middleware.GetRequestID(r),
			"device_id": id,
		}).WithError(err).Error("release failed")
		models.WriteProblem(w, r, http.StatusInternalServerError, "release failed")
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{
		"device":       rel.Device,
		"former_owner": rel.FormerOwner,
	})
}

// ---------- CSV ----------

func (h *Handler) csv(w http.ResponseWriter, r *http.Request, name string, fn func(io.Writer) error) {
	data, err := export.Bytes(fn)
	if err != nil {
		logs.Logger.WithFields(logrus.Fields{
			"component": "admin",
			"reqid":     middleware.GetRequestID(r),
			"file":      name,
		}).WithError(err).Error("export failed")
		models.WriteProblem(w, r, http.StatusInternalServerError, "export failed")
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) ExportDevices(w http.ResponseWriter, r *http.Request) {
	devices := h.d.Registry.Devices()
	h.csv(w, r, export.DevicesFilename, func(out io.Writer) error { return export.Devices(out, devices) })
}

func (h *Handler) ExportUsers(w http.ResponseWriter, r *http.Request) {
	users := h.d.Registry.Users()
	h.csv(w, r, export.UsersFilename, func(out io.Writer) error { return export.Users(out, users) })
}

func (h *Handler) ExportLogs(w http.ResponseWriter, r *http.Request) {
	history := h.d.Registry.History()
	h.csv(w, r, export.LogsFilename, func(out io.Writer) error { return export.Logs(out, history) })
}
