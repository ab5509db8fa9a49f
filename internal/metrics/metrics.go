// Package metrics объявляет счётчики prometheus бота. Регистрируются в default
// registry, /metrics отдаёт их через promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BookingsTotal: успешные бронирования; kind: self|admin.
	BookingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devbook_bookings_total",
		Help: "Количество бронирований",
	}, []string{"kind"})

	// ReleasesTotal: освобождения; reason: user|admin|mass|expired.
	ReleasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devbook_releases_total",
		Help: "Количество освобождений устройств",
	}, []string{"reason"})

	// BookingRejectedTotal: отказы в бронировании; reason: not_found|booked|denied|limit.
	BookingRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devbook_booking_rejected_total",
		Help: "Количество отказов в бронировании",
	}, []string{"reason"})

	TransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devbook_transfers_total",
		Help: "Запросы на передачу устройства",
	}, []string{"result"})

	RemindersScheduled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "devbook_reminders_scheduled",
		Help: "Запланированные напоминания",
	})

	RemindersSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "devbook_reminders_sent_total",
		Help: "Отправленные напоминания",
	})

	SweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "devbook_sweep_duration_seconds",
		Help:    "Длительность прохода очистки просроченных броней",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})

	UpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devbook_updates_total",
		Help: "Входящие события чата",
	}, []string{"kind"})

	// MessagesSentTotal: исходящие сообщения транспорта; result: ok|error.
	MessagesSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devbook_messages_sent_total",
		Help: "Отправленные сообщения чата",
	}, []string{"result"})

	PersistErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "devbook_persist_errors_total",
		Help: "Ошибки записи данных на диск",
	})

	HistoryMirrorErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "devbook_history_mirror_errors_total",
		Help: "Ошибки записи истории в SQL",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devbook_http_requests_total",
		Help: "HTTP запросы служебного API",
	}, []string{"method", "status"})
)
