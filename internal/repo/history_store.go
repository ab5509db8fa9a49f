// Package repo содержит SQL-хранилища поверх gorm.
package repo

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"devbook/internal/logs"
	"devbook/internal/metrics"
	"devbook/internal/models"
	"devbook/internal/storage"
)

// mirrorTimeout: сколько ждём БД на одну пачку записей.
const mirrorTimeout = 5 * time.Second

// HistoryStore дублирует историю действий в таблицу history_records.
// Источник истины, device_logs.json, ошибка БД только логируется.
type HistoryStore struct {
	db  *gorm.DB
	log *logrus.Entry
}

func NewHistoryStore(db *gorm.DB) *HistoryStore {
	return &HistoryStore{db: db, log: logs.Logger.WithField("component", "history_mirror")}
}

func (s *HistoryStore) Migrate() error {
	return s.db.AutoMigrate(&models.HistoryRecord{})
}

// Append пишет записи одной транзакцией.
func (s *HistoryStore) Append(ctx context.Context, actions []storage.LoggedAction) error {
	if len(actions) == 0 {
		return nil
	}
	rows := make([]models.HistoryRecord, 0, len(actions))
	for _, a := range actions {
		rows = append(rows, models.HistoryRecord{DeviceSN: a.SN, Action: a.Entry.Action, At: a.At})
	}
	return s.db.WithContext(ctx).Create(&rows).Error
}

// BySN: записи по серийному номеру, новые первыми.
func (s *HistoryStore) BySN(ctx context.Context, sn string, limit int) ([]models.HistoryRecord, error) {
	var out []models.HistoryRecord
	q := s.db.WithContext(ctx).Where(&models.HistoryRecord{DeviceSN: sn}).Order("at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Attach подписывает зеркало на новые записи store.
func (s *HistoryStore) Attach(store *storage.Store) {
	store.OnLogs(func(actions []storage.LoggedAction) {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()
		if err := s.Append(ctx, actions); err != nil {
			metrics.HistoryMirrorErrorsTotal.Inc()
			s.log.WithField("records", len(actions)).WithError(err).Error("history mirror insert failed")
		}
	})
}
