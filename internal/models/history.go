package models

import "time"

// HistoryRecord: строка SQL-зеркала истории действий (опционально).
type HistoryRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	DeviceSN string    `gorm:"index;size:255;not null" json:"device_sn"`
	Action   string    `gorm:"size:1024" json:"action"`
	At       time.Time `gorm:"index" json:"at"`
}
