package models

import "time"

// LogLayout: формат отметки времени в device_logs.json.
const LogLayout = "2006-01-02 15:04:05"

type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Action    string `json:"action"`
}

func NewLogEntry(at time.Time, action string) LogEntry {
	return LogEntry{Timestamp: at.Format(LogLayout), Action: action}
}

// Logs: история действий по серийному номеру устройства.
type Logs map[string][]LogEntry
