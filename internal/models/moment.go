package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Moment: отметка времени брони. Пишется в RFC3339, читается также
// в «наивном» ISO-формате без зоны, который оставлял старый бот.
type Moment time.Time

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func (m Moment) Time() time.Time { return time.Time(m) }

func (m Moment) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(m).Format(time.RFC3339Nano))
}

func (m *Moment) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("booking_expiration: %w", err)
	}
	t, err := ParseMoment(s)
	if err != nil {
		return err
	}
	*m = Moment(t)
	return nil
}

// ParseMoment разбирает RFC3339 или наивный ISO (в локальной зоне).
func ParseMoment(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("booking_expiration: unsupported time %q", s)
}
