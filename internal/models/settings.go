package models

import "slices"

// Settings: data/config.json. Отсутствующие ключи получают дефолты
// в DefaultSettings, незнакомые игнорируются.
type Settings struct {
	AdminIDs                 []int64  `json:"admin_ids"`
	DeviceTypes              []string `json:"device_types"`
	RegistrationEnabled      bool     `json:"registration_enabled"`
	DefaultBookingPeriodDays int      `json:"default_booking_period_days"`
	MaxDevicesPerUser        int      `json:"max_devices_per_user"`
	NotifyBeforeMinutes      int      `json:"notify_before_minutes"`
	WebAppURL                string   `json:"webapp_url"`
}

func DefaultSettings() Settings {
	return Settings{
		AdminIDs:                 []int64{},
		DeviceTypes:              []string{"Phone", "Tablet", "PC", "RKBoard"},
		RegistrationEnabled:      false,
		DefaultBookingPeriodDays: 1,
		MaxDevicesPerUser:        2,
		NotifyBeforeMinutes:      60,
		WebAppURL:                "",
	}
}

// IsAllowlisted сообщает, входит ли id в статический список админов.
func (s *Settings) IsAllowlisted(id int64) bool {
	return slices.Contains(s.AdminIDs, id)
}

// KnownType проверяет тип по словарю; пустой словарь пропускает всё.
func (s *Settings) KnownType(t string) bool {
	return len(s.DeviceTypes) == 0 || slices.Contains(s.DeviceTypes, t)
}

func (s Settings) Clone() Settings {
	s.AdminIDs = slices.Clone(s.AdminIDs)
	s.DeviceTypes = slices.Clone(s.DeviceTypes)
	return s
}
