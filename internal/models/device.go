package models

import "time"

type DeviceStatus string

const (
	DeviceFree   DeviceStatus = "free"
	DeviceBooked DeviceStatus = "booked"
)

// Device: запись devices.json. Ключи совпадают с исходными файлами бота.
// Инвариант: OwnerID и Expiration заданы одновременно и только при Status=booked.
// Указатели не меняются по месту: при изменении присваивается новое значение,
// на этом держится дешёвое копирование коллекций в storage.Tx.
type Device struct {
	ID            int64        `json:"id"`
	Name          string       `json:"name"`
	SN            string       `json:"sn"`
	Type          string       `json:"type"`
	Status        DeviceStatus `json:"status"`
	OwnerID       *int64       `json:"user_id,omitempty"`
	Expiration    *Moment      `json:"booking_expiration,omitempty"`
	GroupID       *int64       `json:"group_id"`
	DefaultPeriod *int         `json:"default_booking_period,omitempty"` // дни
}

func (d *Device) IsBooked() bool { return d.Status == DeviceBooked }

// BookedBy сообщает, забронировано ли устройство указанным пользователем.
func (d *Device) BookedBy(userID int64) bool {
	return d.IsBooked() && d.OwnerID != nil && *d.OwnerID == userID
}

// Book переводит устройство в booked.
func (d *Device) Book(owner int64, until time.Time) {
	m := Moment(until)
	d.Status = DeviceBooked
	d.OwnerID = &owner
	d.Expiration = &m
}

// Free снимает бронь.
func (d *Device) Free() {
	d.Status = DeviceFree
	d.OwnerID = nil
	d.Expiration = nil
}

// ExpiresAt возвращает срок брони или нулевое время.
func (d *Device) ExpiresAt() time.Time {
	if d.Expiration == nil {
		return time.Time{}
	}
	return d.Expiration.Time()
}

// Owner возвращает владельца или 0.
func (d *Device) Owner() int64 {
	if d.OwnerID == nil {
		return 0
	}
	return *d.OwnerID
}

// InGroup сообщает, относится ли устройство к группе.
func (d *Device) InGroup(groupID int64) bool {
	return d.GroupID != nil && *d.GroupID == groupID
}

// Normalize чинит записи, нарушающие инвариант (например, отредактированные руками).
func (d *Device) Normalize() {
	if d.Status != DeviceBooked || d.OwnerID == nil || d.Expiration == nil {
		d.Free()
	}
}
