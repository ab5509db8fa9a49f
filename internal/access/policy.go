// Package access решает вопросы доступа. Кто админ, кто может бронировать какое
// устройство и какие устройства видит. Функции чистые, без побочных эффектов.
package access

import (
	"fmt"

	"devbook/internal/models"
)

// IsAdmin: роль Admin при статусе active либо id в статическом списке.
// user может быть nil (пользователь ещё не записан в users.json).
func IsAdmin(settings models.Settings, user *models.User, id int64) bool {
	if settings.IsAllowlisted(id) {
		return true
	}
	return user != nil && user.Role == models.RoleAdmin && user.IsActive()
}

// CanBook: админ, всегда; иначе у пользователя и устройства должна быть
// одна и та же группа.
func CanBook(settings models.Settings, user *models.User, device *models.Device) bool {
	if user == nil || device == nil {
		return false
	}
	if IsAdmin(settings, user, user.UserID) {
		return true
	}
	if user.GroupID == nil || device.GroupID == nil {
		return false
	}
	return *user.GroupID == *device.GroupID
}

// VisibleDevices: все устройства для админа, иначе только своей группы.
func VisibleDevices(settings models.Settings, user *models.User, all []models.Device) []models.Device {
	if user == nil {
		return nil
	}
	if IsAdmin(settings, user, user.UserID) {
		return all
	}
	if user.GroupID == nil {
		return nil
	}
	var out []models.Device
	for _, d := range all {
		if d.InGroup(*user.GroupID) {
			out = append(out, d)
		}
	}
	return out
}

// GroupResolver находит группу по id.
type GroupResolver interface {
	GroupOf(id *int64) *models.Group
}

// DenyReason объясняет, почему CanBook вернул false.
func DenyReason(groups GroupResolver, user *models.User, device *models.Device) *DeniedError {
	ug := groups.GroupOf(user.GroupID)
	dg := groups.GroupOf(device.GroupID)
	switch {
	case ug == nil:
		return &DeniedError{Reason: NoUserGroup}
	case dg == nil:
		return &DeniedError{Reason: NoDeviceGroup}
	default:
		return &DeniedError{Reason: GroupMismatch, UserGroup: ug.Name, DeviceGroup: dg.Name}
	}
}

type DenyKind int

const (
	NoUserGroup DenyKind = iota + 1
	NoDeviceGroup
	GroupMismatch
)

// DeniedError: отказ по группе.
type DeniedError struct {
	Reason      DenyKind
	UserGroup   string
	DeviceGroup string
}

func (e *DeniedError) Error() string {
	switch e.Reason {
	case NoUserGroup:
		return "access denied: user has no group"
	case NoDeviceGroup:
		return "access denied: device has no group"
	default:
		return fmt.Sprintf("access denied: device group %q, user group %q", e.DeviceGroup, e.UserGroup)
	}
}
