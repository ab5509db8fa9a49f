package access

import (
	"errors"
	"fmt"

	"devbook/internal/models"
)

// Requirement: что нужно обработчику от пользователя.
type Requirement int

const (
	AllowUnregistered Requirement = iota // регистрация, /help
	RequireActive
	RequireAdmin
)

var (
	ErrNotRegistered = errors.New("user is not registered")
	// ErrBlocked: сообщения заблокированных пользователей молча игнорируются.
	ErrBlocked = errors.New("user is blocked")
)

type WrongStatusError struct {
	Status   models.UserStatus
	Required models.UserStatus
}

func (e *WrongStatusError) Error() string {
	return fmt.Sprintf("status %s, required %s", e.Status, e.Required)
}

type WrongRoleError struct {
	Required models.Role
}

func (e *WrongRoleError) Error() string {
	return fmt.Sprintf("role %s required", e.Required)
}

// Gate проверяет статус и роль. id, идентификатор из чата, user может
// быть nil, если записи нет.
func Gate(settings models.Settings, user *models.User, id int64, req Requirement) error {
	if user == nil {
		if req == AllowUnregistered {
			return nil
		}
		if req == RequireAdmin && settings.IsAllowlisted(id) {
			return nil
		}
		return ErrNotRegistered
	}
	if user.Status == models.UserBlocked {
		return ErrBlocked
	}
	if req == AllowUnregistered {
		return nil
	}
	if !user.IsActive() && !settings.IsAllowlisted(id) {
		return &WrongStatusError{Status: user.Status, Required: models.UserActive}
	}
	if req == RequireAdmin && !IsAdmin(settings, user, id) {
		return &WrongRoleError{Required: models.RoleAdmin}
	}
	return nil
}
