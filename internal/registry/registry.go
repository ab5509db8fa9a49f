// Package registry хранит справочники бота. Пользователи и заявки, группы,
// устройства, поиск. Права вызывающего проверяет роутер.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"

	"devbook/internal/logs"
	"devbook/internal/models"
	"devbook/internal/storage"
)

var (
	ErrRegistrationDisabled = errors.New("registration is disabled")
	ErrAlreadyRegistered    = errors.New("user already registered")
	ErrNoGroups             = errors.New("no groups defined")
	ErrUserNotFound         = errors.New("user not found")
	ErrUserExists           = errors.New("user already exists")
	ErrGroupNotFound        = errors.New("group not found")
	ErrGroupExists          = errors.New("group name already taken")
	ErrDeviceNotFound       = errors.New("device not found")
	ErrDuplicateSN          = errors.New("serial number already registered")
	ErrQueryTooShort        = errors.New("search query too short")
)

// FormatError: ввод не разобран; Expected описывает ожидаемый формат.
type FormatError struct {
	Expected string
}

func (e *FormatError) Error() string { return "invalid format, expected: " + e.Expected }

// ValidationError: значение поля не прошло проверку.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Reason) }

// Notifier: отправка сообщений админам и пользователям.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

// ProfileLookup достаёт имя пользователя чата по id (getChat).
type ProfileLookup interface {
	LookupProfile(ctx context.Context, id int64) (models.Profile, error)
}

type Registry struct {
	store    *storage.Store
	notifier Notifier
	lookup   ProfileLookup
	log      *logrus.Entry
}

func New(store *storage.Store) *Registry {
	return &Registry{
		store: store,
		log:   logs.Logger.WithField("component", "registry"),
	}
}

func (r *Registry) SetNotifier(n Notifier) { r.notifier = n }

func (r *Registry) SetLookup(l ProfileLookup) { r.lookup = l }

// Settings: копия текущих настроек.
func (r *Registry) Settings() models.Settings {
	var s models.Settings
	r.store.View(func(v *storage.Snapshot) { s = v.Settings().Clone() })
	return s
}

// ToggleRegistration переключает приём заявок и возвращает новое значение.
func (r *Registry) ToggleRegistration(ctx context.Context) (bool, error) {
	var enabled bool
	err := r.store.Update(func(tx *storage.Tx) error {
		s := tx.Settings().Clone()
		s.RegistrationEnabled = !s.RegistrationEnabled
		enabled = s.RegistrationEnabled
		tx.SetSettings(s)
		return nil
	})
	if err != nil {
		return false, err
	}
	r.log.WithField("enabled", enabled).Info("registration toggled")
	return enabled, nil
}

func (r *Registry) notify(ctx context.Context, chatID int64, text string) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Notify(ctx, chatID, text); err != nil {
		r.log.WithField("chat_id", chatID).WithError(err).Warn("notification failed")
	}
}

// History: копия журнала действий по серийным номерам.
func (r *Registry) History() models.Logs {
	var out models.Logs
	r.store.View(func(v *storage.Snapshot) {
		out = make(models.Logs, len(v.Logs()))
		for sn, entries := range v.Logs() {
			out[sn] = slices.Clone(entries)
		}
	})
	return out
}
