// Package booking ведёт жизненный цикл брони. Бронирование, освобождение,
// очистка просроченных, передача владельцу и напоминания.
package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"devbook/internal/access"
	"devbook/internal/logs"
	"devbook/internal/metrics"
	"devbook/internal/models"
	"devbook/internal/reminder"
	"devbook/internal/storage"
)

// Notifier доставляет текст пользователю вне текущего ответа.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

// Booking: результат успешного бронирования.
type Booking struct {
	Device models.Device
	Owner  int64
	Until  time.Time
}

// Released: освобождённое устройство и его бывший владелец.
type Released struct {
	Device      models.Device
	FormerOwner int64
	ByAdmin     bool
}

type Service struct {
	store    *storage.Store
	rem      *reminder.Scheduler
	notifier Notifier
	now      func() time.Time
	log      *logrus.Entry

	mu        sync.Mutex
	transfers map[transferKey]TransferRequest
}

type Option func(*Service)

// WithClock подменяет часы (тесты).
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithScheduler(r *reminder.Scheduler) Option {
	return func(s *Service) { s.rem = r }
}

func NewService(store *storage.Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		now:       time.Now,
		log:       logs.Logger.WithField("component", "booking"),
		transfers: map[transferKey]TransferRequest{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.rem == nil {
		s.rem = reminder.New(s.now)
	}
	return s
}

// SetNotifier задаёт получателя уведомлений после создания сервиса:
// транспорт обычно поднимается позже.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// Scheduler: планировщик напоминаний сервиса.
func (s *Service) Scheduler() *reminder.Scheduler { return s.rem }

// Now: текущее время по часам сервиса.
func (s *Service) Now() time.Time { return s.now() }

func periodDays(settings models.Settings, d *models.Device) int {
	if d.DefaultPeriod != nil && *d.DefaultPeriod > 0 {
		return *d.DefaultPeriod
	}
	if settings.DefaultBookingPeriodDays > 0 {
		return settings.DefaultBookingPeriodDays
	}
	return 1
}

func countBooked(devices []models.Device, userID int64) int {
	n := 0
	for i := range devices {
		if devices[i].BookedBy(userID) {
			n++
		}
	}
	return n
}

// Book: бронирование свободного устройства пользователем.
func (s *Service) Book(ctx context.Context, userID, deviceID int64) (Booking, error) {
	var (
		b       Booking
		expired []Expired
	)
	now := s.now()
	err := s.store.Update(func(tx *storage.Tx) error {
		expired = sweepTx(tx, now)

		settings := tx.Settings()
		user := tx.User(userID)
		if user == nil {
			return ErrUserNotFound
		}
		d := tx.Device(deviceID)
		if d == nil {
			return ErrDeviceNotFound
		}
		if d.IsBooked() {
			return ErrAlreadyBooked
		}
		if !access.CanBook(settings, user, d) {
			return access.DenyReason(tx, user, d)
		}
		if limit := settings.MaxDevicesPerUser; countBooked(tx.Devices(), userID) >= limit {
			return &LimitError{Max: limit}
		}

		until := now.Add(time.Duration(periodDays(settings, d)) * 24 * time.Hour)
		d.Book(userID, until)
		tx.Touch(storage.Devices)
		tx.AppendLog(d.SN, fmt.Sprintf("Забронировано пользователем %s до %s.",
			user.FullName(), until.Format(models.LogLayout)), now)

		b = Booking{Device: *d, Owner: userID, Until: until}
		return nil
	})
	if err != nil {
		metrics.BookingRejectedTotal.WithLabelValues(rejectReason(err)).Inc()
		return Booking{}, err
	}
	s.settle(expired)

	metrics.BookingsTotal.WithLabelValues("self").Inc()
	s.log.WithFields(logrus.Fields{
		"device_id": deviceID,
		"user_id":   userID,
		"until":     b.Until.Format(time.RFC3339),
	}).Info("device booked")
	s.scheduleReminder(b.Device, userID, b.Until)
	return b, nil
}

// BookFor: админ бронирует устройство на активного пользователя.
// Группа и лимит не проверяются.
func (s *Service) BookFor(ctx context.Context, adminID, targetID, deviceID int64) (Booking, error) {
	var (
		b         Booking
		adminName string
		expired   []Expired
	)
	now := s.now()
	err := s.store.Update(func(tx *storage.Tx) error {
		expired = sweepTx(tx, now)

		settings := tx.Settings()
		if !access.IsAdmin(settings, tx.User(adminID), adminID) {
			return &access.WrongRoleError{Required: models.RoleAdmin}
		}
		target := tx.User(targetID)
		if target == nil {
			return ErrUserNotFound
		}
		if !target.IsActive() {
			return ErrUserInactive
		}
		d := tx.Device(deviceID)
		if d == nil {
			return ErrDeviceNotFound
		}
		if d.IsBooked() {
			return ErrAlreadyBooked
		}

		until := now.Add(time.Duration(periodDays(settings, d)) * 24 * time.Hour)
		d.Book(targetID, until)
		tx.Touch(storage.Devices)
		adminName = tx.UserName(adminID)
		tx.AppendLog(d.SN, fmt.Sprintf("Админ %s забронировал на пользователя %s до %s.",
			adminName, target.FullName(), until.Format(models.LogLayout)), now)

		b = Booking{Device: *d, Owner: targetID, Until: until}
		return nil
	})
	if err != nil {
		metrics.BookingRejectedTotal.WithLabelValues(rejectReason(err)).Inc()
		return Booking{}, err
	}
	s.settle(expired)

	metrics.BookingsTotal.WithLabelValues("admin").Inc()
	s.log.WithFields(logrus.Fields{
		"device_id": deviceID,
		"user_id":   targetID,
		"admin_id":  adminID,
	}).Info("device booked by admin")
	s.scheduleReminder(b.Device, targetID, b.Until)
	s.notify(ctx, targetID, fmt.Sprintf("👑 Администратор назначил вам устройство %s (SN: %s) до %s.",
		b.Device.Name, b.Device.SN, b.Until.Format("02.01.2006 15:04")))
	return b, nil
}

// Release: владелец освобождает своё устройство, админ любое.
func (s *Service) Release(ctx context.Context, userID, deviceID int64) (Released, error) {
	return s.release(ctx, userID, deviceID, false)
}

// ReleaseByOperator снимает бронь из служебного HTTP API, без пользователя чата.
func (s *Service) ReleaseByOperator(ctx context.Context, deviceID int64) (Released, error) {
	return s.release(ctx, 0, deviceID, true)
}

func (s *Service) release(ctx context.Context, userID, deviceID int64, operator bool) (Released, error) {
	var r Released
	now := s.now()
	err := s.store.Update(func(tx *storage.Tx) error {
		d := tx.Device(deviceID)
		if d == nil {
			return ErrDeviceNotFound
		}
		if !d.IsBooked() {
			return ErrNotBooked
		}
		owner := d.Owner()
		var action string
		switch {
		case operator:
			action = "Освобождено администратором"
			r.ByAdmin = true
		case owner == userID:
			action = "Освобождено пользователем " + tx.UserName(userID)
		case access.IsAdmin(tx.Settings(), tx.User(userID), userID):
			action = "Освобождено администратором"
			r.ByAdmin = true
		default:
			return ErrNotOwner
		}
		r.Device = *d
		r.FormerOwner = owner
		d.Free()
		tx.Touch(storage.Devices)
		tx.AppendLog(d.SN, action, now)
		return nil
	})
	if err != nil {
		return Released{}, err
	}

	reason := "user"
	if r.ByAdmin {
		reason = "admin"
	}
	metrics.ReleasesTotal.WithLabelValues(reason).Inc()
	s.forget(r.Device, r.FormerOwner)
	s.log.WithFields(logrus.Fields{
		"device_id": deviceID,
		"user_id":   userID,
		"by_admin":  r.ByAdmin,
	}).Info("device released")

	if r.ByAdmin && r.FormerOwner != userID {
		s.notify(ctx, r.FormerOwner, fmt.Sprintf("Бронирование устройства %s (SN: %s) снято администратором.",
			r.Device.Name, r.Device.SN))
	}
	return r, nil
}

// ReleaseAllOwned освобождает все устройства пользователя.
func (s *Service) ReleaseAllOwned(ctx context.Context, userID int64) ([]models.Device, error) {
	var out []models.Device
	now := s.now()
	err := s.store.Update(func(tx *storage.Tx) error {
		name := tx.UserName(userID)
		devices := tx.MutableDevices()
		for i := range devices {
			if !devices[i].BookedBy(userID) {
				continue
			}
			out = append(out, devices[i])
			devices[i].Free()
			tx.AppendLog(devices[i].SN, "Освобождено пользователем "+name, now)
		}
		if len(out) > 0 {
			tx.Touch(storage.Devices)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, d := range out {
		s.forget(d, userID)
	}
	metrics.ReleasesTotal.WithLabelValues("user").Add(float64(len(out)))
	return out, nil
}

// ReleaseAll: массовое освобождение админом.
func (s *Service) ReleaseAll(ctx context.Context, adminID int64) ([]Released, error) {
	var out []Released
	now := s.now()
	err := s.store.Update(func(tx *storage.Tx) error {
		if !access.IsAdmin(tx.Settings(), tx.User(adminID), adminID) {
			return &access.WrongRoleError{Required: models.RoleAdmin}
		}
		devices := tx.MutableDevices()
		for i := range devices {
			if !devices[i].IsBooked() {
				continue
			}
			out = append(out, Released{Device: devices[i], FormerOwner: devices[i].Owner(), ByAdmin: true})
			devices[i].Free()
			tx.AppendLog(devices[i].SN, "Освобождено администратором (массово)", now)
		}
		if len(out) > 0 {
			tx.Touch(storage.Devices)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, r := range out {
		s.forget(r.Device, r.FormerOwner)
	}
	metrics.ReleasesTotal.WithLabelValues("mass").Add(float64(len(out)))
	s.log.WithFields(logrus.Fields{"admin_id": adminID, "count": len(out)}).Info("all devices released")
	return out, nil
}

// UserDevices: устройства пользователя после очистки просроченных.
func (s *Service) UserDevices(ctx context.Context, userID int64) []models.Device {
	s.sweepQuiet(ctx)
	var out []models.Device
	s.store.View(func(v *storage.Snapshot) { out = v.BookedBy(userID) })
	return out
}

// BookedDevices: все занятые устройства (админский список).
func (s *Service) BookedDevices(ctx context.Context) []models.Device {
	s.sweepQuiet(ctx)
	var out []models.Device
	s.store.View(func(v *storage.Snapshot) {
		for _, d := range v.Devices() {
			if d.IsBooked() {
				out = append(out, d)
			}
		}
	})
	return out
}

// VisibleDevices: устройства, доступные пользователю по группе.
func (s *Service) VisibleDevices(ctx context.Context, userID int64) []models.Device {
	s.sweepQuiet(ctx)
	var out []models.Device
	s.store.View(func(v *storage.Snapshot) {
		user := v.User(userID)
		settings := v.Settings()
		if user == nil && settings.IsAllowlisted(userID) {
			out = append(out, v.Devices()...)
			return
		}
		out = append(out, access.VisibleDevices(settings, user, v.Devices())...)
	})
	return out
}

// AvailableDevices: свободные из видимых.
func (s *Service) AvailableDevices(ctx context.Context, userID int64) []models.Device {
	var out []models.Device
	for _, d := range s.VisibleDevices(ctx, userID) {
		if !d.IsBooked() {
			out = append(out, d)
		}
	}
	return out
}

func (s *Service) scheduleReminder(d models.Device, owner int64, until time.Time) {
	var before int
	s.store.View(func(v *storage.Snapshot) { before = v.Settings().NotifyBeforeMinutes })
	at := until.Add(-time.Duration(before) * time.Minute)
	key := reminder.NewKey(d.ID, owner, until)
	s.rem.Schedule(key, at, func() { s.fireReminder(key) })
}

// fireReminder отправляет напоминание, если бронь всё ещё та же.
func (s *Service) fireReminder(key reminder.Key) {
	var (
		d     models.Device
		valid bool
	)
	s.store.View(func(v *storage.Snapshot) {
		cur := v.Device(key.DeviceID)
		if cur == nil || !cur.BookedBy(key.OwnerID) || cur.ExpiresAt().UnixNano() != key.Expiration {
			return
		}
		d, valid = *cur, true
	})
	if !valid {
		s.log.WithField("device_id", key.DeviceID).Debug("stale reminder dropped")
		return
	}
	metrics.RemindersSentTotal.Inc()
	s.notify(context.Background(), key.OwnerID, ReminderText(d))
}

// ReminderText: текст напоминания о скором окончании брони.
func ReminderText(d models.Device) string {
	return fmt.Sprintf("Напоминание: срок бронирования устройства %s (SN: %s) скоро истечёт.\nДата окончания: %s",
		d.Name, d.SN, d.ExpiresAt().Format(models.LogLayout))
}

// forget снимает напоминание и ожидающие передачи освобождённой брони.
// ForgetDevice снимает напоминания и запросы передачи удалённого устройства.
// Возвращает число снятых напоминаний.
func (s *Service) ForgetDevice(deviceID int64) int {
	n := s.rem.CancelDevice(deviceID)
	s.dropTransfers(deviceID)
	if n > 0 {
		s.log.WithFields(logrus.Fields{"device_id": deviceID, "reminders": n}).Info("reminders of deleted device cancelled")
	}
	return n
}

func (s *Service) forget(d models.Device, owner int64) {
	s.rem.Cancel(reminder.NewKey(d.ID, owner, d.ExpiresAt()))
	s.dropTransfers(d.ID)
}

func (s *Service) notify(ctx context.Context, chatID int64, text string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, chatID, text); err != nil {
		s.log.WithField("chat_id", chatID).WithError(err).Warn("notification failed")
	}
}

func rejectReason(err error) string {
	var denied *access.DeniedError
	switch {
	case errors.Is(err, ErrDeviceNotFound), errors.Is(err, ErrUserNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyBooked):
		return "booked"
	case errors.As(err, &denied):
		return "denied"
	case errors.Is(err, ErrLimit):
		return "limit"
	case errors.Is(err, storage.ErrPersist):
		return "persist"
	default:
		return "other"
	}
}
