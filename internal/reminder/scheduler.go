// Package reminder ставит одноразовые таймеры напоминаний, адресуемые ключом
// брони. Повторное Schedule с тем же ключом заменяет таймер.
package reminder

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"devbook/internal/logs"
	"devbook/internal/metrics"
)

// Key однозначно задаёт бронь: устройство, владелец и срок.
type Key struct {
	DeviceID   int64
	OwnerID    int64
	Expiration int64 // UnixNano
}

func NewKey(deviceID, ownerID int64, exp time.Time) Key {
	return Key{DeviceID: deviceID, OwnerID: ownerID, Expiration: exp.UnixNano()}
}

type Scheduler struct {
	now func() time.Time

	mu      sync.Mutex
	timers  map[Key]*time.Timer
	stopped bool
}

func New(now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{now: now, timers: map[Key]*time.Timer{}}
}

// Schedule ставит fn на момент at. Если at уже прошёл, ничего не делает
// и возвращает false.
func (s *Scheduler) Schedule(key Key, at time.Time, fn func()) bool {
	delay := at.Sub(s.now())
	if delay <= 0 {
		logs.Logger.WithFields(logrus.Fields{
			"component": "reminder",
			"device_id": key.DeviceID,
		}).Debug("reminder time already passed, skipped")
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	if old, ok := s.timers[key]; ok {
		old.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		s.mu.Lock()
		// таймер мог быть заменён, пока ждали блокировку
		if cur, ok := s.timers[key]; !ok || cur != t {
			s.mu.Unlock()
			return
		}
		delete(s.timers, key)
		metrics.RemindersScheduled.Set(float64(len(s.timers)))
		s.mu.Unlock()
		fn()
	})
	s.timers[key] = t
	metrics.RemindersScheduled.Set(float64(len(s.timers)))
	return true
}

// Cancel снимает таймер. Возвращает true, если он был.
func (s *Scheduler) Cancel(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[key]
	if !ok {
		return false
	}
	t.Stop()
	delete(s.timers, key)
	metrics.RemindersScheduled.Set(float64(len(s.timers)))
	return true
}

// CancelDevice снимает все таймеры устройства.
func (s *Scheduler) CancelDevice(deviceID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, t := range s.timers {
		if k.DeviceID == deviceID {
			t.Stop()
			delete(s.timers, k)
			n++
		}
	}
	metrics.RemindersScheduled.Set(float64(len(s.timers)))
	return n
}

// Pending: количество ожидающих таймеров.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop снимает все таймеры; после него Schedule ничего не ставит.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, t := range s.timers {
		t.Stop()
		delete(s.timers, k)
	}
	s.stopped = true
	metrics.RemindersScheduled.Set(0)
}
