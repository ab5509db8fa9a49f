package booking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"devbook/internal/logs"
	"devbook/internal/metrics"
	"devbook/internal/models"
	"devbook/internal/storage"
)

const expiredAction = "Бронирование автоматически завершено (истёк срок)"

// Expired: бронь, снятая по сроку.
type Expired struct {
	Device models.Device // состояние до освобождения
	Owner  int64
}

// sweepTx освобождает все брони со сроком <= now внутри транзакции.
func sweepTx(tx *storage.Tx, now time.Time) []Expired {
	var out []Expired
	devices := tx.MutableDevices()
	for i := range devices {
		d := &devices[i]
		if !d.IsBooked() || d.ExpiresAt().After(now) {
			continue
		}
		out = append(out, Expired{Device: *d, Owner: d.Owner()})
		d.Free()
		tx.AppendLog(d.SN, expiredAction, now)
	}
	if len(out) > 0 {
		tx.Touch(storage.Devices)
	}
	return out
}

// Sweep освобождает просроченные брони и возвращает их.
func (s *Service) Sweep(ctx context.Context) ([]Expired, error) {
	start := time.Now()
	defer func() { metrics.SweepDurationSeconds.Observe(time.Since(start).Seconds()) }()

	now := s.now()
	var expired []Expired
	err := s.store.Update(func(tx *storage.Tx) error {
		expired = sweepTx(tx, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.settle(expired)
	return expired, nil
}

// settle снимает напоминания и запросы передачи у брони, освобождённых
// по сроку. Вызывается после успешной записи транзакции.
func (s *Service) settle(expired []Expired) {
	if len(expired) == 0 {
		return
	}
	for _, e := range expired {
		s.forget(e.Device, e.Owner)
	}
	metrics.ReleasesTotal.WithLabelValues("expired").Add(float64(len(expired)))
	s.log.WithField("count", len(expired)).Info("expired bookings released")
}

// sweepQuiet: очистка перед чтением; ошибку только логируем, список всё
// равно показываем.
func (s *Service) sweepQuiet(ctx context.Context) {
	if _, err := s.Sweep(ctx); err != nil {
		s.log.WithError(err).Error("sweep before read failed")
	}
}

// ExpiredText: уведомление бывшему владельцу.
func ExpiredText(d models.Device) string {
	return fmt.Sprintf("Срок бронирования устройства %s (SN: %s) истёк. Устройство освобождено.", d.Name, d.SN)
}

// SweepResult: итог одного прохода Sweeper.
type SweepResult struct {
	Released int
	Notified int
	Duration time.Duration
}

// Sweeper: фоновая очистка просроченных броней по тикеру. В отличие от
// очистки перед чтением, сообщает бывшим владельцам.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	log      *logrus.Entry

	mu     sync.Mutex // не даёт RunOnce идти параллельно
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSweeper(svc *Service, interval time.Duration) *Sweeper {
	return &Sweeper{
		svc:      svc,
		interval: interval,
		log:      logs.Logger.WithField("component", "sweeper"),
	}
}

// Start запускает фоновую горутину. interval <= 0, ничего не делает.
func (sw *Sweeper) Start(ctx context.Context) {
	if sw.interval <= 0 {
		sw.log.Info("sweeper disabled")
		return
	}
	sctx, cancel := context.WithCancel(ctx)
	sw.cancel = cancel
	sw.done = make(chan struct{})

	go sw.run(sctx)
	sw.log.WithField("interval", sw.interval.String()).Info("sweeper started")
}

// Stop останавливает горутину и ждёт её завершения.
func (sw *Sweeper) Stop() {
	if sw.cancel == nil {
		return
	}
	sw.cancel()
	<-sw.done
	sw.log.Info("sweeper stopped")
}

func (sw *Sweeper) run(ctx context.Context) {
	defer close(sw.done)

	// первый проход сразу после старта
	sw.RunOnce(ctx)

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sw.RunOnce(ctx)
		}
	}
}

// RunOnce: один проход: освободить просроченные и разослать уведомления.
func (sw *Sweeper) RunOnce(ctx context.Context) SweepResult {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	start := time.Now()
	var res SweepResult
	expired, err := sw.svc.Sweep(ctx)
	if err != nil {
		sw.log.WithError(err).Error("sweep failed")
		return res
	}
	res.Released = len(expired)
	for _, e := range expired {
		if e.Owner == 0 || sw.svc.notifier == nil {
			continue
		}
		if err := sw.svc.notifier.Notify(ctx, e.Owner, ExpiredText(e.Device)); err != nil {
			sw.log.WithField("chat_id", e.Owner).WithError(err).Warn("expiration notice failed")
			continue
		}
		res.Notified++
	}
	res.Duration = time.Since(start)
	if res.Released > 0 {
		sw.log.WithFields(logrus.Fields{
			"released": res.Released,
			"notified": res.Notified,
			"duration": res.Duration.String(),
		}).Info("sweep completed")
	}
	return res
}
