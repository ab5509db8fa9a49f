package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"devbook/internal/access"
	"devbook/internal/metrics"
	"devbook/internal/models"
	"devbook/internal/reminder"
	"devbook/internal/storage"
)

type transferKey struct {
	deviceID    int64
	requesterID int64
}

// TransferRequest: ожидающий ответа владельца запрос на передачу.
type TransferRequest struct {
	ID            uuid.UUID
	Device        models.Device
	OwnerID       int64
	RequesterID   int64
	RequesterName string
	CreatedAt     time.Time
	// Booking: бронь, к которой относится запрос. После её смены запрос
	// недействителен.
	Booking reminder.Key
}

// Transfer: выполненная передача.
type Transfer struct {
	Device   models.Device
	From     int64
	To       int64
	FromName string
	ToName   string
}

// RequestTransfer регистрирует запрос не-владельца на занятое устройство.
// Приглашение владельцу отправляет вызывающий.
func (s *Service) RequestTransfer(ctx context.Context, requesterID, deviceID int64) (TransferRequest, error) {
	var req TransferRequest
	var err error
	s.store.View(func(v *storage.Snapshot) {
		d := v.Device(deviceID)
		switch {
		case d == nil:
			err = ErrDeviceNotFound
			return
		case !d.IsBooked() || !d.ExpiresAt().After(s.now()):
			err = ErrNotBooked
			return
		case d.Owner() == requesterID:
			err = ErrSelfTransfer
			return
		}
		if err = eligible(v.Settings(), v, v.User(requesterID), d); err != nil {
			return
		}
		req = TransferRequest{
			ID:            uuid.New(),
			Device:        *d,
			OwnerID:       d.Owner(),
			RequesterID:   requesterID,
			RequesterName: v.UserName(requesterID),
			CreatedAt:     s.now(),
			Booking:       reminder.NewKey(d.ID, d.Owner(), d.ExpiresAt()),
		}
	})
	if err != nil {
		return TransferRequest{}, err
	}

	s.mu.Lock()
	s.transfers[transferKey{deviceID, requesterID}] = req
	s.mu.Unlock()

	metrics.TransfersTotal.WithLabelValues("requested").Inc()
	s.log.WithFields(logrus.Fields{
		"transfer_id":  req.ID.String(),
		"device_id":    deviceID,
		"owner_id":     req.OwnerID,
		"requester_id": requesterID,
	}).Info("transfer requested")
	return req, nil
}

// eligible: новый владелец должен иметь право забронировать устройство сам.
func eligible(settings models.Settings, groups access.GroupResolver, user *models.User, d *models.Device) error {
	switch {
	case user == nil:
		return ErrUserNotFound
	case !user.IsActive():
		return ErrUserInactive
	case !access.CanBook(settings, user, d):
		return access.DenyReason(groups, user, d)
	}
	return nil
}

// pending возвращает запрос, если он есть и адресован этому владельцу.
func (s *Service) pending(ownerID, deviceID, requesterID int64) (TransferRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.transfers[transferKey{deviceID, requesterID}]
	if !ok || req.OwnerID != ownerID {
		return TransferRequest{}, false
	}
	return req, true
}

func (s *Service) dropTransfer(deviceID, requesterID int64) {
	s.mu.Lock()
	delete(s.transfers, transferKey{deviceID, requesterID})
	s.mu.Unlock()
}

func (s *Service) dropTransfers(deviceID int64) {
	s.mu.Lock()
	for k := range s.transfers {
		if k.deviceID == deviceID {
			delete(s.transfers, k)
		}
	}
	s.mu.Unlock()
}

// ConfirmTransfer: владелец соглашается. Срок брони сохраняется, лимит
// нового владельца проверяется.
func (s *Service) ConfirmTransfer(ctx context.Context, ownerID, deviceID, newOwnerID int64) (Transfer, error) {
	req, ok := s.pending(ownerID, deviceID, newOwnerID)
	if !ok {
		return Transfer{}, ErrTransferNotFound
	}

	var t Transfer
	now := s.now()
	err := s.store.Update(func(tx *storage.Tx) error {
		d := tx.Device(deviceID)
		if d == nil {
			return ErrDeviceNotFound
		}
		if !d.BookedBy(ownerID) || !d.ExpiresAt().After(now) {
			return ErrNotBooked
		}
		if reminder.NewKey(d.ID, ownerID, d.ExpiresAt()) != req.Booking {
			return ErrTransferNotFound
		}
		newOwner := tx.User(newOwnerID)
		if err := eligible(tx.Settings(), tx, newOwner, d); err != nil {
			return err
		}
		if limit := tx.Settings().MaxDevicesPerUser; countBooked(tx.Devices(), newOwnerID) >= limit {
			return &LimitError{Max: limit, Other: true}
		}

		t = Transfer{
			From:     ownerID,
			To:       newOwnerID,
			FromName: tx.UserName(ownerID),
			ToName:   newOwner.FullName(),
		}
		to := newOwnerID
		d.OwnerID = &to
		tx.Touch(storage.Devices)
		tx.AppendLog(d.SN, fmt.Sprintf("Передано от %s к %s", t.FromName, t.ToName), now)
		t.Device = *d
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrTransferNotFound) {
			s.dropTransfer(deviceID, newOwnerID)
		}
		metrics.TransfersTotal.WithLabelValues("failed").Inc()
		return Transfer{}, err
	}

	s.dropTransfers(deviceID)
	until := t.Device.ExpiresAt()
	s.rem.Cancel(reminder.NewKey(deviceID, ownerID, until))
	s.scheduleReminder(t.Device, newOwnerID, until)

	metrics.TransfersTotal.WithLabelValues("confirmed").Inc()
	s.log.WithFields(logrus.Fields{
		"transfer_id": req.ID.String(),
		"device_id":   deviceID,
		"from":        ownerID,
		"to":          newOwnerID,
	}).Info("device transferred")
	return t, nil
}

// RejectTransfer: владелец отказал; состояние устройства не меняется.
func (s *Service) RejectTransfer(ctx context.Context, ownerID, deviceID, requesterID int64) (TransferRequest, error) {
	req, ok := s.pending(ownerID, deviceID, requesterID)
	if !ok {
		return TransferRequest{}, ErrTransferNotFound
	}
	s.dropTransfer(deviceID, requesterID)
	metrics.TransfersTotal.WithLabelValues("rejected").Inc()
	s.log.WithFields(logrus.Fields{
		"transfer_id": req.ID.String(),
		"device_id":   deviceID,
	}).Info("transfer rejected")
	return req, nil
}
