package registry

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"devbook/internal/importer"
	"devbook/internal/models"
	"devbook/internal/storage"
)

const editDeviceFormat = "Название, SN, Тип[, GroupID]"

// DeviceDraft: поля нового устройства, собранные по шагам.
type DeviceDraft struct {
	Name    string
	SN      string
	Type    string
	GroupID int64
}

func (r *Registry) Device(id int64) (models.Device, bool) {
	var (
		d  models.Device
		ok bool
	)
	r.store.View(func(v *storage.Snapshot) {
		if p := v.Device(id); p != nil {
			d, ok = *p, true
		}
	})
	return d, ok
}

func (r *Registry) Devices() []models.Device {
	var out []models.Device
	r.store.View(func(v *storage.Snapshot) { out = slices.Clone(v.Devices()) })
	return out
}

// DevicesByType: устройства типа t; пустой t, все.
func (r *Registry) DevicesByType(t string) []models.Device {
	var out []models.Device
	for _, d := range r.Devices() {
		if t == "" || d.Type == t {
			out = append(out, d)
		}
	}
	return out
}

// CheckName: название не короче двух символов.
func CheckName(name string) error {
	if utf8.RuneCountInString(strings.TrimSpace(name)) < 2 {
		return &ValidationError{Field: "название", Reason: "минимум 2 символа"}
	}
	return nil
}

// CheckSN: серийный номер не пустой и не занят.
func (r *Registry) CheckSN(sn string) error {
	return r.checkSN(sn, 0)
}

func (r *Registry) checkSN(sn string, exceptID int64) error {
	sn = strings.TrimSpace(sn)
	if sn == "" {
		return &ValidationError{Field: "SN", Reason: "не может быть пустым"}
	}
	var taken bool
	r.store.View(func(v *storage.Snapshot) {
		d := v.DeviceBySN(sn)
		taken = d != nil && d.ID != exceptID
	})
	if taken {
		return ErrDuplicateSN
	}
	return nil
}

// CheckType: тип из словаря (если словарь задан).
func (r *Registry) CheckType(t string) error {
	s := r.Settings()
	if !s.KnownType(strings.TrimSpace(t)) {
		return &ValidationError{Field: "тип", Reason: "допустимо: " + strings.Join(s.DeviceTypes, ", ")}
	}
	return nil
}

// AddDevice проверяет черновик и добавляет свободное устройство.
func (r *Registry) AddDevice(ctx context.Context, draft DeviceDraft) (models.Device, error) {
	draft.Name = strings.TrimSpace(draft.Name)
	draft.SN = strings.TrimSpace(draft.SN)
	draft.Type = strings.TrimSpace(draft.Type)
	if err := CheckName(draft.Name); err != nil {
		return models.Device{}, err
	}
	if err := r.CheckType(draft.Type); err != nil {
		return models.Device{}, err
	}

	var d models.Device
	err := r.store.Update(func(tx *storage.Tx) error {
		if draft.SN == "" {
			return &ValidationError{Field: "SN", Reason: "не может быть пустым"}
		}
		if tx.DeviceBySN(draft.SN) != nil {
			return ErrDuplicateSN
		}
		if tx.Group(draft.GroupID) == nil {
			return ErrGroupNotFound
		}
		gid := draft.GroupID
		d = models.Device{
			ID:      tx.NextDeviceID(),
			Name:    draft.Name,
			SN:      draft.SN,
			Type:    draft.Type,
			Status:  models.DeviceFree,
			GroupID: &gid,
		}
		tx.AddDevice(d)
		return nil
	})
	if err != nil {
		return models.Device{}, err
	}
	r.log.WithFields(logrus.Fields{"device_id": d.ID, "sn": d.SN}).Info("device added")
	return d, nil
}

// EditDevice: «Название, SN, Тип[, GroupID]». Без четвёртого поля группа
// не меняется, пустое четвёртое поле снимает группу.
func (r *Registry) EditDevice(ctx context.Context, id int64, line string) (models.Device, error) {
	parts := splitFields(line)
	if len(parts) != 3 && len(parts) != 4 {
		return models.Device{}, &FormatError{Expected: editDeviceFormat}
	}
	name, sn, typ := parts[0], parts[1], parts[2]
	if err := CheckName(name); err != nil {
		return models.Device{}, err
	}
	var (
		setGroup bool
		groupID  *int64
	)
	if len(parts) == 4 {
		setGroup = true
		if parts[3] != "" {
			n, err := strconv.ParseInt(parts[3], 10, 64)
			if err != nil {
				return models.Device{}, &FormatError{Expected: editDeviceFormat}
			}
			groupID = &n
		}
	}

	var out models.Device
	err := r.store.Update(func(tx *storage.Tx) error {
		d := tx.Device(id)
		if d == nil {
			return ErrDeviceNotFound
		}
		if sn == "" {
			return &ValidationError{Field: "SN", Reason: "не может быть пустым"}
		}
		if other := tx.DeviceBySN(sn); other != nil && other.ID != id {
			return ErrDuplicateSN
		}
		if groupID != nil && tx.Group(*groupID) == nil {
			return ErrGroupNotFound
		}
		d.Name, d.SN, d.Type = name, sn, typ
		if setGroup {
			d.GroupID = groupID
		}
		tx.Touch(storage.Devices)
		out = *d
		return nil
	})
	return out, err
}

// RenameDevice возвращает старое имя.
func (r *Registry) RenameDevice(ctx context.Context, id int64, name string) (string, models.Device, error) {
	name = strings.TrimSpace(name)
	if err := CheckName(name); err != nil {
		return "", models.Device{}, err
	}
	var (
		old string
		out models.Device
	)
	err := r.store.Update(func(tx *storage.Tx) error {
		d := tx.Device(id)
		if d == nil {
			return ErrDeviceNotFound
		}
		old = d.Name
		d.Name = name
		tx.Touch(storage.Devices)
		out = *d
		return nil
	})
	return old, out, err
}

// DeleteDevice удаляет устройство; история по SN сохраняется.
func (r *Registry) DeleteDevice(ctx context.Context, id int64) (models.Device, error) {
	var out models.Device
	err := r.store.Update(func(tx *storage.Tx) error {
		d := tx.Device(id)
		if d == nil {
			return ErrDeviceNotFound
		}
		out = *d
		tx.RemoveDevice(id)
		return nil
	})
	if err == nil {
		r.log.WithFields(logrus.Fields{"device_id": id, "sn": out.SN}).Info("device deleted")
	}
	return out, err
}

// ImportResult: итог импорта.
type ImportResult struct {
	Added   int
	Skipped int
}

// ImportDevices добавляет строки импорта как свободные устройства.
// Строка без SN или с SN, который уже есть в реестре либо встречался выше
// в том же файле, пропускается. Несуществующая группа превращается в
// «без группы».
func (r *Registry) ImportDevices(ctx context.Context, rows []importer.Row) (ImportResult, error) {
	var res ImportResult
	err := r.store.Update(func(tx *storage.Tx) error {
		res = ImportResult{}
		next := tx.NextDeviceID()
		for _, row := range rows {
			sn := strings.TrimSpace(row.SN)
			// добавленные выше строки уже лежат в tx, повтор в файле тоже ловится
			if sn == "" || tx.DeviceBySN(sn) != nil {
				res.Skipped++
				continue
			}
			var gid *int64
			if row.GroupID != "" {
				if n, err := strconv.ParseInt(row.GroupID, 10, 64); err == nil && tx.Group(n) != nil {
					gid = &n
				}
			}
			tx.AddDevice(models.Device{
				ID:      next,
				Name:    row.Name,
				SN:      sn,
				Type:    row.Type,
				Status:  models.DeviceFree,
				GroupID: gid,
			})
			next++
			res.Added++
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	r.log.WithFields(logrus.Fields{"added": res.Added, "skipped": res.Skipped}).Info("devices imported")
	return res, nil
}
