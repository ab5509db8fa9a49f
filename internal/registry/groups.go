package registry

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"devbook/internal/models"
	"devbook/internal/storage"
)

// Groups: группы по возрастанию id.
func (r *Registry) Groups() []models.Group {
	var out []models.Group
	r.store.View(func(v *storage.Snapshot) { out = sortedGroups(v.Groups()) })
	return out
}

func (r *Registry) Group(id int64) (models.Group, bool) {
	var (
		g  models.Group
		ok bool
	)
	r.store.View(func(v *storage.Snapshot) {
		if p := v.Group(id); p != nil {
			g, ok = *p, true
		}
	})
	return g, ok
}

// GroupMembers: пользователи и устройства группы.
func (r *Registry) GroupMembers(id int64) ([]models.User, []models.Device) {
	var (
		users   []models.User
		devices []models.Device
	)
	r.store.View(func(v *storage.Snapshot) {
		for _, u := range v.Users() {
			if u.InGroup(id) {
				users = append(users, u)
			}
		}
		for _, d := range v.Devices() {
			if d.InGroup(id) {
				devices = append(devices, d)
			}
		}
	})
	return users, devices
}

func (r *Registry) CreateGroup(ctx context.Context, name string) (models.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Group{}, &ValidationError{Field: "название группы", Reason: "не может быть пустым"}
	}
	var g models.Group
	err := r.store.Update(func(tx *storage.Tx) error {
		if tx.GroupByName(name) != nil {
			return ErrGroupExists
		}
		g = models.Group{ID: tx.NextGroupID(), Name: name}
		tx.AddGroup(g)
		return nil
	})
	if err != nil {
		return models.Group{}, err
	}
	r.log.WithFields(logrus.Fields{"group_id": g.ID, "name": name}).Info("group created")
	return g, nil
}

// RenameGroup возвращает старое название и обновлённую группу.
func (r *Registry) RenameGroup(ctx context.Context, id int64, name string) (string, models.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", models.Group{}, &ValidationError{Field: "название группы", Reason: "не может быть пустым"}
	}
	var (
		old string
		g   models.Group
	)
	err := r.store.Update(func(tx *storage.Tx) error {
		grp := tx.Group(id)
		if grp == nil {
			return ErrGroupNotFound
		}
		if other := tx.GroupByName(name); other != nil && other.ID != id {
			return ErrGroupExists
		}
		old = grp.Name
		grp.Name = name
		tx.Touch(storage.Groups)
		g = *grp
		return nil
	})
	return old, g, err
}

// GroupDeletion: итог удаления группы.
type GroupDeletion struct {
	Group   models.Group
	Users   int
	Devices int
}

// DeleteGroup удаляет группу и снимает её у пользователей и устройств.
func (r *Registry) DeleteGroup(ctx context.Context, id int64) (GroupDeletion, error) {
	var res GroupDeletion
	err := r.store.Update(func(tx *storage.Tx) error {
		grp := tx.Group(id)
		if grp == nil {
			return ErrGroupNotFound
		}
		res.Group = *grp

		users := tx.MutableUsers()
		for i := range users {
			if users[i].InGroup(id) {
				users[i].GroupID = nil
				res.Users++
			}
		}
		devices := tx.MutableDevices()
		for i := range devices {
			if devices[i].InGroup(id) {
				devices[i].GroupID = nil
				res.Devices++
			}
		}
		tx.RemoveGroup(id)
		tx.Touch(storage.Users, storage.Devices)
		return nil
	})
	if err != nil {
		return GroupDeletion{}, err
	}
	r.log.WithFields(logrus.Fields{
		"group_id": id,
		"users":    res.Users,
		"devices":  res.Devices,
	}).Info("group deleted")
	return res, nil
}

// ToggleUserGroup назначает пользователя в группу или снимает, если он
// уже в ней. Возвращает true, если пользователь теперь в группе.
func (r *Registry) ToggleUserGroup(ctx context.Context, groupID, userID int64) (bool, models.User, error) {
	var (
		in bool
		u  models.User
	)
	err := r.store.Update(func(tx *storage.Tx) error {
		if tx.Group(groupID) == nil {
			return ErrGroupNotFound
		}
		p := tx.User(userID)
		if p == nil {
			return ErrUserNotFound
		}
		if p.InGroup(groupID) {
			p.GroupID = nil
		} else {
			gid := groupID
			p.GroupID = &gid
			in = true
		}
		tx.Touch(storage.Users)
		u = *p
		return nil
	})
	return in, u, err
}

// ToggleDeviceGroup: то же для устройства.
func (r *Registry) ToggleDeviceGroup(ctx context.Context, groupID, deviceID int64) (bool, models.Device, error) {
	var (
		in bool
		d  models.Device
	)
	err := r.store.Update(func(tx *storage.Tx) error {
		if tx.Group(groupID) == nil {
			return ErrGroupNotFound
		}
		p := tx.Device(deviceID)
		if p == nil {
			return ErrDeviceNotFound
		}
		if p.InGroup(groupID) {
			p.GroupID = nil
		} else {
			gid := groupID
			p.GroupID = &gid
			in = true
		}
		tx.Touch(storage.Devices)
		d = *p
		return nil
	})
	return in, d, err
}
