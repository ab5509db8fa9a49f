package registry

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"

	"devbook/internal/models"
	"devbook/internal/storage"
)

const notSpecified = "Не указано"

func orDefault(s string) string {
	if strings.TrimSpace(s) == "" {
		return notSpecified
	}
	return s
}

// User: копия записи пользователя.
func (r *Registry) User(id int64) (models.User, bool) {
	var (
		u  models.User
		ok bool
	)
	r.store.View(func(v *storage.Snapshot) {
		if p := v.User(id); p != nil {
			u, ok = *p, true
		}
	})
	return u, ok
}

// Users: все пользователи в порядке файла.
func (r *Registry) Users() []models.User {
	var out []models.User
	r.store.View(func(v *storage.Snapshot) { out = slices.Clone(v.Users()) })
	return out
}

// ActiveUsers: активные пользователи (выбор владельца при админском бронировании).
func (r *Registry) ActiveUsers() []models.User {
	var out []models.User
	for _, u := range r.Users() {
		if u.IsActive() {
			out = append(out, u)
		}
	}
	return out
}

// PendingUsers: заявки на рассмотрении.
func (r *Registry) PendingUsers() []models.User {
	var out []models.User
	for _, u := range r.Users() {
		if u.Status == models.UserPending {
			out = append(out, u)
		}
	}
	return out
}

// Register: первый шаг регистрации: возвращает группы для выбора.
func (r *Registry) Register(ctx context.Context, p models.Profile) ([]models.Group, error) {
	var (
		groups []models.Group
		err    error
	)
	r.store.View(func(v *storage.Snapshot) {
		switch {
		case !v.Settings().RegistrationEnabled:
			err = ErrRegistrationDisabled
		case v.User(p.ID) != nil:
			err = ErrAlreadyRegistered
		case len(v.Groups()) == 0:
			err = ErrNoGroups
		default:
			groups = sortedGroups(v.Groups())
		}
	})
	return groups, err
}

// CompleteRegistration создаёт заявку (status pending) в выбранной группе
// и сообщает админам.
func (r *Registry) CompleteRegistration(ctx context.Context, p models.Profile, groupID int64) (models.User, models.Group, error) {
	var (
		u      models.User
		g      models.Group
		admins []int64
	)
	err := r.store.Update(func(tx *storage.Tx) error {
		if tx.User(p.ID) != nil {
			return ErrAlreadyRegistered
		}
		grp := tx.Group(groupID)
		if grp == nil {
			return ErrGroupNotFound
		}
		gid := groupID
		u = models.User{
			UserID:    p.ID,
			Username:  orDefault(p.Username),
			FirstName: orDefault(p.FirstName),
			LastName:  orDefault(p.LastName),
			Role:      models.RoleUser,
			Status:    models.UserPending,
			GroupID:   &gid,
		}
		tx.AddUser(u)
		g = *grp
		admins = slices.Clone(tx.Settings().AdminIDs)
		return nil
	})
	if err != nil {
		return models.User{}, models.Group{}, err
	}

	r.log.WithFields(logrus.Fields{"user_id": p.ID, "group_id": groupID}).Info("registration request")
	text := fmt.Sprintf("🆕 Новая заявка на регистрацию\n🆔 ID: %d\n👤 %s %s\n📛 username: @%s\n👥 Группа ID: %d",
		u.UserID, u.FirstName, u.LastName, u.Username, groupID)
	for _, id := range admins {
		r.notify(ctx, id, text)
	}
	return u, g, nil
}

// EnsureAdmin создаёт запись для админа из статического списка при первом
// обращении. Возвращает true, если запись создана.
func (r *Registry) EnsureAdmin(ctx context.Context, p models.Profile) (bool, error) {
	created := false
	err := r.store.Update(func(tx *storage.Tx) error {
		s := tx.Settings()
		if !s.IsAllowlisted(p.ID) || tx.User(p.ID) != nil {
			return nil
		}
		tx.AddUser(models.User{
			UserID:    p.ID,
			Username:  orDefault(p.Username),
			FirstName: orDefault(p.FirstName),
			LastName:  orDefault(p.LastName),
			Role:      models.RoleAdmin,
			Status:    models.UserActive,
		})
		created = true
		return nil
	})
	if created {
		r.log.WithField("user_id", p.ID).Info("allowlisted admin materialized")
	}
	return created, err
}

// mutateUser применяет fn к пользователю id и сохраняет users.json.
func (r *Registry) mutateUser(id int64, fn func(u *models.User) error) (models.User, error) {
	var out models.User
	err := r.store.Update(func(tx *storage.Tx) error {
		u := tx.User(id)
		if u == nil {
			return ErrUserNotFound
		}
		if err := fn(u); err != nil {
			return err
		}
		tx.Touch(storage.Users)
		out = *u
		return nil
	})
	return out, err
}

func (r *Registry) setStatus(id int64, status models.UserStatus) (models.User, error) {
	u, err := r.mutateUser(id, func(u *models.User) error {
		u.Status = status
		return nil
	})
	if err == nil {
		r.log.WithFields(logrus.Fields{"user_id": id, "status": status}).Info("user status changed")
	}
	return u, err
}

// Approve делает заявку активной и сообщает пользователю.
func (r *Registry) Approve(ctx context.Context, id int64) (models.User, error) {
	u, err := r.setStatus(id, models.UserActive)
	if err != nil {
		return u, err
	}
	r.notify(ctx, id, "✅ Ваша заявка одобрена. Отправьте /start, чтобы открыть меню.")
	return u, nil
}

// Reject удаляет заявку.
func (r *Registry) Reject(ctx context.Context, id int64) (models.User, error) {
	return r.DeleteUser(ctx, id)
}

func (r *Registry) Block(ctx context.Context, id int64) (models.User, error) {
	return r.setStatus(id, models.UserBlocked)
}

func (r *Registry) Unblock(ctx context.Context, id int64) (models.User, error) {
	return r.setStatus(id, models.UserActive)
}

// DeleteUser удаляет пользователя; его брони остаются до освобождения.
func (r *Registry) DeleteUser(ctx context.Context, id int64) (models.User, error) {
	var u models.User
	err := r.store.Update(func(tx *storage.Tx) error {
		p := tx.User(id)
		if p == nil {
			return ErrUserNotFound
		}
		u = *p
		tx.RemoveUser(id)
		return nil
	})
	if err == nil {
		r.log.WithField("user_id", id).Info("user deleted")
	}
	return u, err
}

const (
	addUserFormat  = "Имя, Фамилия, username, роль"
	editUserFormat = "Имя, Фамилия, username, роль, статус[, телефон]"
)

func splitFields(line string) []string {
	parts := strings.Split(line, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseRole(s string) (models.Role, error) {
	switch strings.ToLower(s) {
	case "user":
		return models.RoleUser, nil
	case "admin":
		return models.RoleAdmin, nil
	}
	return "", &ValidationError{Field: "роль", Reason: "допустимо User или Admin"}
}

func parseStatus(s string) (models.UserStatus, error) {
	switch st := models.UserStatus(strings.ToLower(s)); st {
	case models.UserActive, models.UserPending, models.UserBlocked:
		return st, nil
	}
	return "", &ValidationError{Field: "статус", Reason: "допустимо active, pending или blocked"}
}

// ParseManualUser разбирает «Имя, Фамилия, username, роль» в черновик.
// Черновик сохраняет FinishAddUser после выбора группы.
func (r *Registry) ParseManualUser(line string) (models.User, error) {
	parts := splitFields(line)
	if len(parts) != 4 {
		return models.User{}, &FormatError{Expected: addUserFormat}
	}
	role, err := parseRole(parts[3])
	if err != nil {
		return models.User{}, err
	}
	if err := r.requireGroups(); err != nil {
		return models.User{}, err
	}
	return models.User{
		FirstName: parts[0],
		LastName:  parts[1],
		Username:  strings.TrimPrefix(parts[2], "@"),
		Role:      role,
		Status:    models.UserActive,
	}, nil
}

// DraftUserByID: черновик пользователя с известным Telegram ID; имя
// подтягивается через ProfileLookup, если он задан.
func (r *Registry) DraftUserByID(ctx context.Context, id int64) (models.User, error) {
	if id <= 0 {
		return models.User{}, &FormatError{Expected: "числовой User ID"}
	}
	if _, ok := r.User(id); ok {
		return models.User{}, ErrUserExists
	}
	if err := r.requireGroups(); err != nil {
		return models.User{}, err
	}
	u := models.User{
		UserID:    id,
		Username:  notSpecified,
		FirstName: notSpecified,
		LastName:  notSpecified,
		Role:      models.RoleUser,
		Status:    models.UserActive,
	}
	if r.lookup != nil {
		p, err := r.lookup.LookupProfile(ctx, id)
		if err != nil {
			r.log.WithField("user_id", id).WithError(err).Debug("profile lookup failed")
		} else {
			u.Username = orDefault(p.Username)
			u.FirstName = orDefault(p.FirstName)
			u.LastName = orDefault(p.LastName)
		}
	}
	return u, nil
}

// FinishAddUser сохраняет черновик в группе groupID. Черновик без ID
// получает следующий свободный.
func (r *Registry) FinishAddUser(ctx context.Context, draft models.User, groupID int64) (models.User, models.Group, error) {
	var g models.Group
	err := r.store.Update(func(tx *storage.Tx) error {
		grp := tx.Group(groupID)
		if grp == nil {
			return ErrGroupNotFound
		}
		if draft.UserID == 0 {
			draft.UserID = tx.NextUserID()
		} else if tx.User(draft.UserID) != nil {
			return ErrUserExists
		}
		gid := groupID
		draft.GroupID = &gid
		tx.AddUser(draft)
		g = *grp
		return nil
	})
	if err != nil {
		return models.User{}, models.Group{}, err
	}
	r.log.WithFields(logrus.Fields{"user_id": draft.UserID, "group_id": groupID}).Info("user added")
	return draft, g, nil
}

// EditUser: «Имя, Фамилия, username, роль, статус[, телефон]»; без
// шестого поля телефон сохраняется.
func (r *Registry) EditUser(ctx context.Context, id int64, line string) (models.User, error) {
	parts := splitFields(line)
	if len(parts) != 5 && len(parts) != 6 {
		return models.User{}, &FormatError{Expected: editUserFormat}
	}
	role, err := parseRole(parts[3])
	if err != nil {
		return models.User{}, err
	}
	status, err := parseStatus(parts[4])
	if err != nil {
		return models.User{}, err
	}
	return r.mutateUser(id, func(u *models.User) error {
		u.FirstName = parts[0]
		u.LastName = parts[1]
		u.Username = strings.TrimPrefix(parts[2], "@")
		u.Role = role
		u.Status = status
		if len(parts) == 6 {
			u.Phone = parts[5]
		}
		return nil
	})
}

// SetDisplayName: /set_name.
func (r *Registry) SetDisplayName(ctx context.Context, id int64, name string) (models.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.User{}, &FormatError{Expected: "/set_name Имя Фамилия"}
	}
	return r.mutateUser(id, func(u *models.User) error {
		u.DisplayName = name
		return nil
	})
}

// SetUserGroup назначает группу; nil снимает её.
func (r *Registry) SetUserGroup(ctx context.Context, id int64, groupID *int64) (models.User, error) {
	var gid *int64
	if groupID != nil {
		v := *groupID
		gid = &v
	}
	var out models.User
	err := r.store.Update(func(tx *storage.Tx) error {
		if gid != nil && tx.Group(*gid) == nil {
			return ErrGroupNotFound
		}
		u := tx.User(id)
		if u == nil {
			return ErrUserNotFound
		}
		u.GroupID = gid
		tx.Touch(storage.Users)
		out = *u
		return nil
	})
	return out, err
}

func (r *Registry) requireGroups() error {
	var n int
	r.store.View(func(v *storage.Snapshot) { n = len(v.Groups()) })
	if n == 0 {
		return ErrNoGroups
	}
	return nil
}

func sortedGroups(groups []models.Group) []models.Group {
	out := slices.Clone(groups)
	slices.SortFunc(out, func(a, b models.Group) int { return cmp.Compare(a.ID, b.ID) })
	return out
}
