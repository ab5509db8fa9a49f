package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"devbook/internal/models"
	"devbook/internal/registry"
	"devbook/internal/session"
)

// onFlow: текст внутри многошагового диалога. Ошибка ввода оставляет
// диалог на текущем шаге, пропажа сущности его сбрасывает.
func (r *Router) onFlow(ctx context.Context, q *request, text string) []Reply {
	switch st := q.state.(type) {
	case session.AddDeviceName:
		if err := registry.CheckName(text); err != nil {
			return r.flowFail(q, err)
		}
		r.enter(q, session.AddDeviceSN{DeviceName: text})
		return q.say("Введите серийный номер устройства:")

	case session.AddDeviceSN:
		if err := r.reg.CheckSN(text); err != nil {
			return r.flowFail(q, err)
		}
		r.enter(q, session.AddDeviceType{DeviceName: st.DeviceName, SN: text})
		return q.say("Введите тип устройства.\nДоступные типы: " + strings.Join(q.settings.DeviceTypes, ", "))

	case session.AddDeviceType:
		if err := r.reg.CheckType(text); err != nil {
			return r.flowFail(q, err)
		}
		r.enter(q, session.AddDeviceGroup{DeviceName: st.DeviceName, SN: st.SN, Type: text})
		return q.say("Введите ID группы, к которой будет относиться устройство:\n" + r.groupList())

	case session.AddDeviceGroup:
		gid, err := parseID(text)
		if err != nil {
			return r.flowFail(q, err)
		}
		d, err := r.reg.AddDevice(ctx, registry.DeviceDraft{Name: st.DeviceName, SN: st.SN, Type: st.Type, GroupID: gid})
		if err != nil {
			return r.flowFail(q, err)
		}
		r.reset(q)
		return q.menu(fmt.Sprintf("✅ Устройство добавлено:\n🆔 ID: %d\n📱 %s\n🔢 SN: %s\n📦 Тип: %s\n👥 Группа: %s",
			d.ID, d.Name, d.SN, d.Type, r.groupName(d.GroupID)), adminMenu)

	case session.EditDevice:
		d, err := r.reg.EditDevice(ctx, st.ID, text)
		if err != nil {
			return r.flowFail(q, err)
		}
		r.reset(q)
		return q.menu(fmt.Sprintf("✅ Устройство обновлено:\n🆔 ID: %d\n📱 %s\n🔢 SN: %s\n📦 Тип: %s\n👥 Группа: %s",
			d.ID, d.Name, d.SN, d.Type, r.groupName(d.GroupID)), adminMenu)

	case session.AddGroupName:
		g, err := r.reg.CreateGroup(ctx, text)
		if err != nil {
			return r.flowFail(q, err)
		}
		r.reset(q)
		return q.inline(fmt.Sprintf("✅ Группа '%s' создана (ID: %d).\n\nТеперь вы можете назначить пользователей и устройства этой группе.",
			g.Name, g.ID), [][]Button{row(cb("👥 Открыть группу", fmt.Sprintf("edit_group_%d", g.ID)))})

	case session.RenameGroup:
		old, g, err := r.reg.RenameGroup(ctx, st.ID, text)
		if err != nil {
			return r.flowFail(q, err)
		}
		r.reset(q)
		return q.say(fmt.Sprintf("✅ Группа переименована:\nБыло: %s\nСтало: %s", old, g.Name))

	case session.AddUserManual:
		draft, err := r.reg.ParseManualUser(text)
		if err != nil {
			return r.flowFail(q, err)
		}
		return r.askUserGroup(q, draft)

	case session.AddUserByID:
		id, err := parseID(text)
		if err != nil {
			return r.flowFail(q, &registry.FormatError{Expected: "числовой User ID"})
		}
		draft, err := r.reg.DraftUserByID(ctx, id)
		if err != nil {
			return r.flowFail(q, err)
		}
		return r.askUserGroup(q, draft)

	case session.AddUserGroup:
		gid, err := parseID(text)
		if err != nil {
			return r.flowFail(q, err)
		}
		manual := st.Draft.UserID == 0
		u, g, err := r.reg.FinishAddUser(ctx, st.Draft, gid)
		if err != nil {
			return r.flowFail(q, err)
		}
		r.reset(q)
		if manual {
			return q.menu(fmt.Sprintf("Пользователь @%s добавлен в группу '%s'.", u.Username, g.Name), adminMenu)
		}
		return q.menu(fmt.Sprintf("✅ Пользователь добавлен:\n🆔 ID: %d\n👤 %s %s\n📛 username: @%s\n👥 Группа: %s",
			u.UserID, u.FirstName, u.LastName, u.Username, g.Name), adminMenu)

	case session.EditUser:
		if _, err := r.reg.EditUser(ctx, st.ID, text); err != nil {
			return r.flowFail(q, err)
		}
		r.reset(q)
		return q.menu("Данные пользователя обновлены.", adminMenu)
	}
	r.reset(q)
	return q.say(msgUnknown)
}

func (r *Router) askUserGroup(q *request, draft models.User) []Reply {
	r.enter(q, session.AddUserGroup{Draft: draft})
	return q.say("Введите ID группы для пользователя:\n" + r.groupList())
}

func (r *Router) flowFail(q *request, err error) []Reply {
	if errors.Is(err, registry.ErrDeviceNotFound) || errors.Is(err, registry.ErrUserNotFound) ||
		errors.Is(err, registry.ErrNoGroups) || internalErr(err) {
		r.reset(q)
	}
	return r.fail(q, err)
}

func parseID(text string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil {
		return 0, &registry.FormatError{Expected: "числовой ID"}
	}
	return n, nil
}
