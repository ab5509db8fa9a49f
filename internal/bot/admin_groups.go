package bot

import (
	"context"
	"fmt"
	"strings"

	"devbook/internal/registry"
	"devbook/internal/session"
)

func (r *Router) manageGroups(ctx context.Context, q *request) []Reply {
	return r.groupsMenu(q)
}

func (r *Router) cbManageGroups(ctx context.Context, q *request, _ []int64, _ string) []Reply {
	r.reset(q)
	return r.groupsMenu(q)
}

func (r *Router) groupsMenu(q *request) []Reply {
	groups := r.reg.Groups()
	var (
		b       strings.Builder
		buttons [][]Button
	)
	b.WriteString("👥 Управление группами\n\n")
	if len(groups) == 0 {
		b.WriteString(msgNoGroupsYet)
	}
	for _, g := range groups {
		users, devices := r.reg.GroupMembers(g.ID)
		fmt.Fprintf(&b, "%d: %s (пользователей: %d, устройств: %d)\n", g.ID, g.Name, len(users), len(devices))
		if len(buttons) < maxListed {
			buttons = append(buttons, row(cb("👥 "+shorten(g.Name, 40), fmt.Sprintf("edit_group_%d", g.ID))))
		}
	}
	buttons = append(buttons,
		row(cb("➕ Создать группу", "add_group")),
		row(cb("⬅️ "+btnBack, "back_to_admin")),
	)
	return q.edit(strings.TrimRight(b.String(), "\n"), buttons)
}

func (r *Router) cbAddGroup(ctx context.Context, q *request, _ []int64, _ string) []Reply {
	r.enter(q, session.AddGroupName{})
	return q.edit("➕ Создание группы\n\nВведите название новой группы:", nil)
}

func (r *Router) cbEditGroup(ctx context.Context, q *request, args []int64, _ string) []Reply {
	r.reset(q)
	return r.groupCard(q, args[0])
}

func (r *Router) groupCard(q *request, id int64) []Reply {
	g, ok := r.reg.Group(id)
	if !ok {
		return r.fail(q, registry.ErrGroupNotFound)
	}
	users, devices := r.reg.GroupMembers(id)
	text := fmt.Sprintf("👥 Группа: %s\n🆔 ID: %d\n👤 Пользователей: %d\n📱 Устройств: %d",
		g.Name, g.ID, len(users), len(devices))
	buttons := [][]Button{
		row(cb("✏️ Переименовать", fmt.Sprintf("rename_group_%d", id))),
		row(cb("👤 Пользователи", fmt.Sprintf("assign_group_users_%d", id)),
			cb("📱 Устройства", fmt.Sprintf("assign_group_devices_%d", id))),
		row(cb("🗑 Удалить группу", fmt.Sprintf("delete_group_%d", id))),
		row(cb("⬅️ "+btnBack, "manage_groups_admin")),
	}
	return q.edit(text, buttons)
}

func (r *Router) cbRenameGroup(ctx context.Context, q *request, args []int64, _ string) []Reply {
	g, ok := r.reg.Group(args[0])
	if !ok {
		return r.fail(q, registry.ErrGroupNotFound)
	}
	r.enter(q, session.RenameGroup{ID: g.ID})
	return q.edit(fmt.Sprintf("✏️ Переименование группы '%s'\n\nВведите новое название:", g.Name), nil)
}

func (r *Router) cbDeleteGroup(ctx context.Context, q *request, args []int64, _ string) []Reply {
	del, err := r.reg.DeleteGroup(ctx, args[0])
	if err != nil {
		return r.fail(q, err)
	}
	return q.edit(fmt.Sprintf("✅ Группа '%s' удалена.\n\nУ %d пользователей и %d устройств снята принадлежность к группе.",
		del.Group.Name, del.Users, del.Devices),
		[][]Button{row(cb("⬅️ "+btnBack, "manage_groups_admin"))})
}

func mark(on bool) string {
	if on {
		return "✅ "
	}
	return "⬜ "
}

func (r *Router) cbAssignUsers(ctx context.Context, q *request, args []int64, _ string) []Reply {
	return r.assignUsers(q, args[0])
}

func (r *Router) assignUsers(q *request, gid int64) []Reply {
	g, ok := r.reg.Group(gid)
	if !ok {
		return r.fail(q, registry.ErrGroupNotFound)
	}
	var buttons [][]Button
	for _, u := range r.reg.Users() {
		if len(buttons) == maxListed {
			break
		}
		buttons = append(buttons, row(cb(mark(u.InGroup(gid))+shorten(u.FullName(), 30),
			fmt.Sprintf("toggle_group_user_%d_%d", gid, u.UserID))))
	}
	buttons = append(buttons, row(cb("⬅️ "+btnBack, fmt.Sprintf("edit_group_%d", gid))))
	return q.edit(fmt.Sprintf("👤 Пользователи группы '%s'\n\nНажмите, чтобы добавить или убрать:", g.Name), buttons)
}

func (r *Router) cbToggleGroupUser(ctx context.Context, q *request, args []int64, _ string) []Reply {
	if len(args) != 2 {
		return q.edit(msgBadCallback, nil)
	}
	if _, _, err := r.reg.ToggleUserGroup(ctx, args[0], args[1]); err != nil {
		return r.fail(q, err)
	}
	return r.assignUsers(q, args[0])
}

func (r *Router) cbAssignDevices(ctx context.Context, q *request, args []int64, _ string) []Reply {
	return r.assignDevices(q, args[0])
}

func (r *Router) assignDevices(q *request, gid int64) []Reply {
	g, ok := r.reg.Group(gid)
	if !ok {
		return r.fail(q, registry.ErrGroupNotFound)
	}
	var buttons [][]Button
	for _, d := range r.reg.Devices() {
		if len(buttons) == maxListed {
			break
		}
		buttons = append(buttons, row(cb(fmt.Sprintf("%s%s (%s)", mark(d.InGroup(gid)), shorten(d.Name, 24), d.SN),
			fmt.Sprintf("toggle_group_device_%d_%d", gid, d.ID))))
	}
	buttons = append(buttons, row(cb("⬅️ "+btnBack, fmt.Sprintf("edit_group_%d", gid))))
	return q.edit(fmt.Sprintf("📱 Устройства группы '%s'\n\nНажмите, чтобы добавить или убрать:", g.Name), buttons)
}

func (r *Router) cbToggleGroupDevice(ctx context.Context, q *request, args []int64, _ string) []Reply {
	if len(args) != 2 {
		return q.edit(msgBadCallback, nil)
	}
	if _, _, err := r.reg.ToggleDeviceGroup(ctx, args[0], args[1]); err != nil {
		return r.fail(q, err)
	}
	return r.assignDevices(q, args[0])
}
