package bot

import (
	"context"
	"fmt"
	"strings"

	"devbook/internal/models"
	"devbook/internal/registry"
	"devbook/internal/session"
)

func (r *Router) manageUsers(ctx context.Context, q *request) []Reply {
	return r.usersMenu(q)
}

func (r *Router) cbManageUsers(ctx context.Context, q *request, _ []int64, _ string) []Reply {
	r.reset(q)
	return r.usersMenu(q)
}

func (r *Router) usersMenu(q *request) []Reply {
	pending := r.reg.PendingUsers()
	buttons := pendingButtons(pending)
	buttons = append(buttons,
		row(cb("📋 Все пользователи", "list_all_users")),
		row(cb("➕ Добавить пользователя", "add_user")),
		row(cb("⬅️ "+btnBack, "back_to_admin")),
	)
	return q.edit(fmt.Sprintf("👥 Управление пользователями\n\nВсего: %d\nЗаявок на рассмотрении: %d",
		len(r.reg.Users()), len(pending)), buttons)
}

func pendingButtons(pending []models.User) [][]Button {
	var buttons [][]Button
	for _, u := range pending {
		if len(buttons) == maxListed {
			break
		}
		buttons = append(buttons, row(
			cb("✅ "+shorten(u.FullName(), 24), fmt.Sprintf("approve_user_%d", u.UserID)),
			cb("❌", fmt.Sprintf("reject_user_%d", u.UserID)),
		))
	}
	return buttons
}

// pendingList: команда approve без аргумента.
func (r *Router) pendingList(q *request) []Reply {
	pending := r.reg.PendingUsers()
	if len(pending) == 0 {
		return q.say("Нет заявок на рассмотрении.")
	}
	var b strings.Builder
	b.WriteString("🆕 Заявки на регистрацию:\n\n")
	for _, u := range pending {
		fmt.Fprintf(&b, "🆔 %d | %s | @%s | %s\n", u.UserID, u.FullName(), u.Username, r.groupName(u.GroupID))
	}
	return q.inline(b.String(), pendingButtons(pending))
}

func (r *Router) cbListUsers(ctx context.Context, q *request, _ []int64, _ string) []Reply {
	users := r.reg.Users()
	var (
		b       strings.Builder
		buttons [][]Button
	)
	fmt.Fprintf(&b, "📋 Пользователи (%d)\n\n", len(users))
	for _, u := range users {
		fmt.Fprintf(&b, "🆔 %d | %s | @%s | %s | %s | %s\n",
			u.UserID, u.FullName(), u.Username, u.Role, u.Status, r.groupName(u.GroupID))
		if len(buttons) == maxListed {
			continue
		}
		lock := cb("🔒", fmt.Sprintf("block_user_%d", u.UserID))
		if u.Status == models.UserBlocked {
			lock = cb("🔓", fmt.Sprintf("unblock_user_%d", u.UserID))
		}
		buttons = append(buttons, row(
			cb("✏️ "+shorten(u.FullName(), 24), fmt.Sprintf("edit_user_%d", u.UserID)),
			lock,
			cb("🗑", fmt.Sprintf("delete_user_%d", u.UserID)),
		))
	}
	buttons = append(buttons, row(cb("⬅️ "+btnBack, "manage_users_admin")))
	return q.edit(strings.TrimRight(b.String(), "\n"), buttons)
}

func (r *Router) addUserManualPrompt(q *request) []Reply {
	r.enter(q, session.AddUserManual{})
	return q.edit("Введите пользователя в формате: Имя, Фамилия, username, роль\nПример:\nИван, Иванов, ivan123, Admin", nil)
}

func (r *Router) addUserByIDPrompt(q *request) []Reply {
	r.enter(q, session.AddUserByID{})
	return q.edit("➕ Добавление пользователя\n\nВведите Telegram ID пользователя (число).\n"+
		"Чтобы ввести данные вручную, отправьте команду adduser.", nil)
}

func (r *Router) cbAddUser(ctx context.Context, q *request, _ []int64, _ string) []Reply {
	return r.addUserByIDPrompt(q)
}

func (r *Router) cbApprove(ctx context.Context, q *request, args []int64, _ string) []Reply {
	u, err := r.reg.Approve(ctx, args[0])
	if err != nil {
		return r.fail(q, err)
	}
	return q.edit(fmt.Sprintf("Пользователь @%s утверждён.", u.Username),
		[][]Button{row(cb("⬅️ "+btnBack, "manage_users_admin"))})
}

func (r *Router) cbReject(ctx context.Context, q *request, args []int64, _ string) []Reply {
	u, err := r.reg.Reject(ctx, args[0])
	if err != nil {
		return r.fail(q, err)
	}
	return q.edit(fmt.Sprintf("Заявка пользователя @%s отклонена и удалена.", u.Username),
		[][]Button{row(cb("⬅️ "+btnBack, "manage_users_admin"))})
}

func (r *Router) cbBlock(ctx context.Context, q *request, args []int64, _ string) []Reply {
	if args[0] == q.id() {
		return q.edit("Нельзя заблокировать самого себя.", nil)
	}
	if _, err := r.reg.Block(ctx, args[0]); err != nil {
		return r.fail(q, err)
	}
	return r.cbListUsers(ctx, q, nil, "")
}

func (r *Router) cbUnblock(ctx context.Context, q *request, args []int64, _ string) []Reply {
	if _, err := r.reg.Unblock(ctx, args[0]); err != nil {
		return r.fail(q, err)
	}
	return r.cbListUsers(ctx, q, nil, "")
}

func (r *Router) editUserPrompt(q *request, id int64) []Reply {
	u, ok := r.reg.User(id)
	if !ok {
		return r.fail(q, registry.ErrUserNotFound)
	}
	r.enter(q, session.EditUser{ID: id})
	return q.edit(fmt.Sprintf("✏️ Редактирование пользователя %d\n\nТекущие данные:\n%s, %s, %s, %s, %s, %s\n\n"+
		"Введите новые данные в формате:\nИмя, Фамилия, username, роль, статус[, телефон]",
		u.UserID, u.FirstName, u.LastName, u.Username, u.Role, u.Status, u.Phone), nil)
}

func (r *Router) cbEditUser(ctx context.Context, q *request, args []int64, _ string) []Reply {
	return r.editUserPrompt(q, args[0])
}

func (r *Router) cbDeleteUser(ctx context.Context, q *request, args []int64, _ string) []Reply {
	if args[0] == q.id() {
		return q.edit("Нельзя удалить самого себя.", nil)
	}
	if _, err := r.reg.DeleteUser(ctx, args[0]); err != nil {
		return r.fail(q, err)
	}
	return q.edit("Пользователь удалён.", [][]Button{row(cb("⬅️ "+btnBack, "list_all_users"))})
}

// groupList: подсказка со списком групп для шагов, где вводится ID группы.
func (r *Router) groupList() string {
	groups := r.reg.Groups()
	if len(groups) == 0 {
		return msgNoGroupsYet
	}
	lines := make([]string, 0, len(groups))
	for _, g := range groups {
		lines = append(lines, fmt.Sprintf("%d: %s", g.ID, g.Name))
	}
	return strings.Join(lines, "\n")
}
