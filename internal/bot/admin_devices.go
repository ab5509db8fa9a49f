package bot

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"devbook/internal/booking"
	"devbook/internal/export"
	"devbook/internal/importer"
	"devbook/internal/models"
	"devbook/internal/registry"
	"devbook/internal/session"
)

const msgAdminPanel = "⚙️ Панель администратора"

func (r *Router) adminPanel(ctx context.Context, q *request) []Reply {
	r.reset(q)
	return append(q.menu("Администрирование:", adminMenu),
		q.inline(msgAdminPanel, adminButtons(q.settings.RegistrationEnabled))...)
}

func (r *Router) cbAdminPanel(ctx context.Context, q *request, _ []int64, _ string) []Reply {
	r.reset(q)
	return q.edit(msgAdminPanel, adminButtons(q.settings.RegistrationEnabled))
}

func (r *Router) viewBooked(ctx context.Context, q *request) []Reply {
	return r.bookedList(ctx, q, "")
}

func (r *Router) cbViewBooked(ctx context.Context, q *request, _ []int64, _ string) []Reply {
	return r.bookedList(ctx, q, "")
}

func (r *Router) bookedList(ctx context.Context, q *request, header string) []Reply {
	devices := r.book.BookedDevices(ctx)
	back := row(cb("⬅️ "+btnBack, "back_to_admin"))
	if len(devices) == 0 {
		return q.edit(header+"Нет забронированных устройств.", [][]Button{back})
	}
	var (
		b       strings.Builder
		buttons [][]Button
	)
	b.WriteString(header)
	b.WriteString("🔒 Забронированные устройства:\n\n")
	for _, d := range devices {
		b.WriteString(deviceCard(d))
		fmt.Fprintf(&b, "👤 %s\n⏰ До: %s\n\n", r.userName(d.Owner()), formatUntil(d))
		if len(buttons) < maxListed {
			buttons = append(buttons, row(cb("🔓 "+shorten(d.Name, 30)+" ("+d.SN+")", fmt.Sprintf("adm_rel_%d", d.ID))))
		}
	}
	buttons = append(buttons, row(cb("🔓 Освободить все", "adm_rel_all")), back)
	return q.edit(strings.TrimRight(b.String(), "\n"), buttons)
}

func (r *Router) cbReleaseAdmin(ctx context.Context, q *request, args []int64, _ string) []Reply {
	rel, err := r.book.Release(ctx, q.id(), args[0])
	if err != nil {
		return r.fail(q, err)
	}
	return r.bookedList(ctx, q, fmt.Sprintf("✅ Устройство %s (SN: %s) освобождено.\n\n", rel.Device.Name, rel.Device.SN))
}

func (r *Router) cbReleaseAllAdmin(ctx context.Context, q *request, _ []int64, _ string) []Reply {
	released, err := r.book.ReleaseAll(ctx, q.id())
	if err != nil {
		return r.fail(q, err)
	}
	return q.edit(fmt.Sprintf("✅ Освобождено устройств: %d.", len(released)),
		[][]Button{row(cb("⬅️ "+btnBack, "back_to_admin"))})
}

func (r *Router) manageDevices(ctx context.Context, q *request) []Reply {
	return r.devicesMenu(q)
}

func (r *Router) cbManageDevices(ctx context.Context, q *request, _ []int64, _ string) []Reply {
	r.reset(q)
	return r.devicesMenu(q)
}

func (r *Router) devicesMenu(q *request) []Reply {
	var buttons [][]Button
	for _, t := range q.settings.DeviceTypes {
		buttons = append(buttons, row(cb("📦 "+t, "admin_type_"+t)))
	}
	buttons = append(buttons,
		row(cb("📋 Все устройства", "admin_all_devices")),
		row(cb("➕ Добавить устройство", "add_device"), cb("📥 Импорт", "import_devices_admin")),
		row(cb("⬅️ "+btnBack, "back_to_admin")),
	)
	return q.edit(fmt.Sprintf("📋 Управление устройствами\n\nВсего устройств: %d", len(r.reg.Devices())), buttons)
}

func (r *Router) cbAdminType(ctx context.Context, q *request, _ []int64, t string) []Reply {
	return r.adminDeviceList(q, "📦 "+t, r.reg.DevicesByType(t))
}

func (r *Router) cbAdminAllDevices(ctx context.Context, q *request, _ []int64, _ string) []Reply {
	return r.adminDeviceList(q, "📋 Все устройства", r.reg.Devices())
}

// adminDeviceList: строка на устройство: бронь или освобождение,
// редактирование, удаление.
func (r *Router) adminDeviceList(q *request, title string, devices []models.Device) []Reply {
	var (
		b       strings.Builder
		buttons [][]Button
	)
	fmt.Fprintf(&b, "%s (%d)\n\n", title, len(devices))
	for _, d := range devices {
		fmt.Fprintf(&b, "%s %d. %s (SN: %s), %s\n", statusEmoji(d), d.ID, d.Name, d.SN, r.groupName(d.GroupID))
		if len(buttons) == maxListed {
			continue
		}
		action := cb(statusEmoji(d)+" "+shorten(d.Name, 24), fmt.Sprintf("admin_book_dev_%d", d.ID))
		if d.IsBooked() {
			action = cb("🔓 "+shorten(d.Name, 24), fmt.Sprintf("adm_rel_%d", d.ID))
		}
		buttons = append(buttons, row(action,
			cb("✏️", fmt.Sprintf("edit_device_%d", d.ID)),
			cb("🗑", fmt.Sprintf("delete_device_%d", d.ID)),
		))
	}
	if len(devices) == 0 {
		b.WriteString("Устройств нет.")
	}
	buttons = append(buttons, row(cb("⬅️ "+btnBack, "manage_devices_admin")))
	return q.edit(strings.TrimRight(b.String(), "\n"), buttons)
}

func (r *Router) groupName(id *int64) string {
	if id == nil {
		return msgNoGroup
	}
	if g, ok := r.reg.Group(*id); ok {
		return g.Name
	}
	return msgNoGroup
}

func (r *Router) addDevicePrompt(q *request) []Reply {
	r.enter(q, session.AddDeviceName{})
	return q.edit("➕ Добавление устройства\n\nВведите название устройства:", nil)
}

func (r *Router) cbAddDevice(ctx context.Context, q *request, _ []int64, _ string) []Reply {
	return r.addDevicePrompt(q)
}

func (r *Router) cbEditDevice(ctx context.Context, q *request, args []int64, _ string) []Reply {
	d, ok := r.reg.Device(args[0])
	if !ok {
		return r.fail(q, registry.ErrDeviceNotFound)
	}
	r.enter(q, session.EditDevice{ID: d.ID})
	return q.edit("✏️ Редактирование устройства\n\n"+deviceCard(d)+
		"Введите новые данные в формате:\nНазвание, SN, Тип[, GroupID]\nПустой GroupID снимает группу.", nil)
}

// deleteDevice удаляет устройство вместе с его таймерами и запросами передачи.
func (r *Router) deleteDevice(ctx context.Context, id int64) (models.Device, error) {
	d, err := r.reg.DeleteDevice(ctx, id)
	if err != nil {
		return d, err
	}
	r.book.ForgetDevice(d.ID)
	return d, nil
}

func (r *Router) cbDeleteDevice(ctx context.Context, q *request, args []int64, _ string) []Reply {
	d, err := r.deleteDevice(ctx, args[0])
	if err != nil {
		return r.fail(q, err)
	}
	return q.edit(fmt.Sprintf("Устройство %s (SN: %s) удалено.", d.Name, d.SN),
		[][]Button{row(cb("⬅️ "+btnBack, "manage_devices_admin"))})
}

func (r *Router) cbAdminBookDevice(ctx context.Context, q *request, args []int64, _ string) []Reply {
	d, ok := r.reg.Device(args[0])
	if !ok {
		return r.fail(q, booking.ErrDeviceNotFound)
	}
	if d.IsBooked() {
		return r.fail(q, booking.ErrAlreadyBooked)
	}
	var buttons [][]Button
	for _, u := range r.reg.ActiveUsers() {
		if len(buttons) == maxListed {
			break
		}
		buttons = append(buttons, row(cb(fmt.Sprintf("%s [%d]", shorten(u.FullName(), 30), u.UserID),
			fmt.Sprintf("admin_book_select_%d_%d", d.ID, u.UserID))))
	}
	buttons = append(buttons, row(cb("❌ Отмена", "admin_book_cancel")))
	return q.edit(fmt.Sprintf("📌 Бронирование %s (SN: %s)\n\nВыберите пользователя:", d.Name, d.SN), buttons)
}

func (r *Router) cbAdminBookSelect(ctx context.Context, q *request, args []int64, _ string) []Reply {
	if len(args) != 2 {
		return q.edit(msgBadCallback, nil)
	}
	b, err := r.book.BookFor(ctx, q.id(), args[1], args[0])
	if err != nil {
		return r.fail(q, err)
	}
	return q.edit(fmt.Sprintf("✅ Устройство %s (SN: %s) забронировано для %s до %s.",
		b.Device.Name, b.Device.SN, r.userName(b.Owner), b.Until.Format(dateLayout)), nil)
}

func (r *Router) cbAdminBookCancel(ctx context.Context, q *request, _ []int64, _ string) []Reply {
	return q.edit("❌ Бронирование отменено.", nil)
}

const msgImportPrompt = "📥 Импорт устройств\n\nОтправьте CSV или XLSX с колонками: SN, Name, Type (необязательно GroupId)."

func (r *Router) importPrompt(ctx context.Context, q *request) []Reply {
	r.enter(q, session.AwaitImport{})
	return q.menu(msgImportPrompt, backOnly)
}

func (r *Router) cbImport(ctx context.Context, q *request, _ []int64, _ string) []Reply {
	r.enter(q, session.AwaitImport{})
	return q.edit(msgImportPrompt, nil)
}

func (r *Router) importFile(ctx context.Context, q *request) []Reply {
	if r.files == nil {
		return r.fail(q, fmt.Errorf("no file source configured"))
	}
	rc, err := r.files.Open(ctx, q.ev.File.ID)
	if err != nil {
		return r.fail(q, fmt.Errorf("open %s: %w", q.ev.File.Name, err))
	}
	defer rc.Close()

	rows, err := importer.Load(q.ev.File.Name, io.LimitReader(rc, maxImportSize))
	if err != nil {
		return r.fail(q, err)
	}
	res, err := r.reg.ImportDevices(ctx, rows)
	if err != nil {
		return r.fail(q, err)
	}
	r.reset(q)
	text := fmt.Sprintf("Устройства импортированы. Добавлено: %d.", res.Added)
	if res.Skipped > 0 {
		text += fmt.Sprintf(" Пропущено (пустой или повторный SN): %d.", res.Skipped)
	}
	return q.menu(text, adminMenu)
}

const maxImportSize = 20 << 20

func (r *Router) sendExport(q *request, name, caption string, fn func(io.Writer) error) []Reply {
	data, err := export.Bytes(fn)
	if err != nil {
		return r.fail(q, fmt.Errorf("export %s: %w", name, err))
	}
	return []Reply{{
		ChatID:   q.ev.ChatID,
		Document: &Document{Name: name, Caption: caption, Data: data},
	}}
}

func (r *Router) exportDevices(ctx context.Context, q *request) []Reply {
	devices := r.reg.Devices()
	return r.sendExport(q, export.DevicesFilename, "Экспорт устройств", func(w io.Writer) error {
		return export.Devices(w, devices)
	})
}

func (r *Router) exportUsers(ctx context.Context, q *request) []Reply {
	users := r.reg.Users()
	return r.sendExport(q, export.UsersFilename, "Экспорт пользователей", func(w io.Writer) error {
		return export.Users(w, users)
	})
}

func (r *Router) exportLogs(ctx context.Context, q *request) []Reply {
	history := r.reg.History()
	return r.sendExport(q, export.LogsFilename, "Экспорт логов бронирований", func(w io.Writer) error {
		return export.Logs(w, history)
	})
}

func (r *Router) cbExportDevices(ctx context.Context, q *request, _ []int64, _ string) []Reply {
	return r.exportDevices(ctx, q)
}

func (r *Router) cbExportUsers(ctx context.Context, q *request, _ []int64, _ string) []Reply {
	return r.exportUsers(ctx, q)
}

func (r *Router) cbExportLogs(ctx context.Context, q *request, _ []int64, _ string) []Reply {
	return r.exportLogs(ctx, q)
}

func registrationState(on bool) string {
	if on {
		return "включена"
	}
	return "выключена"
}

func (r *Router) setRegistration(ctx context.Context, q *request, want bool) []Reply {
	if q.settings.RegistrationEnabled == want {
		return q.say("Регистрация уже " + registrationState(want) + ".")
	}
	on, err := r.reg.ToggleRegistration(ctx)
	if err != nil {
		return r.fail(q, err)
	}
	return q.say("Регистрация сейчас: " + registrationState(on))
}

func (r *Router) cbToggleRegistration(ctx context.Context, q *request, _ []int64, _ string) []Reply {
	on, err := r.reg.ToggleRegistration(ctx)
	if err != nil {
		return r.fail(q, err)
	}
	return q.edit(msgAdminPanel+"\n\nРегистрация сейчас: "+registrationState(on), adminButtons(on))
}

// adminCommand: текстовые команды админа: add, del N, rename N имя,
// approve [N], reject N, adduser, adduserid, edituser N, deluser N,
// blockuser N, unblockuser N.
func (r *Router) adminCommand(ctx context.Context, q *request, text string) []Reply {
	fields := strings.Fields(text)
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	id := func(usage string) (int64, []Reply) {
		if len(args) == 0 {
			return 0, q.say(errorText(&registry.FormatError{Expected: usage}))
		}
		n, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return 0, q.say(errorText(&registry.FormatError{Expected: usage}))
		}
		return n, nil
	}

	switch cmd {
	case "add":
		return r.addDevicePrompt(q)
	case "del":
		n, out := id("del N")
		if out != nil {
			return out
		}
		d, err := r.deleteDevice(ctx, n)
		if err != nil {
			return r.fail(q, err)
		}
		return q.say(fmt.Sprintf("Устройство %s (SN: %s) удалено.", d.Name, d.SN))
	case "rename":
		n, out := id("rename N новое_имя")
		if out != nil {
			return out
		}
		if len(args) < 2 {
			return q.say(errorText(&registry.FormatError{Expected: "rename N новое_имя"}))
		}
		old, d, err := r.reg.RenameDevice(ctx, n, strings.Join(args[1:], " "))
		if err != nil {
			return r.fail(q, err)
		}
		return q.say(fmt.Sprintf("Имя устройства изменено: %s → %s", old, d.Name))
	case "approve":
		if len(args) == 0 {
			return r.pendingList(q)
		}
		n, out := id("approve N")
		if out != nil {
			return out
		}
		u, err := r.reg.Approve(ctx, n)
		if err != nil {
			return r.fail(q, err)
		}
		return q.say(fmt.Sprintf("Пользователь @%s утверждён.", u.Username))
	case "reject":
		n, out := id("reject N")
		if out != nil {
			return out
		}
		u, err := r.reg.Reject(ctx, n)
		if err != nil {
			return r.fail(q, err)
		}
		return q.say(fmt.Sprintf("Заявка пользователя @%s отклонена и удалена.", u.Username))
	case "adduser":
		return r.addUserManualPrompt(q)
	case "adduserid":
		return r.addUserByIDPrompt(q)
	case "edituser":
		n, out := id("edituser N")
		if out != nil {
			return out
		}
		return r.editUserPrompt(q, n)
	case "deluser":
		n, out := id("deluser N")
		if out != nil {
			return out
		}
		if _, err := r.reg.DeleteUser(ctx, n); err != nil {
			return r.fail(q, err)
		}
		return q.say("Пользователь удалён.")
	case "blockuser":
		n, out := id("blockuser N")
		if out != nil {
			return out
		}
		u, err := r.reg.Block(ctx, n)
		if err != nil {
			return r.fail(q, err)
		}
		return q.say(fmt.Sprintf("Пользователь @%s заблокирован.", u.Username))
	case "unblockuser":
		n, out := id("unblockuser N")
		if out != nil {
			return out
		}
		u, err := r.reg.Unblock(ctx, n)
		if err != nil {
			return r.fail(q, err)
		}
		return q.say(fmt.Sprintf("Пользователь @%s разблокирован.", u.Username))
	}
	return q.say("Неизвестная команда управления устройствами.")
}
