package bot

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"devbook/internal/access"
	"devbook/internal/booking"
	"devbook/internal/models"
	"devbook/internal/session"
)

const maxListed = 30

func (r *Router) start(ctx context.Context, q *request) []Reply {
	r.reset(q)
	switch {
	case q.user == nil && !q.admin:
		return q.menu(fmt.Sprintf(msgUnregistered, q.id()), unregisteredMenu)
	case q.user != nil && q.user.Status == models.UserPending && !q.admin:
		return q.menu("⏳ Ваша заявка ожидает рассмотрения администратором.", unregisteredMenu)
	}
	return q.menu(fmt.Sprintf(msgMainMenu, q.id()), mainMenu(q.admin))
}

func (r *Router) back(ctx context.Context, q *request) []Reply {
	r.reset(q)
	if err := access.Gate(q.settings, q.user, q.id(), access.RequireActive); err != nil {
		return r.start(ctx, q)
	}
	return q.menu("Главное меню:", mainMenu(q.admin))
}

func (r *Router) register(ctx context.Context, q *request) []Reply {
	if out, ok := r.allow(q, access.AllowUnregistered); !ok {
		return out
	}
	groups, err := r.reg.Register(ctx, q.ev.Profile)
	if err != nil {
		return r.fail(q, err)
	}
	var buttons [][]Button
	for _, g := range groups {
		buttons = append(buttons, row(cb("👥 "+shorten(g.Name, 40), fmt.Sprintf("reg_group_%d", g.ID))))
	}
	r.enter(q, session.RegSelectGroup{})
	return q.inline("📝 Регистрация\n\nВыберите вашу группу:", buttons)
}

func (r *Router) cbRegGroup(ctx context.Context, q *request, args []int64, _ string) []Reply {
	if _, ok := q.state.(session.RegSelectGroup); !ok {
		return q.edit("Эта заявка устарела. Отправьте /register, чтобы начать заново.", nil)
	}
	_, g, err := r.reg.CompleteRegistration(ctx, q.ev.Profile, args[0])
	if err != nil {
		return r.fail(q, err)
	}
	r.reset(q)
	return q.edit(fmt.Sprintf("✅ Заявка отправлена.\nГруппа: %s.\nКак только администратор подтвердит регистрацию, вы получите доступ к устройствам.", g.Name), nil)
}

func (r *Router) setName(ctx context.Context, q *request, name string) []Reply {
	if out, ok := r.allow(q, access.RequireActive); !ok {
		return out
	}
	u, err := r.reg.SetDisplayName(ctx, q.id(), name)
	if err != nil {
		return r.fail(q, err)
	}
	return q.say(fmt.Sprintf("✅ Отображаемое имя установлено: %s", u.DisplayName))
}

// deviceTypes: типы из настроек и встречающиеся у видимых устройств.
func (r *Router) deviceTypes(ctx context.Context, q *request) []string {
	types := slices.Clone(q.settings.DeviceTypes)
	for _, d := range r.book.VisibleDevices(ctx, q.id()) {
		if d.Type != "" && !slices.Contains(types, d.Type) {
			types = append(types, d.Type)
		}
	}
	return types
}

func (r *Router) listTypes(ctx context.Context, q *request) []Reply {
	visible := r.book.VisibleDevices(ctx, q.id())
	var buttons [][]Button
	for _, t := range r.deviceTypes(ctx, q) {
		var total, free int
		for _, d := range visible {
			if d.Type == t {
				total++
				if !d.IsBooked() {
					free++
				}
			}
		}
		buttons = append(buttons, row(cb(fmt.Sprintf("%s (%d/%d)", t, free, total), "type_"+t)))
	}
	if len(buttons) == 0 {
		return q.edit("Устройства пока не добавлены.", nil)
	}
	buttons = append(buttons, row(cb("⬅️ "+btnBack, "back_to_main")))
	return q.edit("Выберите тип устройства (свободно/всего):", buttons)
}

func (r *Router) cbBackToTypes(ctx context.Context, q *request, _ []int64, _ string) []Reply {
	return r.listTypes(ctx, q)
}

func (r *Router) cbBackToMain(ctx context.Context, q *request, _ []int64, _ string) []Reply {
	r.reset(q)
	return q.menu(fmt.Sprintf(msgMainMenu, q.id()), mainMenu(q.admin))
}

func (r *Router) selectType(ctx context.Context, q *request, t string) []Reply {
	if out, ok := r.allow(q, access.RequireActive); !ok {
		return out
	}
	return r.typeDevices(ctx, q, t)
}

func (r *Router) cbType(ctx context.Context, q *request, _ []int64, t string) []Reply {
	return r.typeDevices(ctx, q, t)
}

func (r *Router) typeDevices(ctx context.Context, q *request, t string) []Reply {
	var (
		b       strings.Builder
		buttons [][]Button
	)
	fmt.Fprintf(&b, "📦 %s\n\n", t)
	for _, d := range r.book.VisibleDevices(ctx, q.id()) {
		if d.Type != t {
			continue
		}
		fmt.Fprintf(&b, "%s %s (SN: %s)\n", statusEmoji(d), d.Name, d.SN)
		if len(buttons) < maxListed {
			buttons = append(buttons, row(cb(statusEmoji(d)+" "+shorten(d.Name, 40), fmt.Sprintf("info_dev_%d", d.ID))))
		}
	}
	if len(buttons) == 0 {
		b.WriteString("Устройств этого типа нет.")
	}
	buttons = append(buttons, row(cb("⬅️ К типам", "back_to_types")))
	return q.edit(b.String(), buttons)
}

func (r *Router) cbInfo(ctx context.Context, q *request, args []int64, _ string) []Reply {
	d, ok := r.reg.Device(args[0])
	if !ok {
		return q.edit(errorText(booking.ErrDeviceNotFound), nil)
	}
	var b strings.Builder
	b.WriteString(deviceCard(d))
	fmt.Fprintf(&b, "Статус: %s %s\n", statusEmoji(d), statusLabel(d))
	var buttons [][]Button
	switch {
	case d.BookedBy(q.id()):
		fmt.Fprintf(&b, "Забронировано вами до %s\n", formatUntil(d))
		buttons = append(buttons, row(cb("🔓 Освободить", fmt.Sprintf("release_dev_%d", d.ID))))
	case d.IsBooked():
		fmt.Fprintf(&b, "Владелец: %s\nДо: %s\n", r.userName(d.Owner()), formatUntil(d))
	case access.CanBook(q.settings, q.user, &d):
		buttons = append(buttons, row(cb("📌 Забронировать", fmt.Sprintf("book_dev_%d", d.ID))))
	}
	buttons = append(buttons, row(cb("⬅️ К типам", "back_to_types")))
	return q.edit(b.String(), buttons)
}

func (r *Router) userName(id int64) string {
	if u, ok := r.reg.User(id); ok {
		return u.FullName()
	}
	return fmt.Sprintf("ID %d", id)
}

func (r *Router) bookMenu(ctx context.Context, q *request) []Reply {
	devices := r.book.AvailableDevices(ctx, q.id())
	if len(devices) == 0 {
		return q.say("Нет доступных устройств для бронирования.")
	}
	var buttons [][]Button
	for _, d := range devices {
		if len(buttons) == maxListed {
			break
		}
		buttons = append(buttons, row(cb(fmt.Sprintf("📱 %s (SN: %s)", shorten(d.Name, 30), d.SN), fmt.Sprintf("book_dev_%d", d.ID))))
	}
	buttons = append(buttons, row(cb("⬅️ "+btnBack, "back_to_main")))
	return q.inline("Выберите устройство для бронирования:", buttons)
}

func (r *Router) bookDevice(ctx context.Context, q *request, id int64) []Reply {
	b, err := r.book.Book(ctx, q.id(), id)
	if err != nil {
		return r.fail(q, err)
	}
	return q.edit(fmt.Sprintf("✅ Устройство %s (SN: %s) забронировано до %s.",
		b.Device.Name, b.Device.SN, b.Until.Format(dateLayout)), nil)
}

func (r *Router) cbBook(ctx context.Context, q *request, args []int64, _ string) []Reply {
	return r.bookDevice(ctx, q, args[0])
}

func (r *Router) myDevices(ctx context.Context, q *request) []Reply {
	devices := r.book.UserDevices(ctx, q.id())
	if len(devices) == 0 {
		return q.say("У вас нет забронированных устройств.")
	}
	var (
		b  strings.Builder
		kb [][]string
	)
	b.WriteString("Ваши устройства:\n\n")
	for _, d := range devices {
		b.WriteString(deviceCard(d))
		fmt.Fprintf(&b, "⏰ До: %s\n\n", formatUntil(d))
		kb = append(kb, []string{releaseLabel(d)})
	}
	kb = append(kb, []string{btnReleaseAll}, []string{btnBack})
	return q.menu(strings.TrimRight(b.String(), "\n"), kb)
}

func (r *Router) releaseByText(ctx context.Context, q *request, name, sn string) []Reply {
	if out, ok := r.allow(q, access.RequireActive); !ok {
		return out
	}
	for _, d := range r.book.UserDevices(ctx, q.id()) {
		if d.Name == name && d.SN == sn {
			return r.releaseOwn(ctx, q, d.ID)
		}
	}
	return q.say(errorText(booking.ErrNotOwner))
}

func (r *Router) releaseOwn(ctx context.Context, q *request, id int64) []Reply {
	rel, err := r.book.Release(ctx, q.id(), id)
	if err != nil {
		return r.fail(q, err)
	}
	text := fmt.Sprintf("✅ Устройство %s (SN: %s) освобождено.", rel.Device.Name, rel.Device.SN)
	if q.ev.Kind == CallbackEvent {
		return q.edit(text, nil)
	}
	return q.menu(text, mainMenu(q.admin))
}

func (r *Router) cbRelease(ctx context.Context, q *request, args []int64, _ string) []Reply {
	d, ok := r.reg.Device(args[0])
	if !ok || !d.BookedBy(q.id()) {
		return r.fail(q, booking.ErrNotOwner)
	}
	return r.releaseOwn(ctx, q, d.ID)
}

func (r *Router) releaseAllMine(ctx context.Context, q *request) []Reply {
	released, err := r.book.ReleaseAllOwned(ctx, q.id())
	if err != nil {
		return r.fail(q, err)
	}
	if len(released) == 0 {
		return q.menu("У вас нет забронированных устройств.", mainMenu(q.admin))
	}
	return q.menu(fmt.Sprintf("✅ Освобождено устройств: %d.", len(released)), mainMenu(q.admin))
}

// pickDevice: выбор из списка найденных по коду устройств.
func (r *Router) pickDevice(ctx context.Context, q *request, id int64) []Reply {
	if out, ok := r.allow(q, access.RequireActive); !ok {
		return out
	}
	if _, scanning := q.state.(session.Scanning); scanning {
		d, ok := r.reg.Device(id)
		if !ok {
			return q.say(errorText(booking.ErrDeviceNotFound))
		}
		return r.scanCard(q, d)
	}
	return r.bookDevice(ctx, q, id)
}

func (r *Router) search(ctx context.Context, q *request, text string) []Reply {
	if out, ok := r.allow(q, access.RequireActive); !ok {
		return out
	}
	found, err := r.reg.Search(text)
	if err != nil {
		return r.fail(q, err)
	}
	if !q.admin {
		found = access.VisibleDevices(q.settings, q.user, found)
	}
	if len(found) == 0 {
		return q.say(fmt.Sprintf("🔍 По запросу «%s» ничего не найдено.", text))
	}
	var (
		b       strings.Builder
		buttons [][]Button
	)
	fmt.Fprintf(&b, "🔍 Найдено устройств: %d\n\n", len(found))
	for _, d := range found {
		if len(buttons) == maxListed {
			break
		}
		fmt.Fprintf(&b, "%s %s (SN: %s, %s)\n", statusEmoji(d), d.Name, d.SN, d.Type)
		buttons = append(buttons, row(cb(statusEmoji(d)+" "+shorten(d.Name, 40), fmt.Sprintf("info_dev_%d", d.ID))))
	}
	return q.inline(b.String(), buttons)
}
