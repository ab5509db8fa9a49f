package bot

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"devbook/internal/access"
	"devbook/internal/booking"
	"devbook/internal/logs"
	"devbook/internal/metrics"
	"devbook/internal/models"
	"devbook/internal/registry"
	"devbook/internal/session"
)

type Router struct {
	reg      *registry.Registry
	book     *booking.Service
	sessions *session.Manager
	files    Files
	notifier Notifier
	log      *logrus.Entry
}

func New(reg *registry.Registry, book *booking.Service, sessions *session.Manager) *Router {
	return &Router{
		reg:      reg,
		book:     book,
		sessions: sessions,
		log:      logs.Logger.WithField("component", "bot"),
	}
}

func (r *Router) SetFiles(f Files) { r.files = f }

func (r *Router) SetNotifier(n Notifier) { r.notifier = n }

// request: событие вместе с тем, что о пользователе известно на момент
// обработки.
type request struct {
	ev       Event
	user     *models.User
	settings models.Settings
	admin    bool
	state    session.State
}

func (q *request) id() int64 { return q.ev.UserID }

func (q *request) say(text string) []Reply {
	return []Reply{{ChatID: q.ev.ChatID, Text: text}}
}

func (q *request) menu(text string, kb [][]string) []Reply {
	return []Reply{{ChatID: q.ev.ChatID, Text: text, Keyboard: kb}}
}

func (q *request) inline(text string, buttons [][]Button) []Reply {
	return []Reply{{ChatID: q.ev.ChatID, Text: text, Buttons: buttons}}
}

// edit заменяет сообщение с нажатой кнопкой; для текстовых событий
// отправляет новое.
func (q *request) edit(text string, buttons [][]Button) []Reply {
	rp := Reply{ChatID: q.ev.ChatID, Text: text, Buttons: buttons}
	if q.ev.Kind == CallbackEvent {
		rp.EditID = q.ev.MessageID
	}
	return []Reply{rp}
}

// Handle обрабатывает одно событие. Ошибки превращаются в текст ответа,
// заблокированный пользователь ответа не получает.
func (r *Router) Handle(ctx context.Context, ev Event) []Reply {
	metrics.UpdatesTotal.WithLabelValues(ev.Kind.String()).Inc()
	if ev.ChatID == 0 {
		ev.ChatID = ev.UserID
	}
	if ev.Profile.ID == 0 {
		ev.Profile.ID = ev.UserID
	}
	if _, err := r.reg.EnsureAdmin(ctx, ev.Profile); err != nil {
		r.log.WithField("user_id", ev.UserID).WithError(err).Warn("admin record not created")
	}

	q := r.load(ev)
	if out, ok := r.allow(q, access.AllowUnregistered); !ok {
		return out
	}
	switch ev.Kind {
	case TextEvent:
		return r.onText(ctx, q)
	case CallbackEvent:
		return r.onCallback(ctx, q)
	case DocumentEvent:
		return r.onDocument(ctx, q)
	}
	return nil
}

func (r *Router) load(ev Event) *request {
	q := &request{ev: ev, settings: r.reg.Settings(), state: r.sessions.Get(ev.ChatID)}
	if u, ok := r.reg.User(ev.UserID); ok {
		q.user = &u
	}
	q.admin = access.IsAdmin(q.settings, q.user, ev.UserID)
	return q
}

// allow: проверка доступа; при отказе возвращает ответ (или ничего для
// заблокированных).
func (r *Router) allow(q *request, req access.Requirement) ([]Reply, bool) {
	err := access.Gate(q.settings, q.user, q.id(), req)
	if err == nil {
		return nil, true
	}
	if errors.Is(err, access.ErrBlocked) {
		r.log.WithField("user_id", q.id()).Debug("blocked user ignored")
		return nil, false
	}
	return q.say(errorText(err)), false
}

// fail: ответ на ошибку домена.
func (r *Router) fail(q *request, err error) []Reply {
	entry := r.log.WithFields(logrus.Fields{"user_id": q.id(), "kind": q.ev.Kind.String()})
	if internalErr(err) {
		entry.WithError(err).Error("request failed")
	} else {
		entry.WithError(err).Debug("request rejected")
	}
	return q.edit(errorText(err), nil)
}

// enter переводит чат в состояние диалога. Недопустимый переход
// сбрасывает чат в Idle.
func (r *Router) enter(q *request, s session.State) {
	if err := r.sessions.Set(q.ev.ChatID, s); err != nil {
		r.log.WithField("chat_id", q.ev.ChatID).WithError(err).Warn("session reset")
		r.sessions.Reset(q.ev.ChatID)
		return
	}
	q.state = s
}

func (r *Router) reset(q *request) {
	r.sessions.Reset(q.ev.ChatID)
	q.state = session.Idle{}
}

// send: сообщение в чужой чат.
func (r *Router) send(ctx context.Context, rp Reply) error {
	if r.notifier == nil {
		return errors.New("no notifier configured")
	}
	return r.notifier.Send(ctx, rp)
}

var (
	reReleaseText = regexp.MustCompile(`^Освободить (.+?) \(SN: (.+?)\)$`)
	rePickDevice  = regexp.MustCompile(` - ID (\d+)$`)
	reAdminCmd    = regexp.MustCompile(`(?i)^(add|del|rename|approve|reject|adduser|adduserid|edituser|deluser|blockuser|unblockuser)(\s|$)`)
)

func splitCommand(text string) (string, string) {
	cmd, arg, _ := strings.Cut(text, " ")
	if at := strings.IndexByte(cmd, '@'); at > 0 {
		cmd = cmd[:at]
	}
	return cmd, strings.TrimSpace(arg)
}

func (r *Router) onText(ctx context.Context, q *request) []Reply {
	text := strings.TrimSpace(q.ev.Payload)

	if strings.HasPrefix(text, "/") {
		cmd, arg := splitCommand(text)
		switch cmd {
		case "/start":
			if code, ok := strings.CutPrefix(arg, startCodePrefix); ok {
				return r.scanCode(ctx, q, code)
			}
			return r.start(ctx, q)
		case "/help":
			return q.say(msgHelp)
		case "/register":
			return r.register(ctx, q)
		case "/set_name":
			return r.setName(ctx, q, arg)
		}
		return q.say(msgUnknown)
	}

	switch text {
	case btnBack:
		return r.back(ctx, q)
	case btnMainMenu:
		return r.start(ctx, q)
	}

	switch q.state.(type) {
	case session.RegSelectGroup:
		return q.say(msgPickRegGroup)
	case session.Idle, session.Scanning, session.AwaitImport:
	default:
		if q.state.Accepts(session.TextInput) {
			if out, ok := r.allow(q, access.RequireAdmin); !ok {
				r.reset(q)
				return out
			}
			return r.onFlow(ctx, q, text)
		}
	}

	if out, ok := r.onMenu(ctx, q, text); ok {
		return out
	}

	if m := reReleaseText.FindStringSubmatch(text); m != nil {
		return r.releaseByText(ctx, q, m[1], m[2])
	}
	if m := rePickDevice.FindStringSubmatch(text); m != nil {
		id, _ := strconv.ParseInt(m[1], 10, 64)
		return r.pickDevice(ctx, q, id)
	}
	if q.admin && reAdminCmd.MatchString(text) {
		if out, ok := r.allow(q, access.RequireAdmin); !ok {
			return out
		}
		return r.adminCommand(ctx, q, text)
	}
	if r.isDeviceType(q, text) {
		return r.selectType(ctx, q, text)
	}

	if _, scanning := q.state.(session.Scanning); scanning {
		return r.scanCode(ctx, q, text)
	}
	return r.search(ctx, q, text)
}

// onMenu: кнопки reply-клавиатур.
func (r *Router) onMenu(ctx context.Context, q *request, text string) ([]Reply, bool) {
	user := map[string]func(context.Context, *request) []Reply{
		btnList:       r.listTypes,
		btnBook:       r.bookMenu,
		btnMine:       r.myDevices,
		btnReleaseAll: r.releaseAllMine,
		btnScan:       r.scanMenu,
	}
	admin := map[string]func(context.Context, *request) []Reply{
		btnAdmin:      r.adminPanel,
		btnBooked:     r.viewBooked,
		btnDevices:    r.manageDevices,
		btnUsers:      r.manageUsers,
		btnGroups:     r.manageGroups,
		btnImport:     r.importPrompt,
		btnRegOn:      func(ctx context.Context, q *request) []Reply { return r.setRegistration(ctx, q, true) },
		btnRegOff:     func(ctx context.Context, q *request) []Reply { return r.setRegistration(ctx, q, false) },
		btnExpDevices: r.exportDevices,
		btnExpUsers:   r.exportUsers,
		btnExpLogs:    r.exportLogs,
	}
	if h, ok := user[text]; ok {
		if out, ok := r.allow(q, access.RequireActive); !ok {
			return out, true
		}
		return h(ctx, q), true
	}
	if h, ok := admin[text]; ok {
		if out, ok := r.allow(q, access.RequireAdmin); !ok {
			return out, true
		}
		return h(ctx, q), true
	}
	return nil, false
}

func (r *Router) onDocument(ctx context.Context, q *request) []Reply {
	if _, ok := q.state.(session.AwaitImport); !ok || q.ev.File == nil {
		return q.say(msgUnknown)
	}
	if out, ok := r.allow(q, access.RequireAdmin); !ok {
		return out
	}
	return r.importFile(ctx, q)
}

// callbackRoute: обработчик callback с префиксом и требованием к доступу.
type callbackRoute struct {
	prefix string
	exact  bool
	req    access.Requirement
	handle func(ctx context.Context, q *request, args []int64, rest string) []Reply
}

func (r *Router) callbackRoutes() []callbackRoute {
	return []callbackRoute{
		{prefix: "reg_group_", req: access.AllowUnregistered, handle: r.cbRegGroup},

		{prefix: "book_dev_", req: access.RequireActive, handle: r.cbBook},
		{prefix: "release_dev_", req: access.RequireActive, handle: r.cbRelease},
		{prefix: "info_dev_", req: access.RequireActive, handle: r.cbInfo},
		{prefix: "type_", req: access.RequireActive, handle: r.cbType},
		{prefix: "back_to_types", exact: true, req: access.RequireActive, handle: r.cbBackToTypes},
		{prefix: "back_to_main", exact: true, req: access.RequireActive, handle: r.cbBackToMain},
		{prefix: "scan_book_", req: access.RequireActive, handle: r.cbScanBook},
		{prefix: "scan_release_", req: access.RequireActive, handle: r.cbScanRelease},
		{prefix: "scan_transfer_", req: access.RequireActive, handle: r.cbTransferRequest},
		{prefix: "transfer_confirm_", req: access.RequireActive, handle: r.cbTransferConfirm},
		{prefix: "transfer_reject_", req: access.RequireActive, handle: r.cbTransferReject},
		{prefix: "scan_cancel", exact: true, req: access.RequireActive, handle: r.cbScanCancel},

		{prefix: "adm_rel_all", exact: true, req: access.RequireAdmin, handle: r.cbReleaseAllAdmin},
		{prefix: "adm_rel_", req: access.RequireAdmin, handle: r.cbReleaseAdmin},
		{prefix: "admin_book_dev_", req: access.RequireAdmin, handle: r.cbAdminBookDevice},
		{prefix: "admin_book_select_", req: access.RequireAdmin, handle: r.cbAdminBookSelect},
		{prefix: "admin_book_cancel", exact: true, req: access.RequireAdmin, handle: r.cbAdminBookCancel},
		{prefix: "back_to_admin", exact: true, req: access.RequireAdmin, handle: r.cbAdminPanel},
		{prefix: "view_booked_admin", exact: true, req: access.RequireAdmin, handle: r.cbViewBooked},
		{prefix: "toggle_registration", exact: true, req: access.RequireAdmin, handle: r.cbToggleRegistration},

		{prefix: "manage_devices_admin", exact: true, req: access.RequireAdmin, handle: r.cbManageDevices},
		{prefix: "admin_all_devices", exact: true, req: access.RequireAdmin, handle: r.cbAdminAllDevices},
		{prefix: "admin_type_", req: access.RequireAdmin, handle: r.cbAdminType},
		{prefix: "add_device", exact: true, req: access.RequireAdmin, handle: r.cbAddDevice},
		{prefix: "edit_device_", req: access.RequireAdmin, handle: r.cbEditDevice},
		{prefix: "delete_device_", req: access.RequireAdmin, handle: r.cbDeleteDevice},
		{prefix: "import_devices_admin", exact: true, req: access.RequireAdmin, handle: r.cbImport},
		{prefix: "export_devices_admin", exact: true, req: access.RequireAdmin, handle: r.cbExportDevices},
		{prefix: "export_users_admin", exact: true, req: access.RequireAdmin, handle: r.cbExportUsers},
		{prefix: "export_logs_admin", exact: true, req: access.RequireAdmin, handle: r.cbExportLogs},

		{prefix: "manage_users_admin", exact: true, req: access.RequireAdmin, handle: r.cbManageUsers},
		{prefix: "list_all_users", exact: true, req: access.RequireAdmin, handle: r.cbListUsers},
		{prefix: "add_user", exact: true, req: access.RequireAdmin, handle: r.cbAddUser},
		{prefix: "approve_user_", req: access.RequireAdmin, handle: r.cbApprove},
		{prefix: "reject_user_", req: access.RequireAdmin, handle: r.cbReject},
		{prefix: "block_user_", req: access.RequireAdmin, handle: r.cbBlock},
		{prefix: "unblock_user_", req: access.RequireAdmin, handle: r.cbUnblock},
		{prefix: "edit_user_", req: access.RequireAdmin, handle: r.cbEditUser},
		{prefix: "delete_user_", req: access.RequireAdmin, handle: r.cbDeleteUser},

		{prefix: "manage_groups_admin", exact: true, req: access.RequireAdmin, handle: r.cbManageGroups},
		{prefix: "add_group", exact: true, req: access.RequireAdmin, handle: r.cbAddGroup},
		{prefix: "edit_group_", req: access.RequireAdmin, handle: r.cbEditGroup},
		{prefix: "rename_group_", req: access.RequireAdmin, handle: r.cbRenameGroup},
		{prefix: "delete_group_", req: access.RequireAdmin, handle: r.cbDeleteGroup},
		{prefix: "assign_group_users_", req: access.RequireAdmin, handle: r.cbAssignUsers},
		{prefix: "assign_group_devices_", req: access.RequireAdmin, handle: r.cbAssignDevices},
		{prefix: "toggle_group_user_", req: access.RequireAdmin, handle: r.cbToggleGroupUser},
		{prefix: "toggle_group_device_", req: access.RequireAdmin, handle: r.cbToggleGroupDevice},
	}
}

// Префиксы, после которых идёт строка, а не числа.
var stringArgs = map[string]bool{"type_": true, "admin_type_": true}

func (r *Router) onCallback(ctx context.Context, q *request) []Reply {
	data := q.ev.Payload
	for _, rt := range r.callbackRoutes() {
		var rest string
		if rt.exact {
			if data != rt.prefix {
				continue
			}
		} else {
			var ok bool
			if rest, ok = strings.CutPrefix(data, rt.prefix); !ok {
				continue
			}
		}
		if out, ok := r.allow(q, rt.req); !ok {
			return out
		}
		var args []int64
		if !rt.exact && !stringArgs[rt.prefix] {
			var ok bool
			if args, ok = parseIDs(rest); !ok {
				return q.edit(msgBadCallback, nil)
			}
		}
		return rt.handle(ctx, q, args, rest)
	}
	r.log.WithField("data", data).Debug("unknown callback")
	return nil
}

// parseIDs разбирает "12" или "12_34".
func parseIDs(s string) ([]int64, bool) {
	parts := strings.Split(s, "_")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, false
		}
		out = append(out, n)
	}
	return out, true
}

func (r *Router) isDeviceType(q *request, text string) bool {
	for _, t := range q.settings.DeviceTypes {
		if t == text {
			return true
		}
	}
	for _, d := range r.reg.DevicesByType(text) {
		if d.Type == text {
			return true
		}
	}
	return false
}
