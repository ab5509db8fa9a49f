package bot

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"devbook/internal/access"
	"devbook/internal/models"
	"devbook/internal/registry"
	"devbook/internal/session"
)

const maxCodeLen = 50

var reCode = regexp.MustCompile(`^[\p{L}\p{N}\s\-/:._#]+$`)

func (r *Router) scanMenu(ctx context.Context, q *request) []Reply {
	r.enter(q, session.Scanning{})
	var buttons [][]Button
	if q.settings.WebAppURL != "" {
		buttons = append(buttons, row(Button{Text: "📷 Открыть сканер", URL: q.settings.WebAppURL}))
	}
	buttons = append(buttons, row(cb("❌ Отмена", "scan_cancel")))
	return q.inline("📷 Режим сканирования\n\nОтправьте серийный номер или текст с этикетки устройства. "+
		"Если настроен сканер, откройте его кнопкой ниже.", buttons)
}

// startCodePrefix: страница сканера возвращает код ссылкой
// t.me/<bot>?start=code_<SN>, бот получает "/start code_<SN>".
const startCodePrefix = "code_"

// lookupCode: устройства по коду: серийный номер из текста, затем точное
// или частичное совпадение SN, затем обычный поиск.
func (r *Router) lookupCode(code string) []models.Device {
	var found []models.Device
	if sn, ok := registry.ExtractSerial(code); ok {
		found = r.reg.FindByCode(sn)
	}
	if len(found) == 0 {
		found = r.reg.FindByCode(code)
	}
	if more, err := r.reg.Search(code); err == nil {
		seen := make(map[int64]bool, len(found))
		for _, d := range found {
			seen[d.ID] = true
		}
		for _, d := range more {
			if !seen[d.ID] {
				found = append(found, d)
				seen[d.ID] = true
			}
		}
	}
	return found
}

func (r *Router) scanCode(ctx context.Context, q *request, code string) []Reply {
	if out, ok := r.allow(q, access.RequireActive); !ok {
		return out
	}
	code = strings.TrimSpace(code)
	if code == "" || utf8.RuneCountInString(code) > maxCodeLen || !reCode.MatchString(code) {
		return q.say("❌ Не удалось распознать код. Отправьте серийный номер устройства текстом.")
	}
	found := r.lookupCode(code)
	if !q.admin {
		found = access.VisibleDevices(q.settings, q.user, found)
	}
	switch len(found) {
	case 0:
		return q.say(fmt.Sprintf("❌ Устройство с кодом «%s» не найдено.", code))
	case 1:
		return r.scanCard(q, found[0])
	}
	var kb [][]string
	for _, d := range found {
		if len(kb) == maxListed {
			break
		}
		kb = append(kb, []string{pickLabel(d)})
	}
	kb = append(kb, []string{btnBack})
	return q.menu(fmt.Sprintf("🔍 Найдено устройств: %d. Выберите нужное:", len(found)), kb)
}

// scanCard: карточка устройства с действиями, доступными пользователю.
func (r *Router) scanCard(q *request, d models.Device) []Reply {
	var b strings.Builder
	b.WriteString(deviceCard(d))
	fmt.Fprintf(&b, "Статус: %s %s\n", statusEmoji(d), statusLabel(d))
	var buttons [][]Button
	switch {
	case d.BookedBy(q.id()):
		fmt.Fprintf(&b, "Забронировано вами до %s\n", formatUntil(d))
		buttons = append(buttons, row(cb("🔓 Освободить", fmt.Sprintf("scan_release_%d", d.ID))))
	case d.IsBooked():
		fmt.Fprintf(&b, "👤 Владелец: %s\n⏰ До: %s\n", r.userName(d.Owner()), formatUntil(d))
		buttons = append(buttons, row(cb("🔄 Запросить передачу", fmt.Sprintf("scan_transfer_%d", d.ID))))
		if q.admin {
			buttons = append(buttons, row(cb("🔓 Освободить (админ)", fmt.Sprintf("scan_release_%d", d.ID))))
		}
	default:
		buttons = append(buttons, row(cb("📌 Забронировать", fmt.Sprintf("scan_book_%d", d.ID))))
	}
	buttons = append(buttons, row(cb("❌ Отмена", "scan_cancel")))
	return q.inline(b.String(), buttons)
}

func (r *Router) cbScanBook(ctx context.Context, q *request, args []int64, _ string) []Reply {
	return r.bookDevice(ctx, q, args[0])
}

func (r *Router) cbScanRelease(ctx context.Context, q *request, args []int64, _ string) []Reply {
	rel, err := r.book.Release(ctx, q.id(), args[0])
	if err != nil {
		return r.fail(q, err)
	}
	return q.edit(fmt.Sprintf("✅ Устройство %s (SN: %s) освобождено.", rel.Device.Name, rel.Device.SN), nil)
}

func (r *Router) cbScanCancel(ctx context.Context, q *request, _ []int64, _ string) []Reply {
	r.reset(q)
	return append(q.edit(msgCancelled, nil), q.menu("Главное меню:", mainMenu(q.admin))...)
}

func (r *Router) cbTransferRequest(ctx context.Context, q *request, args []int64, _ string) []Reply {
	req, err := r.book.RequestTransfer(ctx, q.id(), args[0])
	if err != nil {
		return r.fail(q, err)
	}
	invite := Reply{
		ChatID: req.OwnerID,
		Text: fmt.Sprintf("🔄 Запрос на передачу устройства\n\n📱 %s\n🔢 SN: %s\n👤 Запрашивает: %s\n\nПередать устройство?",
			req.Device.Name, req.Device.SN, req.RequesterName),
		Buttons: [][]Button{row(
			cb("✅ Подтвердить передачу", fmt.Sprintf("transfer_confirm_%d_%d", req.Device.ID, req.RequesterID)),
			cb("❌ Отклонить", fmt.Sprintf("transfer_reject_%d_%d", req.Device.ID, req.RequesterID)),
		)},
	}
	if err := r.send(ctx, invite); err != nil {
		r.log.WithField("owner_id", req.OwnerID).WithError(err).Warn("transfer invite not delivered")
		if _, err := r.book.RejectTransfer(ctx, req.OwnerID, req.Device.ID, req.RequesterID); err != nil {
			r.log.WithError(err).Debug("drop undelivered transfer")
		}
		return q.edit("❌ Не удалось отправить уведомление владельцу устройства. Возможно, пользователь не начал диалог с ботом.", nil)
	}
	return q.edit(fmt.Sprintf("✅ Запрос на передачу устройства %s отправлен владельцу. Ожидайте ответа.", req.Device.Name), nil)
}

func (r *Router) cbTransferConfirm(ctx context.Context, q *request, args []int64, _ string) []Reply {
	if len(args) != 2 {
		return q.edit(msgBadCallback, nil)
	}
	t, err := r.book.ConfirmTransfer(ctx, q.id(), args[0], args[1])
	if err != nil {
		return r.fail(q, err)
	}
	notice := Reply{
		ChatID: t.To,
		Text: fmt.Sprintf("✅ Устройство %s (SN: %s) передано вам пользователем %s.\n⏰ Бронь до %s.",
			t.Device.Name, t.Device.SN, t.FromName, formatUntil(t.Device)),
	}
	if err := r.send(ctx, notice); err != nil {
		r.log.WithField("user_id", t.To).WithError(err).Warn("transfer notice not delivered")
	}
	return q.edit(fmt.Sprintf("✅ Устройство %s передано пользователю %s.", t.Device.Name, t.ToName), nil)
}

func (r *Router) cbTransferReject(ctx context.Context, q *request, args []int64, _ string) []Reply {
	if len(args) != 2 {
		return q.edit(msgBadCallback, nil)
	}
	req, err := r.book.RejectTransfer(ctx, q.id(), args[0], args[1])
	if err != nil {
		return r.fail(q, err)
	}
	notice := Reply{
		ChatID: req.RequesterID,
		Text:   fmt.Sprintf("❌ Запрос на передачу устройства %s отклонен владельцем.", req.Device.Name),
	}
	if err := r.send(ctx, notice); err != nil {
		r.log.WithField("user_id", req.RequesterID).WithError(err).Warn("transfer rejection not delivered")
	}
	return q.edit("Запрос на передачу отклонён.", nil)
}
