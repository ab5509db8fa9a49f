package telegram

import (
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"devbook/internal/bot"
	"devbook/internal/models"
)

// maxText: предел длины сообщения Telegram.
const maxText = 4096

func profileOf(u *tgbotapi.User) models.Profile {
	return models.Profile{
		ID:        u.ID,
		Username:  u.UserName,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}

// toEvent переводит обновление в событие роутера. false, обновление нам
// не интересно (каналы, пустые сообщения, inline-режим).
func toEvent(upd tgbotapi.Update) (bot.Event, bool) {
	switch {
	case upd.Message != nil:
		m := upd.Message
		if m.From == nil || m.Chat == nil {
			return bot.Event{}, false
		}
		ev := bot.Event{
			UserID:    m.From.ID,
			ChatID:    m.Chat.ID,
			Profile:   profileOf(m.From),
			MessageID: m.MessageID,
		}
		if m.Document != nil {
			ev.Kind = bot.DocumentEvent
			ev.Payload = m.Caption
			ev.File = &bot.File{ID: m.Document.FileID, Name: m.Document.FileName}
			return ev, true
		}
		if m.Text == "" {
			return bot.Event{}, false
		}
		ev.Kind = bot.TextEvent
		ev.Payload = m.Text
		return ev, true

	case upd.CallbackQuery != nil:
		q := upd.CallbackQuery
		if q.From == nil || q.Message == nil || q.Message.Chat == nil {
			return bot.Event{}, false
		}
		return bot.Event{
			Kind:      bot.CallbackEvent,
			UserID:    q.From.ID,
			ChatID:    q.Message.Chat.ID,
			Profile:   profileOf(q.From),
			Payload:   q.Data,
			MessageID: q.Message.MessageID,
		}, true
	}
	return bot.Event{}, false
}

func inlineMarkup(rows [][]bot.Button) tgbotapi.InlineKeyboardMarkup {
	out := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, r := range rows {
		row := make([]tgbotapi.InlineKeyboardButton, 0, len(r))
		for _, b := range r {
			if b.URL != "" {
				row = append(row, tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL))
				continue
			}
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		out = append(out, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(out...)
}

func replyKeyboard(rows [][]string) tgbotapi.ReplyKeyboardMarkup {
	out := make([][]tgbotapi.KeyboardButton, 0, len(rows))
	for _, r := range rows {
		row := make([]tgbotapi.KeyboardButton, 0, len(r))
		for _, text := range r {
			row = append(row, tgbotapi.NewKeyboardButton(text))
		}
		out = append(out, tgbotapi.NewKeyboardButtonRow(row...))
	}
	kb := tgbotapi.NewReplyKeyboard(out...)
	kb.ResizeKeyboard = true
	return kb
}

// chunks режет длинный текст по строкам так, чтобы каждая часть
// укладывалась в maxText рун.
func chunks(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var (
		out  []string
		cur  []rune
		line []rune
	)
	flush := func() {
		if len(cur) > 0 {
			out = append(out, string(cur))
			cur = cur[:0]
		}
	}
	for _, r := range text {
		line = append(line, r)
		if r != '\n' && len(line) < limit {
			continue
		}
		if len(cur)+len(line) > limit {
			flush()
		}
		cur = append(cur, line...)
		line = line[:0]
	}
	if len(cur)+len(line) > limit {
		flush()
	}
	cur = append(cur, line...)
	flush()
	return out
}
