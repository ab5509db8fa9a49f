package telegram

import (
	"strings"
	"testing"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"devbook/internal/bot"
)

func TestToEventText(t *testing.T) {
	upd := tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 7,
		From:      &tgbotapi.User{ID: 42, UserName: "anna", FirstName: "Анна"},
		Chat:      &tgbotapi.Chat{ID: 42},
		Text:      "/start",
	}}
	ev, ok := toEvent(upd)
	if !ok {
		t.Fatal("text message dropped")
	}
	if ev.Kind != bot.TextEvent || ev.Payload != "/start" || ev.UserID != 42 || ev.ChatID != 42 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Profile.Username != "anna" || ev.Profile.FirstName != "Анна" {
		t.Fatalf("profile not copied: %+v", ev.Profile)
	}
}

func TestToEventDocument(t *testing.T) {
	upd := tgbotapi.Update{Message: &tgbotapi.Message{
		From:     &tgbotapi.User{ID: 1},
		Chat:     &tgbotapi.Chat{ID: 1},
		Caption:  "импорт",
		Document: &tgbotapi.Document{FileID: "f1", FileName: "devices.xlsx"},
	}}
	ev, ok := toEvent(upd)
	if !ok || ev.Kind != bot.DocumentEvent {
		t.Fatalf("document not converted: %+v %v", ev, ok)
	}
	if ev.File == nil || ev.File.ID != "f1" || ev.File.Name != "devices.xlsx" || ev.Payload != "импорт" {
		t.Fatalf("file fields: %+v", ev)
	}
}

func TestToEventCallback(t *testing.T) {
	upd := tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "q",
		From:    &tgbotapi.User{ID: 5},
		Message: &tgbotapi.Message{MessageID: 11, Chat: &tgbotapi.Chat{ID: -100}},
		Data:    "book_3",
	}}
	ev, ok := toEvent(upd)
	if !ok {
		t.Fatal("callback dropped")
	}
	if ev.Kind != bot.CallbackEvent || ev.Payload != "book_3" || ev.MessageID != 11 || ev.ChatID != -100 || ev.UserID != 5 {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestToEventSkips(t *testing.T) {
	cases := map[string]tgbotapi.Update{
		"empty":        {},
		"no sender":    {Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}, Text: "x"}},
		"no text":      {Message: &tgbotapi.Message{From: &tgbotapi.User{ID: 1}, Chat: &tgbotapi.Chat{ID: 1}}},
		"orphan query": {CallbackQuery: &tgbotapi.CallbackQuery{From: &tgbotapi.User{ID: 1}, Data: "x"}},
	}
	for name, upd := range cases {
		if _, ok := toEvent(upd); ok {
			t.Errorf("%s: expected skip", name)
		}
	}
}

func TestInlineMarkup(t *testing.T) {
	mk := inlineMarkup([][]bot.Button{
		{{Text: "Книга", Data: "book_1"}, {Text: "Сканер", URL: "https://scan.example/"}},
	})
	if len(mk.InlineKeyboard) != 1 || len(mk.InlineKeyboard[0]) != 2 {
		t.Fatalf("layout: %+v", mk.InlineKeyboard)
	}
	data, link := mk.InlineKeyboard[0][0], mk.InlineKeyboard[0][1]
	if data.CallbackData == nil || *data.CallbackData != "book_1" {
		t.Errorf("callback data lost: %+v", data)
	}
	if link.URL == nil || *link.URL != "https://scan.example/" || link.CallbackData != nil {
		t.Errorf("url button: %+v", link)
	}
}

func TestReplyKeyboard(t *testing.T) {
	kb := replyKeyboard([][]string{{"a", "b"}, {"c"}})
	if !kb.ResizeKeyboard {
		t.Error("keyboard not resized")
	}
	if len(kb.Keyboard) != 2 || kb.Keyboard[0][1].Text != "b" || kb.Keyboard[1][0].Text != "c" {
		t.Fatalf("layout: %+v", kb.Keyboard)
	}
}

func TestChunks(t *testing.T) {
	if got := chunks("коротко", 10); len(got) != 1 || got[0] != "коротко" {
		t.Fatalf("short text split: %q", got)
	}

	line := strings.Repeat("я", 9) + "\n"
	text := strings.Repeat(line, 5)
	got := chunks(text, 25)
	if strings.Join(got, "") != text {
		t.Fatal("chunks lost text")
	}
	for _, c := range got {
		if n := utf8.RuneCountInString(c); n > 25 {
			t.Errorf("chunk of %d runes", n)
		}
		if !strings.HasSuffix(c, "\n") {
			t.Errorf("chunk cut mid-line: %q", c)
		}
	}

	long := strings.Repeat("x", 23)
	got = chunks(long, 10)
	if strings.Join(got, "") != long || len(got) != 3 {
		t.Fatalf("unbroken line: %q", got)
	}
}
