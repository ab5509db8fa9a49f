// Package bot содержит роутер чата. Входящее событие проходит проверку доступа,
// попадает в обработчик и превращается в набор ответов. От транспорта
// пакет не зависит, Telegram-адаптер живёт в internal/telegram.
package bot

import (
	"context"
	"io"

	"devbook/internal/models"
)

type EventKind int

const (
	TextEvent EventKind = iota
	CallbackEvent
	DocumentEvent
)

func (k EventKind) String() string {
	switch k {
	case TextEvent:
		return "text"
	case CallbackEvent:
		return "callback"
	case DocumentEvent:
		return "document"
	}
	return "unknown"
}

// File: вложение из чата; содержимое открывается через Files.
type File struct {
	ID   string
	Name string
}

// Event: одно входящее обновление.
type Event struct {
	Kind    EventKind
	UserID  int64
	ChatID  int64
	Profile models.Profile
	// Payload: текст сообщения или data callback-кнопки.
	Payload string
	// MessageID: сообщение с нажатой кнопкой (для callback).
	MessageID int
	File      *File
}

// Button: inline-кнопка: либо callback Data, либо ссылка URL.
type Button struct {
	Text string
	Data string
	URL  string
}

// Document: файл, отправляемый в чат.
type Document struct {
	Name    string
	Caption string
	Data    []byte
}

// Reply: исходящее сообщение. EditID меняет текст существующего
// сообщения вместо отправки нового.
type Reply struct {
	ChatID   int64
	Text     string
	Buttons  [][]Button
	Keyboard [][]string
	Document *Document
	EditID   int
}

// Files открывает вложения по id.
type Files interface {
	Open(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// Notifier: сообщение в чат вне текущего ответа (приглашение к передаче
// владельцу, уведомление запросившему).
type Notifier interface {
	Send(ctx context.Context, r Reply) error
}

func cb(text, data string) Button { return Button{Text: text, Data: data} }

func row(b ...Button) []Button { return b }
