// Package telegram связывает бота с Bot API. Long polling, перевод
// обновлений в bot.Event и отправка bot.Reply обратно в чат.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"devbook/internal/bot"
	"devbook/internal/logs"
	"devbook/internal/metrics"
	"devbook/internal/models"
)

// Handler обрабатывает событие и возвращает ответы.
type Handler interface {
	Handle(ctx context.Context, ev bot.Event) []bot.Reply
}

type Options struct {
	Token       string
	Debug       bool
	PollTimeout int // секунды
}

type Client struct {
	api     *tgbotapi.BotAPI
	timeout int
	http    *http.Client
	log     *logrus.Entry
}

// New авторизуется по токену и снимает webhook, чтобы работал long polling.
func New(opts Options) (*Client, error) {
	api, err := tgbotapi.NewBotAPI(opts.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	api.Debug = opts.Debug

	c := &Client{
		api:     api,
		timeout: opts.PollTimeout,
		http:    &http.Client{Timeout: 60 * time.Second},
		log:     logs.Logger.WithField("component", "telegram"),
	}
	if _, err := api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		c.log.WithError(err).Warn("delete webhook failed")
	}
	c.log.WithField("bot", api.Self.UserName).Info("authorized")
	return c, nil
}

// Run читает обновления до отмены ctx. События обрабатываются по одному,
// в порядке поступления.
func (c *Client) Run(ctx context.Context, h Handler) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = c.timeout
	updates := c.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			c.api.StopReceivingUpdates()
			return ctx.Err()
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			c.dispatch(ctx, h, upd)
		}
	}
}

func (c *Client) dispatch(ctx context.Context, h Handler, upd tgbotapi.Update) {
	if upd.CallbackQuery != nil {
		// снимаем «часики» с кнопки до обработки
		if _, err := c.api.Request(tgbotapi.NewCallback(upd.CallbackQuery.ID, "")); err != nil {
			c.log.WithError(err).Debug("answer callback failed")
		}
	}
	ev, ok := toEvent(upd)
	if !ok {
		return
	}
	for _, r := range h.Handle(ctx, ev) {
		if err := c.Send(ctx, r); err != nil {
			c.log.WithFields(logrus.Fields{
				"chat_id": r.ChatID,
				"kind":    ev.Kind.String(),
			}).WithError(err).Warn("reply not sent")
		}
	}
}

// Send отправляет ответ: документ, правку сообщения или новое сообщение.
func (c *Client) Send(ctx context.Context, r bot.Reply) error {
	err := c.send(r)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.MessagesSentTotal.WithLabelValues(result).Inc()
	return err
}

func (c *Client) send(r bot.Reply) error {
	if r.Document != nil {
		doc := tgbotapi.NewDocument(r.ChatID, tgbotapi.FileBytes{Name: r.Document.Name, Bytes: r.Document.Data})
		doc.Caption = r.Document.Caption
		_, err := c.api.Send(doc)
		return err
	}

	if r.EditID != 0 && len(r.Keyboard) == 0 && len([]rune(r.Text)) <= maxText {
		edit := tgbotapi.NewEditMessageText(r.ChatID, r.EditID, r.Text)
		if len(r.Buttons) > 0 {
			mk := inlineMarkup(r.Buttons)
			edit.ReplyMarkup = &mk
		}
		_, err := c.api.Send(edit)
		if err == nil || strings.Contains(err.Error(), "message is not modified") {
			return nil
		}
		c.log.WithField("chat_id", r.ChatID).WithError(err).Debug("edit failed, sending new message")
	}

	parts := chunks(r.Text, maxText)
	for i, text := range parts {
		msg := tgbotapi.NewMessage(r.ChatID, text)
		if i == len(parts)-1 {
			switch {
			case len(r.Buttons) > 0:
				msg.ReplyMarkup = inlineMarkup(r.Buttons)
			case len(r.Keyboard) > 0:
				msg.ReplyMarkup = replyKeyboard(r.Keyboard)
			}
		}
		if _, err := c.api.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

// Notify: текстовое уведомление для booking и registry.
func (c *Client) Notify(ctx context.Context, chatID int64, text string) error {
	return c.Send(ctx, bot.Reply{ChatID: chatID, Text: text})
}

// LookupProfile берёт имя пользователя из getChat. Работает, только если
// пользователь уже писал боту.
func (c *Client) LookupProfile(ctx context.Context, id int64) (models.Profile, error) {
	chat, err := c.api.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: id}})
	if err != nil {
		return models.Profile{}, fmt.Errorf("get chat %d: %w", id, err)
	}
	return models.Profile{
		ID:        id,
		Username:  chat.UserName,
		FirstName: chat.FirstName,
		LastName:  chat.LastName,
	}, nil
}

var errDownload = errors.New("file download failed")

// Open скачивает вложение по file_id.
func (c *Client) Open(ctx context.Context, fileID string) (io.ReadCloser, error) {
	url, err := c.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", fileID, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errDownload, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", errDownload, resp.StatusCode)
	}
	return resp.Body, nil
}
