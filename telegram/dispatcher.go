package telegram

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"fetchbot/task"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Engine is the task side of the dispatcher.
type Engine interface {
	Ask(ctx context.Context, chat task.ChatID, msg task.MessageID) (task.State, error)
	SelectMedia(ctx context.Context, chat task.ChatID, keyboardMsg task.MessageID, mt task.MediaType) (task.State, error)
	HandleText(ctx context.Context, chat task.ChatID, msg task.MessageID, text string) (task.State, error)
	Stop(ctx context.Context, chat task.ChatID, msg task.MessageID) (int, error)
	Clear(ctx context.Context, chat task.ChatID, msg task.MessageID) (int, error)
}

type botAPI interface {
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Commands shown in the chat's command menu. /start is handled as /ask.
var commands = []tgbotapi.BotCommand{
	{Command: "ask", Description: "Download audio or video from a link"},
	{Command: "stop", Description: "Stop running downloads"},
	{Command: "clear", Description: "Delete unfinished and failed requests"},
}

// Dispatcher routes chat updates to the engine.
type Dispatcher struct {
	bot    botAPI
	engine Engine
}

func NewDispatcher(bot *tgbotapi.BotAPI, engine Engine) *Dispatcher {
	return &Dispatcher{bot: bot, engine: engine}
}

// Run long-polls updates until ctx is done. Updates are handled one at a
// time; downloads continue in the engine's own goroutines.
func (d *Dispatcher) Run(ctx context.Context) error {
	if _, err := d.bot.Request(tgbotapi.NewSetMyCommands(commands...)); err != nil {
		slog.Warn("Failed to register bot commands", "error", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := d.bot.GetUpdatesChan(u)
	defer d.bot.StopReceivingUpdates()

	slog.Info("Dispatcher is listening for updates")
	for {
		select {
		case <-ctx.Done():
			slog.Info("Dispatcher shutting down")
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			d.handle(ctx, upd)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, upd tgbotapi.Update) {
	switch {
	case upd.CallbackQuery != nil:
		d.handleCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil:
		d.handleMessage(ctx, upd.Message)
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat == nil || msg.Text == "" {
		return
	}
	chat := task.ChatID(msg.Chat.ID)
	id := task.MessageID(msg.MessageID)
	log := slog.With("chat_id", msg.Chat.ID, "user", username(msg.From))

	var err error
	switch command(msg) {
	case "start", "ask":
		log.Info("User asked for a download")
		_, err = d.engine.Ask(ctx, chat, id)
	case "stop":
		var n int
		n, err = d.engine.Stop(ctx, chat, id)
		log.Info("User stopped downloads", "stopped", n)
	case "clear":
		var n int
		n, err = d.engine.Clear(ctx, chat, id)
		log.Info("User cleared the chat", "cleared", n)
	default:
		log.Info("User sent a message", "text", msg.Text)
		_, err = d.engine.HandleText(ctx, chat, id, msg.Text)
	}
	logOutcome(log, err)
}

func (d *Dispatcher) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	defer func() {
		if _, err := d.bot.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
			slog.Debug("Failed to answer callback", "error", err)
		}
	}()
	if q.Message == nil || q.Message.Chat == nil {
		return
	}
	log := slog.With("chat_id", q.Message.Chat.ID, "user", username(q.From))

	mt, err := task.MediaTypeFromCallback(q.Data)
	if err != nil {
		log.Warn("Ignoring unknown selection", "data", q.Data)
		return
	}
	log.Info("User selected a media type", "media_type", mt.String())
	_, err = d.engine.SelectMedia(ctx, task.ChatID(q.Message.Chat.ID), task.MessageID(q.Message.MessageID), mt)
	logOutcome(log, err)
}

// command returns the lower-cased command of msg without the bot mention, or
// "" for plain text.
func command(msg *tgbotapi.Message) string {
	if !msg.IsCommand() {
		return ""
	}
	return strings.ToLower(msg.Command())
}

func username(u *tgbotapi.User) string {
	if u == nil || u.UserName == "" {
		return "noname"
	}
	return u.UserName
}

func logOutcome(log *slog.Logger, err error) {
	switch {
	case err == nil:
	case errors.Is(err, task.ErrInvalidURL), errors.Is(err, task.ErrNotFound):
		log.Info("Request rejected", "reason", err)
	default:
		log.Error("Failed to handle update", "error", err)
	}
}
