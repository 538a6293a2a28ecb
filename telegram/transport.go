// Package telegram connects the task engine to the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"fetchbot/config"
	"fetchbot/media"
	"fetchbot/task"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// NewBot authorizes against the Bot API configured in cfg. BOT_API_URL may
// point at a self-hosted Bot API server to lift upload limits.
func NewBot(cfg *config.Config) (*tgbotapi.BotAPI, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("BOT_TOKEN is not configured")
	}
	endpoint := cfg.BotAPIURL
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, endpoint, &http.Client{Timeout: cfg.BotTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create Bot API client: %w", err)
	}
	slog.Info("Authorized on account", "username", bot.Self.UserName)
	return bot, nil
}

// Transport sends, edits and deletes chat messages and uploads files. The Bot
// API client has no context support, so ctx is only checked before a call.
type Transport struct {
	bot *tgbotapi.BotAPI
}

func NewTransport(bot *tgbotapi.BotAPI) *Transport {
	return &Transport{bot: bot}
}

func (t *Transport) SendText(ctx context.Context, chat task.ChatID, text string) (task.MessageID, error) {
	return t.send(ctx, tgbotapi.NewMessage(int64(chat), text))
}

// SendChoice sends text with one inline button per media type.
func (t *Transport) SendChoice(ctx context.Context, chat task.ChatID, text string, choices []task.MediaType) (task.MessageID, error) {
	msg := tgbotapi.NewMessage(int64(chat), text)
	msg.ReplyMarkup = keyboard(choices)
	return t.send(ctx, msg)
}

func (t *Transport) EditText(ctx context.Context, chat task.ChatID, msg task.MessageID, text string) error {
	return t.request(ctx, tgbotapi.NewEditMessageText(int64(chat), int(msg), text))
}

func (t *Transport) DeleteMessage(ctx context.Context, chat task.ChatID, msg task.MessageID) error {
	return t.request(ctx, tgbotapi.NewDeleteMessage(int64(chat), int(msg)))
}

func (t *Transport) SendAudio(ctx context.Context, chat task.ChatID, path string) error {
	_, err := t.send(ctx, tgbotapi.NewAudio(int64(chat), tgbotapi.FilePath(path)))
	return err
}

func (t *Transport) SendVoice(ctx context.Context, chat task.ChatID, path string) error {
	_, err := t.send(ctx, tgbotapi.NewVoice(int64(chat), tgbotapi.FilePath(path)))
	return err
}

// SendVideo uploads a video with its dimensions, duration and thumbnail.
// VideoConfig cannot carry width and height, so the multipart request is
// built directly.
func (t *Transport) SendVideo(ctx context.Context, chat task.ChatID, path string, meta media.VideoMeta, thumb string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	files := []tgbotapi.RequestFile{{Name: "video", Data: tgbotapi.FilePath(path)}}
	if thumb != "" {
		files = append(files, tgbotapi.RequestFile{Name: "thumbnail", Data: tgbotapi.FilePath(thumb)})
	}
	_, err := t.bot.UploadFiles("sendVideo", videoParams(chat, meta), files)
	return err
}

func (t *Transport) send(ctx context.Context, c tgbotapi.Chattable) (task.MessageID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m, err := t.bot.Send(c)
	if err != nil {
		return 0, err
	}
	return task.MessageID(m.MessageID), nil
}

func (t *Transport) request(ctx context.Context, c tgbotapi.Chattable) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Request(c)
	return err
}

func keyboard(choices []task.MediaType) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(choices))
	for _, mt := range choices {
		data := mt.CallbackData()
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(data, data)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func videoParams(chat task.ChatID, meta media.VideoMeta) tgbotapi.Params {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", int64(chat))
	params.AddNonZero("duration", meta.Duration)
	params.AddNonZero("width", meta.Width)
	params.AddNonZero("height", meta.Height)
	params.AddBool("supports_streaming", true)
	return params
}
