// Package delivery sends downloaded files to a chat, retrying failed uploads.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"fetchbot/media"
	"fetchbot/task"
)

// Sender uploads files to a chat.
type Sender interface {
	SendAudio(ctx context.Context, chat task.ChatID, path string) error
	SendVoice(ctx context.Context, chat task.ChatID, path string) error
	SendVideo(ctx context.Context, chat task.ChatID, path string, meta media.VideoMeta, thumb string) error
}

type Prober interface {
	Probe(ctx context.Context, path string) media.VideoMeta
}

// Engine delivers one file at a time with a bounded number of attempts.
type Engine struct {
	sender   Sender
	prober   Prober
	attempts int
	cooldown time.Duration
}

func New(sender Sender, prober Prober, attempts int, cooldown time.Duration) *Engine {
	if attempts < 1 {
		attempts = 1
	}
	return &Engine{sender: sender, prober: prober, attempts: attempts, cooldown: cooldown}
}

// Deliver sends path to chat as mt. Every failed attempt except the last is
// reported through report before the cooldown. After the last failed attempt
// the file is abandoned and an error wrapping task.ErrAbandoned is returned.
func (e *Engine) Deliver(ctx context.Context, chat task.ChatID, mt task.MediaType, path string, report func(text string)) error {
	name := filepath.Base(path)
	log := slog.With("chat_id", int64(chat), "file", name)

	send, err := e.prepare(ctx, chat, mt, path)
	if err != nil {
		return fmt.Errorf("prepare '%s': %w", name, err)
	}

	var lastErr error
	for attempt := 1; attempt <= e.attempts; attempt++ {
		lastErr = send(ctx)
		if lastErr == nil {
			log.Info("File sent", "attempt", attempt)
			return nil
		}
		if ctx.Err() != nil {
			return task.ErrCanceled
		}
		log.Warn("Failed to send file", "attempt", attempt, "max_attempts", e.attempts, "error", lastErr)
		if attempt == e.attempts {
			break
		}

		report(fmt.Sprintf("Attempt %d/%d at sending '%s' failed: %v", attempt, e.attempts, name, lastErr))
		if err := sleep(ctx, e.cooldown); err != nil {
			return task.ErrCanceled
		}
	}
	return fmt.Errorf("failed to send file after %d attempts: %s: %w (%v)", e.attempts, name, task.ErrAbandoned, lastErr)
}

// prepare does the per-file work that is not repeated between attempts.
func (e *Engine) prepare(ctx context.Context, chat task.ChatID, mt task.MediaType, path string) (func(context.Context) error, error) {
	switch mt {
	case task.Audio:
		return func(ctx context.Context) error { return e.sender.SendAudio(ctx, chat, path) }, nil
	case task.VoiceNote:
		return func(ctx context.Context) error { return e.sender.SendVoice(ctx, chat, path) }, nil
	case task.Video:
		meta := e.prober.Probe(ctx, path)
		thumb := media.PreparedThumbnailFor(path)
		if err := media.PrepareThumbnail(media.ThumbnailFor(path), thumb); err != nil {
			return nil, err
		}
		return func(ctx context.Context) error { return e.sender.SendVideo(ctx, chat, path, meta, thumb) }, nil
	}
	return nil, fmt.Errorf("unsupported media type %d", mt)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
