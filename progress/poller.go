// Package progress keeps a chat message informed about a running download.
package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"fetchbot/task"

	"github.com/c2h5oh/datasize"
)

// Editor edits a message previously sent to a chat.
type Editor interface {
	EditText(ctx context.Context, chat task.ChatID, msg task.MessageID, text string) error
}

// Stats describes the qualifying files in a working directory.
type Stats struct {
	Files int
	Bytes int64
}

// FolderStats counts the files in dir that would be delivered for mt. A
// missing directory counts as empty.
func FolderStats(dir string, mt task.MediaType, maxSize int64) (Stats, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return Stats{}, nil
	}
	if err != nil {
		return Stats{}, err
	}

	var s Stats
	for _, e := range entries {
		if e.IsDir() || !mt.Matches(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Files come and go while the downloader works.
			continue
		}
		if info.Size() >= maxSize {
			continue
		}
		s.Files++
		s.Bytes += info.Size()
	}
	return s, nil
}

func statusText(s Stats) string {
	return fmt.Sprintf("Downloading... Please wait.\nFiles to send: %d.\nTotal size: %s.", s.Files, datasize.ByteSize(s.Bytes).HR())
}

func finishedText(s Stats) string {
	return fmt.Sprintf("Download finished. Sending files...\nFiles to send: %d.\nTotal size: %s.", s.Files, datasize.ByteSize(s.Bytes).HR())
}

// Poller periodically rewrites a progress message with the folder stats.
type Poller struct {
	editor   Editor
	interval time.Duration
	maxSize  int64
}

func NewPoller(editor Editor, interval time.Duration, maxSize int64) *Poller {
	return &Poller{editor: editor, interval: interval, maxSize: maxSize}
}

// Watch edits msg every interval until ctx is done, skipping edits that would
// not change the text. When ctx is canceled with cause task.ErrDownloaded a
// final summary is written. All errors are logged and swallowed.
func (p *Poller) Watch(ctx context.Context, chat task.ChatID, msg task.MessageID, dir string, mt task.MediaType) {
	log := slog.With("chat_id", int64(chat), "dir", dir)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	last := ""
	update := func(editCtx context.Context, render func(Stats) string) {
		stats, err := FolderStats(dir, mt, p.maxSize)
		if err != nil {
			log.Warn("Could not read working directory", "error", err)
			return
		}
		text := render(stats)
		if text == last {
			return
		}
		if err := p.editor.EditText(editCtx, chat, msg, text); err != nil {
			log.Debug("Failed to edit progress message", "error", err)
			return
		}
		last = text
	}

	for {
		select {
		case <-ctx.Done():
			if errors.Is(context.Cause(ctx), task.ErrDownloaded) {
				update(context.WithoutCancel(ctx), finishedText)
			}
			return
		case <-ticker.C:
			update(ctx, statusText)
		}
	}
}
