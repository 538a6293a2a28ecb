package task

import (
	"context"
	"errors"
	"os"
)

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNotFound          = errors.New("task not found")
	ErrInvalidURL        = errors.New("invalid URL")

	// ErrCanceled is returned by a download that was stopped on request.
	ErrCanceled  = errors.New("operation canceled")
	ErrNoFiles   = errors.New("no files were downloaded")
	ErrTooLarge  = errors.New("files above the size limit are not supported")
	ErrAbandoned = errors.New("delivery abandoned")

	// ErrDownloaded is the cancellation cause handed to the progress
	// reporter when the download completed normally.
	ErrDownloaded = errors.New("download finished")
)

// TrackedMessage records a chat message that belongs to a task so it can be
// deleted when the task is cleaned up.
type TrackedMessage struct {
	TaskID    TaskID
	ChatID    ChatID
	MessageID MessageID
}

// Downloads is the outcome of a successful download: the working directory
// and the files in it that are ready for delivery.
type Downloads struct {
	WorkDir string
	Files   []string
}

// Cleanup removes the working directory and everything in it.
func (d *Downloads) Cleanup() error {
	if d == nil || d.WorkDir == "" {
		return nil
	}
	return os.RemoveAll(d.WorkDir)
}

// Downloader runs the external downloader for a task.
type Downloader interface {
	Download(ctx context.Context, id TaskID, mt MediaType, url string) (*Downloads, error)
	WorkDir(id TaskID) string
}

// Transport is the chat side of the engine.
type Transport interface {
	SendText(ctx context.Context, chat ChatID, text string) (MessageID, error)
	SendChoice(ctx context.Context, chat ChatID, text string, choices []MediaType) (MessageID, error)
	EditText(ctx context.Context, chat ChatID, msg MessageID, text string) error
	DeleteMessage(ctx context.Context, chat ChatID, msg MessageID) error
}

// Deliverer sends one downloaded file to a chat. report is called with
// intermediate failure texts meant for the user.
type Deliverer interface {
	Deliver(ctx context.Context, chat ChatID, mt MediaType, path string, report func(text string)) error
}

// Reporter keeps a progress message up to date until ctx is done.
type Reporter interface {
	Watch(ctx context.Context, chat ChatID, msg MessageID, dir string, mt MediaType)
}

// Store persists task states and tracked messages.
type Store interface {
	InsertState(ctx context.Context, s State) error
	// ReplaceState atomically replaces the record keyed by s.TaskID.
	// It returns ErrNotFound when there is no such record.
	ReplaceState(ctx context.Context, s State) error
	DeleteState(ctx context.Context, id TaskID) error
	StatesByChat(ctx context.Context, chat ChatID) ([]State, error)
	StatesByKind(ctx context.Context, kind Kind) ([]State, error)

	InsertMessage(ctx context.Context, m TrackedMessage) error
	MessagesByTask(ctx context.Context, id TaskID) ([]TrackedMessage, error)
	DeleteMessages(ctx context.Context, id TaskID) error
}
