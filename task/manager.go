package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"fetchbot/config"

	"golang.org/x/sync/semaphore"
)

const (
	textChooseMedia = "Select content type:"
	textPreparing   = "Preparing the download..."
)

// Manager drives tasks through their lifecycle in response to chat events.
type Manager struct {
	cfg        *config.Config
	store      Store
	registry   *Registry
	downloader Downloader
	transport  Transport
	deliverer  Deliverer
	reporter   Reporter

	sem     *semaphore.Weighted
	baseCtx context.Context
	wg      sync.WaitGroup
}

func NewManager(
	cfg *config.Config,
	store Store,
	registry *Registry,
	downloader Downloader,
	transport Transport,
	deliverer Deliverer,
	reporter Reporter,
) (*Manager, error) {
	if cfg.MaxConcurrency < 1 {
		return nil, fmt.Errorf("max concurrency must be at least 1, got %d", cfg.MaxConcurrency)
	}
	return &Manager{
		cfg:        cfg,
		store:      store,
		registry:   registry,
		downloader: downloader,
		transport:  transport,
		deliverer:  deliverer,
		reporter:   reporter,
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		baseCtx:    context.Background(),
	}, nil
}

// Start sets the context every running task derives from. Canceling it stops
// all downloads.
func (m *Manager) Start(ctx context.Context) {
	m.baseCtx = ctx
	slog.Info("Task manager started", "max_concurrency", m.cfg.MaxConcurrency)
}

// Wait blocks until every running task has concluded.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Recover marks tasks left Running by a previous process as failed. It must
// run before any chat event is dispatched.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	states, err := m.store.StatesByKind(ctx, KindRunning)
	if err != nil {
		return 0, fmt.Errorf("list running tasks: %w", err)
	}

	n := 0
	for i := range states {
		st := states[i]
		if err := os.RemoveAll(m.downloader.WorkDir(st.TaskID)); err != nil {
			slog.Warn("Could not remove stale working directory", "task_id", st.TaskID.String(), "error", err)
		}
		if err := st.ToFailure(ctx, m.store, m.registry); err != nil {
			return n, err
		}
		slog.Warn("Task was interrupted by a restart, marked as failed", "task_id", st.TaskID.String(), "chat_id", int64(st.ChatID))
		n++
	}
	return n, nil
}

// Ask opens a task and presents the media type keyboard.
func (m *Manager) Ask(ctx context.Context, chat ChatID, userMsg MessageID) (State, error) {
	st, err := m.open(ctx, chat, userMsg)
	if err != nil {
		return st, err
	}

	msg, err := m.transport.SendChoice(ctx, chat, textChooseMedia, MediaTypes())
	if err != nil {
		return st, fmt.Errorf("send media keyboard: %w", err)
	}
	m.track(ctx, st, msg)
	return st, nil
}

// SelectMedia records the media type picked on the keyboard message.
func (m *Manager) SelectMedia(ctx context.Context, chat ChatID, keyboardMsg MessageID, mt MediaType) (State, error) {
	st, err := m.pending(ctx, chat, keyboardMsg)
	if err != nil {
		return st, err
	}
	if err := st.ToWaitingForURL(ctx, m.store, mt); err != nil {
		return st, err
	}

	text := fmt.Sprintf("Selected %s. Please send the content URL.", mt.Label())
	if err := m.transport.EditText(ctx, chat, keyboardMsg, text); err != nil {
		slog.Warn("Failed to edit keyboard message", "task_id", st.TaskID.String(), "error", err)
	}
	return st, nil
}

// HandleText handles a plain chat message. If a task waits for a URL the text
// is taken as that URL and the download starts in the background. Otherwise
// the message is tracked under a fresh task so it can be cleared later.
func (m *Manager) HandleText(ctx context.Context, chat ChatID, msg MessageID, text string) (State, error) {
	waiting, err := m.statesOf(ctx, chat, KindWaitingForURL)
	if err != nil {
		return State{}, err
	}
	if len(waiting) == 0 {
		return m.open(ctx, chat, msg)
	}

	st := waiting[len(waiting)-1]
	m.track(ctx, st, msg)

	url, reason := parseURL(text)
	if reason != nil {
		m.say(ctx, st, fmt.Sprintf("Invalid URL: %v. Please try again.", reason))
		return st, fmt.Errorf("task %s: %w: %v", st.TaskID, ErrInvalidURL, reason)
	}

	h := NewHandle(m.baseCtx)
	if err := st.ToRunning(ctx, m.store, m.registry, url, h); err != nil {
		h.Cancel()
		return st, err
	}

	m.wg.Add(1)
	go func(st State) {
		defer m.wg.Done()
		m.run(h, st)
	}(st)
	return st, nil
}

// Stop cancels every running task of chat and returns how many were signaled.
func (m *Manager) Stop(ctx context.Context, chat ChatID, userMsg MessageID) (int, error) {
	if _, err := m.open(ctx, chat, userMsg); err != nil {
		return 0, err
	}
	running, err := m.statesOf(ctx, chat, KindRunning)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, st := range running {
		if m.registry.Cancel(st.TaskID) {
			n++
		}
	}
	slog.Info("Stopped running tasks", "chat_id", int64(chat), "count", n)
	return n, nil
}

// Cancel signals a single running task.
func (m *Manager) Cancel(id TaskID) bool {
	ok := m.registry.Cancel(id)
	if ok {
		slog.Info("Cancellation signal sent", "task_id", id.String())
	}
	return ok
}

// Clear removes unfinished and failed tasks of chat together with their
// tracked messages.
func (m *Manager) Clear(ctx context.Context, chat ChatID, userMsg MessageID) (int, error) {
	if _, err := m.open(ctx, chat, userMsg); err != nil {
		return 0, err
	}
	states, err := m.store.StatesByChat(ctx, chat)
	if err != nil {
		return 0, fmt.Errorf("list tasks of chat %d: %w", chat, err)
	}

	n := 0
	for _, st := range states {
		switch st.Kind {
		case KindNew, KindWaitingForURL, KindFailure:
		default:
			continue
		}
		m.purge(ctx, st)
		if err := m.store.DeleteState(ctx, st.TaskID); err != nil {
			return n, fmt.Errorf("delete task %s: %w", st.TaskID, err)
		}
		n++
	}
	return n, nil
}

// Tasks lists all tasks of chat.
func (m *Manager) Tasks(ctx context.Context, chat ChatID) ([]State, error) {
	return m.store.StatesByChat(ctx, chat)
}

// Running lists the ids of tasks that can currently be canceled.
func (m *Manager) Running() []TaskID {
	return m.registry.IDs()
}

// run downloads and delivers the files of a task that was just moved to
// Running, then records the outcome.
func (m *Manager) run(h *Handle, st State) {
	defer h.Cancel()
	// The handle must not outlive the goroutine even if the final save fails.
	defer m.registry.Remove(st.TaskID)

	ctx := h.Context()
	// Bookkeeping must outlive the task's own cancellation.
	opCtx := context.WithoutCancel(m.baseCtx)
	log := slog.With("task_id", st.TaskID.String(), "chat_id", int64(st.ChatID))

	progressMsg, progressErr := m.transport.SendText(opCtx, st.ChatID, textPreparing)
	if progressErr != nil {
		log.Warn("Failed to send progress message", "error", progressErr)
	} else {
		m.track(opCtx, st, progressMsg)
	}

	if err := m.sem.Acquire(ctx, 1); err != nil {
		log.Info("Task canceled while waiting for a download slot")
		m.conclude(opCtx, &st, KindFailure, true)
		return
	}
	downloads, err := m.download(ctx, st, progressMsg, progressErr == nil)
	m.sem.Release(1)

	switch {
	case errors.Is(err, ErrCanceled):
		log.Info("Download canceled")
		m.conclude(opCtx, &st, KindFailure, true)
		return
	case err != nil:
		log.Error("Download failed", "error", err)
		m.say(opCtx, st, err.Error())
		m.conclude(opCtx, &st, KindFailure, false)
		return
	}

	log.Info("Download finished", "files", len(downloads.Files))
	failed := m.deliver(ctx, opCtx, st, downloads.Files)
	if err := downloads.Cleanup(); err != nil {
		log.Warn("Could not remove working directory", "dir", downloads.WorkDir, "error", err)
	}

	switch {
	case ctx.Err() != nil:
		log.Info("Delivery canceled")
		m.conclude(opCtx, &st, KindFailure, true)
	case failed > 0:
		m.say(opCtx, st, fmt.Sprintf("%d of %d files could not be sent.", failed, len(downloads.Files)))
		m.conclude(opCtx, &st, KindFailure, false)
	default:
		m.conclude(opCtx, &st, KindSuccess, true)
	}
}

// download runs the downloader while the reporter keeps the progress message
// current. The reporter is stopped before download returns.
func (m *Manager) download(ctx context.Context, st State, progressMsg MessageID, watch bool) (*Downloads, error) {
	watchCtx, stop := context.WithCancelCause(ctx)
	var wg sync.WaitGroup
	if watch {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.reporter.Watch(watchCtx, st.ChatID, progressMsg, m.downloader.WorkDir(st.TaskID), st.MediaType)
		}()
	}

	downloads, err := m.downloader.Download(ctx, st.TaskID, st.MediaType, st.URL)
	if err != nil {
		stop(err)
	} else {
		stop(ErrDownloaded)
	}
	wg.Wait()
	return downloads, err
}

// deliver sends every file and returns the number of files that could not be
// delivered.
func (m *Manager) deliver(ctx, opCtx context.Context, st State, files []string) int {
	report := func(text string) { m.say(opCtx, st, text) }

	failed := 0
	for _, file := range files {
		if ctx.Err() != nil {
			return failed + 1
		}
		err := m.deliverer.Deliver(ctx, st.ChatID, st.MediaType, file, report)
		if err == nil {
			continue
		}
		failed++
		if errors.Is(err, ErrCanceled) {
			continue
		}
		slog.Error("File delivery failed", "task_id", st.TaskID.String(), "file", file, "error", err)
		m.say(opCtx, st, err.Error())
	}
	return failed
}

// conclude records the terminal state of st. With purge set the task's
// tracked messages are removed first.
func (m *Manager) conclude(ctx context.Context, st *State, kind Kind, purge bool) {
	if purge {
		m.purge(ctx, *st)
	}

	var err error
	if kind == KindSuccess {
		err = st.ToSuccess(ctx, m.store, m.registry)
	} else {
		err = st.ToFailure(ctx, m.store, m.registry)
	}
	if err != nil {
		slog.Error("Failed to record task outcome", "task_id", st.TaskID.String(), "state", kind, "error", err)
		return
	}
	slog.Info("Task concluded", "task_id", st.TaskID.String(), "state", kind)
}

// open creates and persists a New task and tracks the user message that
// caused it.
func (m *Manager) open(ctx context.Context, chat ChatID, userMsg MessageID) (State, error) {
	st := NewState(chat)
	if err := m.store.InsertState(ctx, st); err != nil {
		return st, fmt.Errorf("create task: %w", err)
	}
	m.track(ctx, st, userMsg)
	return st, nil
}

// pending finds the New task the keyboard message belongs to. It falls back
// to the newest New task of the chat.
func (m *Manager) pending(ctx context.Context, chat ChatID, keyboardMsg MessageID) (State, error) {
	fresh, err := m.statesOf(ctx, chat, KindNew)
	if err != nil {
		return State{}, err
	}
	if len(fresh) == 0 {
		return State{}, fmt.Errorf("no task awaits a media type in chat %d: %w", chat, ErrNotFound)
	}

	for i := len(fresh) - 1; i >= 0; i-- {
		msgs, err := m.store.MessagesByTask(ctx, fresh[i].TaskID)
		if err != nil {
			return State{}, fmt.Errorf("list messages of task %s: %w", fresh[i].TaskID, err)
		}
		for _, msg := range msgs {
			if msg.MessageID == keyboardMsg {
				return fresh[i], nil
			}
		}
	}
	return fresh[len(fresh)-1], nil
}

func (m *Manager) statesOf(ctx context.Context, chat ChatID, kind Kind) ([]State, error) {
	states, err := m.store.StatesByChat(ctx, chat)
	if err != nil {
		return nil, fmt.Errorf("list tasks of chat %d: %w", chat, err)
	}
	var out []State
	for _, st := range states {
		if st.Kind == kind {
			out = append(out, st)
		}
	}
	return out, nil
}

// say sends text to the task's chat and tracks every message sent. Failures
// are logged only.
func (m *Manager) say(ctx context.Context, st State, text string) {
	for _, chunk := range reportChunks(st.TaskID, text) {
		msg, err := m.transport.SendText(ctx, st.ChatID, chunk)
		if err != nil {
			slog.Warn("Failed to send message", "task_id", st.TaskID.String(), "error", err)
			continue
		}
		m.track(ctx, st, msg)
	}
}

func (m *Manager) track(ctx context.Context, st State, msg MessageID) {
	if msg == 0 {
		return
	}
	tm := TrackedMessage{TaskID: st.TaskID, ChatID: st.ChatID, MessageID: msg}
	if err := m.store.InsertMessage(ctx, tm); err != nil {
		slog.Warn("Failed to track message", "task_id", st.TaskID.String(), "message_id", int(msg), "error", err)
	}
}

// purge deletes the task's tracked messages from the chat and the store.
func (m *Manager) purge(ctx context.Context, st State) {
	msgs, err := m.store.MessagesByTask(ctx, st.TaskID)
	if err != nil {
		slog.Warn("Failed to list tracked messages", "task_id", st.TaskID.String(), "error", err)
		return
	}
	for _, msg := range msgs {
		if err := m.transport.DeleteMessage(ctx, msg.ChatID, msg.MessageID); err != nil {
			slog.Debug("Failed to delete message", "task_id", st.TaskID.String(), "message_id", int(msg.MessageID), "error", err)
		}
	}
	if err := m.store.DeleteMessages(ctx, st.TaskID); err != nil {
		slog.Warn("Failed to forget tracked messages", "task_id", st.TaskID.String(), "error", err)
	}
}
