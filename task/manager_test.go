package task

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chat ChatID = 7

// startDownload walks a fresh task up to Running through the chat operations.
func startDownload(t *testing.T, e *testEngine, mt MediaType) State {
	t.Helper()
	ctx := context.Background()

	asked, err := e.mgr.Ask(ctx, chat, 100)
	require.NoError(t, err)
	keyboard := e.transport.lastID()

	_, err = e.mgr.SelectMedia(ctx, chat, keyboard, mt)
	require.NoError(t, err)

	st, err := e.mgr.HandleText(ctx, chat, 101, "https://example.com/watch?v=1")
	require.NoError(t, err)
	require.Equal(t, asked.TaskID, st.TaskID)
	return st
}

func TestManager_Run(t *testing.T) {
	t.Run("successful download and delivery", func(t *testing.T) {
		e := newTestEngine(t)
		e.downloader.downloadFunc = func(ctx context.Context, id TaskID, mt MediaType, url string) (*Downloads, error) {
			assert.Equal(t, Video, mt)
			assert.Equal(t, "https://example.com/watch?v=1", url)
			return &Downloads{WorkDir: t.TempDir(), Files: []string{"a.mp4", "b.mp4"}}, nil
		}

		st := startDownload(t, e, Video)
		e.mgr.Wait()

		final, ok := e.store.state(st.TaskID)
		require.True(t, ok)
		assert.Equal(t, KindSuccess, final.Kind)
		assert.Equal(t, []Kind{KindNew, KindWaitingForURL, KindRunning, KindSuccess}, e.store.kinds(st.TaskID))
		assert.Equal(t, []string{"a.mp4", "b.mp4"}, e.deliverer.delivered)
		assert.ErrorIs(t, e.reporter.cause, ErrDownloaded)
		assert.Equal(t, 0, e.registry.Len())

		msgs, _ := e.store.MessagesByTask(context.Background(), st.TaskID)
		assert.Empty(t, msgs, "tracked messages are purged after delivery")
		assert.Len(t, e.transport.deletedIDs(), 4, "command, keyboard, URL and progress messages")
		assert.Contains(t, e.transport.edits, "Selected video. Please send the content URL.")
	})

	t.Run("failed final save still releases the handle", func(t *testing.T) {
		e := newTestEngine(t)
		e.downloader.downloadFunc = func(ctx context.Context, id TaskID, mt MediaType, url string) (*Downloads, error) {
			e.store.mu.Lock()
			e.store.failNext = errBoom
			e.store.mu.Unlock()
			return &Downloads{WorkDir: t.TempDir(), Files: []string{"a.mp3"}}, nil
		}

		st := startDownload(t, e, Audio)
		e.mgr.Wait()

		final, ok := e.store.state(st.TaskID)
		require.True(t, ok)
		assert.Equal(t, KindRunning, final.Kind, "the store kept the last saved state")
		assert.Equal(t, 0, e.registry.Len())
		assert.Empty(t, e.mgr.Running())

		n, err := e.mgr.Stop(context.Background(), chat, 200)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("download error fails the task with diagnostics", func(t *testing.T) {
		e := newTestEngine(t)
		e.downloader.downloadFunc = func(ctx context.Context, id TaskID, mt MediaType, url string) (*Downloads, error) {
			return nil, fmt.Errorf("%w: ERROR: Unsupported URL", ErrNoFiles)
		}

		st := startDownload(t, e, Audio)
		e.mgr.Wait()

		final, _ := e.store.state(st.TaskID)
		assert.Equal(t, KindFailure, final.Kind)
		assert.Empty(t, e.deliverer.delivered)
		assert.Contains(t, strings.Join(e.transport.sentTexts(), "\n"), "Unsupported URL")

		msgs, _ := e.store.MessagesByTask(context.Background(), st.TaskID)
		assert.NotEmpty(t, msgs, "failure report stays visible")
	})

	t.Run("stop cancels a running download", func(t *testing.T) {
		e := newTestEngine(t)
		started := make(chan struct{})
		e.downloader.downloadFunc = func(ctx context.Context, id TaskID, mt MediaType, url string) (*Downloads, error) {
			close(started)
			<-ctx.Done()
			return nil, ErrCanceled
		}

		st := startDownload(t, e, Audio)
		<-started

		n, err := e.mgr.Stop(context.Background(), chat, 200)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		e.mgr.Wait()

		final, _ := e.store.state(st.TaskID)
		assert.Equal(t, KindFailure, final.Kind)
		assert.Equal(t, []Kind{KindNew, KindWaitingForURL, KindRunning, KindFailure}, e.store.kinds(st.TaskID))
		for _, text := range e.transport.sentTexts() {
			assert.NotContains(t, text, "canceled", "cancellation is not reported as an error")
		}
		msgs, _ := e.store.MessagesByTask(context.Background(), st.TaskID)
		assert.Empty(t, msgs)
	})

	t.Run("abandoned file fails the task but the rest is delivered", func(t *testing.T) {
		e := newTestEngine(t)
		e.downloader.downloadFunc = func(ctx context.Context, id TaskID, mt MediaType, url string) (*Downloads, error) {
			return &Downloads{Files: []string{"a.mp3", "b.mp3"}}, nil
		}
		e.deliverer.deliverFunc = func(ctx context.Context, path string, report func(string)) error {
			if path == "a.mp3" {
				report("Attempt 1/3 at sending 'a.mp3' failed: boom")
				return fmt.Errorf("%w: a.mp3", ErrAbandoned)
			}
			return nil
		}

		st := startDownload(t, e, Audio)
		e.mgr.Wait()

		final, _ := e.store.state(st.TaskID)
		assert.Equal(t, KindFailure, final.Kind)
		assert.Equal(t, []string{"b.mp3"}, e.deliverer.delivered)
		sent := strings.Join(e.transport.sentTexts(), "\n")
		assert.Contains(t, sent, "Attempt 1/3")
		assert.Contains(t, sent, "1 of 2 files could not be sent.")
	})

	t.Run("concurrency limit queues downloads", func(t *testing.T) {
		e := newTestEngine(t)
		release := make(chan struct{})
		running := make(chan TaskID, 2)
		e.downloader.downloadFunc = func(ctx context.Context, id TaskID, mt MediaType, url string) (*Downloads, error) {
			running <- id
			<-release
			return &Downloads{Files: []string{"a.mp3"}}, nil
		}

		startDownload(t, e, Audio)
		startDownload(t, e, Audio)

		<-running
		select {
		case <-running:
			t.Fatal("second download started while the slot was taken")
		case <-time.After(50 * time.Millisecond):
		}
		close(release)
		<-running
		e.mgr.Wait()
	})
}

func TestManager_HandleText(t *testing.T) {
	t.Run("invalid URL keeps waiting", func(t *testing.T) {
		e := newTestEngine(t)
		ctx := context.Background()
		asked, err := e.mgr.Ask(ctx, chat, 1)
		require.NoError(t, err)
		_, err = e.mgr.SelectMedia(ctx, chat, e.transport.lastID(), Audio)
		require.NoError(t, err)

		_, err = e.mgr.HandleText(ctx, chat, 3, "not a link")
		assert.ErrorIs(t, err, ErrInvalidURL)

		st, _ := e.store.state(asked.TaskID)
		assert.Equal(t, KindWaitingForURL, st.Kind)
		sent := e.transport.sentTexts()
		assert.True(t, strings.HasPrefix(sent[len(sent)-1], "Invalid URL: "))
		assert.True(t, strings.HasSuffix(sent[len(sent)-1], ". Please try again."))
	})

	t.Run("text without a waiting task is tracked under a new task", func(t *testing.T) {
		e := newTestEngine(t)
		st, err := e.mgr.HandleText(context.Background(), chat, 9, "thanks!")
		require.NoError(t, err)
		assert.Equal(t, KindNew, st.Kind)

		msgs, _ := e.store.MessagesByTask(context.Background(), st.TaskID)
		require.Len(t, msgs, 1)
		assert.Equal(t, MessageID(9), msgs[0].MessageID)
	})

	t.Run("select without an open task", func(t *testing.T) {
		e := newTestEngine(t)
		_, err := e.mgr.SelectMedia(context.Background(), chat, 1, Audio)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("keyboard selects its own task", func(t *testing.T) {
		e := newTestEngine(t)
		ctx := context.Background()
		first, err := e.mgr.Ask(ctx, chat, 1)
		require.NoError(t, err)
		firstKeyboard := e.transport.lastID()
		_, err = e.mgr.Ask(ctx, chat, 3)
		require.NoError(t, err)

		st, err := e.mgr.SelectMedia(ctx, chat, firstKeyboard, VoiceNote)
		require.NoError(t, err)
		assert.Equal(t, first.TaskID, st.TaskID)
		assert.Equal(t, VoiceNote, st.MediaType)
	})
}

func TestManager_Clear(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	done := startDownload(t, e, Audio)
	e.mgr.Wait()
	_, err := e.mgr.Ask(ctx, chat, 50)
	require.NoError(t, err)
	_, err = e.mgr.HandleText(ctx, chat, 51, "hello")
	require.NoError(t, err)

	n, err := e.mgr.Clear(ctx, chat, 52)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "asked task, plain message task and the clear command itself")

	states, err := e.mgr.Tasks(ctx, chat)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, done.TaskID, states[0].TaskID)
	assert.Equal(t, KindSuccess, states[0].Kind)
	assert.Contains(t, e.transport.deletedIDs(), MessageID(52))
}

func TestManager_Recover(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	stale := NewState(chat)
	stale.Kind = KindRunning
	stale.MediaType = Video
	stale.URL = "https://example.com"
	require.NoError(t, e.store.InsertState(ctx, stale))
	waiting := NewState(chat)
	waiting.Kind = KindWaitingForURL
	waiting.MediaType = Audio
	require.NoError(t, e.store.InsertState(ctx, waiting))

	n, err := e.mgr.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, _ := e.store.state(stale.TaskID)
	assert.Equal(t, KindFailure, st.Kind)
	st, _ = e.store.state(waiting.TaskID)
	assert.Equal(t, KindWaitingForURL, st.Kind)

	running, err := e.store.StatesByKind(ctx, KindRunning)
	require.NoError(t, err)
	assert.Empty(t, running)
}

func TestManager_Cancel(t *testing.T) {
	e := newTestEngine(t)
	assert.False(t, e.mgr.Cancel(NewTaskID()))

	started := make(chan struct{})
	e.downloader.downloadFunc = func(ctx context.Context, id TaskID, mt MediaType, url string) (*Downloads, error) {
		close(started)
		<-ctx.Done()
		return nil, ErrCanceled
	}
	st := startDownload(t, e, Video)
	<-started

	assert.Equal(t, []TaskID{st.TaskID}, e.mgr.Running())
	assert.True(t, e.mgr.Cancel(st.TaskID))
	e.mgr.Wait()
	assert.Empty(t, e.mgr.Running())
}
