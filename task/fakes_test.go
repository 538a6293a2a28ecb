package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fetchbot/config"

	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Store that also records every persisted kind per
// task.
type memStore struct {
	mu       sync.Mutex
	states   []State
	messages []TrackedMessage
	history  map[TaskID][]Kind
	failNext error
}

func newMemStore() *memStore {
	return &memStore{history: make(map[TaskID][]Kind)}
}

func (s *memStore) InsertState(_ context.Context, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, st)
	s.history[st.TaskID] = append(s.history[st.TaskID], st.Kind)
	return nil
}

func (s *memStore) ReplaceState(_ context.Context, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNext; err != nil {
		s.failNext = nil
		return err
	}
	for i := range s.states {
		if s.states[i].TaskID == st.TaskID {
			s.states[i] = st
			s.history[st.TaskID] = append(s.history[st.TaskID], st.Kind)
			return nil
		}
	}
	return ErrNotFound
}

func (s *memStore) DeleteState(_ context.Context, id TaskID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.states {
		if s.states[i].TaskID == id {
			s.states = append(s.states[:i], s.states[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *memStore) StatesByChat(_ context.Context, chat ChatID) ([]State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []State
	for _, st := range s.states {
		if st.ChatID == chat {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *memStore) StatesByKind(_ context.Context, kind Kind) ([]State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []State
	for _, st := range s.states {
		if st.Kind == kind {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *memStore) InsertMessage(_ context.Context, m TrackedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
	return nil
}

func (s *memStore) MessagesByTask(_ context.Context, id TaskID) ([]TrackedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []TrackedMessage
	for _, m := range s.messages {
		if m.TaskID == id {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) DeleteMessages(_ context.Context, id TaskID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.messages[:0]
	for _, m := range s.messages {
		if m.TaskID != id {
			kept = append(kept, m)
		}
	}
	s.messages = kept
	return nil
}

func (s *memStore) state(id TaskID) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.states {
		if st.TaskID == id {
			return st, true
		}
	}
	return State{}, false
}

func (s *memStore) kinds(id TaskID) []Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Kind(nil), s.history[id]...)
}

// mockTransport records what the engine sends to the chat.
type mockTransport struct {
	mu      sync.Mutex
	nextID  MessageID
	sent    []string
	edits   []string
	deleted []MessageID
	sendErr error
}

func (t *mockTransport) SendText(_ context.Context, _ ChatID, text string) (MessageID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return 0, t.sendErr
	}
	t.nextID++
	t.sent = append(t.sent, text)
	return t.nextID, nil
}

func (t *mockTransport) SendChoice(ctx context.Context, chat ChatID, text string, _ []MediaType) (MessageID, error) {
	return t.SendText(ctx, chat, text)
}

func (t *mockTransport) EditText(_ context.Context, _ ChatID, _ MessageID, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.edits = append(t.edits, text)
	return nil
}

func (t *mockTransport) DeleteMessage(_ context.Context, _ ChatID, msg MessageID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deleted = append(t.deleted, msg)
	return nil
}

func (t *mockTransport) lastID() MessageID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextID
}

func (t *mockTransport) sentTexts() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.sent...)
}

func (t *mockTransport) deletedIDs() []MessageID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]MessageID(nil), t.deleted...)
}

type mockDownloader struct {
	dir          string
	downloadFunc func(ctx context.Context, id TaskID, mt MediaType, url string) (*Downloads, error)
}

func (d *mockDownloader) Download(ctx context.Context, id TaskID, mt MediaType, url string) (*Downloads, error) {
	if d.downloadFunc != nil {
		return d.downloadFunc(ctx, id, mt, url)
	}
	return &Downloads{Files: []string{"a.mp3"}}, nil
}

func (d *mockDownloader) WorkDir(id TaskID) string {
	return d.dir + "/" + id.String()
}

type mockDeliverer struct {
	mu          sync.Mutex
	delivered   []string
	deliverFunc func(ctx context.Context, path string, report func(string)) error
}

func (d *mockDeliverer) Deliver(ctx context.Context, _ ChatID, _ MediaType, path string, report func(string)) error {
	if d.deliverFunc != nil {
		if err := d.deliverFunc(ctx, path, report); err != nil {
			return err
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delivered = append(d.delivered, path)
	return nil
}

// mockReporter remembers why it was stopped.
type mockReporter struct {
	mu    sync.Mutex
	cause error
}

func (r *mockReporter) Watch(ctx context.Context, _ ChatID, _ MessageID, _ string, _ MediaType) {
	<-ctx.Done()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cause = context.Cause(ctx)
}

func testConfig() *config.Config {
	return &config.Config{
		MaxConcurrency: 1,
		PollInterval:   time.Second,
		SendAttempts:   3,
	}
}

type testEngine struct {
	mgr        *Manager
	store      *memStore
	registry   *Registry
	transport  *mockTransport
	downloader *mockDownloader
	deliverer  *mockDeliverer
	reporter   *mockReporter
}

func newTestEngine(t *testing.T) *testEngine {
	e := &testEngine{
		store:      newMemStore(),
		registry:   NewRegistry(),
		transport:  &mockTransport{},
		downloader: &mockDownloader{dir: t.TempDir()},
		deliverer:  &mockDeliverer{},
		reporter:   &mockReporter{},
	}
	mgr, err := NewManager(testConfig(), e.store, e.registry, e.downloader, e.transport, e.deliverer, e.reporter)
	require.NoError(t, err)
	e.mgr = mgr
	return e
}

var errBoom = errors.New("boom")
