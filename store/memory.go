package store

import (
	"context"
	"fmt"
	"sync"

	"fetchbot/task"
)

// Memory is a task.Store that lives only as long as the process. Results are
// returned in insertion order.
type Memory struct {
	mu       sync.RWMutex
	states   []task.State
	messages []task.TrackedMessage
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) InsertState(_ context.Context, st task.State) error {
	if err := st.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index(st.TaskID) >= 0 {
		return fmt.Errorf("insert task %s: already exists", st.TaskID)
	}
	m.states = append(m.states, st)
	return nil
}

func (m *Memory) ReplaceState(_ context.Context, st task.State) error {
	if err := st.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(st.TaskID)
	if i < 0 {
		return fmt.Errorf("replace task %s: %w", st.TaskID, task.ErrNotFound)
	}
	m.states[i] = st
	return nil
}

func (m *Memory) DeleteState(_ context.Context, id task.TaskID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.index(id); i >= 0 {
		m.states = append(m.states[:i], m.states[i+1:]...)
	}
	return nil
}

func (m *Memory) StatesByChat(_ context.Context, chat task.ChatID) ([]task.State, error) {
	return m.filter(func(st task.State) bool { return st.ChatID == chat }), nil
}

func (m *Memory) StatesByKind(_ context.Context, kind task.Kind) ([]task.State, error) {
	return m.filter(func(st task.State) bool { return st.Kind == kind }), nil
}

func (m *Memory) filter(keep func(task.State) bool) []task.State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []task.State
	for _, st := range m.states {
		if keep(st) {
			out = append(out, st)
		}
	}
	return out
}

// index must be called with mu held.
func (m *Memory) index(id task.TaskID) int {
	for i, st := range m.states {
		if st.TaskID == id {
			return i
		}
	}
	return -1
}

func (m *Memory) InsertMessage(_ context.Context, tm task.TrackedMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.messages {
		if existing.ChatID == tm.ChatID && existing.MessageID == tm.MessageID {
			m.messages[i] = tm
			return nil
		}
	}
	m.messages = append(m.messages, tm)
	return nil
}

func (m *Memory) MessagesByTask(_ context.Context, id task.TaskID) ([]task.TrackedMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []task.TrackedMessage
	for _, tm := range m.messages {
		if tm.TaskID == id {
			out = append(out, tm)
		}
	}
	return out, nil
}

func (m *Memory) DeleteMessages(_ context.Context, id task.TaskID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.messages[:0]
	for _, tm := range m.messages {
		if tm.TaskID != id {
			kept = append(kept, tm)
		}
	}
	m.messages = kept
	return nil
}

func (m *Memory) Close() error { return nil }
