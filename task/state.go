package task

import (
	"context"
	"fmt"
	"time"
)

type Kind string

const (
	KindNew           Kind = "new"
	KindWaitingForURL Kind = "waiting_for_url"
	KindRunning       Kind = "running"
	KindSuccess       Kind = "success"
	KindFailure       Kind = "failure"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindNew, KindWaitingForURL, KindRunning, KindSuccess, KindFailure:
		return k, nil
	}
	return "", fmt.Errorf("unknown task state %q", s)
}

// Terminal reports whether no further transition is possible.
func (k Kind) Terminal() bool {
	return k == KindSuccess || k == KindFailure
}

// State is the persisted lifecycle record of one task. MediaType is set from
// WaitingForURL on, URL from Running on.
type State struct {
	Kind      Kind      `json:"state"`
	TaskID    TaskID    `json:"taskId"`
	ChatID    ChatID    `json:"chatId"`
	MediaType MediaType `json:"mediaType,omitempty"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewState creates a fresh task for chat. It is not persisted.
func NewState(chat ChatID) State {
	now := time.Now().UTC()
	return State{
		Kind:      KindNew,
		TaskID:    NewTaskID(),
		ChatID:    chat,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks the fields required by the state kind.
func (s State) Validate() error {
	if s.TaskID.IsZero() {
		return fmt.Errorf("task id is empty")
	}
	switch s.Kind {
	case KindNew:
		if s.MediaType != 0 || s.URL != "" {
			return fmt.Errorf("new task %s carries data", s.TaskID)
		}
	case KindWaitingForURL:
		if !s.MediaType.Valid() || s.URL != "" {
			return fmt.Errorf("waiting task %s needs a media type and no URL", s.TaskID)
		}
	case KindRunning, KindSuccess, KindFailure:
		if !s.MediaType.Valid() || s.URL == "" {
			return fmt.Errorf("%s task %s needs a media type and URL", s.Kind, s.TaskID)
		}
	default:
		return fmt.Errorf("unknown task state %q", s.Kind)
	}
	return nil
}

func (s State) invalid(to Kind) error {
	return fmt.Errorf("%w: task %s from %s to %s", ErrInvalidTransition, s.TaskID, s.Kind, to)
}

// replace persists next and only then updates s.
func (s *State) replace(ctx context.Context, store Store, next State) error {
	next.UpdatedAt = time.Now().UTC()
	if err := store.ReplaceState(ctx, next); err != nil {
		return fmt.Errorf("persist task %s as %s: %w", s.TaskID, next.Kind, err)
	}
	*s = next
	return nil
}

// ToWaitingForURL records the selected media type.
func (s *State) ToWaitingForURL(ctx context.Context, store Store, mt MediaType) error {
	if s.Kind != KindNew {
		return s.invalid(KindWaitingForURL)
	}
	if !mt.Valid() {
		return fmt.Errorf("task %s: invalid media type %d", s.TaskID, mt)
	}
	next := *s
	next.Kind = KindWaitingForURL
	next.MediaType = mt
	return s.replace(ctx, store, next)
}

// ToRunning records the URL and registers h so the task can be canceled.
func (s *State) ToRunning(ctx context.Context, store Store, reg *Registry, url string, h *Handle) error {
	if s.Kind != KindWaitingForURL {
		return s.invalid(KindRunning)
	}
	if url == "" {
		return fmt.Errorf("task %s: %w: empty", s.TaskID, ErrInvalidURL)
	}
	next := *s
	next.Kind = KindRunning
	next.URL = url
	if err := s.replace(ctx, store, next); err != nil {
		return err
	}
	reg.Register(s.TaskID, h)
	return nil
}

func (s *State) ToSuccess(ctx context.Context, store Store, reg *Registry) error {
	return s.finish(ctx, store, reg, KindSuccess)
}

// ToFailure is also used by boot recovery, where no handle was ever
// registered in this process.
func (s *State) ToFailure(ctx context.Context, store Store, reg *Registry) error {
	return s.finish(ctx, store, reg, KindFailure)
}

func (s *State) finish(ctx context.Context, store Store, reg *Registry, to Kind) error {
	if s.Kind != KindRunning {
		return s.invalid(to)
	}
	next := *s
	next.Kind = to
	if err := s.replace(ctx, store, next); err != nil {
		return err
	}
	reg.Remove(s.TaskID)
	return nil
}
