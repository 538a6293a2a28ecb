package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateTransitions(t *testing.T) {
	ctx := context.Background()

	t.Run("happy path persists every step", func(t *testing.T) {
		store := newMemStore()
		reg := NewRegistry()
		st := NewState(42)
		require.NoError(t, store.InsertState(ctx, st))

		require.NoError(t, st.ToWaitingForURL(ctx, store, Video))
		assert.Equal(t, KindWaitingForURL, st.Kind)
		assert.Equal(t, Video, st.MediaType)

		h := NewHandle(ctx)
		require.NoError(t, st.ToRunning(ctx, store, reg, "https://example.com/v", h))
		assert.Equal(t, "https://example.com/v", st.URL)
		got, ok := reg.Get(st.TaskID)
		require.True(t, ok)
		assert.Same(t, h, got)

		require.NoError(t, st.ToSuccess(ctx, store, reg))
		_, ok = reg.Get(st.TaskID)
		assert.False(t, ok)

		persisted, ok := store.state(st.TaskID)
		require.True(t, ok)
		assert.Equal(t, st, persisted)
		assert.NoError(t, persisted.Validate())
		assert.Equal(t, []Kind{KindNew, KindWaitingForURL, KindRunning, KindSuccess}, store.kinds(st.TaskID))
	})

	t.Run("illegal transitions leave the state untouched", func(t *testing.T) {
		store := newMemStore()
		reg := NewRegistry()
		st := NewState(1)
		require.NoError(t, store.InsertState(ctx, st))
		before := st

		err := st.ToRunning(ctx, store, reg, "https://example.com", NewHandle(ctx))
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.ErrorIs(t, st.ToSuccess(ctx, store, reg), ErrInvalidTransition)
		assert.ErrorIs(t, st.ToFailure(ctx, store, reg), ErrInvalidTransition)

		assert.Equal(t, before, st)
		assert.Equal(t, 0, reg.Len())
		assert.Equal(t, []Kind{KindNew}, store.kinds(st.TaskID))

		require.NoError(t, st.ToWaitingForURL(ctx, store, Audio))
		assert.ErrorIs(t, st.ToWaitingForURL(ctx, store, Video), ErrInvalidTransition)
		assert.Equal(t, Audio, st.MediaType)
	})

	t.Run("terminal states accept nothing", func(t *testing.T) {
		store := newMemStore()
		reg := NewRegistry()
		st := NewState(1)
		require.NoError(t, store.InsertState(ctx, st))
		require.NoError(t, st.ToWaitingForURL(ctx, store, Audio))
		require.NoError(t, st.ToRunning(ctx, store, reg, "https://example.com", NewHandle(ctx)))
		require.NoError(t, st.ToFailure(ctx, store, reg))

		assert.ErrorIs(t, st.ToSuccess(ctx, store, reg), ErrInvalidTransition)
		assert.ErrorIs(t, st.ToFailure(ctx, store, reg), ErrInvalidTransition)
		assert.True(t, st.Kind.Terminal())
	})

	t.Run("failed persistence changes nothing", func(t *testing.T) {
		store := newMemStore()
		reg := NewRegistry()
		st := NewState(1)
		require.NoError(t, store.InsertState(ctx, st))
		require.NoError(t, st.ToWaitingForURL(ctx, store, Audio))

		store.failNext = errBoom
		err := st.ToRunning(ctx, store, reg, "https://example.com", NewHandle(ctx))
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, KindWaitingForURL, st.Kind)
		assert.Empty(t, st.URL)
		assert.Equal(t, 0, reg.Len())
	})

	t.Run("recovered task fails without a registered handle", func(t *testing.T) {
		store := newMemStore()
		reg := NewRegistry()
		st := NewState(1)
		st.Kind = KindRunning
		st.MediaType = Audio
		st.URL = "https://example.com"
		require.NoError(t, store.InsertState(ctx, st))

		require.NoError(t, st.ToFailure(ctx, store, reg))
		assert.Equal(t, KindFailure, st.Kind)
	})
}

func TestStateValidate(t *testing.T) {
	st := NewState(1)
	assert.NoError(t, st.Validate())

	st.MediaType = Audio
	assert.Error(t, st.Validate())

	st.Kind = KindWaitingForURL
	assert.NoError(t, st.Validate())

	st.URL = "https://example.com"
	assert.Error(t, st.Validate())

	st.Kind = KindRunning
	assert.NoError(t, st.Validate())

	st.Kind = "paused"
	assert.Error(t, st.Validate())

	assert.Error(t, State{Kind: KindNew}.Validate())
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("waiting_for_url")
	require.NoError(t, err)
	assert.Equal(t, KindWaitingForURL, k)

	_, err = ParseKind("done")
	assert.Error(t, err)
}
