package supervisor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTask struct {
	startErr error
	runBlock chan struct{}

	mu      sync.Mutex
	stopped bool
}

func (f *fakeTask) Run(ctx context.Context, ready chan<- error) error {
	ready <- f.startErr
	if f.startErr != nil {
		return f.startErr
	}
	select {
	case <-f.runBlock:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeTask) Stop(ctx context.Context) error {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	close(f.runBlock)
	return nil
}

func TestAddAndGet(t *testing.T) {
	s := New(nil, nil)
	task := &fakeTask{runBlock: make(chan struct{})}

	ready, err := s.Add("bot_1", task)
	require.NoError(t, err)
	require.NoError(t, <-ready)

	got, ok := s.Get("bot_1")
	require.True(t, ok)
	assert.Same(t, task, got)
	assert.Equal(t, []string{"bot_1"}, s.ListAll())

	require.NoError(t, s.Remove(context.Background(), "bot_1", time.Second))
	_, ok = s.Get("bot_1")
	assert.False(t, ok)
}

func TestAddTwiceIsNoOp(t *testing.T) {
	s := New(nil, nil)
	task1 := &fakeTask{runBlock: make(chan struct{})}
	task2 := &fakeTask{runBlock: make(chan struct{})}

	_, err := s.Add("bot_1", task1)
	require.NoError(t, err)
	_, err = s.Add("bot_1", task2)
	require.ErrorIs(t, err, ErrAlreadyPresent)

	got, _ := s.Get("bot_1")
	assert.Same(t, task1, got)
	close(task1.runBlock)
}

func TestOnExitCalledOnFailure(t *testing.T) {
	var gotID string
	var gotErr error
	done := make(chan struct{})

	s := New(nil, func(botID string, err error) {
		gotID, gotErr = botID, err
		close(done)
	})

	task := &fakeTask{startErr: fmt.Errorf("boom")}
	ready, err := s.Add("bot_1", task)
	require.NoError(t, err)
	require.Error(t, <-ready)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("onExit was not called")
	}
	assert.Equal(t, "bot_1", gotID)
	assert.Error(t, gotErr)

	_, ok := s.Get("bot_1")
	assert.False(t, ok, "failed worker must be removed from the registry")
}

func TestRemoveNotPresent(t *testing.T) {
	s := New(nil, nil)
	err := s.Remove(context.Background(), "ghost", time.Second)
	assert.ErrorIs(t, err, ErrNotPresent)
}
