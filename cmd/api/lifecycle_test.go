package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCloser struct {
	name  string
	mu    *sync.Mutex
	order *[]string
	err   error
}

func (c recordingCloser) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	*c.order = append(*c.order, c.name)
	return c.err
}

func TestLifecycle_ClosesAfterGoroutinesReturn(t *testing.T) {
	life := newLifecycle(context.Background(), nil)

	var mu sync.Mutex
	var order []string
	life.OnStop(recordingCloser{name: "store", mu: &mu, order: &order})
	life.OnStop(recordingCloser{name: "queue", mu: &mu, order: &order})
	life.OnStop(nil)

	started := make(chan struct{})
	life.Go(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		// Work still in flight after cancellation.
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		order = append(order, "worker")
		mu.Unlock()
	})
	<-started

	life.Stop()

	assert.Equal(t, []string{"worker", "queue", "store"}, order)
	require.Error(t, life.Context().Err())
}

func TestLifecycle_ParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	life := newLifecycle(parent, nil)

	done := make(chan struct{})
	life.Go(func(ctx context.Context) {
		<-ctx.Done()
		close(done)
	})
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not see parent cancellation")
	}
	life.Stop()
}

func TestLifecycle_CloseErrorsDoNotStopOthers(t *testing.T) {
	life := newLifecycle(context.Background(), nil)

	var mu sync.Mutex
	var order []string
	life.OnStop(recordingCloser{name: "store", mu: &mu, order: &order})
	life.OnStop(recordingCloser{name: "queue", mu: &mu, order: &order, err: assert.AnError})

	life.Stop()
	assert.Equal(t, []string{"queue", "store"}, order)

	// A second Stop has nothing left to close.
	life.Stop()
	assert.Len(t, order, 2)
}
