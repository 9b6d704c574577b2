package main

import (
	"context"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// lifecycle owns the background goroutines of the process and the resources
// they use. Stop cancels the goroutines, waits for all of them to return and
// only then closes the resources, newest first.
type lifecycle struct {
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	closers []io.Closer
	logger  *zerolog.Logger
}

func newLifecycle(parent context.Context, logger *zerolog.Logger) *lifecycle {
	ctx, cancel := context.WithCancel(parent)
	return &lifecycle{ctx: ctx, cancel: cancel, logger: logger}
}

// Context is cancelled by Stop or when the parent is done.
func (l *lifecycle) Context() context.Context {
	return l.ctx
}

// Go runs fn in a tracked goroutine.
func (l *lifecycle) Go(fn func(ctx context.Context)) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		fn(l.ctx)
	}()
}

// OnStop registers c to be closed after every goroutine has returned.
func (l *lifecycle) OnStop(c io.Closer) {
	if c == nil {
		return
	}
	l.mu.Lock()
	l.closers = append(l.closers, c)
	l.mu.Unlock()
}

func (l *lifecycle) Stop() {
	l.cancel()
	l.wg.Wait()

	l.mu.Lock()
	closers := l.closers
	l.closers = nil
	l.mu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil && l.logger != nil {
			l.logger.Warn().Err(err).Msg("close on shutdown")
		}
	}
}
