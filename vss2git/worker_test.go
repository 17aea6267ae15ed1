package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWorkerRunsInOrder(t *testing.T) {
	w := newWorker()
	var order []int
	var results []<-chan error
	for i := 1; i <= 3; i++ {
		n := i
		results = append(results, w.add("job", func(ctx context.Context) error {
			order = append(order, n)
			if n == 2 {
				return errors.New("second failed")
			}
			return nil
		}))
	}
	assert.NoError(t, <-results[0])
	assert.EqualError(t, <-results[1], "second failed")
	assert.NoError(t, <-results[2])
	w.wait()
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestWorkerAbortCancelsCurrentItem(t *testing.T) {
	w := newWorker()
	started := make(chan struct{})
	done := w.add("long export", func(ctx context.Context) error {
		close(started)
		select {
		case <-ctx.Done():
			return errAborted
		case <-time.After(10 * time.Second):
			return nil
		}
	})
	<-started
	w.abort()
	assert.Equal(t, errAborted, <-done)

	// Later work is unaffected.
	next := w.add("next", func(ctx context.Context) error { return ctx.Err() })
	assert.NoError(t, <-next)
	w.wait()
}

func TestInterruptCancelsRunningExport(t *testing.T) {
	w := newWorker()
	started := make(chan struct{})
	done := w.add("export", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return errAborted
	})
	<-started
	control.setAbort(true)
	defer control.setAbort(false)
	assert.Equal(t, errAborted, <-done)
	w.wait()
}
