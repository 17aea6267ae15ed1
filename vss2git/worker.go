/*
 * Background worker
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"context"
	"sync"
)

type workItem struct {
	legend string
	run    func(ctx context.Context) error
	done   chan error
}

// worker runs queued work one item at a time on its own goroutine.
// The item in flight can be aborted; items behind it still run.
type worker struct {
	queue   chan *workItem
	wg      sync.WaitGroup
	mu      sync.Mutex
	current context.CancelFunc
}

func newWorker() *worker {
	w := &worker{queue: make(chan *workItem, 16)}
	w.wg.Add(1)
	go w.loop()
	return w
}

func (w *worker) loop() {
	defer w.wg.Done()
	for item := range w.queue {
		ctx, cancel := context.WithCancel(context.Background())
		w.mu.Lock()
		w.current = cancel
		w.mu.Unlock()
		control.setRunCancel(cancel)
		if logEnable(logBATON) {
			logit("worker starting %s", item.legend)
		}
		err := item.run(ctx)
		control.setRunCancel(nil)
		w.mu.Lock()
		w.current = nil
		w.mu.Unlock()
		cancel()
		item.done <- err
		close(item.done)
	}
}

// add queues run and returns a channel that delivers its result.
func (w *worker) add(legend string, run func(ctx context.Context) error) <-chan error {
	item := &workItem{legend: legend, run: run, done: make(chan error, 1)}
	w.queue <- item
	return item.done
}

// abort cancels the item in flight, if any. It notices at its next
// cancellation checkpoint.
func (w *worker) abort() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current != nil {
		w.current()
	}
}

// wait lets queued work drain, then stops the worker.
func (w *worker) wait() {
	close(w.queue)
	w.wg.Wait()
}
