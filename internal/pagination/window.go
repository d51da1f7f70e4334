// Package pagination derives the visible tail of a thread and reveals older
// history a page at a time.
package pagination

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultPageSize  = 20
	DefaultLoadDelay = 300 * time.Millisecond
)

// Option configures a Window.
type Option func(*Window)

// WithLoadDelay sets the simulated load latency. Zero reveals immediately.
func WithLoadDelay(d time.Duration) Option {
	return func(w *Window) { w.delay = d }
}

// Window tracks how many of the most recent messages are visible. The count
// only grows, except through Reset or when the thread itself shrinks.
type Window struct {
	delay time.Duration

	mu       sync.Mutex
	pageSize int
	total    int
	visible  int
	loading  bool
	// gen advances on Reset and Initial so a load started before either
	// lands nowhere.
	gen uint64
}

// New creates a window with the given page size.
func New(pageSize int, opts ...Option) *Window {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	w := &Window{pageSize: pageSize, delay: DefaultLoadDelay}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Initial sets the page size and shows the first page of a thread.
func (w *Window) Initial(total, pageSize int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if pageSize > 0 {
		w.pageSize = pageSize
	}
	w.total = max(total, 0)
	w.visible = min(w.total, w.pageSize)
	w.loading = false
	w.gen++
}

// SetTotal follows the thread's length. Growth keeps the current window plus
// any new messages at the tail visible; a short thread is always fully shown.
func (w *Window) SetTotal(total int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	total = max(total, 0)
	if total > w.total {
		w.visible += total - w.total
	}
	w.total = total
	w.visible = max(w.visible, min(total, w.pageSize))
	w.visible = min(w.visible, total)
}

// LoadMore reveals one more page of older messages and returns how many were
// revealed. It is a no-op while a load is in flight or when nothing remains.
// A load overtaken by Reset or Initial reveals nothing.
func (w *Window) LoadMore(ctx context.Context) (int, error) {
	w.mu.Lock()
	if w.loading || w.visible >= w.total {
		w.mu.Unlock()
		return 0, nil
	}
	w.loading = true
	gen := w.gen
	delay := w.delay
	w.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			w.mu.Lock()
			if w.gen == gen {
				w.loading = false
			}
			w.mu.Unlock()
			return 0, ctx.Err()
		case <-t.C:
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.gen != gen {
		return 0, nil
	}
	w.loading = false
	before := w.visible
	w.visible = min(w.visible+w.pageSize, w.total)
	return w.visible - before, nil
}

// Reset returns to the first page, e.g. when switching conversations.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.visible = min(w.total, w.pageSize)
	w.loading = false
	w.gen++
}

// VisibleCount returns the number of visible messages.
func (w *Window) VisibleCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.visible
}

// Total returns the thread length the window tracks.
func (w *Window) Total() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.total
}

// PageSize returns the page size.
func (w *Window) PageSize() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pageSize
}

// HasMore reports whether older messages are hidden.
func (w *Window) HasMore() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.visible < w.total
}

// Loading reports whether a LoadMore is in flight.
func (w *Window) Loading() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loading
}

// Project returns the visible tail of items, oldest first.
func Project[T any](w *Window, items []T) []T {
	n := min(w.VisibleCount(), len(items))
	return items[len(items)-n:]
}
