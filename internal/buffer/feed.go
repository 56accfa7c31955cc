package buffer

import (
	"context"
	"sync"
)

// changeHub fans mutation signals out to in-process subscribers.
type changeHub struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func newChangeHub() *changeHub {
	return &changeHub{subs: map[string]map[chan struct{}]struct{}{}}
}

func (h *changeHub) listen(user string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	h.mu.Lock()
	if h.subs[user] == nil {
		h.subs[user] = map[chan struct{}]struct{}{}
	}
	h.subs[user][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[user], ch)
			if len(h.subs[user]) == 0 {
				delete(h.subs, user)
			}
		})
	}
}

func (h *changeHub) notify(user string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[user] {
		signal(ch)
	}
}

func (h *changeHub) notifyAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, subs := range h.subs {
		for ch := range subs {
			signal(ch)
		}
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// watch delivers a snapshot immediately and again after each signal. An
// undelivered snapshot is replaced by the newer one, so a slow reader only
// ever sees the latest buffer.
func watch(ctx context.Context, signals <-chan struct{}, stop func(), load func(context.Context) ([]Entry, error)) <-chan Snapshot {
	out := make(chan Snapshot, 1)
	go func() {
		defer close(out)
		defer stop()
		for {
			entries, err := load(ctx)
			if ctx.Err() != nil {
				return
			}
			select {
			case <-out:
			default:
			}
			select {
			case out <- Snapshot{Entries: entries, Err: err}:
			case <-ctx.Done():
				return
			}
			select {
			case <-ctx.Done():
				return
			case _, ok := <-signals:
				if !ok {
					return
				}
			}
		}
	}()
	return out
}
