package store

import (
	"context"
	"log/slog"
	"sync"
)

const feedBufferSize = 64

// feed fans out row changes to in-process subscribers.
type feed[T any] struct {
	name string
	log  *slog.Logger

	mu   sync.RWMutex
	next int
	subs map[int]*subscription[T]
}

type subscription[T any] struct {
	match func(T) bool
	ch    chan T
}

func newFeed[T any](name string) *feed[T] {
	return &feed[T]{
		name: name,
		log:  slog.Default(),
		subs: make(map[int]*subscription[T]),
	}
}

// subscribe registers a subscriber that receives values accepted by match.
// The channel is closed when ctx is done.
func (f *feed[T]) subscribe(ctx context.Context, match func(T) bool) <-chan T {
	sub := &subscription[T]{match: match, ch: make(chan T, feedBufferSize)}

	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = sub
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		if _, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(sub.ch)
		}
		f.mu.Unlock()
	}()

	return sub.ch
}

func (f *feed[T]) publish(v T) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, sub := range f.subs {
		if !sub.match(v) {
			continue
		}
		select {
		case sub.ch <- v:
		default:
			f.log.Warn("feed subscriber full, dropping change", "feed", f.name)
		}
	}
}

// closeAll closes every subscriber channel.
func (f *feed[T]) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, sub := range f.subs {
		close(sub.ch)
		delete(f.subs, id)
	}
}
