// Package notify tells the presentation layer that rendered paths are stale.
// Revalidation is fire-and-forget: implementations log delivery problems and
// never report them to the caller.
package notify

import (
	"context"
	"sync"
)

// Revalidator marks cached renderings of a path stale.
type Revalidator interface {
	Revalidate(ctx context.Context, path string)
}

// Multi fans a revalidation out to every member in order.
type Multi []Revalidator

func (m Multi) Revalidate(ctx context.Context, path string) {
	for _, r := range m {
		if r != nil {
			r.Revalidate(ctx, path)
		}
	}
}

// Registry tracks a generation counter per path. Renderers compare the
// generation they rendered at with Generation to decide whether to rebuild.
type Registry struct {
	mu   sync.Mutex
	gens map[string]uint64
	subs map[chan string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		gens: make(map[string]uint64),
		subs: make(map[chan string]struct{}),
	}
}

func (r *Registry) Revalidate(_ context.Context, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gens[path]++
	for ch := range r.subs {
		select {
		case ch <- path:
		default:
			// slow subscriber; it will see the bumped generation on its next read
		}
	}
}

// Generation returns how many times path has been revalidated.
func (r *Registry) Generation(path string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gens[path]
}

// Subscribe delivers revalidated paths until ctx is done.
func (r *Registry) Subscribe(ctx context.Context, buffer int) <-chan string {
	ch := make(chan string, buffer)
	r.mu.Lock()
	r.subs[ch] = struct{}{}
	r.mu.Unlock()
	go func() {
		<-ctx.Done()
		r.mu.Lock()
		delete(r.subs, ch)
		close(ch)
		r.mu.Unlock()
	}()
	return ch
}
