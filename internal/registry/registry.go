// Package registry tracks in flight requests so they can be canceled
// out of band. One entry per active request id, removed unconditionally
// when the request finishes.
package registry

import "sync"

// CancelSignal is a one shot flag owned by a single registry entry.
// Set at most once by Registry.Cancel, observed by the dispatcher.
type CancelSignal struct {
	once sync.Once
	done chan struct{}
}

func newCancelSignal() *CancelSignal {
	return &CancelSignal{done: make(chan struct{})}
}

// Done returns a channel closed when the signal fires. Safe to select on.
func (s *CancelSignal) Done() <-chan struct{} {
	return s.done
}

// Fired reports whether the signal has been set.
func (s *CancelSignal) Fired() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *CancelSignal) set() {
	s.once.Do(func() { close(s.done) })
}

// Registry maps request ids to cancel signals. All methods are safe for
// concurrent use; Begin/End are issued by the owning request, Cancel by
// any other goroutine.
type Registry struct {
	mu     sync.Mutex
	active map[string]*CancelSignal
}

func New() *Registry {
	return &Registry{active: make(map[string]*CancelSignal)}
}

// Begin registers id and returns its fresh, unset signal. A reused id
// silently replaces the previous entry; callers are expected to hand out
// unique ids per request.
func (r *Registry) Begin(id string) *CancelSignal {
	sig := newCancelSignal()
	r.mu.Lock()
	r.active[id] = sig
	r.mu.Unlock()
	return sig
}

// Cancel fires the signal for id if a request is in flight. Canceling an
// unknown or already finished request is a no-op and returns false.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	sig, ok := r.active[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	sig.set()
	return true
}

// End removes the entry for id. Safe to call when id is absent; must run
// on every exit path of the owning request.
func (r *Registry) End(id string) {
	r.mu.Lock()
	delete(r.active, id)
	r.mu.Unlock()
}

// Len reports the number of in flight requests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// ActiveIDs returns a snapshot of the in flight request ids.
func (r *Registry) ActiveIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	return ids
}
