package vault

import (
	"context"
	"sync"
)

// registry tracks the live actor per account id. Spawning happens under the
// lock so two concurrent requests for the same unloaded account always meet
// the same instance.
type registry struct {
	mu     sync.Mutex
	actors map[int64]*actor
	spawn  func(id int64) *actor
	closed bool
}

func newRegistry(spawn func(id int64) *actor) *registry {
	return &registry{
		actors: make(map[int64]*actor),
		spawn:  spawn,
	}
}

// acquire returns the live actor for the id, starting one if none is
// registered. The caller still has to handle a rejected delivery: the actor
// may decide to stop between lookup and send.
func (r *registry) acquire(id int64) (*actor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrShutdown
	}
	if a, ok := r.actors[id]; ok {
		return a, nil
	}
	a := r.spawn(id)
	r.actors[id] = a
	go a.run()
	return a, nil
}

// evict removes exactly the given instance. A successor already registered
// under the same id stays untouched, so a slow shutdown can never unregister
// its replacement.
func (r *registry) evict(a *actor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.actors[a.id]; ok && cur == a {
		delete(r.actors, a.id)
	}
}

// active reports how many account actors are currently registered.
func (r *registry) active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actors)
}

// close stops every registered actor and waits for each to finish its
// shutdown drain. New acquires fail with ErrShutdown from the moment the
// flag is set, which also fails the credit leg of transfers still in
// flight; their callers see the error, the debit stays recorded.
func (r *registry) close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	actors := make([]*actor, 0, len(r.actors))
	for _, a := range r.actors {
		actors = append(actors, a)
	}
	r.actors = make(map[int64]*actor)
	r.mu.Unlock()

	for _, a := range actors {
		a.stop()
	}
	for _, a := range actors {
		select {
		case <-a.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
