package scheduler

import (
	"context"
	"sync"
)

// Registry addresses actors by bot id, creating them on first use.
type Registry struct {
	deps *Deps
	root context.Context

	mu     sync.Mutex
	actors map[string]*Actor
}

// NewRegistry builds a registry whose background ticks run under root.
func NewRegistry(root context.Context, deps Deps) *Registry {
	deps.setDefaults()
	return &Registry{
		deps:   &deps,
		root:   root,
		actors: make(map[string]*Actor),
	}
}

func (r *Registry) Actor(botID string) *Actor {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.actors[botID]
	if !ok {
		a = newActor(r.root, botID, r.deps)
		r.actors[botID] = a
	}
	return a
}

// Restore re-creates in-process timers for every alarm persisted by an
// earlier process and returns how many were armed.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	states, err := r.deps.Alarms.ListArmed(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, st := range states {
		if st.AlarmAt == nil {
			continue
		}
		r.Actor(st.BotID).restore(*st.AlarmAt)
		n++
	}
	r.deps.Log.WithField("alarms", n).Info("restored actor alarms")
	return n, nil
}

// Shutdown stops every in-process timer and waits for running ticks.
// Persisted alarms are kept for the next Restore.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	actors := make([]*Actor, 0, len(r.actors))
	for _, a := range r.actors {
		actors = append(actors, a)
	}
	r.mu.Unlock()

	for _, a := range actors {
		a.shutdown()
	}
	for _, a := range actors {
		a.Wait()
	}
}
