package stream

import "sync"

// Runner is the stoppable surface a registry tracks.
type Runner interface {
	Stop()
}

// Registry enforces at most one live subscription per key. Keys combine the
// stream class and its subject, e.g. "messages/<conversation-id>".
type Registry struct {
	mu     sync.Mutex
	active map[string]Runner
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]Runner)}
}

// Swap installs a runner for key, stopping any previous holder first.
func (r *Registry) Swap(key string, runner Runner) {
	r.mu.Lock()
	prev := r.active[key]
	r.active[key] = runner
	r.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}
}

// Stop stops and removes the runner for key, if any.
func (r *Registry) Stop(key string) {
	r.mu.Lock()
	runner := r.active[key]
	delete(r.active, key)
	r.mu.Unlock()

	if runner != nil {
		runner.Stop()
	}
}

// StopAll stops every tracked runner. Used on session teardown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	runners := make([]Runner, 0, len(r.active))
	for _, runner := range r.active {
		runners = append(runners, runner)
	}
	r.active = make(map[string]Runner)
	r.mu.Unlock()

	for _, runner := range runners {
		runner.Stop()
	}
}
