package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/VadimVDM/VisAPI-sub006/retry"
)

// HandlerFunc is a type-erased job handler working on raw JSON. The typed
// Definition is converted to a HandlerFunc at registration time.
type HandlerFunc func(ctx context.Context, payload []byte) ([]byte, error)

type entry struct {
	handler HandlerFunc
	opts    Options
}

// Registry maps job types to type-erased handlers and their default
// options. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[Type]entry
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Type]entry)}
}

// RegisterDefinition registers a typed job definition. The payload is
// decoded into T before the handler runs; a payload that does not decode
// is reported as a permanent failure since no retry can fix it.
func RegisterDefinition[T Payload, R any](r *Registry, def *Definition[T, R]) {
	handler := func(ctx context.Context, payload []byte) ([]byte, error) {
		var t T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &t); err != nil {
				return nil, retry.Permanent(fmt.Errorf("decode payload for job %q: %w", def.Type, err))
			}
		}
		res, err := def.Handler(ctx, t)
		if err != nil {
			return nil, err
		}
		out, err := json.Marshal(res)
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("encode result for job %q: %w", def.Type, err))
		}
		return out, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[def.Type] = entry{handler: handler, opts: def.Opts}
}

// Get returns the handler for the given job type.
func (r *Registry) Get(t Type) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[t]
	return e.handler, ok
}

// Options returns the default options registered for t.
func (r *Registry) Options(t Type) (Options, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[t]
	return e.opts, ok
}

// Types returns all registered job types.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]Type, 0, len(r.entries))
	for t := range r.entries {
		types = append(types, t)
	}
	return types
}
