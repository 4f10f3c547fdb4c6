// Package workload maps workload names to the functions a child process runs.
package workload

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
)

// IO is the terminal the workload talks to.
type IO struct {
	In  io.Reader
	Out io.Writer
}

// Func runs one workload. The returned value is written as the session
// output when err is nil.
type Func func(ctx context.Context, input json.RawMessage, term IO) (any, error)

// Workload is a registered entry. Fallback, when set, produces the output
// written after Run fails.
type Workload struct {
	Name     string
	Run      Func
	Fallback func(err error) any
}

// Registry is safe for concurrent use.
type Registry struct {
	mu sync.RWMutex
	m  map[string]Workload
}

func NewRegistry() *Registry { return &Registry{m: make(map[string]Workload)} }

// Register adds w. Names are unique.
func (r *Registry) Register(w Workload) error {
	if w.Name == "" || w.Run == nil {
		return fmt.Errorf("workload requires a name and a run func")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[w.Name]; ok {
		return fmt.Errorf("workload %q already registered", w.Name)
	}
	r.m[w.Name] = w
	return nil
}

func (r *Registry) MustRegister(w Workload) {
	if err := r.Register(w); err != nil {
		panic(err)
	}
}

func (r *Registry) Lookup(name string) (Workload, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.m[name]
	return w, ok
}

// Names returns registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.m))
	for n := range r.m {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Echo returns its input unchanged. It is useful to check the spawn path end
// to end without a human at the terminal.
func Echo() Workload {
	return Workload{
		Name: "echo",
		Run: func(_ context.Context, input json.RawMessage, _ IO) (any, error) {
			if len(input) == 0 {
				return json.RawMessage("null"), nil
			}
			return input, nil
		},
	}
}
