package decoder

import (
	"slices"
	"sync"

	"github.com/jmylchreest/vidarr/internal/render"
)

// FailureRegistry records backend types that can never initialize on this
// machine and hardware implementations that cannot decode a format. Entries
// are never removed. One registry is scoped to a session and shared by every
// search it runs.
type FailureRegistry struct {
	mu       sync.Mutex
	backends map[render.Type]struct{}
	impls    map[string]struct{}
}

// NewFailureRegistry creates an empty registry.
func NewFailureRegistry() *FailureRegistry {
	return &FailureRegistry{
		backends: make(map[render.Type]struct{}),
		impls:    make(map[string]struct{}),
	}
}

// MarkBackend records that backend type t has no software support.
func (r *FailureRegistry) MarkBackend(t render.Type) {
	if t == render.TypeUnknown {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[t] = struct{}{}
}

// BackendFailed reports whether t was marked.
func (r *FailureRegistry) BackendFailed(t render.Type) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.backends[t]
	return ok
}

// FailedBackends returns the marked backend types in ascending order.
func (r *FailureRegistry) FailedBackends() []render.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]render.Type, 0, len(r.backends))
	for t := range r.backends {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// implKey scopes implementation failures to a format, since a GPU lacking
// one profile may still decode another.
func implKey(name string, format string) string { return name + "/" + format }

// MarkImplementation records that the hardware cannot decode format with
// implementation name.
func (r *FailureRegistry) MarkImplementation(name, format string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.impls[implKey(name, format)] = struct{}{}
}

// ImplementationFailed reports whether name was marked for format.
func (r *FailureRegistry) ImplementationFailed(name, format string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.impls[implKey(name, format)]
	return ok
}
