package stage

import (
	"crypto/md5"
	"fmt"
	"sort"
	"sync"

	"github.com/pipelinerun/pipelinerun/pkg/pipelineerr"
)

// Registry maps stage names to factories, the Go-native substitute for
// dynamic dotted-path module loading: register-once, lookup-by-name,
// duplicate registration is an error. Factories are zero-argument
// constructors rather than long-lived plugin instances, since a single
// stage name may be parameterized into many distinct nodes.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]func() Stage
	aliases   map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]func() Stage),
		aliases:   make(map[string]string),
	}
}

// Register adds a named factory. Registering the same name twice is fatal
// at registration time.
func (r *Registry) Register(name string, factory func() Stage) error {
	if factory == nil {
		return fmt.Errorf("stage registry: nil factory for %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("stage registry: %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// SetAliases installs the run-specification's alias substitution map: if
// the descriptor is a textual key in the alias map, substitute.
func (r *Registry) SetAliases(aliases map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases = make(map[string]string, len(aliases))
	for k, v := range aliases {
		r.aliases[k] = v
	}
}

// Resolve dispatches a Descriptor to a Handle, following the kind-specific
// resolution order.
func (r *Registry) Resolve(d Descriptor) (Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch d.kind {
	case KindInstance:
		return newHandle(d.instance)
	case KindFactory:
		inst := d.factory()
		if inst == nil {
			return Handle{}, pipelineerr.NewResolutionError(d.name, fmt.Errorf("factory returned nil stage"))
		}
		return newHandle(inst)
	case KindNamed, KindExternal:
		name := d.name
		if substituted, ok := r.aliases[name]; ok {
			name = substituted
		}
		factory, ok := r.factories[name]
		if !ok {
			if d.kind == KindExternal {
				return Handle{}, pipelineerr.NewResolutionError(d.name,
					fmt.Errorf("no stage registered for external override %q (file %s)", name, d.path))
			}
			return Handle{}, pipelineerr.NewResolutionError(d.name, fmt.Errorf("unknown stage %q", name))
		}
		inst := factory()
		if inst == nil {
			return Handle{}, pipelineerr.NewResolutionError(name, fmt.Errorf("factory returned nil stage"))
		}
		return newHandle(inst)
	default:
		return Handle{}, pipelineerr.NewResolutionError(d.name, fmt.Errorf("unrecognized descriptor kind"))
	}
}

// Handle is the resolver's uniform view of a stage.
type Handle struct {
	Name         string
	SourceDigest [16]byte
	instance     Stage
}

func newHandle(s Stage) (Handle, error) {
	name := s.Name()
	if name == "" {
		return Handle{}, pipelineerr.NewResolutionError("", fmt.Errorf("stage returned empty name"))
	}
	digest := md5.Sum([]byte(name + "@" + s.Version()))
	return Handle{Name: name, SourceDigest: digest, instance: s}, nil
}

// Configure invokes the stage's Configure capability if present.
func (h Handle) Configure(ctx ConfigureContext) error {
	if c, ok := h.instance.(Configurer); ok {
		return c.Configure(ctx)
	}
	return nil
}

// Validate invokes the stage's Validate capability if present, returning
// nil (no token) when absent.
func (h Handle) Validate(ctx ValidateContext) (interface{}, error) {
	if v, ok := h.instance.(Validator); ok {
		return v.Validate(ctx)
	}
	return nil, nil
}

// Execute invokes the mandatory Execute capability.
func (h Handle) Execute(ctx ExecuteContext) (interface{}, error) {
	return h.instance.Execute(ctx)
}

// SourceDigestHex renders the source digest as a sortable hex string, used
// to build the ancestor-hash-sorted source digest closure.
func (h Handle) SourceDigestHex() string {
	return fmt.Sprintf("%x", h.SourceDigest)
}

// SortHexDigests returns digests sorted lexicographically, the ordering
// required for the source-digest closure.
func SortHexDigests(digests []string) []string {
	out := append([]string(nil), digests...)
	sort.Strings(out)
	return out
}
