// Package stage defines the stage contract stages implement, and the
// descriptor sum type used to reference them — the Go-native analogue of
// named/external/factory/instance descriptor forms, resolved once at the
// registry boundary.
package stage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pipelinerun/pipelinerun/internal/collab/progress"
	"github.com/pipelinerun/pipelinerun/internal/collab/workerpool"
	"github.com/pipelinerun/pipelinerun/internal/pipeline/configstore"
)

// ConfigureContext is the recording context passed to a stage's Configure
// method during the configure pass.
type ConfigureContext interface {
	// Config returns the resolved value for key, recording it as required.
	// A missing key with no default is a ConfigError. Calling Config twice
	// for the same key with conflicting defaults is a ConfigError.
	Config(key string, def ...interface{}) (interface{}, error)

	// Stage records an upstream request, appended in declaration order and
	// deduplicated by exact structural equality of (descriptor, localConfig).
	Stage(descriptor Descriptor, opts ...StageOption) error

	// IsConfigRequested reports whether descriptor has already been
	// requested by this node, without adding a new request.
	IsConfigRequested(descriptor Descriptor) bool
}

// StageOption configures a single upstream Stage() call.
type StageOption func(*StageOptions)

// StageOptions is the resolved form of a Stage() call's options, exported
// so callers outside this package (the configure driver) can read back what
// a stage requested.
type StageOptions struct {
	LocalConfig configstore.Tree
	Alias       string
	Ephemeral   bool
}

// WithLocalConfig attaches a local configuration override to the request.
func WithLocalConfig(cfg configstore.Tree) StageOption {
	return func(o *StageOptions) { o.LocalConfig = cfg }
}

// WithAlias binds the request to a local alias name.
func WithAlias(alias string) StageOption {
	return func(o *StageOptions) { o.Alias = alias }
}

// WithEphemeral marks the upstream request as ephemeral if this is the
// declaring occurrence: an ephemeral flag is retained on a node only if no
// occurrence of that hash declared itself non-ephemeral.
func WithEphemeral() StageOption {
	return func(o *StageOptions) { o.Ephemeral = true }
}

// ResolveStageOptions applies opts in order and returns the result.
func ResolveStageOptions(opts []StageOption) StageOptions {
	var o StageOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// UpstreamKey computes the exact-structural-equality key used to dedup
// upstream requests: (descriptor, local config). The configure driver
// records it on every declared edge (graph.UpstreamEdge.RequestKey) so the
// execute context can recompute it from a stage(descriptor, local_config)
// call and find the matching, already-resolved dependency. Each stage call
// is checked against the node's declared dependencies.
func UpstreamKey(d Descriptor, local configstore.Tree) string {
	encoded, err := json.Marshal(configstore.Flatten(local))
	if err != nil {
		// Flatten only ever produces json.Marshal-safe scalars/maps/slices; a
		// marshal failure here means a stage smuggled an unsupported leaf
		// type into its local config, which is a bug in the stage, not
		// something the caller can recover from here.
		panic(fmt.Sprintf("stage: encode local config for upstream key: %v", err))
	}
	return d.Key() + "|" + string(encoded)
}

// ValidateContext is the read-only context passed to Validate during
// invalidation.
type ValidateContext interface {
	Config(key string) (interface{}, error)
	CacheDir() string
}

// ExecuteContext is the context passed to Execute during orchestration.
type ExecuteContext interface {
	Config(key string) (interface{}, error)
	Stage(descriptor Descriptor, opts ...StageOption) (interface{}, error)
	Path(descriptor Descriptor, opts ...StageOption) (string, error)
	SetInfo(name string, value interface{})
	GetInfo(descriptor Descriptor, name string, opts ...StageOption) (interface{}, error)
	Context() context.Context

	// Parallel acquires a worker-pool collaborator scoped to this call,
	// sized to size (0 selects the collaborator's default). It is
	// constructed on entry and torn down when the returned Pool is closed.
	Parallel(size int, bundle interface{}) (workerpool.Pool, error)

	// Progress acquires a progress-reporter collaborator scoped to this
	// call, labeled and sized to total expected units of work.
	Progress(label string, total int) progress.Reporter
}

// Configurer is implemented by stages that declare configuration and
// dependencies.
type Configurer interface {
	Configure(ctx ConfigureContext) error
}

// Validator is implemented by stages that compute an external validation
// token used to force invalidation.
type Validator interface {
	Validate(ctx ValidateContext) (interface{}, error)
}

// Executor is implemented by every stage; it is the only mandatory
// capability. A handle with no execute capability is a hard error.
type Executor interface {
	Execute(ctx ExecuteContext) (interface{}, error)
}

// Stage is the full interface a concrete stage implementation may satisfy.
// Only Name, Version, and Executor are mandatory; Configurer and Validator
// are optional capabilities detected via type assertion.
type Stage interface {
	Executor
	Name() string
	Version() string
}
