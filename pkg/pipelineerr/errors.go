// Package pipelineerr defines the error taxonomy for the pipeline engine.
//
// Each kind is a concrete struct implementing error and Unwrap, following
// the same one-struct-per-concern shape the rest of the codebase uses for
// its own error types.
package pipelineerr

import "fmt"

// ResolutionError covers stage descriptor resolution failures: unknown
// descriptor, callable missing stage metadata, missing external override file.
type ResolutionError struct {
	Descriptor string
	Err        error
}

func NewResolutionError(descriptor string, err error) error {
	return &ResolutionError{Descriptor: descriptor, Err: err}
}

func (e *ResolutionError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("resolution error: %s: %v", e.Descriptor, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ConfigError covers configuration access failures: missing option with no
// default, conflicting defaults, option requested in a context that should
// have declared it.
type ConfigError struct {
	Stage  string
	Option string
	Err    error
}

func NewConfigError(stage, option string, err error) error {
	return &ConfigError{Stage: stage, Option: option, Err: err}
}

func (e *ConfigError) Error() string {
	if e == nil {
		return ""
	}
	if e.Stage != "" {
		return fmt.Sprintf("config error: stage %s option %s: %v", e.Stage, e.Option, e.Err)
	}
	return fmt.Sprintf("config error: option %s: %v", e.Option, e.Err)
}

func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// StructuralError covers graph-shape violations: cycles, alias used with
// additional local configuration, undeclared stage access from the execute
// context, conflicting configuration back-propagation.
type StructuralError struct {
	Detail string
	Err    error
}

func NewStructuralError(detail string, err error) error {
	return &StructuralError{Detail: detail, Err: err}
}

func (e *StructuralError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("structural error: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("structural error: %s", e.Detail)
}

func (e *StructuralError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// CacheError covers on-disk cache problems: missing working directory when
// caching is requested, missing flowchart target directory.
type CacheError struct {
	Path string
	Err  error
}

func NewCacheError(path string, err error) error {
	return &CacheError{Path: path, Err: err}
}

func (e *CacheError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("cache error: %s: %v", e.Path, e.Err)
}

func (e *CacheError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// StageError wraps a panic or error raised from within a stage's Execute,
// carrying the node hash that was executing so the failure can be traced
// back to a specific parameterized node.
type StageError struct {
	NodeHash string
	Stage    string
	Err      error
}

func NewStageError(nodeHash, stage string, err error) error {
	return &StageError{NodeHash: nodeHash, Stage: stage, Err: err}
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("stage error [%s %s]: %v", e.Stage, e.NodeHash, e.Err)
}

func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
