package stage

import "fmt"

// Kind discriminates the forms a Descriptor may take.
type Kind int

const (
	// KindNamed resolves through the Registry by a textual name — the
	// Go-native analogue of a dotted module path.
	KindNamed Kind = iota
	// KindExternal is a textual name with an explicit override file
	// recorded for diagnostics.
	KindExternal
	// KindFactory wraps a zero-argument constructor — the analogue of a
	// class-like definition.
	KindFactory
	// KindInstance wraps an already-constructed Stage value.
	KindInstance
	// KindSelf is the sentinel a stage passes to ExecuteContext.Path or
	// ExecuteContext.GetInfo to mean "this node", rather than a dependency:
	// an optional descriptor argument that defaults to the node's own.
	KindSelf
)

// Descriptor is the sum type referencing an unresolved stage. Construct one
// with Named, External, FromFactory, or FromInstance.
type Descriptor struct {
	kind     Kind
	name     string
	path     string
	factory  func() Stage
	instance Stage
}

// Named builds a descriptor resolved by registry lookup.
func Named(name string) Descriptor {
	return Descriptor{kind: KindNamed, name: name}
}

// External builds a descriptor resolved by registry lookup, with an
// explicit override path recorded for resolution-failure diagnostics.
func External(name, path string) Descriptor {
	return Descriptor{kind: KindExternal, name: name, path: path}
}

// FromFactory builds a descriptor around a zero-argument constructor.
func FromFactory(name string, factory func() Stage) Descriptor {
	return Descriptor{kind: KindFactory, name: name, factory: factory}
}

// FromInstance builds a descriptor around an already-constructed stage.
func FromInstance(s Stage) Descriptor {
	return Descriptor{kind: KindInstance, name: s.Name(), instance: s}
}

// Self returns the sentinel descriptor meaning "the currently executing
// node".
func Self() Descriptor {
	return Descriptor{kind: KindSelf}
}

// Kind reports the descriptor's form.
func (d Descriptor) Kind() Kind { return d.kind }

// Key is a stable structural identity for the descriptor, used for the
// exact-structural-equality dedup required when collecting upstream
// requests. Factory and Instance descriptors are keyed by name;
// two distinct closures/instances sharing a name are treated as referring
// to the same stage, matching the registry's name-is-identity convention.
func (d Descriptor) Key() string {
	switch d.kind {
	case KindExternal:
		return fmt.Sprintf("external:%s:%s", d.name, d.path)
	case KindSelf:
		return "self"
	default:
		return fmt.Sprintf("named:%s", d.name)
	}
}

// String renders the descriptor for log messages and error text.
func (d Descriptor) String() string {
	switch d.kind {
	case KindExternal:
		return fmt.Sprintf("%s(%s)", d.name, d.path)
	case KindSelf:
		return "self"
	default:
		return d.name
	}
}
