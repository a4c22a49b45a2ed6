// Package recursive implements a self-recursive demonstration stage: for
// a>0 it depends on itself with a:=a-1 and returns recursive(a-1)+a.
// Requested with a=5 it returns 15, and the registry ends up with exactly 6
// distinct nodes, one per value of a in {0,...,5}.
package recursive

import (
	"github.com/pipelinerun/pipelinerun/internal/examplestages"
	"github.com/pipelinerun/pipelinerun/internal/pipeline/configstore"
	"github.com/pipelinerun/pipelinerun/internal/pipeline/stage"
)

// Name is the registered stage name.
const Name = "examplestages.recursive"

// childAlias is the local alias this stage binds its recursive upstream
// request to.
const childAlias = "ralias"

func init() {
	examplestages.Add(Name, func() stage.Stage { return &Stage{} })
}

// Stage requests itself with a decremented "a" while a > 0, summing its own
// "a" onto whatever the recursive call below it returns.
type Stage struct {
	a        int64
	hasChild bool
}

func (s *Stage) Name() string    { return Name }
func (s *Stage) Version() string { return "1" }

func (s *Stage) Configure(ctx stage.ConfigureContext) error {
	v, err := ctx.Config("a")
	if err != nil {
		return err
	}
	a, err := toInt64(v)
	if err != nil {
		return err
	}
	s.a = a

	if a > 0 {
		s.hasChild = true
		return ctx.Stage(Self(),
			stage.WithLocalConfig(configstore.Tree{"a": a - 1}),
			stage.WithAlias(childAlias))
	}
	return nil
}

func (s *Stage) Execute(ctx stage.ExecuteContext) (interface{}, error) {
	v, err := ctx.Config("a")
	if err != nil {
		return nil, err
	}
	a, err := toInt64(v)
	if err != nil {
		return nil, err
	}
	if a <= 0 {
		return int64(0), nil
	}

	child, err := ctx.Stage(Self(), stage.WithAlias(childAlias))
	if err != nil {
		return nil, err
	}
	childVal, err := toInt64(child)
	if err != nil {
		return nil, err
	}
	return childVal + a, nil
}

// Self returns a descriptor referring to this same stage by name, used for
// the node's self-referential upstream request.
func Self() stage.Descriptor {
	return stage.Named(Name)
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, nil
	}
}
