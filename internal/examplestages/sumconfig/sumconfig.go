// Package sumconfig implements a "sum-of-configs" demonstration stage: it
// reads two required configuration values, "a" and "b", and returns their
// sum. Requested with config={a:5,b:11}, the result is 16.
package sumconfig

import (
	"fmt"

	"github.com/pipelinerun/pipelinerun/internal/examplestages"
	"github.com/pipelinerun/pipelinerun/internal/pipeline/stage"
)

// Name is the registered stage name.
const Name = "examplestages.sum_config"

func init() {
	examplestages.Add(Name, func() stage.Stage { return &Stage{} })
}

// Stage sums two required configuration values, "a" and "b".
type Stage struct {
	a, b int64
}

func (s *Stage) Name() string    { return Name }
func (s *Stage) Version() string { return "1" }

func (s *Stage) Configure(ctx stage.ConfigureContext) error {
	a, err := ctx.Config("a")
	if err != nil {
		return err
	}
	b, err := ctx.Config("b")
	if err != nil {
		return err
	}
	s.a, err = toInt64(a)
	if err != nil {
		return fmt.Errorf("sumconfig: config %q: %w", "a", err)
	}
	s.b, err = toInt64(b)
	if err != nil {
		return fmt.Errorf("sumconfig: config %q: %w", "b", err)
	}
	return nil
}

func (s *Stage) Execute(ctx stage.ExecuteContext) (interface{}, error) {
	a, err := ctx.Config("a")
	if err != nil {
		return nil, err
	}
	b, err := ctx.Config("b")
	if err != nil {
		return nil, err
	}
	av, err := toInt64(a)
	if err != nil {
		return nil, err
	}
	bv, err := toInt64(b)
	if err != nil {
		return nil, err
	}
	return av + bv, nil
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
		return 0, fmt.Errorf("want a number, got %T", v)
	}
}
