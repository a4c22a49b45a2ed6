// Package tokenfile implements an external-file validation-token
// demonstration stage: its Validate capability returns the contents of a
// configured file, so after the file changes the stage and all its
// descendants are marked stale on the next run; its artifact mirrors the
// file contents.
package tokenfile

import (
	"os"

	"github.com/pipelinerun/pipelinerun/internal/examplestages"
	"github.com/pipelinerun/pipelinerun/internal/pipeline/stage"
)

// Name is the registered stage name.
const Name = "examplestages.token_file"

func init() {
	examplestages.Add(Name, func() stage.Stage { return &Stage{} })
}

// Stage reads a configured file path and returns its contents as the
// artifact; Validate returns the same contents as the validation token, so
// any edit to the file invalidates this node and every descendant.
type Stage struct {
	path string
}

func (s *Stage) Name() string    { return Name }
func (s *Stage) Version() string { return "1" }

func (s *Stage) Configure(ctx stage.ConfigureContext) error {
	v, err := ctx.Config("path")
	if err != nil {
		return err
	}
	path, _ := v.(string)
	s.path = path
	return nil
}

func (s *Stage) Validate(ctx stage.ValidateContext) (interface{}, error) {
	v, err := ctx.Config("path")
	if err != nil {
		return nil, err
	}
	path, _ := v.(string)
	return readFile(path)
}

func (s *Stage) Execute(ctx stage.ExecuteContext) (interface{}, error) {
	v, err := ctx.Config("path")
	if err != nil {
		return nil, err
	}
	path, _ := v.(string)
	return readFile(path)
}

func readFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
