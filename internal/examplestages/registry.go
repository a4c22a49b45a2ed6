// Package examplestages is the built-in stage catalog shipped with the
// binary: an out-of-core collaborator the engine consumes only through the
// stage.Stage interface. Each concrete stage lives in its own subpackage
// and registers itself here via Add, using a blank-import-triggers-init()
// plugin registration convention generalized from "dotfile-management
// plugin" to "pipeline stage".
package examplestages

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pipelinerun/pipelinerun/internal/pipeline/stage"
)

var (
	mu       sync.Mutex
	builtins = map[string]func() stage.Stage{}
)

// Add registers a named factory into the built-in catalog. Subpackages call
// this from their own init(), so importing a subpackage for its side effect
// (as cmd/pipelinerun does, blank-importing every subpackage) is sufficient
// to make its stage available by name.
func Add(name string, factory func() stage.Stage) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := builtins[name]; exists {
		panic(fmt.Sprintf("examplestages: %q already registered", name))
	}
	builtins[name] = factory
}

// Names returns every registered built-in stage name, sorted, for CLI help
// output and tests.
func Names() []string {
	mu.Lock()
	defer mu.Unlock()
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterAll installs every built-in stage factory into reg, the step
// cmd/pipelinerun performs once at startup before resolving the run
// specification's requested targets.
func RegisterAll(reg *stage.Registry) error {
	mu.Lock()
	defer mu.Unlock()
	for name, factory := range builtins {
		if err := reg.Register(name, factory); err != nil {
			return err
		}
	}
	return nil
}
