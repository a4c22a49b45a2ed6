// Package runspec parses and validates the run-specification document: the
// YAML file naming which stages to run, the base configuration tree they
// inherit, and the run-level switches (working directory, flowchart export
// path, dryrun, externals, aliases).
//
// This is a deliberate external collaborator — the core packages under
// internal/pipeline never import this package; cmd/pipelinerun is the only
// caller, translating a RunSpec into the configure.TargetRequest slice and
// configstore.Tree the core consumes.
package runspec

import (
	"fmt"
	"os"
	"regexp"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/pipelinerun/pipelinerun/internal/pipeline/configstore"
)

// DefaultFilename is the conventional run-specification filename used when
// the CLI is invoked with no explicit path.
const DefaultFilename = "pipeline.yaml"

// stageNamePattern matches the dotted, slash-free identifiers stage names
// use in this module.
var stageNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+(\.[A-Za-z0-9_]+)*$`)

// RunEntry is one element of the run specification's `run` list: either a
// bare stage name, or a single-key mapping from stage name to a local
// configuration tree.
type RunEntry struct {
	Name   string
	Config configstore.Tree
}

// UnmarshalYAML decodes a RunEntry from either a scalar string
// ("some.stage") or a single-key mapping
// ("{some.other_stage: {a: 5, b: 11}}").
func (e *RunEntry) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var name string
		if err := value.Decode(&name); err != nil {
			return err
		}
		e.Name = name
		return nil
	case yaml.MappingNode:
		var m map[string]configstore.Tree
		if err := value.Decode(&m); err != nil {
			return err
		}
		if len(m) != 1 {
			return fmt.Errorf("runspec: run entry must have exactly one key, got %d", len(m))
		}
		for name, cfg := range m {
			e.Name = name
			e.Config = cfg
		}
		return nil
	default:
		return fmt.Errorf("runspec: run entry must be a string or single-key mapping")
	}
}

// RunSpec is the typed form of the run-specification document.
type RunSpec struct {
	Run              []RunEntry        `yaml:"run" validate:"required,min=1,dive"`
	Config           configstore.Tree  `yaml:"config"`
	WorkingDirectory string            `yaml:"working_directory"`
	FlowchartPath    string            `yaml:"flowchart_path"`
	Dryrun           bool              `yaml:"dryrun"`
	Externals        map[string]string `yaml:"externals"`
	Aliases          map[string]string `yaml:"aliases" validate:"omitempty,dive,keys,stagename,endkeys"`
}

// Load reads path, parses it as YAML, and validates its structural shape.
// Validating the values a stage reads stays that stage's own
// Configure/Config concern.
func Load(path string) (*RunSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("runspec: read %s: %w", path, err)
	}

	var spec RunSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("runspec: parse %s: %w", path, err)
	}

	if spec.Config == nil {
		spec.Config = configstore.Tree{}
	}
	if spec.WorkingDirectory == "" {
		spec.WorkingDirectory = ".pipelinerun-cache"
	}

	if err := validatorInstance().Struct(&spec); err != nil {
		return nil, fmt.Errorf("runspec: validate %s: %w", path, err)
	}

	for _, entry := range spec.Run {
		if !stageNamePattern.MatchString(entry.Name) {
			return nil, fmt.Errorf("runspec: invalid stage name %q in run list", entry.Name)
		}
	}

	return &spec, nil
}

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate
)

// validatorInstance lazily builds the shared validator, registering a
// "stagename" rule — one custom rule per concern, shared across the
// process.
func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()
		_ = v.RegisterValidation("stagename", func(fl validator.FieldLevel) bool {
			return stageNamePattern.MatchString(fl.Field().String())
		})
		validateInst = v
	})
	return validateInst
}
