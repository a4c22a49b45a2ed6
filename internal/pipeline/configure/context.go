package configure

import (
	"fmt"
	"reflect"

	"github.com/pipelinerun/pipelinerun/internal/pipeline/configstore"
	"github.com/pipelinerun/pipelinerun/internal/pipeline/stage"
	"github.com/pipelinerun/pipelinerun/pkg/pipelineerr"
)

func errConflictingDefaults(key string) error {
	return fmt.Errorf("got multiple conflicting default values for config option %q", key)
}

func errMissingOption(key string) error {
	return fmt.Errorf("config option %q is not available", key)
}

// recordedUpstream is a single upstream request recorded by a recordingContext
// during a stage's Configure call, in declaration order.
type recordedUpstream struct {
	key         string
	descriptor  stage.Descriptor
	localConfig configstore.Tree
	ephemeral   bool
}

// recordingContext implements stage.ConfigureContext, collecting everything
// a Configure call must record: required configuration keys and their
// resolved values, upstream requests (ordered, deduplicated by exact
// structural equality), and alias bindings.
type recordingContext struct {
	stageName     string
	base          configstore.Tree
	required      map[string]interface{}
	requiredOrder []string
	upstreams     []recordedUpstream
	aliases       map[string]int
}

func newRecordingContext(stageName string, base configstore.Tree) *recordingContext {
	return &recordingContext{
		stageName: stageName,
		base:      base,
		required:  make(map[string]interface{}),
		aliases:   make(map[string]int),
	}
}

func (c *recordingContext) Config(key string, def ...interface{}) (interface{}, error) {
	if c.base.Has(key) {
		v, _ := c.base.Get(key)
		c.record(key, v)
		return v, nil
	}

	if len(def) > 0 {
		defaultValue := def[0]
		if existing, ok := c.required[key]; ok && !reflect.DeepEqual(existing, defaultValue) {
			return nil, pipelineerr.NewConfigError(c.stageName, key,
				errConflictingDefaults(key))
		}
		c.record(key, defaultValue)
	}

	if v, ok := c.required[key]; ok {
		return v, nil
	}
	return nil, pipelineerr.NewConfigError(c.stageName, key, errMissingOption(key))
}

func (c *recordingContext) record(key string, value interface{}) {
	if _, exists := c.required[key]; !exists {
		c.requiredOrder = append(c.requiredOrder, key)
	}
	c.required[key] = value
}

func (c *recordingContext) Stage(descriptor stage.Descriptor, opts ...stage.StageOption) error {
	resolved := stage.ResolveStageOptions(opts)

	key := stage.UpstreamKey(descriptor, resolved.LocalConfig)

	for _, existing := range c.upstreams {
		if existing.key == key {
			// Already declared: the alias is recorded only on the first
			// occurrence.
			return nil
		}
	}

	c.upstreams = append(c.upstreams, recordedUpstream{
		key:         key,
		descriptor:  descriptor,
		localConfig: resolved.LocalConfig,
		ephemeral:   resolved.Ephemeral,
	})

	if resolved.Alias != "" {
		c.aliases[resolved.Alias] = len(c.upstreams) - 1
	}

	return nil
}

func (c *recordingContext) IsConfigRequested(descriptor stage.Descriptor) bool {
	for _, existing := range c.upstreams {
		if existing.descriptor.Key() == descriptor.Key() {
			return true
		}
	}
	return false
}
