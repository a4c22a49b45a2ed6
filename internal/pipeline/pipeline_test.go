package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pipelinerun/pipelinerun/internal/collab/progress"
	"github.com/pipelinerun/pipelinerun/internal/collab/workerpool"
	"github.com/pipelinerun/pipelinerun/internal/examplestages/recursive"
	"github.com/pipelinerun/pipelinerun/internal/examplestages/sumconfig"
	"github.com/pipelinerun/pipelinerun/internal/examplestages/tokenfile"
	"github.com/pipelinerun/pipelinerun/internal/pipeline/configstore"
	"github.com/pipelinerun/pipelinerun/internal/pipeline/configure"
	"github.com/pipelinerun/pipelinerun/internal/pipeline/stage"
)

func baseOptions(workDir string) Options {
	return Options{
		WorkingDir: workDir,
		WorkerPool: workerpool.MockFactory{},
		Progress:   progress.MockFactory{},
	}
}

func newSumConfigRegistry(t *testing.T) *stage.Registry {
	t.Helper()
	reg := stage.NewRegistry()
	require.NoError(t, reg.Register(sumconfig.Name, func() stage.Stage { return &sumconfig.Stage{} }))
	return reg
}

// TestSumOfConfigsScenario is spec.md section 8's "Sum-of-configs" scenario:
// sum_config(a,b)=a+b requested with config={a:5,b:11} returns 16.
func TestSumOfConfigsScenario(t *testing.T) {
	t.Parallel()

	reg := newSumConfigRegistry(t)
	targets := []configure.TargetRequest{{Descriptor: stage.Named(sumconfig.Name)}}
	baseConfig := configstore.Tree{"a": int64(5), "b": int64(11)}

	result, _, err := Run(context.Background(), reg, targets, baseConfig, baseOptions(""))
	require.NoError(t, err)
	require.Equal(t, []interface{}{int64(16)}, result.Artifacts)
}

// TestRecursiveScenario is spec.md section 8's "Recursive" scenario: a stage
// depending on itself with a decremented "a", requested with a=5, returns 15
// and the registry contains exactly 6 distinct nodes.
func TestRecursiveScenario(t *testing.T) {
	t.Parallel()

	reg := stage.NewRegistry()
	require.NoError(t, reg.Register(recursive.Name, func() stage.Stage { return &recursive.Stage{} }))

	targets := []configure.TargetRequest{{Descriptor: stage.Named(recursive.Name)}}
	baseConfig := configstore.Tree{"a": int64(5)}

	result, sealed, err := Run(context.Background(), reg, targets, baseConfig, baseOptions(""))
	require.NoError(t, err)
	require.Equal(t, []interface{}{int64(15)}, result.Artifacts)
	require.Len(t, sealed.Nodes, 6)
}

// TestTokenBasedExternalInvalidation is spec.md section 8's "Token-based
// external invalidation" scenario: a stage whose Validate returns the
// contents of a file; after the file changes, the stage (and its
// descendants) are marked stale on the next run and its artifact mirrors
// the new file contents.
func TestTokenBasedExternalInvalidation(t *testing.T) {
	t.Parallel()

	workDir := t.TempDir()
	watchedFile := filepath.Join(t.TempDir(), "watched.txt")
	require.NoError(t, os.WriteFile(watchedFile, []byte("v1"), 0o644))

	reg := stage.NewRegistry()
	require.NoError(t, reg.Register(tokenfile.Name, func() stage.Stage { return &tokenfile.Stage{} }))

	targets := []configure.TargetRequest{{Descriptor: stage.Named(tokenfile.Name)}}
	baseConfig := configstore.Tree{"path": watchedFile}

	result1, _, err := Run(context.Background(), reg, targets, baseConfig, baseOptions(workDir))
	require.NoError(t, err)
	require.Equal(t, []interface{}{"v1"}, result1.Artifacts)

	require.NoError(t, os.WriteFile(watchedFile, []byte("v2"), 0o644))

	result2, _, err := Run(context.Background(), reg, targets, baseConfig, baseOptions(workDir))
	require.NoError(t, err)
	require.Equal(t, []interface{}{"v2"}, result2.Artifacts, "validation token mismatch must force re-execution and mirror the new file contents")
}

func TestTokenBasedInvalidationSkipsRerunWhenFileUnchanged(t *testing.T) {
	t.Parallel()

	workDir := t.TempDir()
	watchedFile := filepath.Join(t.TempDir(), "watched.txt")
	require.NoError(t, os.WriteFile(watchedFile, []byte("stable"), 0o644))

	reg := stage.NewRegistry()
	require.NoError(t, reg.Register(tokenfile.Name, func() stage.Stage { return &tokenfile.Stage{} }))

	targets := []configure.TargetRequest{{Descriptor: stage.Named(tokenfile.Name)}}
	baseConfig := configstore.Tree{"path": watchedFile}

	result1, resolved1, err := Run(context.Background(), reg, targets, baseConfig, baseOptions(workDir))
	require.NoError(t, err)
	require.Equal(t, []interface{}{"stable"}, result1.Artifacts)

	artifacts, err := filepath.Glob(filepath.Join(workDir, "*.p"))
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	before, err := os.Stat(artifacts[0])
	require.NoError(t, err)

	result2, _, err := Run(context.Background(), reg, targets, baseConfig, baseOptions(workDir))
	require.NoError(t, err)
	require.Equal(t, []interface{}{"stable"}, result2.Artifacts)
	after, err := os.Stat(artifacts[0])
	require.NoError(t, err)
	require.True(t, before.ModTime().Equal(after.ModTime()), "an unchanged token must not re-execute the stage")
	_ = resolved1
}

// chainA/chainC/chainD model a simple A<-C<-D dependency chain (D depends
// on C, C on A) used to exercise downstream staleness propagation and
// ephemeral reclamation end to end.

type chainA struct{}

func (s *chainA) Name() string    { return "chain.a" }
func (s *chainA) Version() string { return "1" }
func (s *chainA) Execute(ctx stage.ExecuteContext) (interface{}, error) { return "a-artifact", nil }

type chainCEphemeral struct{}

func (s *chainCEphemeral) Name() string    { return "chain.c" }
func (s *chainCEphemeral) Version() string { return "1" }
func (s *chainCEphemeral) Configure(ctx stage.ConfigureContext) error {
	return ctx.Stage(stage.Named("chain.a"), stage.WithEphemeral())
}
func (s *chainCEphemeral) Execute(ctx stage.ExecuteContext) (interface{}, error) {
	v, err := ctx.Stage(stage.Named("chain.a"))
	if err != nil {
		return nil, err
	}
	return v.(string) + "+c", nil
}

type chainD struct{}

func (s *chainD) Name() string    { return "chain.d" }
func (s *chainD) Version() string { return "1" }
func (s *chainD) Configure(ctx stage.ConfigureContext) error {
	return ctx.Stage(stage.Named("chain.c"))
}
func (s *chainD) Execute(ctx stage.ExecuteContext) (interface{}, error) {
	v, err := ctx.Stage(stage.Named("chain.c"))
	if err != nil {
		return nil, err
	}
	return v.(string) + "+d", nil
}

func newChainRegistry(t *testing.T) *stage.Registry {
	t.Helper()
	reg := stage.NewRegistry()
	require.NoError(t, reg.Register("chain.a", func() stage.Stage { return &chainA{} }))
	require.NoError(t, reg.Register("chain.c", func() stage.Stage { return &chainCEphemeral{} }))
	require.NoError(t, reg.Register("chain.d", func() stage.Stage { return &chainD{} }))
	return reg
}

// TestEphemeralReclamationScenario is spec.md section 8's "Ephemeral
// reclamation" scenario, simplified to A<-C<-D with C requesting A as
// ephemeral: requesting D leaves no cached artifact for A after the run
// (only C and D keep theirs), and a second run produces the same, correct
// result.
func TestEphemeralReclamationScenario(t *testing.T) {
	workDir := t.TempDir()
	targets := []configure.TargetRequest{{Descriptor: stage.Named("chain.d")}}

	result1, _, err := Run(context.Background(), newChainRegistry(t), targets, configstore.Tree{}, baseOptions(workDir))
	require.NoError(t, err)
	require.Equal(t, []interface{}{"a-artifact+c+d"}, result1.Artifacts)

	artifacts, err := filepath.Glob(filepath.Join(workDir, "*.p"))
	require.NoError(t, err)
	require.Len(t, artifacts, 2, "the ephemeral chain.a artifact must be reclaimed at run end; only chain.c and chain.d keep theirs")

	result2, _, err := Run(context.Background(), newChainRegistry(t), targets, configstore.Tree{}, baseOptions(workDir))
	require.NoError(t, err)
	require.Equal(t, []interface{}{"a-artifact+c+d"}, result2.Artifacts, "a second run must reproduce the same result even though the ephemeral stage re-executes")
}

// TestNoWorkingDirectoryExecutesEveryAncestor checks that with no working
// directory every ancestor of the requested target is stale, so the whole
// non-ephemeral chain executes in memory and produces the requested result.
func TestNoWorkingDirectoryExecutesEveryAncestor(t *testing.T) {
	t.Parallel()

	reg := stage.NewRegistry()
	require.NoError(t, reg.Register("chain.a", func() stage.Stage { return &chainA{} }))
	require.NoError(t, reg.Register("chain.c", func() stage.Stage { return &chainCNonEphemeral{} }))
	require.NoError(t, reg.Register("chain.d", func() stage.Stage { return &chainD{} }))

	targets := []configure.TargetRequest{{Descriptor: stage.Named("chain.d")}}

	// No working directory: caching is disabled, so every ancestor of the
	// requested target is stale on every run (spec.md section 4.5 step 2).
	result, _, err := Run(context.Background(), reg, targets, configstore.Tree{}, baseOptions(""))
	require.NoError(t, err)
	require.Equal(t, []interface{}{"a-artifact+c+d"}, result.Artifacts)
}

type chainCNonEphemeral struct{}

func (s *chainCNonEphemeral) Name() string    { return "chain.c" }
func (s *chainCNonEphemeral) Version() string { return "1" }
func (s *chainCNonEphemeral) Configure(ctx stage.ConfigureContext) error {
	return ctx.Stage(stage.Named("chain.a"))
}
func (s *chainCNonEphemeral) Execute(ctx stage.ExecuteContext) (interface{}, error) {
	v, err := ctx.Stage(stage.Named("chain.a"))
	if err != nil {
		return nil, err
	}
	return v.(string) + "+c", nil
}

// TestRerunRequestedTargetsOverCachedTargetReturnsResult verifies that a
// second run with RerunRequestedTargets set, over a target the first run
// already cached, still returns the correct result.
func TestRerunRequestedTargetsOverCachedTargetReturnsResult(t *testing.T) {
	t.Parallel()

	workDir := t.TempDir()
	reg := newSumConfigRegistry(t)
	targets := []configure.TargetRequest{{Descriptor: stage.Named(sumconfig.Name)}}
	baseConfig := configstore.Tree{"a": int64(1), "b": int64(2)}

	_, _, err := Run(context.Background(), reg, targets, baseConfig, baseOptions(workDir))
	require.NoError(t, err)

	opts := baseOptions(workDir)
	opts.RerunRequestedTargets = true
	result, _, err := Run(context.Background(), newSumConfigRegistry(t), targets, baseConfig, opts)
	require.NoError(t, err)
	require.Equal(t, []interface{}{int64(3)}, result.Artifacts)
}
