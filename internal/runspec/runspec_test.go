package runspec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeSpec(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadParsesBareStageNames(t *testing.T) {
	t.Parallel()

	path := writeSpec(t, `
run:
  - stage.one
  - stage.two
`)

	spec, err := Load(path)
	require.NoError(t, err)
	require.Len(t, spec.Run, 2)
	require.Equal(t, "stage.one", spec.Run[0].Name)
	require.Nil(t, spec.Run[0].Config)
	require.Equal(t, "stage.two", spec.Run[1].Name)
}

func TestLoadParsesStageWithLocalConfig(t *testing.T) {
	t.Parallel()

	path := writeSpec(t, `
run:
  - stage.one:
      a: 5
      b: 11
`)

	spec, err := Load(path)
	require.NoError(t, err)
	require.Len(t, spec.Run, 1)
	require.Equal(t, "stage.one", spec.Run[0].Name)
	require.Equal(t, 5, spec.Run[0].Config["a"])
	require.Equal(t, 11, spec.Run[0].Config["b"])
}

func TestLoadMixesBareAndConfiguredEntries(t *testing.T) {
	t.Parallel()

	path := writeSpec(t, `
run:
  - stage.one
  - stage.two:
      x: true
`)

	spec, err := Load(path)
	require.NoError(t, err)
	require.Len(t, spec.Run, 2)
	require.Nil(t, spec.Run[0].Config)
	require.Equal(t, true, spec.Run[1].Config["x"])
}

func TestLoadDefaultsWorkingDirectoryAndConfig(t *testing.T) {
	t.Parallel()

	path := writeSpec(t, `
run:
  - stage.one
`)

	spec, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ".pipelinerun-cache", spec.WorkingDirectory)
	require.NotNil(t, spec.Config)
}

func TestLoadPreservesExplicitWorkingDirectory(t *testing.T) {
	t.Parallel()

	path := writeSpec(t, `
run:
  - stage.one
working_directory: /tmp/custom
`)

	spec, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/custom", spec.WorkingDirectory)
}

func TestLoadRejectsEmptyRunList(t *testing.T) {
	t.Parallel()

	path := writeSpec(t, `
run: []
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestLoadRejectsMultiKeyRunEntry(t *testing.T) {
	t.Parallel()

	path := writeSpec(t, `
run:
  - stage.one:
      a: 1
    stage.two:
      b: 2
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsInvalidAliasKey(t *testing.T) {
	t.Parallel()

	path := writeSpec(t, `
run:
  - stage.one
aliases:
  "not a valid name!": stage.one
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadAcceptsValidAliases(t *testing.T) {
	t.Parallel()

	path := writeSpec(t, `
run:
  - stage.one
aliases:
  short_name: stage.one.long_form
`)

	spec, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "stage.one.long_form", spec.Aliases["short_name"])
}

func TestLoadParsesRunLevelSwitches(t *testing.T) {
	t.Parallel()

	path := writeSpec(t, `
run:
  - stage.one
dryrun: true
flowchart_path: out.dot
externals:
  db: "postgres://example"
`)

	spec, err := Load(path)
	require.NoError(t, err)
	require.True(t, spec.Dryrun)
	require.Equal(t, "out.dot", spec.FlowchartPath)
	require.Equal(t, "postgres://example", spec.Externals["db"])
}
