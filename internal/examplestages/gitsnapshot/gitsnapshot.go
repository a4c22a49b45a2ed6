// Package gitsnapshot implements a stage that clones (or reuses) a git
// repository into its scratch directory and content-hashes its HEAD commit
// — a natural domain home for "fetch an external source and cache its
// digest". It generalizes a clone/update-a-repository-on-disk plugin into
// a pipeline stage whose artifact IS the repository's current commit hash,
// reusable by downstream stages without re-cloning.
package gitsnapshot

import (
	"fmt"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/pipelinerun/pipelinerun/internal/examplestages"
	"github.com/pipelinerun/pipelinerun/internal/pipeline/stage"
)

// Name is the registered stage name.
const Name = "examplestages.git_snapshot"

func init() {
	examplestages.Add(Name, func() stage.Stage { return &Stage{} })
}

// Stage clones config key "url" (optionally at "ref") into its scratch
// directory and returns the resulting HEAD commit hash as its artifact.
type Stage struct {
	url string
	ref string
}

func (s *Stage) Name() string    { return Name }
func (s *Stage) Version() string { return "1" }

func (s *Stage) Configure(ctx stage.ConfigureContext) error {
	v, err := ctx.Config("url")
	if err != nil {
		return err
	}
	s.url, _ = v.(string)

	ref, err := ctx.Config("ref", "")
	if err != nil {
		return err
	}
	s.ref, _ = ref.(string)
	return nil
}

func (s *Stage) Execute(ctx stage.ExecuteContext) (interface{}, error) {
	urlVal, err := ctx.Config("url")
	if err != nil {
		return nil, err
	}
	url, _ := urlVal.(string)

	refVal, err := ctx.Config("ref")
	if err != nil {
		return nil, err
	}
	ref, _ := refVal.(string)

	dir, err := ctx.Path(stage.Self())
	if err != nil {
		return nil, fmt.Errorf("gitsnapshot: scratch dir: %w", err)
	}

	opts := &git.CloneOptions{URL: url}
	if ref != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(ref)
		opts.SingleBranch = true
	}

	repo, err := git.PlainOpen(dir)
	if err != nil {
		repo, err = git.PlainClone(dir, false, opts)
		if err != nil {
			return nil, fmt.Errorf("gitsnapshot: clone %s: %w", url, err)
		}
	} else if err := repo.FetchContext(ctx.Context(), &git.FetchOptions{}); err != nil && err != git.NoErrAlreadyUpToDate {
		return nil, fmt.Errorf("gitsnapshot: fetch %s: %w", url, err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("gitsnapshot: resolve HEAD: %w", err)
	}

	return head.Hash().String(), nil
}
