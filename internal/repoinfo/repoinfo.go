// Package repoinfo resolves lightweight git facts about a served tree so
// cache metadata can record which revision a snapshot was built from.
package repoinfo

import (
	"errors"

	git "github.com/go-git/go-git/v6"
)

// Head returns the commit hash and short branch name of the repository at
// root. A root that is not a git work tree, or a repository without any
// commit yet, yields empty strings and no error: git presence is optional
// metadata, never a build requirement.
func Head(root string) (commit, branch string, err error) {
	repo, err := git.PlainOpen(root)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return "", "", nil
		}
		return "", "", err
	}

	ref, err := repo.Head()
	if err != nil {
		// Unborn HEAD (fresh init, no commits) is not an error here.
		return "", "", nil
	}

	commit = ref.Hash().String()
	if ref.Name().IsBranch() {
		branch = ref.Name().Short()
	}
	return commit, branch, nil
}
