package gitsnapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

func pathExists(p string) bool {
	if p == "" {
		return false
	}
	_, err := os.Stat(p)
	return err == nil
}

// GitCLI is the read/write seam onto the `git` binary. Mutating
// operations (stage, commit, merge, update-ref) are delegated to the
// CLI: it respects sparse-checkout, refuses to clobber uncommitted
// tracked files without --force, and interoperates cleanly with
// worktrees across platforms. Read operations may use a lower-level
// library, but this module uses the CLI for both to keep a single code
// path, documented as a minor simplification in DESIGN.md.
type GitCLI interface {
	// Head returns the OID the repo's HEAD currently points at.
	Head(ctx context.Context, repoDir string) (string, error)
	// Dirty reports whether the worktree has uncommitted changes.
	Dirty(ctx context.Context, repoDir string) (bool, error)
	// StageAllAndCommit stages every change and commits with message.
	StageAllAndCommit(ctx context.Context, repoDir, message string) (string, error)
	// RebaseInProgress reports whether repoDir has an unfinished rebase.
	RebaseInProgress(ctx context.Context, repoDir string) (bool, error)
	// AheadBehind reports how many commits `task` is ahead of / behind `base`.
	AheadBehind(ctx context.Context, repoDir, base, task string) (ahead, behind int, err error)
	// SquashMerge performs `git merge --squash` of taskBranch into the
	// currently checked-out branch at repoDir and commits with message,
	// returning the new commit OID.
	SquashMerge(ctx context.Context, repoDir, taskBranch, message string) (string, error)
	// MergeTreeSquash squash-merges taskBranch into baseBranch entirely
	// against the object database — no worktree or index is touched — for
	// use when no worktree has baseBranch checked out. Returns the new
	// commit's OID, or the conflicted paths if the merge could not
	// complete cleanly.
	MergeTreeSquash(ctx context.Context, repoDir, baseBranch, taskBranch, message string) (commitOID string, conflicted []string, err error)
	// UpdateRef force-updates ref to point at commit.
	UpdateRef(ctx context.Context, repoDir, ref, commit string) error
	// ConflictedFiles lists paths currently in conflict (unmerged) in repoDir.
	ConflictedFiles(ctx context.Context, repoDir string) ([]string, error)
	// Diff returns the unified diff between two refs.
	Diff(ctx context.Context, repoDir, from, to string) (string, error)
	// IsCheckedOutElsewhere reports whether branch is checked out in some
	// other worktree of the repo at repoDir (vs. a bare/in-memory state).
	IsCheckedOutElsewhere(ctx context.Context, repoDir, branch string) (bool, error)
}

// CommandGitCLI shells out to the `git` binary via exec.CommandContext,
// with cmd.Dir set to the target worktree.
type CommandGitCLI struct{}

func (CommandGitCLI) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), stderr.String())
	}
	return stdout.String(), nil
}

func (c CommandGitCLI) Head(ctx context.Context, repoDir string) (string, error) {
	out, err := c.run(ctx, repoDir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (c CommandGitCLI) Dirty(ctx context.Context, repoDir string) (bool, error) {
	out, err := c.run(ctx, repoDir, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

func (c CommandGitCLI) StageAllAndCommit(ctx context.Context, repoDir, message string) (string, error) {
	if _, err := c.run(ctx, repoDir, "add", "-A"); err != nil {
		return "", err
	}
	if _, err := c.run(ctx, repoDir, "commit", "-m", message); err != nil {
		return "", err
	}
	return c.Head(ctx, repoDir)
}

func (c CommandGitCLI) RebaseInProgress(ctx context.Context, repoDir string) (bool, error) {
	for _, dir := range []string{"rebase-merge", "rebase-apply"} {
		out, err := c.run(ctx, repoDir, "rev-parse", "--git-path", dir)
		if err != nil {
			return false, err
		}
		if pathExists(strings.TrimSpace(out)) {
			return true, nil
		}
	}
	return false, nil
}

func (c CommandGitCLI) AheadBehind(ctx context.Context, repoDir, base, task string) (int, int, error) {
	out, err := c.run(ctx, repoDir, "rev-list", "--left-right", "--count", base+"..."+task)
	if err != nil {
		return 0, 0, err
	}
	fields := strings.Fields(out)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("unexpected rev-list output: %q", out)
	}
	var behind, ahead int
	if _, err := fmt.Sscanf(fields[0], "%d", &behind); err != nil {
		return 0, 0, err
	}
	if _, err := fmt.Sscanf(fields[1], "%d", &ahead); err != nil {
		return 0, 0, err
	}
	return ahead, behind, nil
}

func (c CommandGitCLI) SquashMerge(ctx context.Context, repoDir, taskBranch, message string) (string, error) {
	if _, err := c.run(ctx, repoDir, "merge", "--squash", taskBranch); err != nil {
		return "", err
	}
	if _, err := c.run(ctx, repoDir, "commit", "-m", message); err != nil {
		return "", err
	}
	return c.Head(ctx, repoDir)
}

func (c CommandGitCLI) MergeTreeSquash(ctx context.Context, repoDir, baseBranch, taskBranch, message string) (string, []string, error) {
	base, err := c.run(ctx, repoDir, "rev-parse", baseBranch)
	if err != nil {
		return "", nil, err
	}
	base = strings.TrimSpace(base)

	cmd := exec.CommandContext(ctx, "git", "merge-tree", "--write-tree", "--name-only", "--no-messages", base, taskBranch)
	cmd.Dir = repoDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()
	out := strings.TrimSpace(stdout.String())

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) && exitErr.ExitCode() == 1 {
			lines := strings.Split(out, "\n")
			if len(lines) > 1 {
				return "", lines[1:], nil
			}
			return "", nil, fmt.Errorf("git merge-tree: conflicts reported with no file list")
		}
		return "", nil, fmt.Errorf("git merge-tree: %s", stderr.String())
	}

	tree := strings.SplitN(out, "\n", 2)[0]
	commit, err := c.run(ctx, repoDir, "commit-tree", tree, "-p", base, "-m", message)
	if err != nil {
		return "", nil, err
	}
	return strings.TrimSpace(commit), nil, nil
}

func (c CommandGitCLI) UpdateRef(ctx context.Context, repoDir, ref, commit string) error {
	_, err := c.run(ctx, repoDir, "update-ref", ref, commit)
	return err
}

func (c CommandGitCLI) ConflictedFiles(ctx context.Context, repoDir string) ([]string, error) {
	out, err := c.run(ctx, repoDir, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return nil, nil
	}
	return strings.Split(trimmed, "\n"), nil
}

func (c CommandGitCLI) Diff(ctx context.Context, repoDir, from, to string) (string, error) {
	return c.run(ctx, repoDir, "diff", from+".."+to)
}

func (c CommandGitCLI) IsCheckedOutElsewhere(ctx context.Context, repoDir, branch string) (bool, error) {
	out, err := c.run(ctx, repoDir, "worktree", "list", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.Contains(out, "branch refs/heads/"+branch), nil
}
