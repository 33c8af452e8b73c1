// Package hooks deploys hook assets and the workspace-level CLAUDE.md /
// AGENTS.md import files into a freshly created workspace, idempotently:
// applying the deployment twice yields the same filesystem state.
package hooks

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// Asset is one file in the canonical .claude/ hook tree, keyed by its
// path relative to .claude/.
type Asset struct {
	Path    string
	Content []byte
}

// Deployer writes a fixed set of hook Assets into workspace and repo
// directories.
type Deployer struct {
	fs     afero.Fs
	assets []Asset
}

func New(fs afero.Fs, assets []Asset) *Deployer {
	return &Deployer{fs: fs, assets: assets}
}

// RepoDir names one repo checked out inside a workspace, by id and its
// on-disk directory.
type RepoDir struct {
	RepoID string
	Dir    string
}

// DeployWorkspace deploys hook assets to workspaceDir/.claude/ and to
// every repoDir/.claude/, appends ".claude/" to every repo's
// .git/info/exclude exactly once, and writes workspace-level CLAUDE.md
// / AGENTS.md import files (one line per repo that has the matching
// file), skipping each if it already exists.
func (d *Deployer) DeployWorkspace(workspaceDir string, repos []RepoDir) error {
	if err := d.deployAssets(filepath.Join(workspaceDir, ".claude")); err != nil {
		return fmt.Errorf("deploy workspace hooks: %w", err)
	}

	for _, repo := range repos {
		if err := d.deployAssets(filepath.Join(repo.Dir, ".claude")); err != nil {
			return fmt.Errorf("deploy repo hooks for %s: %w", repo.RepoID, err)
		}
		if err := d.excludeClaudeDir(repo.Dir); err != nil {
			return fmt.Errorf("update git exclude for %s: %w", repo.RepoID, err)
		}
	}

	if err := d.writeImportFile(workspaceDir, repos, "CLAUDE.md"); err != nil {
		return err
	}
	if err := d.writeImportFile(workspaceDir, repos, "AGENTS.md"); err != nil {
		return err
	}
	return nil
}

// deployAssets writes every Asset under dir, overwriting any existing
// copy; writing the same canonical content twice is itself idempotent,
// so no existence check is needed here (unlike the once-only workspace
// import files and the once-only exclude-file append below).
func (d *Deployer) deployAssets(dir string) error {
	if err := d.fs.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for _, a := range d.assets {
		full := filepath.Join(dir, a.Path)
		if err := d.fs.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return err
		}
		if err := afero.WriteFile(d.fs, full, a.Content, 0644); err != nil {
			return err
		}
	}
	return nil
}

const excludeMarker = ".claude/"

// excludeClaudeDir appends ".claude/" to repoDir/.git/info/exclude
// exactly once, creating the info directory if it does not yet exist.
func (d *Deployer) excludeClaudeDir(repoDir string) error {
	excludePath := filepath.Join(repoDir, ".git", "info", "exclude")

	existing := ""
	if data, err := afero.ReadFile(d.fs, excludePath); err == nil {
		existing = string(data)
	} else if !os.IsNotExist(err) {
		return err
	}

	for _, line := range strings.Split(existing, "\n") {
		if strings.TrimSpace(line) == strings.TrimSuffix(excludeMarker, "/") || strings.TrimSpace(line) == excludeMarker {
			return nil
		}
	}

	if err := d.fs.MkdirAll(filepath.Join(repoDir, ".git", "info"), 0755); err != nil {
		return err
	}

	if existing != "" && !strings.HasSuffix(existing, "\n") {
		existing += "\n"
	}
	existing += excludeMarker + "\n"
	return afero.WriteFile(d.fs, excludePath, []byte(existing), 0644)
}

// writeImportFile writes workspaceDir/name containing one
// "@<repo>/<name>" line per repo whose own <name> file exists, skipping
// entirely if the workspace-level file already exists.
func (d *Deployer) writeImportFile(workspaceDir string, repos []RepoDir, name string) error {
	path := filepath.Join(workspaceDir, name)
	if exists, err := afero.Exists(d.fs, path); err != nil {
		return err
	} else if exists {
		return nil
	}

	sorted := make([]RepoDir, len(repos))
	copy(sorted, repos)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RepoID < sorted[j].RepoID })

	var lines []string
	for _, repo := range sorted {
		repoFile := filepath.Join(repo.Dir, name)
		if has, err := afero.Exists(d.fs, repoFile); err == nil && has {
			lines = append(lines, fmt.Sprintf("@%s/%s", repo.RepoID, name))
		}
	}
	if len(lines) == 0 {
		return nil
	}
	return afero.WriteFile(d.fs, path, []byte(strings.Join(lines, "\n")+"\n"), 0644)
}
