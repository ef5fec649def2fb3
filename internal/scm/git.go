package scm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/haatos/conveyor/internal/material"
)

const (
	gitFieldSep  = "\x1f"
	gitLogFormat = "%H\x1f%an <%ae>\x1f%aI\x1f%s"
)

type GitPoller struct {
	Material material.Git
}

func (p *GitPoller) Latest(ctx context.Context, dir string) ([]Discovery, error) {
	if err := p.prepare(ctx, dir); err != nil {
		return nil, err
	}
	out, err := runCommand(ctx, dir, "git", "log", "-1", "--pretty=format:"+gitLogFormat)
	if err != nil {
		return nil, err
	}
	mods, err := parseGitLog(out)
	if err != nil {
		return nil, err
	}
	discoveries := []Discovery{{Material: p.Material, Modifications: mods}}
	subs, err := p.discoverSubmodules(ctx, dir)
	if err != nil {
		return nil, err
	}
	return append(discoveries, subs...), nil
}

func (p *GitPoller) Since(ctx context.Context, dir, revision string) ([]Discovery, error) {
	if err := p.prepare(ctx, dir); err != nil {
		return nil, err
	}
	out, err := runCommand(
		ctx, dir,
		"git", "log", revision+"..HEAD", "--pretty=format:"+gitLogFormat,
	)
	if err != nil {
		return nil, err
	}
	mods, err := parseGitLog(out)
	if err != nil {
		return nil, err
	}
	for i := range mods {
		files, err := p.modifiedFiles(ctx, dir, mods[i].Revision)
		if err != nil {
			return nil, err
		}
		mods[i].Files = files
	}
	discoveries := []Discovery{{Material: p.Material, Modifications: mods}}
	subs, err := p.discoverSubmodules(ctx, dir)
	if err != nil {
		return nil, err
	}
	return append(discoveries, subs...), nil
}

// prepare checks out or updates the flyweight to the tip of the configured
// branch. The clone is reused across polls; only a fetch happens after the
// first check.
func (p *GitPoller) prepare(ctx context.Context, dir string) error {
	branch := p.Material.EffectiveBranch()
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		if _, err := runCommand(ctx, dir, "git", "fetch", "origin", branch); err != nil {
			return err
		}
		_, err := runCommand(ctx, dir, "git", "reset", "--hard", "origin/"+branch)
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	_, err := runCommand(ctx, dir, "git", "clone", "--branch", branch, p.Material.URL, ".")
	return err
}

func (p *GitPoller) modifiedFiles(ctx context.Context, dir, revision string) ([]material.ModifiedFile, error) {
	out, err := runCommand(
		ctx, dir,
		"git", "diff-tree", "--no-commit-id", "--name-status", "-r", revision,
	)
	if err != nil {
		return nil, err
	}
	files := make([]material.ModifiedFile, 0)
	for line := range strings.Lines(out) {
		status, path, found := strings.Cut(strings.TrimRight(line, "\n"), "\t")
		if !found {
			continue
		}
		files = append(files, material.ModifiedFile{
			Path:   path,
			Action: gitFileAction(status),
		})
	}
	return files, nil
}

// discoverSubmodules reads .gitmodules in the flyweight and reports the tip
// of each referenced repository as a modification of that repository's own
// material, not the parent's.
func (p *GitPoller) discoverSubmodules(ctx context.Context, dir string) ([]Discovery, error) {
	if _, err := os.Stat(filepath.Join(dir, ".gitmodules")); err != nil {
		return nil, nil
	}
	if _, err := runCommand(ctx, dir, "git", "submodule", "update", "--init"); err != nil {
		return nil, err
	}
	out, err := runCommand(
		ctx, dir,
		"git", "config", "-f", ".gitmodules", "--get-regexp", `^submodule\..*\.(path|url)$`,
	)
	if err != nil {
		return nil, err
	}

	paths := make(map[string]string)
	urls := make(map[string]string)
	for line := range strings.Lines(out) {
		key, value, found := strings.Cut(strings.TrimRight(line, "\n"), " ")
		if !found {
			continue
		}
		name := strings.TrimPrefix(key, "submodule.")
		switch {
		case strings.HasSuffix(name, ".path"):
			paths[strings.TrimSuffix(name, ".path")] = value
		case strings.HasSuffix(name, ".url"):
			urls[strings.TrimSuffix(name, ".url")] = value
		}
	}

	discoveries := make([]Discovery, 0, len(paths))
	for name, path := range paths {
		url, ok := urls[name]
		if !ok {
			continue
		}
		out, err := runCommand(
			ctx, filepath.Join(dir, path),
			"git", "log", "-1", "--pretty=format:"+gitLogFormat,
		)
		if err != nil {
			return nil, err
		}
		mods, err := parseGitLog(out)
		if err != nil {
			return nil, err
		}
		discoveries = append(discoveries, Discovery{
			Material:      material.Git{URL: url},
			Modifications: mods,
		})
	}
	return discoveries, nil
}

func parseGitLog(out string) ([]material.Modification, error) {
	mods := make([]material.Modification, 0)
	for line := range strings.Lines(out) {
		line = strings.TrimRight(line, "\n")
		if line == "" {
			continue
		}
		fields := strings.Split(line, gitFieldSep)
		if len(fields) != 4 {
			return nil, fmt.Errorf("unexpected git log line: %q", line)
		}
		modifiedOn, err := time.Parse(time.RFC3339, fields[2])
		if err != nil {
			return nil, fmt.Errorf("parsing git commit date %q: %w", fields[2], err)
		}
		mods = append(mods, material.Modification{
			Revision:   fields[0],
			Author:     fields[1],
			Comment:    fields[3],
			ModifiedOn: modifiedOn.UTC(),
		})
	}
	return mods, nil
}

func gitFileAction(status string) material.FileAction {
	switch {
	case strings.HasPrefix(status, "A"):
		return material.FileAdded
	case strings.HasPrefix(status, "D"):
		return material.FileDeleted
	default:
		return material.FileModified
	}
}
