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

const hgLogTemplate = "{node}\x1f{author}\x1f{date|rfc3339date}\x1f{desc|firstline}\n"

type MercurialPoller struct {
	Material material.Mercurial
}

func (p *MercurialPoller) Latest(ctx context.Context, dir string) ([]Discovery, error) {
	if err := p.prepare(ctx, dir); err != nil {
		return nil, err
	}
	out, err := runCommand(
		ctx, dir,
		"hg", "log", "-b", p.Material.EffectiveBranch(), "-l", "1", "--template", hgLogTemplate,
	)
	if err != nil {
		return nil, err
	}
	mods, err := parseHgLog(out)
	if err != nil {
		return nil, err
	}
	return []Discovery{{Material: p.Material, Modifications: mods}}, nil
}

func (p *MercurialPoller) Since(ctx context.Context, dir, revision string) ([]Discovery, error) {
	if err := p.prepare(ctx, dir); err != nil {
		return nil, err
	}
	revset := fmt.Sprintf("reverse(%s::tip - %s)", revision, revision)
	out, err := runCommand(
		ctx, dir,
		"hg", "log", "-b", p.Material.EffectiveBranch(), "-r", revset, "--template", hgLogTemplate,
	)
	if err != nil {
		return nil, err
	}
	mods, err := parseHgLog(out)
	if err != nil {
		return nil, err
	}
	return []Discovery{{Material: p.Material, Modifications: mods}}, nil
}

func (p *MercurialPoller) prepare(ctx context.Context, dir string) error {
	branch := p.Material.EffectiveBranch()
	if _, err := os.Stat(filepath.Join(dir, ".hg")); err == nil {
		_, err := runCommand(ctx, dir, "hg", "pull", "-b", branch)
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	_, err := runCommand(ctx, dir, "hg", "clone", "-b", branch, p.Material.URL, ".")
	return err
}

func parseHgLog(out string) ([]material.Modification, error) {
	mods := make([]material.Modification, 0)
	for line := range strings.Lines(out) {
		line = strings.TrimRight(line, "\n")
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\x1f")
		if len(fields) != 4 {
			return nil, fmt.Errorf("unexpected hg log line: %q", line)
		}
		modifiedOn, err := time.Parse(time.RFC3339, fields[2])
		if err != nil {
			return nil, fmt.Errorf("parsing hg commit date %q: %w", fields[2], err)
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
