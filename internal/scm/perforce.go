package scm

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/haatos/conveyor/internal/material"
)

type PerforcePoller struct {
	Material material.Perforce
}

// p4 changes output:
// Change 123 on 2025/03/01 by alice@workspace 'did the thing'
var p4ChangeRe = regexp.MustCompile(`^Change (\d+) on (\d{4}/\d{2}/\d{2}) by (\S+)@\S+ '(.*)'$`)

func (p *PerforcePoller) Latest(ctx context.Context, dir string) ([]Discovery, error) {
	out, err := runCommand(
		ctx, dir,
		"p4", "-p", p.Material.Port, "changes", "-m", "1", "-s", "submitted", p.Material.View,
	)
	if err != nil {
		return nil, err
	}
	mods, err := parseP4Changes(out)
	if err != nil {
		return nil, err
	}
	return []Discovery{{Material: p.Material, Modifications: mods}}, nil
}

func (p *PerforcePoller) Since(ctx context.Context, dir, revision string) ([]Discovery, error) {
	since, err := strconv.ParseInt(revision, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("perforce revision %q is not a changelist number: %w", revision, err)
	}
	view := fmt.Sprintf("%s@%d,@head", p.Material.View, since+1)
	out, err := runCommand(
		ctx, dir,
		"p4", "-p", p.Material.Port, "changes", "-s", "submitted", view,
	)
	if err != nil {
		return nil, err
	}
	mods, err := parseP4Changes(out)
	if err != nil {
		return nil, err
	}
	// the lower bound is inclusive when the changelist touched the view
	filtered := make([]material.Modification, 0, len(mods))
	for _, m := range mods {
		if m.Revision != revision {
			filtered = append(filtered, m)
		}
	}
	for i := range filtered {
		files, err := p.describeFiles(ctx, dir, filtered[i].Revision)
		if err != nil {
			return nil, err
		}
		filtered[i].Files = files
	}
	return []Discovery{{Material: p.Material, Modifications: filtered}}, nil
}

func (p *PerforcePoller) describeFiles(ctx context.Context, dir, change string) ([]material.ModifiedFile, error) {
	out, err := runCommand(ctx, dir, "p4", "-p", p.Material.Port, "describe", "-s", change)
	if err != nil {
		return nil, err
	}
	files := make([]material.ModifiedFile, 0)
	for line := range strings.Lines(out) {
		line = strings.TrimRight(line, "\n")
		if !strings.HasPrefix(line, "... ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		path, _, _ := strings.Cut(fields[1], "#")
		files = append(files, material.ModifiedFile{
			Path:   path,
			Action: p4FileAction(fields[2]),
		})
	}
	return files, nil
}

func parseP4Changes(out string) ([]material.Modification, error) {
	mods := make([]material.Modification, 0)
	for line := range strings.Lines(out) {
		line = strings.TrimRight(line, "\n")
		if line == "" {
			continue
		}
		groups := p4ChangeRe.FindStringSubmatch(line)
		if groups == nil {
			return nil, fmt.Errorf("unexpected p4 changes line: %q", line)
		}
		modifiedOn, err := time.Parse("2006/01/02", groups[2])
		if err != nil {
			return nil, fmt.Errorf("parsing p4 change date %q: %w", groups[2], err)
		}
		mods = append(mods, material.Modification{
			Revision:   groups[1],
			Author:     groups[3],
			Comment:    groups[4],
			ModifiedOn: modifiedOn.UTC(),
		})
	}
	return mods, nil
}

func p4FileAction(action string) material.FileAction {
	switch action {
	case "add", "branch":
		return material.FileAdded
	case "delete":
		return material.FileDeleted
	default:
		return material.FileModified
	}
}
