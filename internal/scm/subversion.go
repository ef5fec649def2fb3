package scm

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/haatos/conveyor/internal/material"
)

type SubversionPoller struct {
	Material material.Subversion
}

type svnLogEntry struct {
	Revision string `xml:"revision,attr"`
	Author   string `xml:"author"`
	Date     string `xml:"date"`
	Msg      string `xml:"msg"`
	Paths    []struct {
		Action string `xml:"action,attr"`
		Path   string `xml:",chardata"`
	} `xml:"paths>path"`
}

type svnLog struct {
	Entries []svnLogEntry `xml:"logentry"`
}

func (p *SubversionPoller) Latest(ctx context.Context, dir string) ([]Discovery, error) {
	if err := p.prepare(ctx, dir); err != nil {
		return nil, err
	}
	args := append(p.authArgs(), "log", "--xml", "-v", "-l", "1", p.Material.URL)
	out, err := runCommand(ctx, dir, "svn", args...)
	if err != nil {
		return nil, err
	}
	mods, err := parseSvnLog(out)
	if err != nil {
		return nil, err
	}
	return p.withExternals(ctx, dir, []Discovery{{Material: p.Material, Modifications: mods}})
}

func (p *SubversionPoller) Since(ctx context.Context, dir, revision string) ([]Discovery, error) {
	if err := p.prepare(ctx, dir); err != nil {
		return nil, err
	}
	args := append(p.authArgs(), "log", "--xml", "-v", "-r", "HEAD:"+revision, p.Material.URL)
	out, err := runCommand(ctx, dir, "svn", args...)
	if err != nil {
		return nil, err
	}
	mods, err := parseSvnLog(out)
	if err != nil {
		return nil, err
	}
	// the range query is inclusive at both ends; the last entry is the
	// already known revision
	filtered := make([]material.Modification, 0, len(mods))
	for _, m := range mods {
		if m.Revision != revision {
			filtered = append(filtered, m)
		}
	}
	return p.withExternals(ctx, dir, []Discovery{{Material: p.Material, Modifications: filtered}})
}

func (p *SubversionPoller) prepare(ctx context.Context, dir string) error {
	if _, err := os.Stat(filepath.Join(dir, ".svn")); err == nil {
		args := append(p.authArgs(), "update")
		_, err := runCommand(ctx, dir, "svn", args...)
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	args := append(p.authArgs(), "checkout", p.Material.URL, ".")
	_, err := runCommand(ctx, dir, "svn", args...)
	return err
}

// withExternals discovers svn:externals and reports each referenced
// repository's latest revision as a modification of the external's own
// material.
func (p *SubversionPoller) withExternals(
	ctx context.Context,
	dir string,
	discoveries []Discovery,
) ([]Discovery, error) {
	if !p.Material.CheckExternals {
		return discoveries, nil
	}
	args := append(p.authArgs(), "propget", "svn:externals", "-R")
	out, err := runCommand(ctx, dir, "svn", args...)
	if err != nil {
		return nil, err
	}
	for line := range strings.Lines(out) {
		url := externalURL(strings.TrimRight(line, "\n"))
		if url == "" {
			continue
		}
		ext := material.Subversion{URL: url, Username: p.Material.Username, Password: p.Material.Password}
		args := append(p.authArgs(), "log", "--xml", "-v", "-l", "1", url)
		out, err := runCommand(ctx, dir, "svn", args...)
		if err != nil {
			return nil, err
		}
		mods, err := parseSvnLog(out)
		if err != nil {
			return nil, err
		}
		discoveries = append(discoveries, Discovery{Material: ext, Modifications: mods})
	}
	return discoveries, nil
}

func (p *SubversionPoller) authArgs() []string {
	args := []string{"--non-interactive"}
	if p.Material.Username != "" {
		args = append(args, "--username", p.Material.Username, "--password", p.Material.Password)
	}
	return args
}

func externalURL(line string) string {
	for _, field := range strings.Fields(line) {
		if strings.Contains(field, "://") {
			return field
		}
	}
	return ""
}

func parseSvnLog(out string) ([]material.Modification, error) {
	var parsed svnLog
	if err := xml.Unmarshal([]byte(out), &parsed); err != nil {
		return nil, fmt.Errorf("parsing svn log xml: %w", err)
	}
	mods := make([]material.Modification, 0, len(parsed.Entries))
	for _, e := range parsed.Entries {
		modifiedOn, err := time.Parse(time.RFC3339Nano, e.Date)
		if err != nil {
			return nil, fmt.Errorf("parsing svn revision date %q: %w", e.Date, err)
		}
		files := make([]material.ModifiedFile, 0, len(e.Paths))
		for _, path := range e.Paths {
			files = append(files, material.ModifiedFile{
				Path:   path.Path,
				Action: svnFileAction(path.Action),
			})
		}
		mods = append(mods, material.Modification{
			Revision:   e.Revision,
			Author:     e.Author,
			Comment:    e.Msg,
			ModifiedOn: modifiedOn.UTC(),
			Files:      files,
		})
	}
	return mods, nil
}

func svnFileAction(action string) material.FileAction {
	switch action {
	case "A":
		return material.FileAdded
	case "D":
		return material.FileDeleted
	default:
		return material.FileModified
	}
}
