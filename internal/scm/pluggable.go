package scm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/haatos/conveyor/internal/material"
)

// PluginManifest maps plugin ids to the executables implementing them. The
// manifest is a YAML file:
//
//	plugins:
//	  - id: github.pr
//	    command: /usr/local/libexec/conveyor-github-pr
type PluginManifest struct {
	Plugins []PluginEntry `yaml:"plugins"`
}

type PluginEntry struct {
	ID      string `yaml:"id"`
	Command string `yaml:"command"`
}

func LoadPluginManifest(path string) (*PluginManifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	manifest := new(PluginManifest)
	if err := yaml.Unmarshal(b, manifest); err != nil {
		return nil, fmt.Errorf("parsing plugin manifest %s: %w", path, err)
	}
	return manifest, nil
}

func (m *PluginManifest) CommandFor(pluginID string) (string, error) {
	for _, p := range m.Plugins {
		if p.ID == pluginID {
			return p.Command, nil
		}
	}
	return "", fmt.Errorf("plugin %q is not in the manifest", pluginID)
}

// PluginPoller shells out to a plugin executable. The plugin receives the
// material attributes as JSON on argv and prints modifications as a JSON
// array, newest first.
type PluginPoller struct {
	Material material.Material
	Command  string
}

func (p *PluginPoller) Latest(ctx context.Context, dir string) ([]Discovery, error) {
	return p.invoke(ctx, dir, "latest-revision", "")
}

func (p *PluginPoller) Since(ctx context.Context, dir, revision string) ([]Discovery, error) {
	return p.invoke(ctx, dir, "latest-revisions-since", revision)
}

func (p *PluginPoller) invoke(ctx context.Context, dir, operation, revision string) ([]Discovery, error) {
	attrs, err := json.Marshal(p.Material.Attributes())
	if err != nil {
		return nil, err
	}
	args := []string{operation, string(attrs)}
	if revision != "" {
		args = append(args, revision)
	}
	out, err := runCommand(ctx, dir, p.Command, args...)
	if err != nil {
		return nil, err
	}
	mods := make([]material.Modification, 0)
	if err := json.Unmarshal([]byte(out), &mods); err != nil {
		return nil, fmt.Errorf("plugin %s returned invalid modifications: %w", p.Command, err)
	}
	return []Discovery{{Material: p.Material, Modifications: mods}}, nil
}
