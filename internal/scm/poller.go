package scm

import (
	"context"
	"fmt"

	"github.com/haatos/conveyor/internal/material"
)

// Discovery is the result of polling one material: the material the
// modifications belong to and the modifications themselves, newest first.
// Pollers for materials with nested sources (git submodules, svn externals)
// return additional discoveries attributed to the nested material's own
// fingerprint.
type Discovery struct {
	Material      material.Material
	Modifications []material.Modification
}

// Poller checks out or queries one checkout-based material inside its
// flyweight directory. The update scheduler never branches on the concrete
// material type; everything SCM specific stays behind this interface.
type Poller interface {
	// Latest returns only the single newest modification. Used as the
	// baseline on the first check so history is never flooded.
	Latest(ctx context.Context, dir string) ([]Discovery, error)
	// Since returns modifications strictly after the given revision,
	// newest first.
	Since(ctx context.Context, dir, revision string) ([]Discovery, error)
}

// Factory resolves the poller for a checkout-based material. Dependency
// materials have no checkout and are handled by the update service directly.
type Factory struct {
	plugins *PluginManifest
}

func NewFactory(plugins *PluginManifest) *Factory {
	return &Factory{plugins: plugins}
}

func (f *Factory) ForMaterial(m material.Material) (Poller, error) {
	switch m := m.(type) {
	case material.Git:
		return &GitPoller{Material: m}, nil
	case material.Mercurial:
		return &MercurialPoller{Material: m}, nil
	case material.Subversion:
		return &SubversionPoller{Material: m}, nil
	case material.Perforce:
		return &PerforcePoller{Material: m}, nil
	case material.PluggableSCM:
		return f.pluginPoller(m, m.PluginID)
	case material.Package:
		return f.pluginPoller(m, m.PluginID)
	default:
		return nil, fmt.Errorf("no poller for material type %q", m.Type())
	}
}

func (f *Factory) pluginPoller(m material.Material, pluginID string) (Poller, error) {
	if f.plugins == nil {
		return nil, fmt.Errorf("no plugin manifest configured, cannot poll plugin %q", pluginID)
	}
	command, err := f.plugins.CommandFor(pluginID)
	if err != nil {
		return nil, err
	}
	return &PluginPoller{Material: m, Command: command}, nil
}
