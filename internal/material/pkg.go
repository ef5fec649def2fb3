package material

import "fmt"

// Package identifies a package in an external package repository handled by
// a repository plugin.
type Package struct {
	PluginID     string
	RepositoryID string
	PackageID    string
}

func (p Package) Type() Type { return TypePackage }

func (p Package) Attributes() map[string]string {
	return map[string]string{
		"plugin_id":     p.PluginID,
		"repository_id": p.RepositoryID,
		"package_id":    p.PackageID,
	}
}

func (p Package) Fingerprint() string {
	return fingerprintOf(TypePackage, p.Attributes())
}

func (p Package) Describe() string {
	return fmt.Sprintf("package %s in repository %s (plugin %s)", p.PackageID, p.RepositoryID, p.PluginID)
}
