package material

import (
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"slices"
	"strings"
)

type Type string

const (
	TypeGit          Type = "git"
	TypeMercurial    Type = "hg"
	TypeSubversion   Type = "svn"
	TypePerforce     Type = "p4"
	TypeDependency   Type = "dependency"
	TypePackage      Type = "package"
	TypePluggableSCM Type = "plugin"
)

// Material is a versioned source a pipeline can be built from. Identity is
// the fingerprint: a hash over the type and the normalized identity
// attributes. Two materials are the same material if and only if their
// fingerprints are equal, regardless of how the configurations were written.
type Material interface {
	Type() Type
	Fingerprint() string
	// Attributes returns the normalized identity attributes hashed into the
	// fingerprint. Credentials and polling toggles are not identity.
	Attributes() map[string]string
	Describe() string
}

func fingerprintOf(t Type, attrs map[string]string) string {
	keys := slices.Sorted(maps.Keys(attrs))
	parts := make([]string, 0, len(keys)+1)
	parts = append(parts, "type="+string(t))
	for _, k := range keys {
		parts = append(parts, k+"="+attrs[k])
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "<|>")))
	return hex.EncodeToString(sum[:])
}

func normalizeURL(url string) string {
	return strings.TrimSuffix(strings.TrimSpace(url), "/")
}
