package material

import "fmt"

type Mercurial struct {
	URL    string
	Branch string
}

func (m Mercurial) Type() Type { return TypeMercurial }

func (m Mercurial) EffectiveBranch() string {
	if m.Branch == "" {
		return "default"
	}
	return m.Branch
}

func (m Mercurial) Attributes() map[string]string {
	return map[string]string{
		"url":    normalizeURL(m.URL),
		"branch": m.EffectiveBranch(),
	}
}

func (m Mercurial) Fingerprint() string {
	return fingerprintOf(TypeMercurial, m.Attributes())
}

func (m Mercurial) Describe() string {
	return fmt.Sprintf("mercurial repository %s, branch %s", normalizeURL(m.URL), m.EffectiveBranch())
}
