package material

import "fmt"

const defaultGitBranch = "master"

type Git struct {
	URL      string
	Branch   string
	Username string
	Password string
}

func (g Git) Type() Type { return TypeGit }

func (g Git) EffectiveBranch() string {
	if g.Branch == "" {
		return defaultGitBranch
	}
	return g.Branch
}

func (g Git) Attributes() map[string]string {
	return map[string]string{
		"url":    normalizeURL(g.URL),
		"branch": g.EffectiveBranch(),
	}
}

func (g Git) Fingerprint() string {
	return fingerprintOf(TypeGit, g.Attributes())
}

func (g Git) Describe() string {
	return fmt.Sprintf("git repository %s, branch %s", normalizeURL(g.URL), g.EffectiveBranch())
}
