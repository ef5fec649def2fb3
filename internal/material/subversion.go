package material

import (
	"fmt"
	"strconv"
)

type Subversion struct {
	URL            string
	Username       string
	Password       string
	CheckExternals bool
}

func (s Subversion) Type() Type { return TypeSubversion }

func (s Subversion) Attributes() map[string]string {
	return map[string]string{
		"url":             normalizeURL(s.URL),
		"username":        s.Username,
		"check_externals": strconv.FormatBool(s.CheckExternals),
	}
}

func (s Subversion) Fingerprint() string {
	return fingerprintOf(TypeSubversion, s.Attributes())
}

func (s Subversion) Describe() string {
	return fmt.Sprintf("subversion repository %s", normalizeURL(s.URL))
}
