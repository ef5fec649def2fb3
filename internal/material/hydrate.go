package material

import (
	"fmt"
	"strconv"
	"strings"
)

// FromAttributes rebuilds a material from its persisted type and identity
// attributes, re-attaching credentials that are stored separately because
// they are not part of the fingerprint.
func FromAttributes(t Type, attrs map[string]string, username, password string) (Material, error) {
	switch t {
	case TypeGit:
		return Git{
			URL:      attrs["url"],
			Branch:   attrs["branch"],
			Username: username,
			Password: password,
		}, nil
	case TypeMercurial:
		return Mercurial{
			URL:    attrs["url"],
			Branch: attrs["branch"],
		}, nil
	case TypeSubversion:
		checkExternals, _ := strconv.ParseBool(attrs["check_externals"])
		return Subversion{
			URL:            attrs["url"],
			Username:       attrs["username"],
			Password:       password,
			CheckExternals: checkExternals,
		}, nil
	case TypePerforce:
		useTickets, _ := strconv.ParseBool(attrs["use_tickets"])
		return Perforce{
			Port:       attrs["port"],
			View:       attrs["view"],
			Username:   attrs["username"],
			Password:   password,
			UseTickets: useTickets,
		}, nil
	case TypeDependency:
		return Dependency{
			Pipeline: attrs["pipeline"],
			Stage:    attrs["stage"],
		}, nil
	case TypePackage:
		return Package{
			PluginID:     attrs["plugin_id"],
			RepositoryID: attrs["repository_id"],
			PackageID:    attrs["package_id"],
		}, nil
	case TypePluggableSCM:
		conf := make(map[string]string)
		for k, v := range attrs {
			if after, ok := strings.CutPrefix(k, "conf."); ok {
				conf[after] = v
			}
		}
		return PluggableSCM{
			PluginID:      attrs["plugin_id"],
			Configuration: conf,
		}, nil
	default:
		return nil, fmt.Errorf("unknown material type %q", t)
	}
}
