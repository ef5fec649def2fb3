package material

import "fmt"

// PluggableSCM is a source handled by an SCM plugin. Identity is the plugin
// id plus the plugin's own configuration keys.
type PluggableSCM struct {
	PluginID      string
	SCMID         string
	Configuration map[string]string
}

func (p PluggableSCM) Type() Type { return TypePluggableSCM }

func (p PluggableSCM) Attributes() map[string]string {
	attrs := map[string]string{"plugin_id": p.PluginID}
	for k, v := range p.Configuration {
		attrs["conf."+k] = v
	}
	return attrs
}

func (p PluggableSCM) Fingerprint() string {
	return fingerprintOf(TypePluggableSCM, p.Attributes())
}

func (p PluggableSCM) Describe() string {
	return fmt.Sprintf("pluggable scm %s (plugin %s)", p.SCMID, p.PluginID)
}
