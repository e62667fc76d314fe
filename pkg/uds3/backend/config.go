package backend

import "github.com/makr-code/VCC-UDS3-sub004/pkg/uds3/config"

// InstanceConfig is the shared shape of one backend-kind section in the
// Configuration Contract (§6): "enabled", "type", "autostart" are common
// to every kind; adapter-specific fields live alongside them and are
// read directly by the adapter constructor, not by this package.
type InstanceConfig struct {
	Enabled   bool
	Type      string
	Autostart bool
	Raw       config.Config
}

// instanceConfigFromSection reads the common fields of one backend
// kind's config section, leaving adapter-specific fields in Raw for the
// adapter constructor to read itself.
func instanceConfigFromSection(section config.Config) InstanceConfig {
	return InstanceConfig{
		Enabled:   section.Bool("enabled", false),
		Type:      section.String("type", ""),
		Autostart: section.Bool("autostart", false),
		Raw:       section,
	}
}

// kindSectionNames maps each Kind to its Configuration Contract section
// key, per §6 (one section per backend kind).
var kindSectionNames = map[Kind]string{
	KindVector:     "vector",
	KindGraph:      "graph",
	KindRelational: "relational",
	KindKeyValue:   "key_value",
	KindDocument:   "document",
	KindFile:       "file",
}

// InstanceConfigs reads every backend kind's InstanceConfig out of the
// top-level configuration document.
func InstanceConfigs(cfg config.Config) map[Kind]InstanceConfig {
	result := make(map[Kind]InstanceConfig, len(kindSectionNames))
	for kind, section := range kindSectionNames {
		result[kind] = instanceConfigFromSection(cfg.Section(section))
	}
	return result
}
