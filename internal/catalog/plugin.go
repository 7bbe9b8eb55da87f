// Package catalog implements the plugin lifecycle and catalog described in
// spec.md §4.2: filesystem discovery, in-memory state, version gating,
// persistent sync, lifecycle hook emission, asset publishing, and update
// migrations.
//
// Grounded on the teacher's plugins.Runtime/LoadedPlugin (runtime.go) and
// plugins.PluginDiscovery (discovery.go): the cached in-memory plugin table
// is the teacher's r.plugins map; the persisted row is the teacher's
// installed_plugins table, generalized here to the shared object store
// (internal/store) instead of bespoke SQL, so the catalog's persistence
// goes through the same before/after-save trigger chain as any other
// content class.
package catalog

// Version holds the two semver facets spec.md §3 requires: the range of
// runtime versions this plugin is compatible with, and the plugin's own
// version (used for update-migration ordering).
type Version struct {
	RuntimeCompat string `json:"runtimeCompat" yaml:"runtimeCompat"`
	Plugin        string `json:"plugin" yaml:"plugin"`
}

// Meta carries the plugin's non-identifying metadata, including the
// map of storage URLs that asset publishing (AddMetaAsset) writes into,
// keyed by each asset's flat objectPath.
type Meta struct {
	Group   string                 `json:"group,omitempty" yaml:"group,omitempty"`
	BuiltIn bool                   `json:"builtIn" yaml:"builtIn"`
	Assets  map[string]interface{} `json:"assets,omitempty" yaml:"assets,omitempty"`
}

// Plugin is the spec.md §3 Plugin record.
type Plugin struct {
	ID          string  `json:"id" yaml:"id"`
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description" yaml:"description"`
	Order       int     `json:"order" yaml:"order"`
	Version     Version `json:"version" yaml:"version"`
	Meta        Meta    `json:"meta" yaml:"meta"`
	Active      bool    `json:"active" yaml:"-"`
}

// GetID lets other packages (internal/storage's adapter takeover, for one)
// duck-type against a hook parameter to recover the owning plugin's id
// without importing this package and risking an import cycle.
func (p *Plugin) GetID() string { return p.ID }

// clone returns a shallow copy safe to hand to hook callbacks without
// letting them mutate the catalog's cached entry out from under a
// concurrent reader.
func (p *Plugin) clone() *Plugin {
	cp := *p
	if p.Meta.Assets != nil {
		cp.Meta.Assets = make(map[string]interface{}, len(p.Meta.Assets))
		for k, v := range p.Meta.Assets {
			cp.Meta.Assets[k] = v
		}
	}
	return &cp
}
