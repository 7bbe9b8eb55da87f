package catalog

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/streamspace/pluginrt/internal/hooks"
)

// Migration is one version-gated upgrade step for a plugin, run when that
// plugin's update hook fires with a newer Plugin.Version.Plugin than the
// persisted row had.
type Migration struct {
	// Test decides whether this migration applies, given the version it is
	// keyed under, the plugin's previous persisted version, and the
	// reconciled plugin. The default (nil) is semver.gt(version, oldVersion).
	Test func(version, oldVersion string, current *Plugin) bool

	// Migrate performs the upgrade. old is the plugin's previous persisted
	// state, or nil if there was none.
	Migrate func(current *Plugin, req map[string]interface{}, old *Plugin) error
}

// RegisterMigrations wires a pluginID's ordered migration table into the
// catalog's update hook, running whichever keyed migrations apply in
// ascending semver order. Grounded on spec.md §4.2's migration helper: it
// runs as a side effect of the same update hook Start()/sync() fire, not as
// a separate entry point, so a plugin author only has to declare migrations
// and never has to compute which ones are due.
func RegisterMigrations(h *hooks.Engine, pluginID string, migrations map[string]Migration) string {
	versions := make([]string, 0, len(migrations))
	for v := range migrations {
		versions = append(versions, v)
	}
	sortVersions(versions)

	return h.Register("update", func(params []interface{}, ctx *hooks.Context) error {
		if len(params) < 3 {
			return nil
		}
		current, ok := params[0].(*Plugin)
		if !ok || current.ID != pluginID {
			return nil
		}
		req, _ := params[1].(map[string]interface{})
		old, _ := params[2].(*Plugin)

		oldVersion := ""
		if old != nil {
			oldVersion = old.Version.Plugin
		}

		for _, v := range versions {
			m := migrations[v]
			applies := false
			switch {
			case m.Test != nil:
				applies = m.Test(v, oldVersion, current)
			default:
				applies = semverGreater(v, oldVersion)
			}
			if !applies {
				continue
			}
			if err := m.Migrate(current, req, old); err != nil {
				return fmt.Errorf("catalog: migration %s for %s failed: %w", v, pluginID, err)
			}
		}
		return nil
	}, hooks.PriorityNeutral, "", pluginID)
}

func semverGreater(v, oldVersion string) bool {
	nv, err := semver.NewVersion(v)
	if err != nil {
		return false
	}
	if oldVersion == "" {
		return true
	}
	ov, err := semver.NewVersion(oldVersion)
	if err != nil {
		return true
	}
	return nv.GreaterThan(ov)
}

// sortVersions orders version strings ascending by semver precedence,
// falling back to lexical order for anything that fails to parse (the
// default `test` behavior spec.md §4.2 describes as "ascending semver
// order").
func sortVersions(versions []string) {
	parsed := make([]*semver.Version, len(versions))
	for i, v := range versions {
		parsed[i], _ = semver.NewVersion(v)
	}
	for i := 1; i < len(versions); i++ {
		for j := i; j > 0; j-- {
			if less(parsed, versions, j, j-1) {
				versions[j], versions[j-1] = versions[j-1], versions[j]
				parsed[j], parsed[j-1] = parsed[j-1], parsed[j]
			} else {
				break
			}
		}
	}
}

func less(parsed []*semver.Version, versions []string, i, j int) bool {
	if parsed[i] != nil && parsed[j] != nil {
		return parsed[i].LessThan(parsed[j])
	}
	return versions[i] < versions[j]
}
