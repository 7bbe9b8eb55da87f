package catalog

import (
	"fmt"
	"path"
	"strings"

	"github.com/streamspace/pluginrt/internal/hooks"
)

// AssetPublisher is the minimal surface addMetaAsset needs from a storage
// backend: write a local file under a version-qualified name and return
// its durable location. internal/storage's adapter proxy satisfies this.
type AssetPublisher interface {
	PublishFile(localPath, destName string) (url string, err error)
}

// idempotentName applies spec.md §4.2's asset filename transform: the
// plugin's version is inserted before the extension, unless it is already
// present, so re-running the same activate/update hook twice (e.g. across
// a restart) does not chain suffixes onto the stored name.
func idempotentName(filename, version string) string {
	ext := path.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	suffix := "-" + version
	if strings.HasSuffix(base, suffix) {
		return filename
	}
	return base + suffix + ext
}

// AddMetaAsset registers the publish step for one plugin asset: on activate
// (first install or reactivation) and on update (version bump), the file at localPath is
// published under an idempotent, version-qualified name, and its returned
// URL is written into the plugin's cached Meta.Assets at objectPath.
//
// Grounded on spec.md §4.2's addMetaAsset helper, generalized from the
// original's dot-path meta writer to a flat key since this runtime's Meta
// struct does not need arbitrary nesting depth.
func (c *Catalog) AddMetaAsset(publisher AssetPublisher, pluginID, localPath, objectPath string) {
	publish := func(params []interface{}, _ *hooks.Context) error {
		if len(params) == 0 {
			return nil
		}
		p, ok := params[0].(*Plugin)
		if !ok || p.ID != pluginID {
			return nil
		}

		destName := idempotentName(path.Base(localPath), p.Version.Plugin)
		url, err := publisher.PublishFile(localPath, destName)
		if err != nil {
			return fmt.Errorf("catalog: publishing asset %s for %s: %w", localPath, pluginID, err)
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		cached, ok := c.plugins[pluginID]
		if !ok {
			return nil
		}
		if cached.Meta.Assets == nil {
			cached.Meta.Assets = make(map[string]interface{})
		}
		cached.Meta.Assets[objectPath] = url
		p.Meta.Assets = cached.Meta.Assets
		return nil
	}

	c.h.Register("activate", publish, hooks.PriorityLow, "", pluginID)
	c.h.Register("update", func(params []interface{}, ctx *hooks.Context) error {
		return publish(params, ctx)
	}, hooks.PriorityLow, "", pluginID)
}
