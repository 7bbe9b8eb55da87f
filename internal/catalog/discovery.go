package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/streamspace/pluginrt/internal/logger"
)

// manifest is the on-disk declaration a discovered plugin directory
// carries (plugin.yaml), mirroring the Plugin fields a Go plugin cannot
// express through dynamic code loading the way the original runtime does:
// the actual callbacks are statically compiled in and registered through
// the same Catalog.Register call the manifest's metadata feeds.
type manifest struct {
	ID             string `yaml:"id"`
	Name           string `yaml:"name"`
	Description    string `yaml:"description"`
	Order          int    `yaml:"order"`
	RuntimeCompat  string `yaml:"runtimeCompat"`
	Version        string `yaml:"version"`
	Group          string `yaml:"group"`
	DefaultActive  bool   `yaml:"defaultActive"`
}

// Discovery walks configured roots for plugin.yaml manifests and registers
// each as a Plugin, grounded on the teacher's filesystem-rooted plugin
// discovery (internal/plugins runtime/discovery): spec.md §6 places actual
// plugin code loading out of scope for a statically-compiled runtime, so
// this discovers declarations and hands them to an already-compiled
// registration callback rather than dynamically importing code.
type Discovery struct {
	catalog *Catalog
	roots   []string
	watcher *fsnotify.Watcher
}

// NewDiscovery creates a Discovery over the given root directories.
func NewDiscovery(c *Catalog, roots ...string) *Discovery {
	return &Discovery{catalog: c, roots: roots}
}

// Scan walks every root once, registering every manifest it finds.
// resolve may be nil; when set, it is asked for each manifest id and a
// non-nil result overrides the manifest's defaultActive. A manifest whose
// registration the catalog rejects is logged with a warning and skipped.
func (d *Discovery) Scan(resolve func(id string) (defaultActiveOverride *bool)) error {
	for _, root := range d.roots {
		builtIn := strings.Contains(root, string(filepath.Separator)+"internal"+string(filepath.Separator))
		err := filepath.WalkDir(root, func(p string, entry os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if entry.IsDir() || filepath.Base(p) != "plugin.yaml" {
				return nil
			}
			return d.registerManifest(p, builtIn, resolve)
		})
		if err != nil {
			return fmt.Errorf("catalog: discovery scan of %s: %w", root, err)
		}
	}
	return nil
}

func (d *Discovery) registerManifest(manifestPath string, builtIn bool, resolve func(id string) *bool) error {
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", manifestPath, err)
	}
	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("parsing %s: %w", manifestPath, err)
	}
	if m.ID == "" {
		return fmt.Errorf("%s: missing id", manifestPath)
	}

	defaultActive := m.DefaultActive
	if resolve != nil {
		if override := resolve(m.ID); override != nil {
			defaultActive = *override
		}
	}

	p := &Plugin{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		Order:       m.Order,
		Version:     Version{RuntimeCompat: m.RuntimeCompat, Plugin: m.Version},
		Meta:        Meta{Group: m.Group},
	}
	if err := d.catalog.Register(p, defaultActive, builtIn); err != nil {
		logger.Emit("catalog", logger.LevelWarn, "plugin registration rejected",
			map[string]interface{}{"path": manifestPath, "id": m.ID, "error": err.Error()})
		return nil
	}
	return nil
}

// Watch starts a dev-mode fsnotify watch over the discovery roots so newly
// dropped-in manifests are picked up without a restart. Only Create events
// are handled: this runtime compiles plugin code statically, so a watched
// change can only add a manifest for code that is already linked in, never
// hot-load new behavior. The watch is not recursive: only a plugin.yaml
// created directly inside a root directory is seen.
func (d *Discovery) Watch(resolve func(id string) *bool) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("catalog: starting discovery watcher: %w", err)
	}
	d.watcher = w
	for _, root := range d.roots {
		if err := w.Add(root); err != nil {
			logger.Emit("catalog", logger.LevelWarn, "discovery watch root unavailable",
				map[string]interface{}{"root": root, "error": err.Error()})
		}
	}

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&fsnotify.Create == 0 || filepath.Base(ev.Name) != "plugin.yaml" {
					continue
				}
				builtIn := strings.Contains(ev.Name, string(filepath.Separator)+"internal"+string(filepath.Separator))
				if err := d.registerManifest(ev.Name, builtIn, resolve); err != nil {
					logger.Emit("catalog", logger.LevelWarn, "discovery watch registration failed",
						map[string]interface{}{"path": ev.Name, "error": err.Error()})
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Emit("catalog", logger.LevelWarn, "discovery watcher error", map[string]interface{}{"error": err.Error()})
			}
		}
	}()
	return nil
}

// Close stops the dev-mode watcher, if one was started.
func (d *Discovery) Close() error {
	if d.watcher == nil {
		return nil
	}
	return d.watcher.Close()
}
