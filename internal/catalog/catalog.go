package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/streamspace/pluginrt/internal/db"
	"github.com/streamspace/pluginrt/internal/hooks"
	"github.com/streamspace/pluginrt/internal/logger"
	"github.com/streamspace/pluginrt/internal/store"
)

const pluginClass = "Plugin"

// ErrBuiltIn is returned when a caller tries to delete a built-in plugin,
// per spec.md §4.2's "built-in plugins cannot be deleted" invariant.
var ErrBuiltIn = errors.New("catalog: built-in plugins cannot be deleted")

// ErrBanned is returned when Register is called for an id the catalog has
// banned.
var ErrBanned = errors.New("catalog: plugin id is banned")

// ErrIncompatible is returned when a plugin's RuntimeCompat constraint does
// not admit the running runtime version.
var ErrIncompatible = errors.New("catalog: plugin is incompatible with this runtime version")

// Catalog is the in-memory plugin table plus its persistence sync, gated by
// spec.md §4.2: registration validates semver compatibility and banned-id
// rejection; Start reconciles every registered plugin against its
// persistent row and fires the lifecycle hook sequence for whatever
// transition that reconciliation implies.
type Catalog struct {
	mu             sync.RWMutex
	runtimeVersion *semver.Version
	plugins        map[string]*Plugin
	banned         map[string]struct{}

	store *store.Store
	h     *hooks.Engine
}

// New creates a Catalog gated against runtimeVersion (e.g. the server's own
// release version) and wired to the shared store/hook engine.
func New(runtimeVersion string, st *store.Store, h *hooks.Engine) (*Catalog, error) {
	v, err := semver.NewVersion(runtimeVersion)
	if err != nil {
		return nil, fmt.Errorf("catalog: invalid runtime version %q: %w", runtimeVersion, err)
	}
	return &Catalog{
		runtimeVersion: v,
		plugins:        make(map[string]*Plugin),
		banned:         make(map[string]struct{}),
		store:          st,
		h:              h,
	}, nil
}

// Ban marks an id so future Register calls for it are rejected, and
// immediately evicts any cached entry (spec.md §4.2 "banned ids").
func (c *Catalog) Ban(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.banned[id] = struct{}{}
	delete(c.plugins, id)
}

// Register validates and caches a plugin declaration. defaultActive is the
// active state the plugin should start with the first time it is ever
// persisted; on subsequent boots the persisted row's active overrides it
// (see Start). builtIn marks plugins discovered under the runtime's own
// internal tree, which become immutable to Delete — passed explicitly by
// the discovery layer rather than inferred from a call stack, per the
// REDESIGN FLAGS note in spec.md §9 about the original's stack-inspection
// trick.
func (c *Catalog) Register(p *Plugin, defaultActive, builtIn bool) error {
	if p.ID == "" {
		return errors.New("catalog: plugin id is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.banned[p.ID]; ok {
		return ErrBanned
	}

	constraint, err := semver.NewConstraint(p.Version.RuntimeCompat)
	if err != nil {
		return fmt.Errorf("catalog: plugin %s: invalid runtimeCompat %q: %w", p.ID, p.Version.RuntimeCompat, err)
	}
	if !constraint.Check(c.runtimeVersion) {
		return fmt.Errorf("%w: %s requires %s, runtime is %s", ErrIncompatible, p.ID, p.Version.RuntimeCompat, c.runtimeVersion)
	}

	entry := p.clone()
	entry.Active = defaultActive
	entry.Meta.BuiltIn = builtIn
	c.plugins[p.ID] = entry
	return nil
}

// Get returns the cached plugin by id.
func (c *Catalog) Get(id string) (*Plugin, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.plugins[id]
	if !ok {
		return nil, false
	}
	return p.clone(), true
}

// List returns every cached plugin, ordered by the Order field then id, the
// same ordering the teacher's discovery applies before dispatch.
func (c *Catalog) List() []*Plugin {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Plugin, 0, len(c.plugins))
	for _, p := range c.plugins {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// IsActive reports the cached active state for id.
func (c *Catalog) IsActive(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.plugins[id]
	return ok && p.Active
}

// IsValid reports whether id is registered and, when strict, also active.
func (c *Catalog) IsValid(id string, strict bool) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.plugins[id]
	if !ok {
		return false
	}
	return !strict || p.Active
}

// Gate runs callback only if pluginID is active, returning the spec.md
// §4.4 static rejection message otherwise. This is the primitive the
// function gateway (internal/gateway) builds on; the middleware chain
// (internal/httpchain) does not gate its entries.
func (c *Catalog) Gate(pluginID string, callback func() error) error {
	if !c.IsActive(pluginID) {
		return fmt.Errorf("Plugin: %s is not active.", pluginID)
	}
	return callback()
}

// loadRow fetches a plugin's persisted row. Plugin already carries its own
// Active field with a json tag, so the stored object decodes straight back
// into a Plugin with no separate row type needed.
func (c *Catalog) loadRow(id string) (*Plugin, bool, error) {
	obj, err := c.store.Get(pluginClass, id)
	if err != nil {
		return nil, false, nil // absence is not an error here; treat as "no row yet"
	}
	raw, err := json.Marshal(obj.Data)
	if err != nil {
		return nil, false, err
	}
	var p Plugin
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, false, err
	}
	return &p, true, nil
}

func toObject(p *Plugin) (*db.Object, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return &db.Object{ClassName: pluginClass, ObjectID: p.ID, Data: data}, nil
}

// Start reconciles every cached plugin against its persistent row and fires
// the lifecycle sequence spec.md §4.2's transition table implies:
//
//	no persisted row, active           -> install, schema, activate
//	persisted row, version increased,
//	still active                       -> update(new, req, old)
//	persisted row, inactive -> active  -> schema, activate
//	persisted row, active -> inactive  -> deactivate
//
// The persisted row's active always wins over the freshly-registered
// default for plugins that already have one, per the "database sync"
// reconciliation rule.
func (c *Catalog) Start(req map[string]interface{}) error {
	for _, p := range c.List() {
		if err := c.sync(p, req, true); err != nil {
			return err
		}
	}
	return nil
}

// sync persists p and fires whatever lifecycle hooks the transition from the
// persisted row to p implies. When reconcile is true (the Start path), the
// persisted row's active overrides p.Active — that is boot-time database
// sync, where the caller hasn't expressed an intent of its own. When
// reconcile is false (Activate/Deactivate), p.Active is the caller's
// explicit intent and must win outright.
func (c *Catalog) sync(p *Plugin, req map[string]interface{}, reconcile bool) error {
	old, existed, err := c.loadRow(p.ID)
	if err != nil {
		return fmt.Errorf("catalog: loading persisted row for %s: %w", p.ID, err)
	}

	next := p.clone()
	if existed && reconcile {
		next.Active = old.Active // persisted state overrides the freshly-registered default
	}

	c.h.Run("plugin-before-save", next, req)

	switch {
	case !existed:
		if next.Active {
			c.h.Run("install", next, req)
			c.h.Run("schema", next, req)
			c.h.Run("activate", next, req)
		}
	default:
		oldVer, errOld := semver.NewVersion(old.Version.Plugin)
		newVer, errNew := semver.NewVersion(next.Version.Plugin)
		if errOld == nil && errNew == nil && newVer.GreaterThan(oldVer) && next.Active {
			c.h.Run("update", next, req, old)
		}
		if !old.Active && next.Active {
			c.h.Run("schema", next, req)
			c.h.Run("activate", next, req)
		} else if old.Active && !next.Active {
			c.h.Run("deactivate", next, req)
		}
	}

	obj, err := toObject(next)
	if err != nil {
		return err
	}
	if err := c.store.Save(obj, map[string]interface{}{}); err != nil {
		return fmt.Errorf("catalog: persisting %s: %w", p.ID, err)
	}

	c.h.Run("plugin-load", next, req)

	c.mu.Lock()
	c.plugins[p.ID] = next
	c.mu.Unlock()
	return nil
}

// Activate flips a plugin active and re-syncs it, firing schema+activate.
func (c *Catalog) Activate(id string, req map[string]interface{}) error {
	p, ok := c.Get(id)
	if !ok {
		return fmt.Errorf("catalog: unknown plugin %s", id)
	}
	p.Active = true
	return c.sync(p, req, false)
}

// Deactivate flips a plugin inactive and re-syncs it, firing deactivate.
func (c *Catalog) Deactivate(id string, req map[string]interface{}) error {
	p, ok := c.Get(id)
	if !ok {
		return fmt.Errorf("catalog: unknown plugin %s", id)
	}
	p.Active = false
	return c.sync(p, req, false)
}

// Delete removes a plugin's persisted row and cached entry, deactivating it
// first if necessary and firing uninstall once the row is gone. Built-in
// plugins reject deletion outright.
func (c *Catalog) Delete(id string, req map[string]interface{}) error {
	p, ok := c.Get(id)
	if !ok {
		return fmt.Errorf("catalog: unknown plugin %s", id)
	}
	if p.Meta.BuiltIn {
		return ErrBuiltIn
	}

	if p.Active {
		c.h.Run("deactivate", p, req)
		p.Active = false
	}

	if err := c.store.Destroy(pluginClass, id); err != nil {
		return fmt.Errorf("catalog: deleting %s: %w", id, err)
	}
	c.h.Run("uninstall", p, req)

	c.mu.Lock()
	delete(c.plugins, id)
	c.mu.Unlock()
	logger.Emit("catalog", logger.LevelInfo, "plugin deleted", map[string]interface{}{"plugin": id})
	return nil
}
