// Package httpchain assembles the HTTP middleware chain described in
// spec.md §4.5: a discoverable, priority-ordered set of middleware
// registrations, with replace/unregister semantics resolved once at boot
// time into the flat sequence gin actually runs.
//
// Grounded on the teacher's setupRoutes (cmd/main.go), which builds a long,
// hand-ordered sequence of `router.Use(...)` calls; this package replaces
// that hardcoded sequence with a registry any plugin can add to, then
// assembles it in the same gin idiom at boot.
package httpchain

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/streamspace/pluginrt/internal/hooks"
)

// Middleware is one chain entry. Path is an optional group prefix: empty
// means the handler applies globally, matching the teacher's top-level
// `router.Use` calls; non-empty scopes it to a route group the caller
// assembles with GroupHandlers.
type Middleware struct {
	ID      string
	Order   int
	Path    string
	Handler gin.HandlerFunc
}

// Chain is the discoverable middleware registry plus its boot-time
// assembly into flat gin handler slices.
type Chain struct {
	mu           sync.RWMutex
	entries      map[string]Middleware
	order        []string // insertion order, for stable tie-breaking
	replacements map[string]string
	unregistered map[string]struct{}
}

// New creates an empty Chain.
func New() *Chain {
	return &Chain{
		entries:      make(map[string]Middleware),
		replacements: make(map[string]string),
		unregistered: make(map[string]struct{}),
	}
}

// Register adds a middleware to the chain.
func (c *Chain) Register(mw Middleware) error {
	if mw.ID == "" {
		return fmt.Errorf("httpchain: middleware id is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[mw.ID]; !exists {
		c.order = append(c.order, mw.ID)
	}
	c.entries[mw.ID] = mw
	delete(c.unregistered, mw.ID)
	return nil
}

// Replace swaps oldID's handler for mw at assembly time without disturbing
// oldID's position in the order, so a plugin can override a core
// middleware's behavior while keeping its priority slot.
func (c *Chain) Replace(oldID string, mw Middleware) error {
	if err := c.Register(mw); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replacements[oldID] = mw.ID
	return nil
}

// Unregister removes id from the assembled chain. Idempotent.
func (c *Chain) Unregister(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unregistered[id] = struct{}{}
}

// RegisterHook is the convenience spec.md §4.5 describes for wiring a
// hook-engine chain in as one middleware slot: the hook named id runs
// synchronously on every matching request, and a callback error aborts
// the request with 500 instead of calling the gin context's Next.
func (c *Chain) RegisterHook(h *hooks.Engine, id, path string, order int) error {
	return c.Register(Middleware{
		ID:    id,
		Order: order,
		Path:  path,
		Handler: func(ctx *gin.Context) {
			if _, err := h.RunSync(id, ctx); err != nil {
				ctx.AbortWithStatusJSON(500, gin.H{"error": err.Error()})
				return
			}
			ctx.Next()
		},
	})
}

// resolved returns the chain's entries with replacements applied and
// unregistered ids dropped, in insertion order (replacement keeps the
// original slot and its Order).
func (c *Chain) resolved() []Middleware {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// A replacement is emitted in the slot of the entry it replaces, not
	// again at its own position.
	replacing := make(map[string]struct{}, len(c.replacements))
	for oldID, newID := range c.replacements {
		if _, ok := c.entries[oldID]; ok {
			replacing[newID] = struct{}{}
		}
	}

	out := make([]Middleware, 0, len(c.order))
	for _, id := range c.order {
		if _, skip := replacing[id]; skip {
			continue
		}
		effectiveID := id
		if replacement, ok := c.replacements[id]; ok {
			effectiveID = replacement
		}
		if _, skip := c.unregistered[effectiveID]; skip {
			continue
		}
		if _, skip := c.unregistered[id]; skip {
			continue
		}
		mw, ok := c.entries[effectiveID]
		if !ok {
			continue
		}
		if effectiveID != id {
			mw.Order = c.entries[id].Order
		}
		out = append(out, mw)
	}
	return out
}

func sortByOrder(entries []Middleware) {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Order < entries[j].Order })
}

// GlobalHandlers returns the ordered handler slice for Path=="" entries,
// ready for `engine.Use(...)`.
func (c *Chain) GlobalHandlers() []gin.HandlerFunc {
	entries := c.resolved()
	var global []Middleware
	for _, e := range entries {
		if e.Path == "" {
			global = append(global, e)
		}
	}
	sortByOrder(global)

	handlers := make([]gin.HandlerFunc, len(global))
	for i, e := range global {
		handlers[i] = e.Handler
	}
	return handlers
}

// GroupHandlers returns the ordered handler slice scoped to path, for
// `engine.Group(path).Use(...)`.
func (c *Chain) GroupHandlers(path string) []gin.HandlerFunc {
	entries := c.resolved()
	var scoped []Middleware
	for _, e := range entries {
		if e.Path == path {
			scoped = append(scoped, e)
		}
	}
	sortByOrder(scoped)

	handlers := make([]gin.HandlerFunc, len(scoped))
	for i, e := range scoped {
		handlers[i] = e.Handler
	}
	return handlers
}

// Apply installs every global middleware onto engine, the same ordered
// `router.Use` sequence the teacher's setupRoutes builds by hand.
func (c *Chain) Apply(engine *gin.Engine) {
	for _, h := range c.GlobalHandlers() {
		engine.Use(h)
	}
}
