// Package gateway implements the runtime's function gateway: a
// registry of named callbacks each bound to the plugin that owns them, so
// calling a function whose plugin has since been deactivated fails with a
// uniform rejection instead of running stale behavior.
//
// Grounded on the teacher's handler-constructor pattern in cmd/main.go,
// where every HTTP handler closes over the services it needs at
// registration time; here the "service" every registered function closes
// over is the catalog's active-gate check.
package gateway

import (
	"fmt"
	"sync"

	"github.com/streamspace/pluginrt/internal/catalog"
)

// Func is a gateway-callable function. args is caller-supplied, free-form;
// the runtime does not constrain function signatures.
type Func func(args map[string]interface{}) (interface{}, error)

// entry pairs a callback with the plugin id that gates it. A zero
// pluginID marks an "unwrapped" framework-internal function: internal
// functions may be registered without a gate.
type entry struct {
	pluginID string
	fn       Func
}

// Gateway is the global named-function registry.
type Gateway struct {
	mu      sync.RWMutex
	funcs   map[string]entry
	catalog *catalog.Catalog
}

// New creates a Gateway whose gate checks run against cat.
func New(cat *catalog.Catalog) *Gateway {
	return &Gateway{funcs: make(map[string]entry), catalog: cat}
}

// Define registers name as callable, gated on pluginID's active state.
// Re-defining name overwrites the previous registration, matching the
// teacher's idempotent handler-registration pattern.
func (g *Gateway) Define(pluginID, name string, fn Func) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.funcs[name] = entry{pluginID: pluginID, fn: fn}
}

// DefineInternal registers a framework-internal function with no plugin
// gate: it runs regardless of any plugin's active state.
func (g *Gateway) DefineInternal(name string, fn Func) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.funcs[name] = entry{fn: fn}
}

// Undefine removes a registered function.
func (g *Gateway) Undefine(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.funcs, name)
}

// List returns every registered function name.
func (g *Gateway) List() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.funcs))
	for name := range g.funcs {
		out = append(out, name)
	}
	return out
}

// ErrUndefined is returned when Run is called for a name with no
// registration.
type ErrUndefined struct{ Name string }

func (e ErrUndefined) Error() string { return fmt.Sprintf("gateway: %s is not defined", e.Name) }

// Run invokes the named function, gated on its owning plugin's active
// state. Unwrapped/internal functions run unconditionally.
func (g *Gateway) Run(name string, args map[string]interface{}) (interface{}, error) {
	g.mu.RLock()
	e, ok := g.funcs[name]
	g.mu.RUnlock()
	if !ok {
		return nil, ErrUndefined{Name: name}
	}

	if e.pluginID == "" {
		return e.fn(args)
	}

	var result interface{}
	err := g.catalog.Gate(e.pluginID, func() error {
		var callErr error
		result, callErr = e.fn(args)
		return callErr
	})
	return result, err
}
