// Package hooks implements the universal extension primitive described in
// spec.md §4.1: a named, priority-ordered pipeline of callbacks that every
// other component in the runtime (the catalog, the middleware chain, the
// store trigger layer, the scheduler, the search coordinator) dispatches
// through instead of calling each other directly.
//
// The shape is grounded on the teacher's EventBus (internal/plugins/event_bus.go):
// a name-keyed map of subscriber lists, dispatched sequentially, with
// panics/errors recovered so one misbehaving plugin cannot take down the
// dispatch loop. Hooks generalize that into a priority-ordered, two-kind
// (sync/async) bucket per name, plus a domain tag for bulk unregistration.
package hooks

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/streamspace/pluginrt/internal/logger"
)

// Kind distinguishes synchronous from asynchronous dispatch chains.
type Kind int

const (
	Async Kind = iota
	Sync
)

// Priority band convention from spec.md §4.1. These are conventions only;
// any int is a valid order.
const (
	PriorityCore    = -2000
	PriorityHighest = -1000
	PriorityHigh    = -500
	PriorityNeutral = 0
	PriorityLow     = 500
	PriorityLowest  = 1000
)

// Callback is the signature every registered hook implements. params is
// whatever the dispatcher passed to Run/RunSync; ctx is the shared,
// mutable dispatch context later callbacks in the same chain will observe.
type Callback func(params []interface{}, ctx *Context) error

// Context is passed to every callback in a chain, and to the caller of
// Run/RunSync once dispatch completes. Callbacks may read and write Custom
// to communicate results downstream, per spec.md §4.1's dispatch contract.
type Context struct {
	Hook   string
	Params []interface{}
	Custom map[string]interface{}

	mu     sync.Mutex
	errors []CallbackError
}

// CallbackError records one failed callback's error for the caller's
// introspection without aborting the chain (see spec.md §7).
type CallbackError struct {
	ID    string
	Error error
}

// addError records a failed callback; safe for concurrent goroutines,
// although async dispatch in this engine runs chains sequentially.
func (c *Context) addError(id string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, CallbackError{ID: id, Error: err})
}

// Errors returns the callbacks that failed during this dispatch, in the
// order they ran.
func (c *Context) Errors() []CallbackError {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CallbackError, len(c.errors))
	copy(out, c.errors)
	return out
}

// declaration is an immutable registration record (spec.md §3 HookDeclaration).
type declaration struct {
	id       string
	order    int
	seq      uint64
	domain   string
	callback Callback
}

// Engine is a HookBucket: hookName -> kind -> {id -> declaration}, with the
// secondary id->path index and tertiary (name,domain)->set<id> index spec.md
// §3 requires for O(1) unregister and bulk-by-domain operations.
type Engine struct {
	mu sync.RWMutex

	buckets map[string]map[Kind]map[string]*declaration
	byID    map[string]idLocation // secondary index: id -> (name, kind)
	byDomain map[string]map[string]map[string]struct{} // name -> domain -> set<id>
	nextSeq  uint64 // monotonic registration counter, the insertion-order tiebreaker for sorted()
}

type idLocation struct {
	name string
	kind Kind
}

// New creates an empty hook engine.
func New() *Engine {
	return &Engine{
		buckets:  make(map[string]map[Kind]map[string]*declaration),
		byID:     make(map[string]idLocation),
		byDomain: make(map[string]map[string]map[string]struct{}),
	}
}

// Register adds an async hook and returns its id. If id is empty, a new
// uuid is generated. domain defaults to "default".
func (e *Engine) Register(name string, callback Callback, order int, id, domain string) string {
	return e.register(name, Async, callback, order, id, domain)
}

// RegisterSync is the synchronous equivalent of Register.
func (e *Engine) RegisterSync(name string, callback Callback, order int, id, domain string) string {
	return e.register(name, Sync, callback, order, id, domain)
}

func (e *Engine) register(name string, kind Kind, callback Callback, order int, id, domain string) string {
	if id == "" {
		id = uuid.New().String()
	}
	if domain == "" {
		domain = "default"
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.buckets[name]; !ok {
		e.buckets[name] = make(map[Kind]map[string]*declaration)
	}
	if _, ok := e.buckets[name][kind]; !ok {
		e.buckets[name][kind] = make(map[string]*declaration)
	}
	e.nextSeq++
	e.buckets[name][kind][id] = &declaration{id: id, order: order, seq: e.nextSeq, domain: domain, callback: callback}
	e.byID[id] = idLocation{name: name, kind: kind}

	if _, ok := e.byDomain[name]; !ok {
		e.byDomain[name] = make(map[string]map[string]struct{})
	}
	if _, ok := e.byDomain[name][domain]; !ok {
		e.byDomain[name][domain] = make(map[string]struct{})
	}
	e.byDomain[name][domain][id] = struct{}{}

	return id
}

// Unregister removes a hook by id in O(1), using the secondary index.
func (e *Engine) Unregister(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unregisterLocked(id)
}

func (e *Engine) unregisterLocked(id string) {
	loc, ok := e.byID[id]
	if !ok {
		return
	}
	if bucket, ok := e.buckets[loc.name][loc.kind]; ok {
		if decl, ok := bucket[id]; ok {
			if domains, ok := e.byDomain[loc.name][decl.domain]; ok {
				delete(domains, id)
			}
		}
		delete(bucket, id)
	}
	delete(e.byID, id)
}

// UnregisterDomain removes every hook registered for (name, domain),
// across both sync and async kinds.
func (e *Engine) UnregisterDomain(name, domain string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids, ok := e.byDomain[name][domain]
	if !ok {
		return
	}
	for id := range ids {
		e.unregisterLocked(id)
	}
	delete(e.byDomain[name], domain)
}

// Flush clears every hook registered for (name, kind).
func (e *Engine) Flush(name string, kind Kind) {
	e.mu.Lock()
	defer e.mu.Unlock()

	bucket, ok := e.buckets[name][kind]
	if !ok {
		return
	}
	for id, decl := range bucket {
		if domains, ok := e.byDomain[name][decl.domain]; ok {
			delete(domains, id)
		}
		delete(e.byID, id)
	}
	delete(e.buckets[name], kind)
}

// sorted returns a snapshot of (name, kind)'s declarations, sorted by order
// ascending with ties broken by the seq each declaration was registered
// with — map iteration order is randomized, so order alone cannot decide
// ties between equal-priority hooks.
func (e *Engine) sorted(name string, kind Kind) []*declaration {
	e.mu.RLock()
	defer e.mu.RUnlock()

	bucket, ok := e.buckets[name][kind]
	if !ok {
		return nil
	}
	out := make([]*declaration, 0, len(bucket))
	for _, decl := range bucket {
		out = append(out, decl)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].order != out[j].order {
			return out[i].order < out[j].order
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// List returns the ordered async-registration ids for name, for
// introspection (spec.md §4.1 `list`).
func (e *Engine) List(name string) []string {
	decls := e.sorted(name, Async)
	ids := make([]string, 0, len(decls))
	for _, d := range decls {
		ids = append(ids, d.id)
	}
	return ids
}

// Run dispatches the async chain for name, sequentially, never aborting on
// a callback error: failures are logged and recorded on the context, then
// dispatch continues to completion (spec.md §4.1 "Async orchestration").
func (e *Engine) Run(name string, params ...interface{}) *Context {
	ctx := &Context{Hook: name, Params: params, Custom: make(map[string]interface{})}
	for _, decl := range e.sorted(name, Async) {
		if err := e.invoke(decl, params, ctx); err != nil {
			ctx.addError(decl.id, err)
			logger.Emit("hooks", logger.LevelError, "async hook callback failed",
				map[string]interface{}{"hook": name, "id": decl.id, "error": err.Error()})
		}
	}
	return ctx
}

// RunSync dispatches the synchronous chain for name. Unlike Run, a
// callback error propagates immediately to the caller (spec.md §4.1:
// "sync chains re-throw immediately").
func (e *Engine) RunSync(name string, params ...interface{}) (*Context, error) {
	ctx := &Context{Hook: name, Params: params, Custom: make(map[string]interface{})}
	for _, decl := range e.sorted(name, Sync) {
		if err := e.invoke(decl, params, ctx); err != nil {
			return ctx, fmt.Errorf("hook %s callback %s failed: %w", name, decl.id, err)
		}
	}
	return ctx, nil
}

// invoke recovers callback panics the way the teacher's event bus recovers
// plugin-handler panics, converting them into a regular error so Run can
// log-and-continue and RunSync can propagate a normal error value.
func (e *Engine) invoke(decl *declaration, params []interface{}, ctx *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return decl.callback(params, ctx)
}
