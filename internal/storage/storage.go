// Package storage implements the storage adapter proxy from spec.md §4.7:
// a swappable file-backend interface, defaulting to the database-blob
// adapter, that a plugin can take over at activation and that, on
// deactivation, falls back to the next active registration or the default.
//
// Grounded on the teacher's internal/db/database.go for the default
// blob-in-Postgres adapter, and on internal/plugins/runtime.go's
// OnEnable/OnDisable lifecycle pairing for the activate/deactivate takeover
// semantics, here driven through the hook engine's activate/deactivate
// hooks instead of a plugin-interface method.
package storage

import (
	"fmt"
	"io"
	"sync"

	"github.com/streamspace/pluginrt/internal/db"
	"github.com/streamspace/pluginrt/internal/hooks"
)

// Adapter is the pluggable file-backend surface spec.md §4.7 names.
type Adapter interface {
	CreateFile(name string, data []byte) error
	DeleteFile(name string) error
	GetFileData(name string) ([]byte, error)
	GetFileLocation(name string) (string, error)
	ValidateFilename(name string) error
	HandleFileStream(name string, w io.Writer) error
}

// registration is one candidate adapter competing for the active slot.
type registration struct {
	pluginID string
	order    int
	adapter  Adapter
	active   bool
}

// Storage holds the current active adapter plus the registrations
// competing for that slot. The lowest-order active registration wins;
// deactivating it reverts to the next-lowest active registration, or to
// the default database adapter if none remain.
type Storage struct {
	mu        sync.RWMutex
	regs      []*registration
	def       Adapter
	current   Adapter
	currentID string
}

// New creates a Storage whose default adapter is the database-blob
// adapter backed by database.
func New(database *db.Database) *Storage {
	def := &dbAdapter{db: database}
	return &Storage{def: def, current: def}
}

// Register wires installer as a candidate file adapter for pluginID at
// order, and subscribes its takeover to that plugin's activate/deactivate
// lifecycle hooks. Both hooks are registered in pluginID's hook domain, so
// hooks.Engine.UnregisterDomain with that domain removes them.
func (s *Storage) Register(h *hooks.Engine, pluginID string, order int, installer Adapter) {
	reg := &registration{pluginID: pluginID, order: order, adapter: installer}

	s.mu.Lock()
	s.regs = append(s.regs, reg)
	s.mu.Unlock()

	h.Register("activate", func(params []interface{}, _ *hooks.Context) error {
		if !matchesPlugin(params, pluginID) {
			return nil
		}
		s.setActive(reg, true)
		return nil
	}, order, "", pluginID)

	h.Register("deactivate", func(params []interface{}, _ *hooks.Context) error {
		if !matchesPlugin(params, pluginID) {
			return nil
		}
		s.setActive(reg, false)
		return nil
	}, order, "", pluginID)
}

// matchesPlugin reads the plugin id from the first hook parameter: either
// a plain string, or any value with a GetID() string method (such as
// *catalog.Plugin, duck-typed to avoid an import cycle with
// internal/catalog). Storage only needs the id, not the full Plugin value.
func matchesPlugin(params []interface{}, pluginID string) bool {
	if len(params) == 0 {
		return false
	}
	if id, ok := params[0].(string); ok {
		return id == pluginID
	}
	if named, ok := params[0].(interface{ GetID() string }); ok {
		return named.GetID() == pluginID
	}
	return false
}

func (s *Storage) setActive(reg *registration, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg.active = active
	s.recomputeLocked()
}

func (s *Storage) recomputeLocked() {
	var best *registration
	for _, r := range s.regs {
		if !r.active {
			continue
		}
		if best == nil || r.order < best.order {
			best = r
		}
	}
	if best != nil {
		s.current = best.adapter
		s.currentID = best.pluginID
	} else {
		s.current = s.def
		s.currentID = ""
	}
}

// Current returns the adapter currently serving file operations.
func (s *Storage) Current() Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// CurrentOwner returns the plugin id that installed the active adapter,
// or "" if the default database adapter is serving.
func (s *Storage) CurrentOwner() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentID
}

// dbAdapter is the default adapter: files live as byte blobs in the same
// generic object store every other document lives in, keyed under the
// "File" class.
type dbAdapter struct {
	db *db.Database
}

const fileClass = "File"

func (a *dbAdapter) ValidateFilename(name string) error {
	if name == "" {
		return fmt.Errorf("storage: filename is required")
	}
	return nil
}

func (a *dbAdapter) CreateFile(name string, data []byte) error {
	if err := a.ValidateFilename(name); err != nil {
		return err
	}
	return a.db.SaveObject(&db.Object{
		ClassName: fileClass,
		ObjectID:  name,
		Data:      map[string]interface{}{"bytes": data},
	})
}

func (a *dbAdapter) DeleteFile(name string) error {
	return a.db.DeleteObject(fileClass, name)
}

func (a *dbAdapter) GetFileData(name string) ([]byte, error) {
	obj, err := a.db.GetObject(fileClass, name)
	if err != nil {
		return nil, err
	}
	raw, ok := obj.Data["bytes"]
	if !ok {
		return nil, fmt.Errorf("storage: %s has no stored bytes", name)
	}
	return toBytes(raw), nil
}

func (a *dbAdapter) GetFileLocation(name string) (string, error) {
	return "db://" + fileClass + "/" + name, nil
}

func (a *dbAdapter) HandleFileStream(name string, w io.Writer) error {
	data, err := a.GetFileData(name)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func toBytes(v interface{}) []byte {
	switch t := v.(type) {
	case []byte:
		return t
	case string:
		return []byte(t)
	default:
		return nil
	}
}
