// Package store implements the data-store trigger interception layer from
// spec.md §4.3.3: every save/destroy against the document store fires a
// before/after hook chain, with class-specific and content-family variants.
//
// Grounded on the teacher's db.Database wrapper (internal/db) plumbed
// through the universal hook engine instead of ad hoc callbacks. The
// catalog saves and deletes its Plugin rows through this layer, so these
// triggers fire for them too; the catalog's lifecycle hooks (§4.2) are
// fired by the catalog itself, not by these interceptors.
package store

import (
	"strings"

	"github.com/streamspace/pluginrt/internal/db"
	"github.com/streamspace/pluginrt/internal/hooks"
)

// Request carries the object, call options, and free-form context that
// spec.md §4.3.3 says the req-like trigger argument must expose.
type Request struct {
	Object  *db.Object
	Options map[string]interface{}
	Context map[string]interface{}
}

// ObjectStore is the persistence surface Store needs. *db.Database
// satisfies it; tests substitute an in-memory fake instead of standing up
// PostgreSQL.
type ObjectStore interface {
	GetObject(className, id string) (*db.Object, error)
	SaveObject(obj *db.Object) error
	DeleteObject(className, id string) error
	Query(className string) ([]*db.Object, error)
}

// Store wraps an ObjectStore so Save/Destroy fire the before/after chains.
type Store struct {
	db ObjectStore
	h  *hooks.Engine
}

// New wraps database with hook-fired Save/Destroy.
func New(database ObjectStore, engine *hooks.Engine) *Store {
	return &Store{db: database, h: engine}
}

const contentPrefix = "content_"

// isContentClass mirrors spec.md's "class name begins with content_" rule
// as an explicit predicate, replacing the teacher's reflection-driven class
// name dispatch with a typed check (per the REDESIGN FLAGS in spec.md §9).
func isContentClass(className string) bool {
	return strings.HasPrefix(className, contentPrefix)
}

// Save fires before-save -> before-save-<ClassName> -> [before-save-content]
// -> the write -> after-save -> after-save-<ClassName> -> [after-save-content].
func (s *Store) Save(obj *db.Object, options map[string]interface{}) error {
	req := &Request{Object: obj, Options: options, Context: map[string]interface{}{}}

	s.h.Run("before-save", req)
	s.h.Run("before-save-"+obj.ClassName, req)
	if isContentClass(obj.ClassName) {
		s.h.Run("before-save-content", req)
	}

	if err := s.db.SaveObject(obj); err != nil {
		return err
	}

	s.h.Run("after-save", req)
	s.h.Run("after-save-"+obj.ClassName, req)
	if isContentClass(obj.ClassName) {
		s.h.Run("after-save-content", req)
	}
	return nil
}

// Destroy fires the symmetric before-delete/after-delete chain.
func (s *Store) Destroy(className, id string) error {
	req := &Request{
		Object:  &db.Object{ClassName: className, ObjectID: id},
		Options: map[string]interface{}{},
		Context: map[string]interface{}{},
	}

	s.h.Run("before-delete", req)
	s.h.Run("before-delete-"+className, req)
	if isContentClass(className) {
		s.h.Run("before-delete-content", req)
	}

	if err := s.db.DeleteObject(className, id); err != nil {
		return err
	}

	s.h.Run("after-delete", req)
	s.h.Run("after-delete-"+className, req)
	if isContentClass(className) {
		s.h.Run("after-delete-content", req)
	}
	return nil
}

// Get is a pass-through read (triggers apply only to writes, per spec.md §4.3.3).
func (s *Store) Get(className, id string) (*db.Object, error) {
	return s.db.GetObject(className, id)
}

// Query is a pass-through read-all for a class.
func (s *Store) Query(className string) ([]*db.Object, error) {
	return s.db.Query(className)
}
