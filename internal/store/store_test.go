package store

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace/pluginrt/internal/db"
	"github.com/streamspace/pluginrt/internal/hooks"
)

type memStore struct {
	rows map[string]map[string]*db.Object
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]map[string]*db.Object)}
}

func (m *memStore) GetObject(className, id string) (*db.Object, error) {
	if class, ok := m.rows[className]; ok {
		if obj, ok := class[id]; ok {
			return obj, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memStore) SaveObject(obj *db.Object) error {
	if _, ok := m.rows[obj.ClassName]; !ok {
		m.rows[obj.ClassName] = make(map[string]*db.Object)
	}
	m.rows[obj.ClassName][obj.ObjectID] = obj
	return nil
}

func (m *memStore) DeleteObject(className, id string) error {
	delete(m.rows[className], id)
	return nil
}

func (m *memStore) Query(className string) ([]*db.Object, error) {
	var out []*db.Object
	for _, obj := range m.rows[className] {
		out = append(out, obj)
	}
	return out, nil
}

func TestSaveFiresChainInOrder(t *testing.T) {
	h := hooks.New()
	var order []string
	record := func(name string) hooks.Callback {
		return func(_ []interface{}, _ *hooks.Context) error {
			order = append(order, name)
			return nil
		}
	}
	h.Register("before-save", record("before-save"), 0, "", "")
	h.Register("before-save-Article", record("before-save-Article"), 0, "", "")
	h.Register("after-save", record("after-save"), 0, "", "")
	h.Register("after-save-Article", record("after-save-Article"), 0, "", "")

	s := New(newMemStore(), h)
	err := s.Save(&db.Object{ClassName: "Article", ObjectID: "1", Data: map[string]interface{}{"title": "hi"}}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"before-save", "before-save-Article", "after-save", "after-save-Article"}, order)
}

func TestSaveFiresContentVariantForContentPrefixedClass(t *testing.T) {
	h := hooks.New()
	var fired bool
	h.Register("before-save-content", func(_ []interface{}, _ *hooks.Context) error {
		fired = true
		return nil
	}, 0, "", "")

	s := New(newMemStore(), h)
	require.NoError(t, s.Save(&db.Object{ClassName: "content_page", ObjectID: "1", Data: map[string]interface{}{}}, nil))
	assert.True(t, fired)
}

func TestSaveSkipsContentVariantForNonContentClass(t *testing.T) {
	h := hooks.New()
	var fired bool
	h.Register("before-save-content", func(_ []interface{}, _ *hooks.Context) error {
		fired = true
		return nil
	}, 0, "", "")

	s := New(newMemStore(), h)
	require.NoError(t, s.Save(&db.Object{ClassName: "Article", ObjectID: "1", Data: map[string]interface{}{}}, nil))
	assert.False(t, fired)
}

func TestDestroyFiresBeforeAndAfterDelete(t *testing.T) {
	h := hooks.New()
	var order []string
	h.Register("before-delete", func(_ []interface{}, _ *hooks.Context) error {
		order = append(order, "before")
		return nil
	}, 0, "", "")
	h.Register("after-delete", func(_ []interface{}, _ *hooks.Context) error {
		order = append(order, "after")
		return nil
	}, 0, "", "")

	ms := newMemStore()
	require.NoError(t, ms.SaveObject(&db.Object{ClassName: "Article", ObjectID: "1", Data: map[string]interface{}{}}))

	s := New(ms, h)
	require.NoError(t, s.Destroy("Article", "1"))
	assert.Equal(t, []string{"before", "after"}, order)

	_, err := ms.GetObject("Article", "1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}
