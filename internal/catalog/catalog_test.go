package catalog

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace/pluginrt/internal/db"
	"github.com/streamspace/pluginrt/internal/hooks"
	"github.com/streamspace/pluginrt/internal/store"
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

func newTestCatalog(t *testing.T) (*Catalog, *hooks.Engine) {
	t.Helper()
	h := hooks.New()
	s := store.New(newMemStore(), h)
	c, err := New("1.2.0", s, h)
	require.NoError(t, err)
	return c, h
}

func TestRegisterRejectsIncompatibleRuntime(t *testing.T) {
	c, _ := newTestCatalog(t)
	err := c.Register(&Plugin{ID: "foo", Version: Version{RuntimeCompat: ">=2.0.0", Plugin: "1.0.0"}}, true, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIncompatible)
}

func TestRegisterRejectsBannedID(t *testing.T) {
	c, _ := newTestCatalog(t)
	c.Ban("evil")
	err := c.Register(&Plugin{ID: "evil", Version: Version{RuntimeCompat: ">=1.0.0", Plugin: "1.0.0"}}, true, false)
	require.ErrorIs(t, err, ErrBanned)
}

func TestStartFiresInstallSchemaActivateForNewActivePlugin(t *testing.T) {
	c, h := newTestCatalog(t)
	var order []string
	for _, name := range []string{"install", "schema", "activate"} {
		name := name
		h.Register(name, func(_ []interface{}, _ *hooks.Context) error {
			order = append(order, name)
			return nil
		}, 0, "", "")
	}

	require.NoError(t, c.Register(&Plugin{ID: "foo", Version: Version{RuntimeCompat: ">=1.0.0", Plugin: "1.0.0"}}, true, false))
	require.NoError(t, c.Start(map[string]interface{}{}))

	assert.Equal(t, []string{"install", "schema", "activate"}, order)
	assert.True(t, c.IsActive("foo"))
}

func TestStartDoesNotFireInstallForInactiveNewPlugin(t *testing.T) {
	c, h := newTestCatalog(t)
	fired := false
	h.Register("install", func(_ []interface{}, _ *hooks.Context) error {
		fired = true
		return nil
	}, 0, "", "")

	require.NoError(t, c.Register(&Plugin{ID: "foo", Version: Version{RuntimeCompat: ">=1.0.0", Plugin: "1.0.0"}}, false, false))
	require.NoError(t, c.Start(map[string]interface{}{}))

	assert.False(t, fired)
	assert.False(t, c.IsActive("foo"))
}

func TestPersistedRowOverridesCachedDefaultOnReboot(t *testing.T) {
	ms := newMemStore()
	h := hooks.New()
	s := store.New(ms, h)

	c, err := New("1.2.0", s, h)
	require.NoError(t, err)
	require.NoError(t, c.Register(&Plugin{ID: "foo", Version: Version{RuntimeCompat: ">=1.0.0", Plugin: "1.0.0"}}, true, false))
	require.NoError(t, c.Start(map[string]interface{}{}))
	require.NoError(t, c.Deactivate("foo", map[string]interface{}{}))
	require.False(t, c.IsActive("foo"))

	// Simulate a fresh boot: new catalog instance, same underlying store,
	// plugin code still declares active=true as its default.
	c2, err := New("1.2.0", s, hooks.New())
	require.NoError(t, err)
	require.NoError(t, c2.Register(&Plugin{ID: "foo", Version: Version{RuntimeCompat: ">=1.0.0", Plugin: "1.0.0"}}, true, false))
	require.NoError(t, c2.Start(map[string]interface{}{}))

	assert.False(t, c2.IsActive("foo"))
}

func TestActivateFiresSchemaAndActivateOnce(t *testing.T) {
	c, h := newTestCatalog(t)
	require.NoError(t, c.Register(&Plugin{ID: "foo", Version: Version{RuntimeCompat: ">=1.0.0", Plugin: "1.0.0"}}, false, false))
	require.NoError(t, c.Start(map[string]interface{}{}))

	var fired []string
	h.Register("schema", func(_ []interface{}, _ *hooks.Context) error {
		fired = append(fired, "schema")
		return nil
	}, 0, "", "")
	h.Register("activate", func(_ []interface{}, _ *hooks.Context) error {
		fired = append(fired, "activate")
		return nil
	}, 0, "", "")

	require.NoError(t, c.Activate("foo", map[string]interface{}{}))
	assert.Equal(t, []string{"schema", "activate"}, fired)
	assert.True(t, c.IsActive("foo"))
}

func TestUpdateFiresOnVersionIncrease(t *testing.T) {
	c, h := newTestCatalog(t)
	require.NoError(t, c.Register(&Plugin{ID: "foo", Version: Version{RuntimeCompat: ">=1.0.0", Plugin: "1.0.0"}}, true, false))
	require.NoError(t, c.Start(map[string]interface{}{}))

	var gotOld *Plugin
	h.Register("update", func(params []interface{}, _ *hooks.Context) error {
		if len(params) == 3 {
			gotOld, _ = params[2].(*Plugin)
		}
		return nil
	}, 0, "", "")

	require.NoError(t, c.Register(&Plugin{ID: "foo", Version: Version{RuntimeCompat: ">=1.0.0", Plugin: "2.0.0"}}, true, false))
	require.NoError(t, c.Start(map[string]interface{}{}))

	require.NotNil(t, gotOld)
	assert.Equal(t, "1.0.0", gotOld.Version.Plugin)
}

func TestDeleteRejectsBuiltIn(t *testing.T) {
	c, _ := newTestCatalog(t)
	require.NoError(t, c.Register(&Plugin{ID: "core", Version: Version{RuntimeCompat: ">=1.0.0", Plugin: "1.0.0"}}, true, true))
	require.NoError(t, c.Start(map[string]interface{}{}))

	err := c.Delete("core", map[string]interface{}{})
	assert.ErrorIs(t, err, ErrBuiltIn)
}

func TestDeleteFiresDeactivateThenUninstall(t *testing.T) {
	c, h := newTestCatalog(t)
	require.NoError(t, c.Register(&Plugin{ID: "foo", Version: Version{RuntimeCompat: ">=1.0.0", Plugin: "1.0.0"}}, true, false))
	require.NoError(t, c.Start(map[string]interface{}{}))

	var order []string
	h.Register("deactivate", func(_ []interface{}, _ *hooks.Context) error {
		order = append(order, "deactivate")
		return nil
	}, 0, "", "")
	h.Register("uninstall", func(_ []interface{}, _ *hooks.Context) error {
		order = append(order, "uninstall")
		return nil
	}, 0, "", "")

	require.NoError(t, c.Delete("foo", map[string]interface{}{}))
	assert.Equal(t, []string{"deactivate", "uninstall"}, order)
	_, ok := c.Get("foo")
	assert.False(t, ok)
}

func TestGateRejectsInactivePlugin(t *testing.T) {
	c, _ := newTestCatalog(t)
	require.NoError(t, c.Register(&Plugin{ID: "foo", Version: Version{RuntimeCompat: ">=1.0.0", Plugin: "1.0.0"}}, false, false))
	require.NoError(t, c.Start(map[string]interface{}{}))

	called := false
	err := c.Gate("foo", func() error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, "Plugin: foo is not active.", err.Error())
	assert.False(t, called)
}

func TestMigrationsRunInAscendingOrderOnUpdate(t *testing.T) {
	c, h := newTestCatalog(t)
	require.NoError(t, c.Register(&Plugin{ID: "foo", Version: Version{RuntimeCompat: ">=1.0.0", Plugin: "1.0.0"}}, true, false))
	require.NoError(t, c.Start(map[string]interface{}{}))

	var ran []string
	RegisterMigrations(h, "foo", map[string]Migration{
		"3.0.0": {Migrate: func(_ *Plugin, _ map[string]interface{}, _ *Plugin) error {
			ran = append(ran, "3.0.0")
			return nil
		}},
		"2.0.0": {Migrate: func(_ *Plugin, _ map[string]interface{}, _ *Plugin) error {
			ran = append(ran, "2.0.0")
			return nil
		}},
	})

	require.NoError(t, c.Register(&Plugin{ID: "foo", Version: Version{RuntimeCompat: ">=1.0.0", Plugin: "3.0.0"}}, true, false))
	require.NoError(t, c.Start(map[string]interface{}{}))

	assert.Equal(t, []string{"2.0.0", "3.0.0"}, ran)
}
