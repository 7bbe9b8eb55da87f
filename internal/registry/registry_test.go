package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	id, value string
}

func (i item) EntryID() string { return i.id }

func TestCleanModeReplacesOnDuplicate(t *testing.T) {
	r := New[item]("test", Clean)
	require.NoError(t, r.Register(item{id: "a", value: "v1"}))
	require.NoError(t, r.Register(item{id: "a", value: "v2"}))

	list := r.List()
	require.Len(t, list, 1)
	assert.Equal(t, "v2", list[0].value)
}

func TestHistoryModeKeepsAll(t *testing.T) {
	r := New[item]("test", History)
	require.NoError(t, r.Register(item{id: "a", value: "v1"}))
	require.NoError(t, r.Register(item{id: "a", value: "v2"}))

	list := r.List()
	require.Len(t, list, 2)
}

func TestProtectedRejectsUnregister(t *testing.T) {
	r := New[item]("test", Clean)
	require.NoError(t, r.Register(item{id: "a"}))
	r.Protect("a")

	err := r.Unregister("a")
	require.Error(t, err)
	assert.True(t, r.IsRegistered("a"))

	r.Unprotect("a")
	require.NoError(t, r.Unregister("a"))
	assert.False(t, r.IsRegistered("a"))
}

func TestBannedIDRejectedAtRegister(t *testing.T) {
	r := New[item]("test", Clean)
	r.Ban("evil")

	err := r.Register(item{id: "evil"})
	require.Error(t, err)
	assert.False(t, r.IsRegistered("evil"))
}

func TestCleanupTruncatesHistoryToCleanView(t *testing.T) {
	r := New[item]("test", History)
	require.NoError(t, r.Register(item{id: "a", value: "v1"}))
	require.NoError(t, r.Register(item{id: "a", value: "v2"}))
	require.Len(t, r.List(), 2)

	r.Cleanup()
	require.Len(t, r.List(), 1)
	assert.Equal(t, "v2", r.List()[0].value)
}
