package storage

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace/pluginrt/internal/hooks"
)

type fakeAdapter struct{ tag string }

func (f *fakeAdapter) ValidateFilename(string) error        { return nil }
func (f *fakeAdapter) CreateFile(string, []byte) error      { return nil }
func (f *fakeAdapter) DeleteFile(string) error               { return nil }
func (f *fakeAdapter) GetFileData(string) ([]byte, error)    { return []byte(f.tag), nil }
func (f *fakeAdapter) GetFileLocation(string) (string, error) { return f.tag, nil }
func (f *fakeAdapter) HandleFileStream(name string, w io.Writer) error {
	_, err := w.Write([]byte(f.tag))
	return err
}

func TestDefaultAdapterServesWhenNothingActive(t *testing.T) {
	s := &Storage{def: &fakeAdapter{tag: "default"}, current: nil}
	s.current = s.def

	loc, err := s.Current().GetFileLocation("x")
	require.NoError(t, err)
	assert.Equal(t, "default", loc)
}

func TestActivatingPluginTakesOverAdapter(t *testing.T) {
	h := hooks.New()
	s := &Storage{def: &fakeAdapter{tag: "default"}}
	s.current = s.def
	s.Register(h, "s3-plugin", 0, &fakeAdapter{tag: "s3"})

	h.Run("activate", "s3-plugin")
	loc, _ := s.Current().GetFileLocation("x")
	assert.Equal(t, "s3", loc)
	assert.Equal(t, "s3-plugin", s.CurrentOwner())
}

func TestDeactivatingOwnerRevertsToDefault(t *testing.T) {
	h := hooks.New()
	s := &Storage{def: &fakeAdapter{tag: "default"}}
	s.current = s.def
	s.Register(h, "s3-plugin", 0, &fakeAdapter{tag: "s3"})

	h.Run("activate", "s3-plugin")
	h.Run("deactivate", "s3-plugin")

	loc, _ := s.Current().GetFileLocation("x")
	assert.Equal(t, "default", loc)
	assert.Equal(t, "", s.CurrentOwner())
}

func TestLowestOrderActiveRegistrationWins(t *testing.T) {
	h := hooks.New()
	s := &Storage{def: &fakeAdapter{tag: "default"}}
	s.current = s.def
	s.Register(h, "low-priority", 500, &fakeAdapter{tag: "low"})
	s.Register(h, "high-priority", -500, &fakeAdapter{tag: "high"})

	h.Run("activate", "low-priority")
	h.Run("activate", "high-priority")

	loc, _ := s.Current().GetFileLocation("x")
	assert.Equal(t, "high", loc)
}

func TestHandleFileStreamWritesCurrentAdapterBytes(t *testing.T) {
	s := &Storage{def: &fakeAdapter{tag: "default"}}
	s.current = s.def

	var buf bytes.Buffer
	require.NoError(t, s.Current().HandleFileStream("x", &buf))
	assert.Equal(t, "default", buf.String())
}
