package store

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type doc struct {
	Count int `json:"count"`
}

func TestNew_MissingFileCreatesZeroValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")

	s, err := New[doc](path)
	require.NoError(t, err)

	var got doc
	s.Read(func(v doc) { got = v })
	require.Equal(t, doc{}, got)
}

func TestNew_LoadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")

	s, err := New[doc](path)
	require.NoError(t, err)
	require.NoError(t, s.Update(func(v *doc) error {
		v.Count = 5
		return nil
	}))

	reloaded, err := New[doc](path)
	require.NoError(t, err)
	var got doc
	reloaded.Read(func(v doc) { got = v })
	require.Equal(t, doc{Count: 5}, got)
}

func TestUpdate_RollsBackOnMutatorError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	s, err := New[doc](path)
	require.NoError(t, err)
	require.NoError(t, s.Update(func(v *doc) error {
		v.Count = 1
		return nil
	}))

	boom := errors.New("boom")
	err = s.Update(func(v *doc) error {
		v.Count = 99
		return boom
	})
	require.ErrorIs(t, err, boom)

	var got doc
	s.Read(func(v doc) { got = v })
	require.Equal(t, doc{Count: 1}, got, "failed mutation must not leave a partial write visible")
}

func TestUpdate_PersistsAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	s, err := New[doc](path)
	require.NoError(t, err)

	require.NoError(t, s.Update(func(v *doc) error {
		v.Count = 42
		return nil
	}))

	reloaded, err := New[doc](path)
	require.NoError(t, err)
	var got doc
	reloaded.Read(func(v doc) { got = v })
	require.Equal(t, doc{Count: 42}, got)
}
