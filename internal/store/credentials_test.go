package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCredentialsStore_DefaultIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")

	c, err := NewCredentialsStore(path)
	require.NoError(t, err)

	snap := c.Snapshot()
	require.Equal(t, "", snap.Username)
	require.Nil(t, snap.Token)
}

func TestCredentialsStore_UpdateAndSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	c, err := NewCredentialsStore(path)
	require.NoError(t, err)

	token := "abc123"
	require.NoError(t, c.Update(func(v *Credentials) error {
		v.Username = "alice"
		v.Token = &token
		return nil
	}))

	snap := c.Snapshot()
	require.Equal(t, "alice", snap.Username)
	require.NotNil(t, snap.Token)
	require.Equal(t, token, *snap.Token)
}
