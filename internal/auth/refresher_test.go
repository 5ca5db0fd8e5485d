package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"thinghub/internal/store"
)

type fakeAuthAPI struct {
	refreshErr   error
	refreshCalls int
	newToken     string
}

func (f *fakeAuthAPI) Login(ctx context.Context, username, password string) (string, error) {
	return "", nil
}

func (f *fakeAuthAPI) Check(ctx context.Context, token string) error { return nil }

func (f *fakeAuthAPI) Refresh(ctx context.Context, token string) (string, error) {
	f.refreshCalls++
	if f.refreshErr != nil {
		return "", f.refreshErr
	}
	return f.newToken, nil
}

func newTestCreds(t *testing.T) *store.CredentialsStore {
	t.Helper()
	c, err := store.NewCredentialsStore(filepath.Join(t.TempDir(), "creds.json"))
	require.NoError(t, err)
	return c
}

func TestRefresher_NoTokenYet_WaitsRetryInterval(t *testing.T) {
	creds := newTestCreds(t)
	api := &fakeAuthAPI{}
	r := NewRefresher(creds, api, zap.NewNop(), nil, time.Hour, time.Minute)

	wait := r.tick(context.Background())
	require.Equal(t, time.Minute, wait)
	require.Zero(t, api.refreshCalls)
}

func TestRefresher_SuccessfulRefresh_StoresNewTokenAndWaitsSuccessInterval(t *testing.T) {
	creds := newTestCreds(t)
	old := "old-token"
	require.NoError(t, creds.Update(func(c *store.Credentials) error {
		c.Token = &old
		return nil
	}))

	api := &fakeAuthAPI{newToken: "new-token"}
	r := NewRefresher(creds, api, zap.NewNop(), nil, time.Hour, time.Minute)

	wait := r.tick(context.Background())
	require.Equal(t, time.Hour, wait)

	snap := creds.Snapshot()
	require.Equal(t, "new-token", *snap.Token)
}

func TestRefresher_FailedRefresh_LeavesTokenInPlaceAndWaitsRetryInterval(t *testing.T) {
	creds := newTestCreds(t)
	old := "old-token"
	require.NoError(t, creds.Update(func(c *store.Credentials) error {
		c.Token = &old
		return nil
	}))

	api := &fakeAuthAPI{refreshErr: errors.New("network down")}
	r := NewRefresher(creds, api, zap.NewNop(), nil, time.Hour, time.Minute)

	wait := r.tick(context.Background())
	require.Equal(t, time.Minute, wait)

	snap := creds.Snapshot()
	require.Equal(t, old, *snap.Token, "a rejected/failed refresh must not clear the stored token")
}
