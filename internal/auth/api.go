// Package auth holds the bearer-token refresher and the interface it
// depends on to reach the cloud's auth service.
package auth

import "context"

// API is the cloud's bearer-token issuer. internal/cloudapi supplies the
// real net/http-backed implementation; tests supply in-process fakes.
type API interface {
	// Login exchanges credentials for a bearer token.
	Login(ctx context.Context, username, password string) (token string, err error)

	// Check validates that token is still accepted by the cloud.
	Check(ctx context.Context, token string) error

	// Refresh exchanges a still-valid token for a new one.
	Refresh(ctx context.Context, token string) (newToken string, err error)
}
