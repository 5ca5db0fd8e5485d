// Package sdk implements the eight-operation façade (spec.md §4.7) that
// internal/ipc exposes over REST: it is a thin, cheaply-clonable handle
// onto the credentials store, the thing registry, and the cloud's things
// API — all mutation is delegated to those, so the façade itself holds no
// locks of its own.
package sdk

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"thinghub/internal/store"
	"thinghub/internal/thing"
)

// SDK is the façade handle. Copy it freely; every field is a pointer or
// interface.
type SDK struct {
	creds    *store.CredentialsStore
	registry *thing.Registry
	auth     AuthAPI
	things   thing.ThingsAPI
	logger   *zap.Logger
}

// AuthAPI is the subset of the cloud auth surface the façade itself needs
// (Login + Check; Refresh belongs to internal/auth's background task).
type AuthAPI interface {
	Login(ctx context.Context, username, password string) (token string, err error)
	Check(ctx context.Context, token string) error
}

// New builds an SDK façade.
func New(creds *store.CredentialsStore, registry *thing.Registry, auth AuthAPI, things thing.ThingsAPI, logger *zap.Logger) *SDK {
	return &SDK{creds: creds, registry: registry, auth: auth, things: things, logger: logger}
}

// CheckToken reports the stored username and whether its token (if any) is
// still accepted by the cloud.
func (s *SDK) CheckToken(ctx context.Context) (username string, valid bool, err error) {
	creds := s.creds.Snapshot()
	if creds.Token == nil {
		return creds.Username, false, nil
	}
	valid = s.auth.Check(ctx, *creds.Token) == nil
	return creds.Username, valid, nil
}

// Login exchanges credentials for a bearer token and stores both. The
// password itself is never persisted.
func (s *SDK) Login(ctx context.Context, username, password string) error {
	token, err := s.auth.Login(ctx, username, password)
	if err != nil {
		return fmt.Errorf("sdk: login failed: %w", err)
	}
	return s.creds.Update(func(c *store.Credentials) error {
		c.Username = username
		c.Token = &token
		return nil
	})
}

// Logout clears stored credentials and unpairs every thing.
func (s *SDK) Logout() error {
	if err := s.creds.Update(func(c *store.Credentials) error {
		c.Username = ""
		c.Token = nil
		return nil
	}); err != nil {
		return err
	}
	return s.registry.UnpairAll()
}

// CreateThing registers a new thing request, failing on a duplicate
// serial number.
func (s *SDK) CreateThing(req thing.ThingRequest) error {
	if err := s.registry.AddThing(req); err != nil {
		return fmt.Errorf("sdk: failed to add thing: %w", err)
	}
	return nil
}

// DeleteThingBySerial removes a thing from the cloud. The thing must
// already be unpaired locally; a cloud-side 404 is treated as success.
func (s *SDK) DeleteThingBySerial(ctx context.Context, serial string) error {
	if s.registry.ContainsSerial(serial) {
		return fmt.Errorf("sdk: device must be unpaired before deletion")
	}

	creds := s.creds.Snapshot()
	if creds.Token == nil {
		return fmt.Errorf("sdk: no token, cannot delete. please log in")
	}

	t, err := s.things.GetThingBySerial(ctx, *creds.Token, serial)
	if err != nil {
		return fmt.Errorf("sdk: failed to look up thing: %w", err)
	}
	if t == nil {
		return nil
	}

	if err := s.things.DeleteThing(ctx, *creds.Token, t.ID); err != nil {
		if errors.Is(err, thing.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("sdk: failed to delete thing: %w", err)
	}
	return nil
}

// UnpairThingBySerial unpairs a locally managed thing. Unpairing an
// unknown serial is not an error — it is logged and ignored, matching the
// original's "respond OK to bad unpair requests" behavior.
func (s *SDK) UnpairThingBySerial(serial string) error {
	if err := s.registry.Unpair(serial); err != nil {
		s.logger.Warn("unpairing unknown device", zap.String("serial", serial), zap.Error(err))
	}
	return nil
}

// SendMessages enqueues messages from a thing to be published to the
// cloud.
func (s *SDK) SendMessages(serial string, messages []thing.Message) error {
	return s.registry.Send(serial, messages)
}

// ReceiveMessages drains every message queued from the cloud for a thing.
func (s *SDK) ReceiveMessages(serial string) ([]thing.Message, error) {
	return s.registry.Receive(serial)
}
