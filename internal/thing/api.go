package thing

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned by ThingsAPI.DeleteThing when the cloud has no
// record of the thing in question.
var ErrNotFound = errors.New("thing: not found")

// ThingsAPI is the cloud's registry of things. The state machine in
// state.go depends only on this interface; internal/cloudapi supplies the
// real net/http-backed implementation, and tests supply in-process fakes.
type ThingsAPI interface {
	// GetThingBySerial returns (nil, nil) if no thing is registered under
	// serial, or (nil, err) on transport failure.
	GetThingBySerial(ctx context.Context, token, serial string) (*Thing, error)

	// CreateThing registers a new thing and returns its cloud identity
	// plus provisioned certificates.
	CreateThing(ctx context.Context, token string, req ThingRequest) (Thing, error)

	// DeleteThing removes a thing by id. Returns ErrNotFound if the cloud
	// already has no record of it.
	DeleteThing(ctx context.Context, token string, id uuid.UUID) error

	// GetThingTypeResources resolves the pub/sub resource list declared by
	// a thing type.
	GetThingTypeResources(ctx context.Context, token string, thingTypeUUID uuid.UUID) ([]Resource, error)
}
