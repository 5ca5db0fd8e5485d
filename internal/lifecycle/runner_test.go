package lifecycle

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"thinghub/internal/metrics"
	"thinghub/internal/store"
	"thinghub/internal/thing"
)

type fakeThingsAPI struct{}

func (f *fakeThingsAPI) GetThingBySerial(_ context.Context, token, serial string) (*thing.Thing, error) {
	return nil, nil
}

func (f *fakeThingsAPI) CreateThing(_ context.Context, token string, req thing.ThingRequest) (thing.Thing, error) {
	return thing.Thing{ID: uuid.New(), SerialNumber: req.SerialNumber}, nil
}

func (f *fakeThingsAPI) DeleteThing(_ context.Context, token string, id uuid.UUID) error { return nil }

func (f *fakeThingsAPI) GetThingTypeResources(_ context.Context, token string, thingTypeUUID uuid.UUID) ([]thing.Resource, error) {
	return nil, nil
}

type fakeConnector struct{}

func (f *fakeConnector) Connect(_ context.Context, meta thing.MetaThing, onMessage func(thing.Message)) (thing.Session, error) {
	return nil, nil
}

type recordingSink struct {
	events []string
}

func (s *recordingSink) Publish(kind, serial, detail string) {
	s.events = append(s.events, kind+":"+serial)
}

func TestRunner_Step_AdvancesThingsAndPublishesEvents(t *testing.T) {
	creds, err := store.NewCredentialsStore(filepath.Join(t.TempDir(), "creds.json"))
	require.NoError(t, err)
	token := "tok"
	require.NoError(t, creds.Update(func(c *store.Credentials) error {
		c.Token = &token
		return nil
	}))

	registry, err := thing.NewRegistry(filepath.Join(t.TempDir(), "registry.json"), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, registry.AddThing(thing.ThingRequest{SerialNumber: "sn1"}))

	metricsReg := metrics.New(prometheus.NewRegistry())
	sink := &recordingSink{}

	r := NewRunner(registry, creds, &fakeThingsAPI{}, &fakeConnector{}, thing.CareConfig{ASCIIOnlyPublish: true}, zap.NewNop(), metricsReg, sink, time.Millisecond)

	r.step(context.Background())

	require.Len(t, sink.events, 1)
	require.Equal(t, "gathering_metadata:sn1", sink.events[0])
}
