package thing

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeThingsAPI struct {
	existing      *Thing
	existingErr   error
	createErr     error
	created       Thing
	resources     []Resource
	resourcesErr  error
	createCalls   int
	getCalls      int
}

func (f *fakeThingsAPI) GetThingBySerial(ctx context.Context, token, serial string) (*Thing, error) {
	f.getCalls++
	return f.existing, f.existingErr
}

func (f *fakeThingsAPI) CreateThing(ctx context.Context, token string, req ThingRequest) (Thing, error) {
	f.createCalls++
	if f.createErr != nil {
		return Thing{}, f.createErr
	}
	return f.created, nil
}

func (f *fakeThingsAPI) DeleteThing(ctx context.Context, token string, id uuid.UUID) error {
	return nil
}

func (f *fakeThingsAPI) GetThingTypeResources(ctx context.Context, token string, thingTypeUUID uuid.UUID) ([]Resource, error) {
	return f.resources, f.resourcesErr
}

type fakeConnector struct {
	session   *fakeSession
	connErr   error
	connCalls int
	onMessage func(Message)
}

func (f *fakeConnector) Connect(ctx context.Context, meta MetaThing, onMessage func(Message)) (Session, error) {
	f.connCalls++
	if f.connErr != nil {
		return nil, f.connErr
	}
	f.onMessage = onMessage
	return f.session, nil
}

type fakeSession struct {
	published    []Message
	disconnected bool
	certPaths    CertFilePaths
}

func (s *fakeSession) Publish(topic string, payload []byte) error {
	s.published = append(s.published, Message{Topic: topic, Payload: string(payload)})
	return nil
}

func (s *fakeSession) Disconnect() { s.disconnected = true }

func (s *fakeSession) CertFiles() CertFilePaths { return s.certPaths }

func testCare(api ThingsAPI, connector Connector) CarePackage {
	tok := "tok"
	return CarePackage{
		Token:     &tok,
		Config:    CareConfig{ASCIIOnlyPublish: true},
		API:       api,
		Connector: connector,
		Logger:    zap.NewNop(),
	}
}

func TestAdvance_CreatedToGatheringMetadata(t *testing.T) {
	thingID := uuid.New()
	api := &fakeThingsAPI{created: Thing{ID: thingID, SerialNumber: "sn1"}}
	care := testCare(api, &fakeConnector{})

	state := NewCreated(ThingRequest{SerialNumber: "sn1"})
	next, id, err := Advance(context.Background(), state, care, NewMessageChannels(), &SessionHandle{})

	require.NoError(t, err)
	require.Nil(t, id)
	require.Equal(t, KindGatheringMetadata, next.Kind())
	g, _ := next.AsGatheringMetadata()
	require.Equal(t, thingID, g.ID)
	require.Equal(t, 1, api.createCalls)
}

func TestAdvance_CreatedWithNoToken_NoTransition(t *testing.T) {
	api := &fakeThingsAPI{}
	care := testCare(api, &fakeConnector{})
	care.Token = nil

	state := NewCreated(ThingRequest{SerialNumber: "sn1"})
	next, id, err := Advance(context.Background(), state, care, NewMessageChannels(), &SessionHandle{})

	require.NoError(t, err)
	require.Nil(t, id)
	require.Equal(t, KindCreated, next.Kind())
	require.Equal(t, 0, api.createCalls)
}

func TestAdvance_CreateNewThing_LogsAndStillCreatesWhenRemoteAlreadyExists(t *testing.T) {
	existing := &Thing{ID: uuid.New(), SerialNumber: "sn1"}
	created := Thing{ID: uuid.New(), SerialNumber: "sn1"}
	api := &fakeThingsAPI{existing: existing, created: created}
	care := testCare(api, &fakeConnector{})

	state := NewCreated(ThingRequest{SerialNumber: "sn1"})
	next, _, err := Advance(context.Background(), state, care, NewMessageChannels(), &SessionHandle{})

	require.NoError(t, err)
	require.Equal(t, 1, api.getCalls)
	require.Equal(t, 1, api.createCalls, "a duplicate remote record must not block thing creation")
	g, ok := next.AsGatheringMetadata()
	require.True(t, ok)
	require.Equal(t, created.ID, g.ID)
}

func TestAdvance_CreateThingFails_NoTransition(t *testing.T) {
	api := &fakeThingsAPI{createErr: errors.New("network down")}
	care := testCare(api, &fakeConnector{})

	state := NewCreated(ThingRequest{SerialNumber: "sn1"})
	next, id, err := Advance(context.Background(), state, care, NewMessageChannels(), &SessionHandle{})

	require.NoError(t, err)
	require.Nil(t, id)
	require.Equal(t, KindCreated, next.Kind())
}

func TestAdvance_GatheringMetadataToActive(t *testing.T) {
	thingID := uuid.New()
	resources := []Resource{{URI: "demo/sub", Method: MethodSub}}
	api := &fakeThingsAPI{resources: resources}
	care := testCare(api, &fakeConnector{})

	state := NewGatheringMetadata(Thing{ID: thingID, SerialNumber: "sn1"})
	next, id, err := Advance(context.Background(), state, care, NewMessageChannels(), &SessionHandle{})

	require.NoError(t, err)
	require.NotNil(t, id)
	require.Equal(t, thingID, *id)
	active, ok := next.AsActive()
	require.True(t, ok)
	require.Equal(t, resources, active.Resources)
	require.False(t, active.Connected)
}

func TestAdvance_ActiveEstablishesSessionThenPublishes(t *testing.T) {
	sess := &fakeSession{certPaths: CertFilePaths{CA: "/tmp/x.ca.crt", Cert: "/tmp/x.crt", Key: "/tmp/x.key"}}
	connector := &fakeConnector{session: sess}
	api := &fakeThingsAPI{}
	care := testCare(api, connector)

	meta := MetaThing{
		Thing:     Thing{ID: uuid.New(), SerialNumber: "sn1", Certificates: &Certificates{CA: "ca", Cert: "cert", Key: "key"}},
		Resources: []Resource{{URI: "demo/pub", Method: MethodPub}},
	}
	state := NewActive(meta)
	modem := NewMessageChannels()
	session := &SessionHandle{}

	next, id, err := Advance(context.Background(), state, care, modem, session)
	require.NoError(t, err)
	require.Nil(t, id)
	require.Equal(t, 1, connector.connCalls)
	active, _ := next.AsActive()
	require.True(t, active.Connected)
	require.NotNil(t, active.CertFilePaths, "a connected Active thing must record its certificate file paths")
	require.Equal(t, sess.certPaths, *active.CertFilePaths)

	modem.SendToCloud(Message{Topic: "demo/pub", Payload: "héllo"})
	_, _, err = Advance(context.Background(), next, care, modem, session)
	require.NoError(t, err)
	require.Len(t, sess.published, 1)
	require.Equal(t, "hllo", sess.published[0].Payload, "non-ASCII runes must be stripped before publish")
}

func TestAdvance_InboundMessageDeliveredThenDrainedOnce(t *testing.T) {
	sess := &fakeSession{}
	connector := &fakeConnector{session: sess}
	api := &fakeThingsAPI{}
	care := testCare(api, connector)

	meta := MetaThing{
		Thing:     Thing{ID: uuid.New(), SerialNumber: "sn1", Certificates: &Certificates{CA: "ca", Cert: "cert", Key: "key"}},
		Resources: []Resource{{URI: "demo/sub", Method: MethodSub}},
	}
	state := NewActive(meta)
	modem := NewMessageChannels()
	session := &SessionHandle{}

	_, _, err := Advance(context.Background(), state, care, modem, session)
	require.NoError(t, err)
	require.NotNil(t, connector.onMessage, "bring-up must hand the connector an onMessage callback")

	connector.onMessage(Message{Topic: "demo/sub", Payload: "pong"})

	msgs := modem.DrainFromCloud()
	require.Equal(t, []Message{{Topic: "demo/sub", Payload: "pong"}}, msgs)
	require.Empty(t, modem.DrainFromCloud(), "a second immediate drain must return nothing")
}

func TestFilterASCII(t *testing.T) {
	require.Equal(t, "hllo", filterASCII("héllo"))
	require.Equal(t, "plain text", filterASCII("plain text"))
}
