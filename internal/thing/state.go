package thing

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"thinghub/internal/metrics"
)

// EventSink receives a notification whenever a thing changes state. It is
// optional plumbing for internal/ipc's additive WebSocket feed — nil-safe,
// since spec.md's compatibility surface does not require it.
type EventSink interface {
	Publish(kind, serial, detail string)
}

// Session is a live, connected MQTT session for one thing.
type Session interface {
	// Publish sends payload to topic at QoS 0.
	Publish(topic string, payload []byte) error
	// Disconnect tears the session down. Errors are logged, not returned,
	// matching the original's "disregard errors while closing" behavior.
	Disconnect()
	// CertFiles reports where the session's certificate files were written
	// so the owning state, and later unpair, know what to remove.
	CertFiles() CertFilePaths
}

// Connector establishes a Session for a thing that has reached the Active
// state but has no session yet. internal/thing/mqtt.go supplies the real
// paho-backed implementation.
type Connector interface {
	Connect(ctx context.Context, meta MetaThing, onMessage func(Message)) (Session, error)
}

// SessionHandle is a mutex-guarded slot for a thing's live Session, held by
// the registry out-of-band from the persisted ThingSyncState so that a
// Store snapshot/rollback never touches it.
type SessionHandle struct {
	mu   sync.Mutex
	sess Session
}

func (h *SessionHandle) get() Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sess
}

func (h *SessionHandle) set(s Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sess = s
}

// Clear disconnects any live session and releases the handle. Safe to call
// on an empty handle.
func (h *SessionHandle) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sess != nil {
		h.sess.Disconnect()
		h.sess = nil
	}
}

// CareConfig is the portion of static config the state machine needs on
// every tick.
type CareConfig struct {
	ASCIIOnlyPublish bool
}

// CarePackage is handed to Advance on every tick: the parts of the world
// that change (the current bearer token) plus the parts that don't (API
// client, MQTT connector, config, logger).
type CarePackage struct {
	Token     *string
	Config    CareConfig
	API       ThingsAPI
	Connector Connector
	Logger    *zap.Logger
	Sink      EventSink
	// Metrics is optional; nil is safe and simply skips instrumentation
	// (e.g. in unit tests that don't stand up a registry).
	Metrics *metrics.Registry
}

func publishEvent(sink EventSink, kind, serial, detail string) {
	if sink != nil {
		sink.Publish(kind, serial, detail)
	}
}

// Advance runs one tick of the per-thing state machine described in
// spec.md §4.2. It returns the (possibly unchanged) next state, the thing's
// UUID if a transition into Active just occurred (nil otherwise), and an
// error only for conditions the caller must react to — most failures here
// are logged and simply retried on the next tick, matching the original.
func Advance(ctx context.Context, state ThingSyncState, care CarePackage, modem *MessageChannels, session *SessionHandle) (ThingSyncState, *uuid.UUID, error) {
	switch state.Kind() {
	case KindCreated:
		req, _ := state.AsCreated()
		if care.Token == nil {
			return state, nil, nil
		}
		next, ok := createNewThing(ctx, care, *care.Token, req)
		if !ok {
			return state, nil, nil
		}
		care.Logger.Info("thing transition", zap.Stringer("from", state), zap.Stringer("to", next))
		publishEvent(care.Sink, "gathering_metadata", req.SerialNumber, "thing record created in cloud")
		return next, nil, nil

	case KindGatheringMetadata:
		t, _ := state.AsGatheringMetadata()
		if care.Token == nil {
			return state, nil, nil
		}
		next, ok := gatherThingMetadata(ctx, care, *care.Token, t)
		if !ok {
			return state, nil, nil
		}
		care.Logger.Info("thing transition", zap.Stringer("from", state), zap.Stringer("to", next))
		active, _ := next.AsActive()
		id := active.Thing.ID
		publishEvent(care.Sink, "active", active.Thing.SerialNumber, "resources fetched, ready to connect")
		return next, &id, nil

	case KindActive:
		active, _ := state.AsActive()
		if session.get() == nil {
			sess, err := care.Connector.Connect(ctx, active, func(msg Message) {
				if care.Metrics != nil {
					care.Metrics.MessagesReceived.Inc()
				}
				publishEvent(care.Sink, "message", active.Thing.SerialNumber, msg.Topic)
				modem.DeliverFromCloud(msg)
			})
			if err != nil {
				if care.Metrics != nil {
					care.Metrics.MQTTConnectFails.Inc()
				}
				care.Logger.Error("failed to establish mqtt session", zap.String("serial", active.Thing.SerialNumber), zap.Error(err))
				return state, nil, nil
			}
			if care.Metrics != nil {
				care.Metrics.MQTTConnects.Inc()
			}
			session.set(sess)
			active.Connected = true
			paths := sess.CertFiles()
			active.CertFilePaths = &paths
			publishEvent(care.Sink, "connected", active.Thing.SerialNumber, "mqtt session established")
			return NewActive(active), nil, nil
		}

		processOutbound(care, session.get(), modem, active)
		return state, nil, nil

	default:
		return state, nil, nil
	}
}

// createNewThing mirrors ThingSyncState::create_new_thing: it first checks
// for an existing remote thing with the same serial. If one is found, the
// mismatch is only logged — a new thing is created anyway. This is a known
// defect (certificates for a pre-existing remote thing cannot currently be
// retrieved) carried forward unchanged rather than fixed, since the fix
// requires a cloud API this agent does not control.
func createNewThing(ctx context.Context, care CarePackage, token string, req ThingRequest) (ThingSyncState, bool) {
	existing, err := care.API.GetThingBySerial(ctx, token, req.SerialNumber)
	switch {
	case err != nil:
		care.Logger.Error("failed to query existing things", zap.Error(err))
		return ThingSyncState{}, false
	case existing != nil:
		care.Logger.Error("found existing thing with this serial, creating new device anyway", zap.String("serial", req.SerialNumber))
	}

	created, err := care.API.CreateThing(ctx, token, req)
	if err != nil {
		care.Logger.Error("failed to create thing", zap.String("serial", req.SerialNumber), zap.Error(err))
		return ThingSyncState{}, false
	}
	return NewGatheringMetadata(created), true
}

func gatherThingMetadata(ctx context.Context, care CarePackage, token string, t Thing) (ThingSyncState, bool) {
	resources, err := care.API.GetThingTypeResources(ctx, token, t.ThingTypeUUID)
	if err != nil {
		care.Logger.Error("failed to gather thing metadata", zap.String("serial", t.SerialNumber), zap.Error(err))
		return ThingSyncState{}, false
	}
	return NewActive(MetaThing{Thing: t, Resources: resources}), true
}

// processOutbound drains locally queued messages and publishes each to its
// topic. The ASCII-only filter strips non-ASCII runes before publishing —
// a long-standing restriction (see original "DI-194"), now toggleable via
// CareConfig.ASCIIOnlyPublish rather than unconditional.
func processOutbound(care CarePackage, sess Session, modem *MessageChannels, active MetaThing) {
	for _, msg := range modem.DrainToCloud() {
		payload := msg.Payload
		if care.Config.ASCIIOnlyPublish {
			payload = filterASCII(payload)
		}
		if err := sess.Publish(msg.Topic, []byte(payload)); err != nil {
			care.Logger.Error("failed to publish", zap.String("serial", active.Thing.SerialNumber), zap.String("topic", msg.Topic), zap.Error(err))
			continue
		}
		if care.Metrics != nil {
			care.Metrics.MessagesSent.Inc()
		}
	}
}

func filterASCII(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r <= 127 {
			out = append(out, r)
		}
	}
	return string(out)
}
