// Package thing implements the per-thing state machine, registry, and MQTT
// bring-up that form the lifecycle engine described in spec.md §3–§4.
package thing

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ThingRequest is the local registration intent: what a caller asked for
// before the cloud has assigned anything.
type ThingRequest struct {
	SerialNumber  string    `json:"serial_number"`
	Name          string    `json:"name"`
	ThingTypeUUID uuid.UUID `json:"thing_type_uuid"`
}

// Certificates are the PEM bodies returned by the cloud on thing creation.
type Certificates struct {
	CA   string `json:"ca"`
	Cert string `json:"cert"`
	Key  string `json:"key"`
}

// Thing is the cloud's view of a registered device.
type Thing struct {
	ID            uuid.UUID     `json:"id"`
	SerialNumber  string        `json:"serial_number"`
	ThingTypeUUID uuid.UUID     `json:"thing_type_uuid"`
	Certificates  *Certificates `json:"certificates,omitempty"`
}

// ResourceMethod is the publish/subscribe direction of a Resource.
type ResourceMethod string

const (
	MethodPub ResourceMethod = "pub"
	MethodSub ResourceMethod = "sub"
)

// Resource is one topic/method pairing declared by a thing type.
type Resource struct {
	URI    string         `json:"uri"`
	Method ResourceMethod `json:"method"`
}

// CertFilePaths records where the three certificate files for an active
// thing were written on disk.
type CertFilePaths struct {
	CA   string `json:"ca"`
	Cert string `json:"cert"`
	Key  string `json:"key"`
}

// MetaThing is the data carried by the Active state. It deliberately holds
// no live MQTT handle: the session itself is tracked out-of-band by the
// Registry (see registry.go) so that the persisted document stays plain
// data and survives the Store's snapshot/rollback round-trip untouched.
// Connected mirrors spec.md's "mqtt_session: optional handle" as a boolean.
type MetaThing struct {
	Thing         Thing          `json:"thing"`
	Resources     []Resource     `json:"resources"`
	CertFilePaths *CertFilePaths `json:"cert_file_paths,omitempty"`
	Connected     bool           `json:"connected"`
}

// StateKind tags which alternative of ThingSyncState is populated.
type StateKind string

const (
	KindCreated           StateKind = "created"
	KindGatheringMetadata StateKind = "gathering_metadata"
	KindActive            StateKind = "active"
)

// ThingSyncState is the three-state tagged variant from spec.md §3. Exactly
// one payload is meaningful at a time, selected by Kind(); use the As*
// accessors rather than reaching into the zero-valued payloads directly.
type ThingSyncState struct {
	kind      StateKind
	created   ThingRequest
	gathering Thing
	active    MetaThing
}

// NewCreated builds the initial state for a freshly requested thing.
func NewCreated(req ThingRequest) ThingSyncState {
	return ThingSyncState{kind: KindCreated, created: req}
}

// NewGatheringMetadata builds the state for a thing the cloud has created
// but whose resources haven't been fetched yet.
func NewGatheringMetadata(t Thing) ThingSyncState {
	return ThingSyncState{kind: KindGatheringMetadata, gathering: t}
}

// NewActive builds the terminal state for a thing with complete metadata.
func NewActive(m MetaThing) ThingSyncState {
	return ThingSyncState{kind: KindActive, active: m}
}

func (s ThingSyncState) Kind() StateKind { return s.kind }

func (s ThingSyncState) AsCreated() (ThingRequest, bool) {
	return s.created, s.kind == KindCreated
}

func (s ThingSyncState) AsGatheringMetadata() (Thing, bool) {
	return s.gathering, s.kind == KindGatheringMetadata
}

func (s ThingSyncState) AsActive() (MetaThing, bool) {
	return s.active, s.kind == KindActive
}

func (s ThingSyncState) String() string {
	switch s.kind {
	case KindCreated:
		return fmt.Sprintf("Created(s/n=%s)", s.created.SerialNumber)
	case KindGatheringMetadata:
		return fmt.Sprintf("GatheringMetadata(s/n=%s, id=%s)", s.gathering.SerialNumber, s.gathering.ID)
	case KindActive:
		return fmt.Sprintf("Active(s/n=%s, id=%s, connected=%t)", s.active.Thing.SerialNumber, s.active.Thing.ID, s.active.Connected)
	default:
		return "Unknown"
	}
}

// stateDoc is the on-the-wire shape of ThingSyncState; ThingSyncState's own
// fields are unexported so this handles both directions of JSON conversion.
type stateDoc struct {
	Kind      StateKind     `json:"kind"`
	Created   *ThingRequest `json:"created,omitempty"`
	Gathering *Thing        `json:"gathering_metadata,omitempty"`
	Active    *MetaThing    `json:"active,omitempty"`
}

func (s ThingSyncState) MarshalJSON() ([]byte, error) {
	doc := stateDoc{Kind: s.kind}
	switch s.kind {
	case KindCreated:
		c := s.created
		doc.Created = &c
	case KindGatheringMetadata:
		g := s.gathering
		doc.Gathering = &g
	case KindActive:
		a := s.active
		doc.Active = &a
	}
	return json.Marshal(doc)
}

func (s *ThingSyncState) UnmarshalJSON(data []byte) error {
	var doc stateDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	*s = ThingSyncState{kind: doc.Kind}
	switch doc.Kind {
	case KindCreated:
		if doc.Created != nil {
			s.created = *doc.Created
		}
	case KindGatheringMetadata:
		if doc.Gathering != nil {
			s.gathering = *doc.Gathering
		}
	case KindActive:
		if doc.Active != nil {
			s.active = *doc.Active
		}
	default:
		return fmt.Errorf("thing: unknown state kind %q", doc.Kind)
	}
	return nil
}
