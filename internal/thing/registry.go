package thing

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"thinghub/internal/store"
)

// thingDoc is the persisted shape of the registry: only the primary
// serial→state map is written to disk. The secondary UUID→serial index,
// the per-thing message channels, and any live MQTT session are runtime
// state, rebuilt from thingDoc on load (spec.md §3's "secondary ⊆ primary,
// primary persisted only").
type thingDoc struct {
	Primary map[string]ThingSyncState `json:"primary"`
}

// Registry is the dual-indexed thing store described in spec.md §4.4.
type Registry struct {
	docs *store.Store[thingDoc]

	mu        sync.Mutex
	secondary map[uuid.UUID]string
	modems    map[string]*MessageChannels
	sessions  map[string]*SessionHandle

	logger *zap.Logger
}

// NewRegistry loads path, rebuilding the secondary index and a fresh
// MessageChannels/SessionHandle pair for every thing it finds.
func NewRegistry(path string, logger *zap.Logger) (*Registry, error) {
	docs, err := store.New[thingDoc](path)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		docs:      docs,
		secondary: make(map[uuid.UUID]string),
		modems:    make(map[string]*MessageChannels),
		sessions:  make(map[string]*SessionHandle),
		logger:    logger,
	}

	r.docs.Read(func(d thingDoc) {
		for serial, state := range d.Primary {
			r.modems[serial] = NewMessageChannels()
			r.sessions[serial] = &SessionHandle{}
			if active, ok := state.AsActive(); ok {
				r.secondary[active.Thing.ID] = serial
			}
		}
	})

	return r, nil
}

// AddThing registers a new thing request under Created, failing if the
// serial number is already in use.
func (r *Registry) AddThing(req ThingRequest) error {
	err := r.docs.Update(func(d *thingDoc) error {
		if d.Primary == nil {
			d.Primary = make(map[string]ThingSyncState)
		}
		if _, exists := d.Primary[req.SerialNumber]; exists {
			return fmt.Errorf("thing: duplicate device %q", req.SerialNumber)
		}
		d.Primary[req.SerialNumber] = NewCreated(req)
		return nil
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.modems[req.SerialNumber] = NewMessageChannels()
	r.sessions[req.SerialNumber] = &SessionHandle{}
	r.mu.Unlock()
	return nil
}

// ContainsSerial reports whether a thing with this serial is registered.
func (r *Registry) ContainsSerial(serial string) bool {
	var found bool
	r.docs.Read(func(d thingDoc) {
		_, found = d.Primary[serial]
	})
	return found
}

// Unpair removes a single thing by serial, disconnecting its MQTT session
// and removing its certificate files via consume().
func (r *Registry) Unpair(serial string) error {
	var removed ThingSyncState
	err := r.docs.Update(func(d *thingDoc) error {
		state, ok := d.Primary[serial]
		if !ok {
			return fmt.Errorf("thing: no device with serial %q found", serial)
		}
		removed = state
		delete(d.Primary, serial)
		return nil
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.modems, serial)
	session := r.sessions[serial]
	delete(r.sessions, serial)
	for id, s := range r.secondary {
		if s == serial {
			delete(r.secondary, id)
			break
		}
	}
	r.mu.Unlock()

	if session != nil {
		session.Clear()
	}
	r.consume(removed)
	return nil
}

// UnpairAll removes every registered thing.
func (r *Registry) UnpairAll() error {
	var removed []ThingSyncState
	err := r.docs.Update(func(d *thingDoc) error {
		for _, state := range d.Primary {
			removed = append(removed, state)
		}
		d.Primary = make(map[string]ThingSyncState)
		return nil
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	sessions := r.sessions
	r.modems = make(map[string]*MessageChannels)
	r.sessions = make(map[string]*SessionHandle)
	r.secondary = make(map[uuid.UUID]string)
	r.mu.Unlock()

	for _, session := range sessions {
		session.Clear()
	}
	for _, state := range removed {
		r.consume(state)
	}
	return nil
}

// consume disposes of a removed thing's state: per spec.md's lifecycle
// invariant 2, a thing leaves Active only via unpair, and unpair deletes
// its three certificate files. Deletion errors are logged, not returned,
// matching the "errors logged" contract for consume in spec.md §4.2.
func (r *Registry) consume(state ThingSyncState) {
	active, ok := state.AsActive()
	if !ok {
		return
	}
	r.logger.Info("thing unpaired", zap.String("serial", active.Thing.SerialNumber), zap.Stringer("id", active.Thing.ID))

	if active.CertFilePaths == nil {
		return
	}
	for _, path := range []string{active.CertFilePaths.CA, active.CertFilePaths.Cert, active.CertFilePaths.Key} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			r.logger.Error("failed to remove certificate file", zap.String("path", path), zap.Error(err))
		}
	}
}

// Send enqueues msgs for eventual MQTT publish by serial.
func (r *Registry) Send(serial string, msgs []Message) error {
	r.mu.Lock()
	modem, ok := r.modems[serial]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("thing: tried to send for serial %q, does not exist", serial)
	}
	for _, msg := range msgs {
		modem.SendToCloud(msg)
	}
	return nil
}

// Receive drains every message queued from the cloud for serial.
func (r *Registry) Receive(serial string) ([]Message, error) {
	r.mu.Lock()
	modem, ok := r.modems[serial]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("thing: tried to receive for serial %q, does not exist", serial)
	}
	return modem.DrainFromCloud(), nil
}

// Advance runs one lifecycle tick across every registered thing, holding
// the registry's write lock for the whole duration — including any
// outbound cloud calls a transition makes — matching the original's
// single-threaded access_mut semantics (spec.md §5).
func (r *Registry) Advance(ctx context.Context, care CarePackage) {
	type pairing struct {
		serial string
		id     uuid.UUID
	}

	err := r.docs.Update(func(d *thingDoc) error {
		var newPairs []pairing

		for serial, state := range d.Primary {
			r.mu.Lock()
			modem := r.modems[serial]
			session := r.sessions[serial]
			r.mu.Unlock()
			if modem == nil || session == nil {
				continue
			}

			next, id, err := Advance(ctx, state, care, modem, session)
			if err != nil {
				r.logger.Error("error advancing thing", zap.String("serial", serial), zap.Error(err))
				continue
			}
			d.Primary[serial] = next
			if id != nil {
				newPairs = append(newPairs, pairing{serial: serial, id: *id})
			}
		}

		if len(newPairs) > 0 {
			r.mu.Lock()
			for _, p := range newPairs {
				r.secondary[p.id] = p.serial
			}
			r.mu.Unlock()
		}
		return nil
	})
	if err != nil {
		r.logger.Error("failed to persist registry after tick", zap.Error(err))
	}
}

// ActiveCount returns the number of things currently in the Active state,
// for the active_things metric.
func (r *Registry) ActiveCount() int {
	count := 0
	r.docs.Read(func(d thingDoc) {
		for _, state := range d.Primary {
			if state.Kind() == KindActive {
				count++
			}
		}
	})
	return count
}
