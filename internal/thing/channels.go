package thing

import "sync"

// Message is a unit of traffic flowing between a thing and the cloud.
type Message struct {
	Topic   string `json:"topic"`
	Payload string `json:"payload"`
}

// MessageChannels is the pair of unbounded single-producer/single-consumer
// queues spec.md §3 calls hub_to_cloud and cloud_to_hub. Plain Go channels
// are bounded, so each direction is backed by a mutex-guarded slice instead;
// cloud_to_hub additionally tolerates concurrent producers, since paho
// invokes the on-message callback from its own goroutine per in-flight
// publish.
type MessageChannels struct {
	hubToCloudMu sync.Mutex
	hubToCloud   []Message

	cloudToHubMu sync.Mutex
	cloudToHub   []Message
}

// NewMessageChannels returns an empty pair of queues for one thing.
func NewMessageChannels() *MessageChannels {
	return &MessageChannels{}
}

// SendToCloud enqueues a message produced locally (via the SDK's
// SendMessages) for the lifecycle runner to publish over MQTT.
func (m *MessageChannels) SendToCloud(msg Message) {
	m.hubToCloudMu.Lock()
	defer m.hubToCloudMu.Unlock()
	m.hubToCloud = append(m.hubToCloud, msg)
}

// DrainToCloud removes and returns every queued outbound message in
// enqueue order. Returns nil if the queue is empty.
func (m *MessageChannels) DrainToCloud() []Message {
	m.hubToCloudMu.Lock()
	defer m.hubToCloudMu.Unlock()
	if len(m.hubToCloud) == 0 {
		return nil
	}
	out := m.hubToCloud
	m.hubToCloud = nil
	return out
}

// DeliverFromCloud is called from the MQTT on-message callback, possibly
// concurrently across multiple subscribed topics.
func (m *MessageChannels) DeliverFromCloud(msg Message) {
	m.cloudToHubMu.Lock()
	defer m.cloudToHubMu.Unlock()
	m.cloudToHub = append(m.cloudToHub, msg)
}

// DrainFromCloud removes and returns every queued inbound message for a
// local ReceiveMessages caller. Non-blocking: returns nil if empty.
func (m *MessageChannels) DrainFromCloud() []Message {
	m.cloudToHubMu.Lock()
	defer m.cloudToHubMu.Unlock()
	if len(m.cloudToHub) == 0 {
		return nil
	}
	out := m.cloudToHub
	m.cloudToHub = nil
	return out
}
