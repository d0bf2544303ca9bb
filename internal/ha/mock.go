package ha

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MockClient implements HAClient interface for testing
type MockClient struct {
	states      map[string]*State
	statesMu    sync.RWMutex
	subscribers map[string][]subscriberEntry
	subsMu      sync.RWMutex
	nextSubID   int
	nextSubIDMu sync.Mutex
	connected   bool
	connMu      sync.RWMutex
	homeConfig  HomeConfig
	upserts     []StateWrite
	removes     []string
	fired       []FiredEvent
	callsMu     sync.Mutex
	upsertErr   error
	removeErr   error
}

// StateWrite records an UpsertState call for testing
type StateWrite struct {
	EntityID   string
	State      string
	Attributes map[string]interface{}
	Time       time.Time
}

// FiredEvent records a FireEvent call for testing
type FiredEvent struct {
	EventType string
	Data      map[string]interface{}
	Time      time.Time
}

// mockSubscription implements Subscription interface for MockClient
type mockSubscription struct {
	eventType string
	subID     int
	mock      *MockClient
}

func (s *mockSubscription) Unsubscribe() error {
	return s.mock.unsubscribe(s.eventType, s.subID)
}

// NewMockClient creates a new mock HA client
func NewMockClient() *MockClient {
	return &MockClient{
		states:      make(map[string]*State),
		subscribers: make(map[string][]subscriberEntry),
		homeConfig: HomeConfig{
			Latitude:     32.0853,
			Longitude:    34.7818,
			LocationName: "Home",
			TimeZone:     "Asia/Jerusalem",
			Version:      "2024.10.1",
		},
		connected: false,
	}
}

func (m *MockClient) clearSubscribers() {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	m.subscribers = make(map[string][]subscriberEntry)
}

// Connect simulates connecting to Home Assistant
func (m *MockClient) Connect() error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}

	m.connected = true
	return nil
}

// Disconnect simulates disconnecting
func (m *MockClient) Disconnect() error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	m.connected = false
	m.clearSubscribers()
	return nil
}

// IsConnected returns connection status
func (m *MockClient) IsConnected() bool {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return m.connected
}

// SetHomeConfig overrides the configuration returned by GetConfig
func (m *MockClient) SetHomeConfig(cfg HomeConfig) {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	m.homeConfig = cfg
}

// GetConfig returns the mock home configuration
func (m *MockClient) GetConfig() (*HomeConfig, error) {
	m.connMu.RLock()
	defer m.connMu.RUnlock()

	cfg := m.homeConfig
	return &cfg, nil
}

// GetAllStates retrieves all mock states
func (m *MockClient) GetAllStates() ([]*State, error) {
	m.statesMu.RLock()
	defer m.statesMu.RUnlock()

	states := make([]*State, 0, len(m.states))
	for _, state := range m.states {
		states = append(states, state)
	}

	return states, nil
}

// UpsertState records the write and updates the mock state table
func (m *MockClient) UpsertState(ctx context.Context, entityID, state string, attributes map[string]interface{}) error {
	m.callsMu.Lock()
	if m.upsertErr != nil {
		err := m.upsertErr
		m.callsMu.Unlock()
		return err
	}
	m.upserts = append(m.upserts, StateWrite{
		EntityID:   entityID,
		State:      state,
		Attributes: attributes,
		Time:       time.Now(),
	})
	m.callsMu.Unlock()

	now := time.Now()
	m.statesMu.Lock()
	m.states[entityID] = &State{
		EntityID:    entityID,
		State:       state,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}
	m.statesMu.Unlock()

	return nil
}

// RemoveState records the removal and drops the mock state
func (m *MockClient) RemoveState(ctx context.Context, entityID string) error {
	m.callsMu.Lock()
	if m.removeErr != nil {
		err := m.removeErr
		m.callsMu.Unlock()
		return err
	}
	m.removes = append(m.removes, entityID)
	m.callsMu.Unlock()

	m.statesMu.Lock()
	delete(m.states, entityID)
	m.statesMu.Unlock()

	return nil
}

// FireEvent records a fired event
func (m *MockClient) FireEvent(eventType string, data map[string]interface{}) error {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()

	m.fired = append(m.fired, FiredEvent{
		EventType: eventType,
		Data:      data,
		Time:      time.Now(),
	})
	return nil
}

// Ping always succeeds on the mock
func (m *MockClient) Ping(ctx context.Context) error {
	return nil
}

// SubscribeEvents registers a handler for events of the given type
func (m *MockClient) SubscribeEvents(eventType string, handler EventHandler) (Subscription, error) {
	// Get unique subscription ID
	m.nextSubIDMu.Lock()
	subID := m.nextSubID
	m.nextSubID++
	m.nextSubIDMu.Unlock()

	// Add subscriber entry
	m.subsMu.Lock()
	m.subscribers[eventType] = append(m.subscribers[eventType], subscriberEntry{
		subID:   subID,
		handler: handler,
	})
	m.subsMu.Unlock()

	return &mockSubscription{
		eventType: eventType,
		subID:     subID,
		mock:      m,
	}, nil
}

// unsubscribe removes a specific subscription by event type and subscription ID
func (m *MockClient) unsubscribe(eventType string, subID int) error {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	subscribers, ok := m.subscribers[eventType]
	if !ok {
		return nil // Already unsubscribed
	}

	// Find and remove the subscription with matching subID
	for i, entry := range subscribers {
		if entry.subID == subID {
			// Remove this entry by slicing
			m.subscribers[eventType] = append(subscribers[:i], subscribers[i+1:]...)

			// If no more subscribers for this event type, delete the entry
			if len(m.subscribers[eventType]) == 0 {
				delete(m.subscribers, eventType)
			}
			break
		}
	}

	return nil
}

// SetState seeds a mock state (for testing)
func (m *MockClient) SetState(entityID string, stateValue string, attributes map[string]interface{}) {
	m.statesMu.Lock()
	defer m.statesMu.Unlock()

	now := time.Now()
	m.states[entityID] = &State{
		EntityID:    entityID,
		State:       stateValue,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}
}

// SetUpsertError makes subsequent UpsertState calls fail
func (m *MockClient) SetUpsertError(err error) {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()
	m.upsertErr = err
}

// SetRemoveError makes subsequent RemoveState calls fail
func (m *MockClient) SetRemoveError(err error) {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()
	m.removeErr = err
}

// SimulateEvent delivers an event to subscribed handlers
func (m *MockClient) SimulateEvent(eventType string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	event := Event{
		EventType: eventType,
		Data:      raw,
		Origin:    "LOCAL",
		TimeFired: time.Now(),
	}

	m.subsMu.RLock()
	entries := append([]subscriberEntry(nil), m.subscribers[eventType]...)
	m.subsMu.RUnlock()

	for _, entry := range entries {
		entry.handler(event)
	}

	return nil
}

// Upserts returns all recorded state writes
func (m *MockClient) Upserts() []StateWrite {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()

	writes := make([]StateWrite, len(m.upserts))
	copy(writes, m.upserts)
	return writes
}

// Removes returns all recorded state removals
func (m *MockClient) Removes() []string {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()

	removes := make([]string, len(m.removes))
	copy(removes, m.removes)
	return removes
}

// FiredEvents returns all recorded fired events
func (m *MockClient) FiredEvents() []FiredEvent {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()

	fired := make([]FiredEvent, len(m.fired))
	copy(fired, m.fired)
	return fired
}

// ClearWrites clears the recorded write history
func (m *MockClient) ClearWrites() {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()

	m.upserts = nil
	m.removes = nil
	m.fired = nil
}
