// Package integration exercises the bridge end to end against a mock Home
// Assistant server and a mock alert feed: WebSocket API for auth, config,
// and events, REST API for entity state writes.
package integration

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connWrapper wraps a WebSocket connection with its write mutex and the
// event types it subscribed to.
type connWrapper struct {
	conn          *websocket.Conn
	writeMu       sync.Mutex
	subsMu        sync.Mutex
	subscriptions map[string]bool
}

func (w *connWrapper) subscribed(eventType string) bool {
	w.subsMu.Lock()
	defer w.subsMu.Unlock()
	return w.subscriptions[eventType]
}

// EntityState is a Home Assistant entity state as served by both APIs.
type EntityState struct {
	EntityID    string                 `json:"entity_id"`
	State       string                 `json:"state"`
	Attributes  map[string]interface{} `json:"attributes"`
	LastChanged time.Time              `json:"last_changed"`
	LastUpdated time.Time              `json:"last_updated"`
}

// StateWrite records one REST write against the states API.
type StateWrite struct {
	Method     string
	EntityID   string
	State      string
	Attributes map[string]interface{}
	Timestamp  time.Time
}

// FiredEvent records one event fired over the WebSocket API.
type FiredEvent struct {
	EventType string
	Data      map[string]interface{}
	Timestamp time.Time
}

// Message is the WebSocket envelope.
type Message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Event   *Event          `json:"event,omitempty"`
}

// Event is a Home Assistant event on the wire.
type Event struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin"`
	TimeFired time.Time       `json:"time_fired"`
}

// MockHAServer simulates the slices of Home Assistant the bridge talks to.
type MockHAServer struct {
	httpServer *httptest.Server
	token      string

	homeLatitude  float64
	homeLongitude float64

	statesMu sync.RWMutex
	states   map[string]*EntityState

	connsMu     sync.Mutex
	connections []*connWrapper

	writesMu sync.Mutex
	writes   []StateWrite

	firedMu sync.Mutex
	fired   []FiredEvent
}

// NewMockHAServer starts a mock server on a random local port.
func NewMockHAServer(token string) *MockHAServer {
	s := &MockHAServer{
		token:         token,
		homeLatitude:  32.0853,
		homeLongitude: 34.7818,
		states:        make(map[string]*EntityState),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/websocket", s.handleWebSocket)
	mux.HandleFunc("/api/states/", s.handleStates)
	mux.HandleFunc("/api/", s.handlePing)
	s.httpServer = httptest.NewServer(mux)
	return s
}

// URL returns the base http URL clients connect to.
func (s *MockHAServer) URL() string {
	return s.httpServer.URL
}

// Stop closes all connections and shuts the server down.
func (s *MockHAServer) Stop() {
	s.connsMu.Lock()
	for _, wrapper := range s.connections {
		wrapper.conn.Close()
	}
	s.connections = nil
	s.connsMu.Unlock()
	s.httpServer.Close()
}

// SetState seeds an entity without going through the REST API.
func (s *MockHAServer) SetState(entityID, state string, attributes map[string]interface{}) {
	now := time.Now()
	s.statesMu.Lock()
	s.states[entityID] = &EntityState{
		EntityID:    entityID,
		State:       state,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}
	s.statesMu.Unlock()
}

// GetState returns the current state of an entity, or nil.
func (s *MockHAServer) GetState(entityID string) *EntityState {
	s.statesMu.RLock()
	defer s.statesMu.RUnlock()
	return s.states[entityID]
}

// EntitiesWithPrefix returns the IDs of all entities starting with prefix.
func (s *MockHAServer) EntitiesWithPrefix(prefix string) []string {
	s.statesMu.RLock()
	defer s.statesMu.RUnlock()
	var ids []string
	for id := range s.states {
		if strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	return ids
}

// StateWrites returns every REST write since the last clear.
func (s *MockHAServer) StateWrites() []StateWrite {
	s.writesMu.Lock()
	defer s.writesMu.Unlock()
	writes := make([]StateWrite, len(s.writes))
	copy(writes, s.writes)
	return writes
}

// ClearStateWrites resets the write log.
func (s *MockHAServer) ClearStateWrites() {
	s.writesMu.Lock()
	defer s.writesMu.Unlock()
	s.writes = nil
}

// CountWrites counts REST writes by method and entity ID prefix.
func (s *MockHAServer) CountWrites(method, entityPrefix string) int {
	s.writesMu.Lock()
	defer s.writesMu.Unlock()
	count := 0
	for _, write := range s.writes {
		if write.Method == method && strings.HasPrefix(write.EntityID, entityPrefix) {
			count++
		}
	}
	return count
}

// FiredEvents returns every event fired over the WebSocket API.
func (s *MockHAServer) FiredEvents() []FiredEvent {
	s.firedMu.Lock()
	defer s.firedMu.Unlock()
	fired := make([]FiredEvent, len(s.fired))
	copy(fired, s.fired)
	return fired
}

// SendEvent delivers an event to every connection subscribed to its type.
func (s *MockHAServer) SendEvent(eventType string, data map[string]interface{}) {
	dataJSON, _ := json.Marshal(data)
	msg := Message{
		Type: "event",
		Event: &Event{
			EventType: eventType,
			Data:      dataJSON,
			Origin:    "LOCAL",
			TimeFired: time.Now(),
		},
	}

	s.connsMu.Lock()
	wrappers := make([]*connWrapper, len(s.connections))
	copy(wrappers, s.connections)
	s.connsMu.Unlock()

	for _, wrapper := range wrappers {
		if !wrapper.subscribed(eventType) {
			continue
		}
		wrapper.writeMu.Lock()
		wrapper.conn.WriteJSON(msg)
		wrapper.writeMu.Unlock()
	}
}

func (s *MockHAServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("mock ha: upgrade failed: %v", err)
		return
	}

	wrapper := &connWrapper{conn: conn, subscriptions: make(map[string]bool)}

	s.connsMu.Lock()
	s.connections = append(s.connections, wrapper)
	s.connsMu.Unlock()

	defer func() {
		s.connsMu.Lock()
		for i, w := range s.connections {
			if w.conn == conn {
				s.connections = append(s.connections[:i], s.connections[i+1:]...)
				break
			}
		}
		s.connsMu.Unlock()
		conn.Close()
	}()

	wrapper.writeMu.Lock()
	conn.WriteJSON(Message{Type: "auth_required"})
	wrapper.writeMu.Unlock()

	var auth struct {
		Type        string `json:"type"`
		AccessToken string `json:"access_token"`
	}
	if err := conn.ReadJSON(&auth); err != nil {
		return
	}
	if auth.AccessToken != s.token {
		wrapper.writeMu.Lock()
		conn.WriteJSON(Message{Type: "auth_invalid"})
		wrapper.writeMu.Unlock()
		return
	}
	wrapper.writeMu.Lock()
	conn.WriteJSON(Message{Type: "auth_ok"})
	wrapper.writeMu.Unlock()

	for {
		var msg json.RawMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		var base struct {
			ID   int    `json:"id"`
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}

		switch base.Type {
		case "subscribe_events":
			s.handleSubscribeEvents(wrapper, msg)
		case "fire_event":
			s.handleFireEvent(wrapper, msg)
		case "get_config":
			s.handleGetConfig(wrapper, base.ID)
		case "get_states":
			s.handleGetStates(wrapper, base.ID)
		default:
			s.respondSuccess(wrapper, base.ID, nil)
		}
	}
}

func (s *MockHAServer) handleSubscribeEvents(wrapper *connWrapper, msg json.RawMessage) {
	var req struct {
		ID        int    `json:"id"`
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(msg, &req); err != nil {
		return
	}
	wrapper.subsMu.Lock()
	wrapper.subscriptions[req.EventType] = true
	wrapper.subsMu.Unlock()
	s.respondSuccess(wrapper, req.ID, nil)
}

func (s *MockHAServer) handleFireEvent(wrapper *connWrapper, msg json.RawMessage) {
	var req struct {
		ID        int                    `json:"id"`
		EventType string                 `json:"event_type"`
		EventData map[string]interface{} `json:"event_data"`
	}
	if err := json.Unmarshal(msg, &req); err != nil {
		return
	}
	s.firedMu.Lock()
	s.fired = append(s.fired, FiredEvent{
		EventType: req.EventType,
		Data:      req.EventData,
		Timestamp: time.Now(),
	})
	s.firedMu.Unlock()
	s.respondSuccess(wrapper, req.ID, json.RawMessage(`{"context":{"id":"mock"}}`))
}

func (s *MockHAServer) handleGetConfig(wrapper *connWrapper, id int) {
	result, _ := json.Marshal(map[string]interface{}{
		"latitude":      s.homeLatitude,
		"longitude":     s.homeLongitude,
		"location_name": "Home",
		"time_zone":     "Asia/Jerusalem",
		"version":       "2024.10.1",
	})
	s.respondSuccess(wrapper, id, result)
}

func (s *MockHAServer) handleGetStates(wrapper *connWrapper, id int) {
	s.statesMu.RLock()
	states := make([]*EntityState, 0, len(s.states))
	for _, state := range s.states {
		states = append(states, state)
	}
	s.statesMu.RUnlock()

	result, _ := json.Marshal(states)
	s.respondSuccess(wrapper, id, result)
}

func (s *MockHAServer) respondSuccess(wrapper *connWrapper, id int, result json.RawMessage) {
	success := true
	wrapper.writeMu.Lock()
	wrapper.conn.WriteJSON(Message{ID: id, Type: "result", Success: &success, Result: result})
	wrapper.writeMu.Unlock()
}

func (s *MockHAServer) authorized(r *http.Request) bool {
	return r.Header.Get("Authorization") == "Bearer "+s.token
}

func (s *MockHAServer) handlePing(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, `{"message":"Unauthorized"}`, http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"message":"API running."}`)
}

func (s *MockHAServer) handleStates(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, `{"message":"Unauthorized"}`, http.StatusUnauthorized)
		return
	}
	entityID := strings.TrimPrefix(r.URL.Path, "/api/states/")
	if entityID == "" {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodPost:
		var payload struct {
			State      string                 `json:"state"`
			Attributes map[string]interface{} `json:"attributes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, `{"message":"Bad request"}`, http.StatusBadRequest)
			return
		}

		s.writesMu.Lock()
		s.writes = append(s.writes, StateWrite{
			Method:     http.MethodPost,
			EntityID:   entityID,
			State:      payload.State,
			Attributes: payload.Attributes,
			Timestamp:  time.Now(),
		})
		s.writesMu.Unlock()

		s.statesMu.Lock()
		_, existed := s.states[entityID]
		now := time.Now()
		state := &EntityState{
			EntityID:    entityID,
			State:       payload.State,
			Attributes:  payload.Attributes,
			LastChanged: now,
			LastUpdated: now,
		}
		s.states[entityID] = state
		s.statesMu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if existed {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusCreated)
		}
		json.NewEncoder(w).Encode(state)

	case http.MethodDelete:
		s.writesMu.Lock()
		s.writes = append(s.writes, StateWrite{
			Method:    http.MethodDelete,
			EntityID:  entityID,
			Timestamp: time.Now(),
		})
		s.writesMu.Unlock()

		s.statesMu.Lock()
		state, existed := s.states[entityID]
		delete(s.states, entityID)
		s.statesMu.Unlock()

		if !existed {
			http.Error(w, `{"message":"Entity not found."}`, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(state)

	default:
		http.Error(w, `{"message":"Method not allowed"}`, http.StatusMethodNotAllowed)
	}
}
