package ha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrAuthInvalid is returned by Connect when Home Assistant rejects the
// access token. Reconnect logic treats it as fatal; retrying with the
// same token cannot succeed.
var ErrAuthInvalid = errors.New("authentication failed: invalid token")

// HAClient defines the interface for the Home Assistant client
type HAClient interface {
	Connect() error
	Disconnect() error
	IsConnected() bool
	GetConfig() (*HomeConfig, error)
	GetAllStates() ([]*State, error)
	FireEvent(eventType string, data map[string]interface{}) error
	SubscribeEvents(eventType string, handler EventHandler) (Subscription, error)
	UpsertState(ctx context.Context, entityID, state string, attributes map[string]interface{}) error
	RemoveState(ctx context.Context, entityID string) error
	Ping(ctx context.Context) error
}

// subscriberEntry holds a handler with its unique subscription ID
type subscriberEntry struct {
	subID   int
	handler EventHandler
}

// Client implements HAClient. Commands and event subscriptions run over
// the WebSocket API; entity state writes run over the REST API because
// the WebSocket API has no way to delete a state.
type Client struct {
	url         string
	restURL     string
	token       string
	logger      *zap.Logger
	httpClient  *http.Client
	conn        *websocket.Conn
	connected   bool
	connMu      sync.RWMutex
	msgID       int
	msgIDMu     sync.Mutex
	pending     map[int]chan Message
	pendingMu   sync.Mutex
	subscribers map[string][]subscriberEntry
	subsMu      sync.RWMutex
	nextSubID   int
	nextSubIDMu sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	reconnect   bool
	onReconnect func()
	writeMu     sync.Mutex // Protects websocket writes
}

func (c *Client) clearSubscribers() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	c.subscribers = make(map[string][]subscriberEntry)
}

func (c *Client) resetContextLocked() {
	if c.cancel != nil {
		c.cancel()
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
}

// NewClient creates a new Home Assistant client. baseURL is the plain
// HTTP base URL of the instance (e.g. http://homeassistant.local:8123);
// the WebSocket and REST endpoints are derived from it.
func NewClient(baseURL, token string, logger *zap.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:         websocketURL(baseURL),
		restURL:     restBaseURL(baseURL),
		token:       token,
		logger:      logger,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		pending:     make(map[int]chan Message),
		subscribers: make(map[string][]subscriberEntry),
		ctx:         ctx,
		cancel:      cancel,
		reconnect:   true,
	}
}

// websocketURL derives the WebSocket endpoint from the base URL. A URL
// that already carries a ws scheme or the /api/websocket path is kept.
func websocketURL(base string) string {
	u := strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}

	if strings.HasSuffix(u, "/api/websocket") {
		return u
	}
	return u + "/api/websocket"
}

// restBaseURL derives the REST endpoint root from the base URL.
func restBaseURL(base string) string {
	u := strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(u, "wss://"):
		u = "https://" + strings.TrimPrefix(u, "wss://")
	case strings.HasPrefix(u, "ws://"):
		u = "http://" + strings.TrimPrefix(u, "ws://")
	}

	u = strings.TrimSuffix(u, "/api/websocket")
	return u + "/api"
}

// SetOnReconnect registers a callback invoked after each successful
// automatic reconnect. Must be called before Connect.
func (c *Client) SetOnReconnect(fn func()) {
	c.onReconnect = fn
}

// Connect establishes the WebSocket connection and authenticates
func (c *Client) Connect() error {
	c.connMu.Lock()

	if c.connected {
		c.connMu.Unlock()
		return fmt.Errorf("already connected")
	}

	// Connect to WebSocket
	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		c.connMu.Unlock()
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}
	c.conn = conn

	// Receive auth_required message
	var authRequired Message
	if err := c.conn.ReadJSON(&authRequired); err != nil {
		c.conn.Close()
		c.connMu.Unlock()
		return fmt.Errorf("failed to read auth_required: %w", err)
	}

	if authRequired.Type != "auth_required" {
		c.conn.Close()
		c.connMu.Unlock()
		return fmt.Errorf("expected auth_required, got %s", authRequired.Type)
	}

	// Send authentication
	authMsg := AuthMessage{
		Type:        "auth",
		AccessToken: c.token,
	}
	c.writeMu.Lock()
	err = c.conn.WriteJSON(authMsg)
	c.writeMu.Unlock()

	if err != nil {
		c.conn.Close()
		c.connMu.Unlock()
		return fmt.Errorf("failed to send auth: %w", err)
	}

	// Receive auth response
	var authResponse Message
	if err := c.conn.ReadJSON(&authResponse); err != nil {
		c.conn.Close()
		c.connMu.Unlock()
		return fmt.Errorf("failed to read auth response: %w", err)
	}

	if authResponse.Type == "auth_invalid" {
		c.conn.Close()
		c.connMu.Unlock()
		return ErrAuthInvalid
	}

	if authResponse.Type != "auth_ok" {
		c.conn.Close()
		c.connMu.Unlock()
		return fmt.Errorf("expected auth_ok, got %s", authResponse.Type)
	}

	c.resetContextLocked()
	c.connected = true
	c.reconnect = true
	c.logger.Info("Connected to Home Assistant")

	// Start background message receiver
	go c.receiveMessages()

	// Release lock before sending subscriptions to avoid deadlock
	c.connMu.Unlock()

	// Re-establish event subscriptions registered before this connect
	for _, eventType := range c.subscribedEventTypes() {
		if err := c.sendSubscribe(eventType); err != nil {
			c.logger.Warn("Failed to subscribe to events",
				zap.String("event_type", eventType),
				zap.Error(err))
		}
	}

	return nil
}

// Disconnect closes the WebSocket connection
func (c *Client) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.connected {
		return nil
	}

	c.reconnect = false
	c.cancel()
	c.connected = false

	if c.conn != nil {
		// Send close message (protected by writeMu)
		c.writeMu.Lock()
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		c.conn.Close()
		c.conn = nil
	}

	c.clearSubscribers()
	c.logger.Info("Disconnected from Home Assistant")
	return nil
}

// IsConnected returns true if client is connected
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// nextMsgID returns the next message ID
func (c *Client) nextMsgID() int {
	c.msgIDMu.Lock()
	defer c.msgIDMu.Unlock()
	c.msgID++
	return c.msgID
}

// sendMessage sends a message and waits for response
func (c *Client) sendMessage(msg interface{}) (*Message, error) {
	c.connMu.RLock()
	if !c.connected {
		c.connMu.RUnlock()
		return nil, fmt.Errorf("not connected")
	}
	c.connMu.RUnlock()

	// Get message ID
	var msgID int
	switch m := msg.(type) {
	case *GetConfigRequest:
		msgID = m.ID
	case *GetStatesRequest:
		msgID = m.ID
	case *SubscribeEventsRequest:
		msgID = m.ID
	case *FireEventRequest:
		msgID = m.ID
	default:
		return nil, fmt.Errorf("unsupported message type")
	}

	// Create response channel
	respChan := make(chan Message, 1)
	c.pendingMu.Lock()
	c.pending[msgID] = respChan
	c.pendingMu.Unlock()

	// Clean up after timeout
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, msgID)
		c.pendingMu.Unlock()
	}()

	// Send message (protected by writeMu to prevent concurrent writes)
	c.writeMu.Lock()
	err := c.conn.WriteJSON(msg)
	c.writeMu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	// Wait for response with timeout
	select {
	case resp := <-respChan:
		if resp.Success != nil && !*resp.Success {
			if resp.Error != nil {
				return nil, fmt.Errorf("HA error: %s - %s", resp.Error.Code, resp.Error.Message)
			}
			return nil, fmt.Errorf("request failed")
		}
		return &resp, nil
	case <-time.After(10 * time.Second):
		return nil, fmt.Errorf("timeout waiting for response")
	case <-c.ctx.Done():
		return nil, fmt.Errorf("client disconnected")
	}
}

// receiveMessages handles incoming messages in the background
func (c *Client) receiveMessages() {
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.logger.Error("Failed to read message", zap.Error(err))
			c.handleDisconnect()
			return
		}

		// Handle event messages
		if msg.Type == "event" {
			c.handleEvent(&msg)
			continue
		}

		// Route response to waiting goroutine. A result for an ID nobody
		// waits on arrived after its request timed out.
		if msg.ID > 0 {
			c.pendingMu.Lock()
			if ch, ok := c.pending[msg.ID]; ok {
				select {
				case ch <- msg:
				default:
					c.logger.Warn("Response channel full", zap.Int("msg_id", msg.ID))
				}
			} else {
				c.logger.Debug("Dropping result for unknown request", zap.Int("msg_id", msg.ID))
			}
			c.pendingMu.Unlock()
		}
	}
}

// handleEvent dispatches an event to the handlers subscribed to its type.
// Handlers run on their own goroutines; a handler is allowed to issue
// requests over this connection.
func (c *Client) handleEvent(msg *Message) {
	if msg.Event == nil {
		return
	}

	c.subsMu.RLock()
	entries := append([]subscriberEntry(nil), c.subscribers[msg.Event.EventType]...)
	c.subsMu.RUnlock()

	for _, entry := range entries {
		go entry.handler(*msg.Event)
	}
}

// handleDisconnect handles connection loss
func (c *Client) handleDisconnect() {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	c.logger.Warn("Connection lost")

	if !c.reconnect {
		return
	}

	// Attempt to reconnect with exponential backoff
	go c.attemptReconnect()
}

// attemptReconnect tries to reconnect with exponential backoff
func (c *Client) attemptReconnect() {
	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(backoff):
		}

		c.logger.Info("Attempting to reconnect...")

		if err := c.Connect(); err != nil {
			if errors.Is(err, ErrAuthInvalid) {
				c.logger.Error("Reconnect rejected, token no longer valid")
				return
			}
			c.logger.Error("Reconnection failed", zap.Error(err))
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		c.logger.Info("Reconnected successfully")
		if c.onReconnect != nil {
			c.onReconnect()
		}
		return
	}
}

// subscribedEventTypes snapshots the event types with active handlers
func (c *Client) subscribedEventTypes() []string {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()

	types := make([]string, 0, len(c.subscribers))
	for eventType := range c.subscribers {
		types = append(types, eventType)
	}
	return types
}

// sendSubscribe sends a subscribe_events request for one event type
func (c *Client) sendSubscribe(eventType string) error {
	msgID := c.nextMsgID()
	req := &SubscribeEventsRequest{
		ID:        msgID,
		Type:      "subscribe_events",
		EventType: eventType,
	}

	_, err := c.sendMessage(req)
	return err
}

// GetConfig retrieves the Home Assistant core configuration
func (c *Client) GetConfig() (*HomeConfig, error) {
	msgID := c.nextMsgID()
	req := &GetConfigRequest{
		ID:   msgID,
		Type: "get_config",
	}

	resp, err := c.sendMessage(req)
	if err != nil {
		return nil, err
	}

	var cfg HomeConfig
	if err := json.Unmarshal(resp.Result, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// GetAllStates retrieves all entity states
func (c *Client) GetAllStates() ([]*State, error) {
	msgID := c.nextMsgID()
	req := &GetStatesRequest{
		ID:   msgID,
		Type: "get_states",
	}

	resp, err := c.sendMessage(req)
	if err != nil {
		return nil, err
	}

	var states []*State
	if err := json.Unmarshal(resp.Result, &states); err != nil {
		return nil, fmt.Errorf("failed to unmarshal states: %w", err)
	}

	return states, nil
}

// FireEvent fires an event on the Home Assistant event bus
func (c *Client) FireEvent(eventType string, data map[string]interface{}) error {
	msgID := c.nextMsgID()
	req := &FireEventRequest{
		ID:        msgID,
		Type:      "fire_event",
		EventType: eventType,
		EventData: data,
	}

	_, err := c.sendMessage(req)
	return err
}

// SubscribeEvents registers a handler for events of the given type. The
// first handler for a type triggers a subscribe_events request; later
// handlers share the server-side subscription. Each event is delivered on
// a fresh goroutine, so delivery order across events is not guaranteed.
func (c *Client) SubscribeEvents(eventType string, handler EventHandler) (Subscription, error) {
	// Get unique subscription ID
	c.nextSubIDMu.Lock()
	subID := c.nextSubID
	c.nextSubID++
	c.nextSubIDMu.Unlock()

	// Add subscriber entry
	c.subsMu.Lock()
	first := len(c.subscribers[eventType]) == 0
	c.subscribers[eventType] = append(c.subscribers[eventType], subscriberEntry{
		subID:   subID,
		handler: handler,
	})
	c.subsMu.Unlock()

	if first && c.IsConnected() {
		if err := c.sendSubscribe(eventType); err != nil {
			c.unsubscribe(eventType, subID)
			return nil, err
		}
	}

	return &subscription{
		eventType: eventType,
		subID:     subID,
		client:    c,
	}, nil
}

// unsubscribe removes a specific subscription by event type and subscription ID
func (c *Client) unsubscribe(eventType string, subID int) error {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	subscribers, ok := c.subscribers[eventType]
	if !ok {
		return nil // Already unsubscribed
	}

	// Find and remove the subscription with matching subID
	for i, entry := range subscribers {
		if entry.subID == subID {
			// Remove this entry by slicing
			c.subscribers[eventType] = append(subscribers[:i], subscribers[i+1:]...)

			// If no more subscribers for this event type, delete the entry
			if len(c.subscribers[eventType]) == 0 {
				delete(c.subscribers, eventType)
			}
			break
		}
	}

	return nil
}
