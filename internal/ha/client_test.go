package ha

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// mockHAServer creates a mock Home Assistant WebSocket server
func mockHAServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Fatalf("Failed to upgrade connection: %v", err)
		}
		defer conn.Close()

		handler(conn)
	}))
}

// standardAuthFlow handles the standard authentication flow
func standardAuthFlow(t *testing.T, conn *websocket.Conn, token string) {
	// Send auth_required
	err := conn.WriteJSON(Message{Type: "auth_required"})
	require.NoError(t, err)

	// Receive auth message
	var authMsg AuthMessage
	err = conn.ReadJSON(&authMsg)
	require.NoError(t, err)
	assert.Equal(t, "auth", authMsg.Type)
	assert.Equal(t, token, authMsg.AccessToken)

	// Send auth_ok
	err = conn.WriteJSON(Message{Type: "auth_ok"})
	require.NoError(t, err)
}

func TestWebsocketURL(t *testing.T) {
	testCases := []struct {
		base string
		want string
	}{
		{"http://homeassistant.local:8123", "ws://homeassistant.local:8123/api/websocket"},
		{"http://homeassistant.local:8123/", "ws://homeassistant.local:8123/api/websocket"},
		{"https://ha.example.com", "wss://ha.example.com/api/websocket"},
		{"ws://homeassistant.local:8123/api/websocket", "ws://homeassistant.local:8123/api/websocket"},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.want, websocketURL(tc.base), "base %s", tc.base)
	}
}

func TestRestBaseURL(t *testing.T) {
	testCases := []struct {
		base string
		want string
	}{
		{"http://homeassistant.local:8123", "http://homeassistant.local:8123/api"},
		{"https://ha.example.com/", "https://ha.example.com/api"},
		{"ws://homeassistant.local:8123/api/websocket", "http://homeassistant.local:8123/api"},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.want, restBaseURL(tc.base), "base %s", tc.base)
	}
}

func TestClient_Connect(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	token := "test_token"

	t.Run("successful connection", func(t *testing.T) {
		server := mockHAServer(t, func(conn *websocket.Conn) {
			standardAuthFlow(t, conn, token)

			// Keep connection open
			time.Sleep(100 * time.Millisecond)
		})
		defer server.Close()

		client := NewClient(server.URL, token, logger)

		err := client.Connect()
		assert.NoError(t, err)
		assert.True(t, client.IsConnected())

		client.Disconnect()
	})

	t.Run("invalid token", func(t *testing.T) {
		server := mockHAServer(t, func(conn *websocket.Conn) {
			// Send auth_required
			conn.WriteJSON(Message{Type: "auth_required"})

			// Receive auth message
			var authMsg AuthMessage
			conn.ReadJSON(&authMsg)

			// Send auth_invalid
			conn.WriteJSON(Message{Type: "auth_invalid"})
		})
		defer server.Close()

		client := NewClient(server.URL, "wrong_token", logger)

		err := client.Connect()
		assert.ErrorIs(t, err, ErrAuthInvalid)
		assert.False(t, client.IsConnected())
	})

	t.Run("already connected", func(t *testing.T) {
		server := mockHAServer(t, func(conn *websocket.Conn) {
			standardAuthFlow(t, conn, token)

			time.Sleep(100 * time.Millisecond)
		})
		defer server.Close()

		client := NewClient(server.URL, token, logger)

		err := client.Connect()
		require.NoError(t, err)

		err = client.Connect()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "already connected")

		client.Disconnect()
	})
}

func TestClient_GetConfig(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	token := "test_token"

	server := mockHAServer(t, func(conn *websocket.Conn) {
		standardAuthFlow(t, conn, token)

		// Handle get_config request
		var cfgReq GetConfigRequest
		conn.ReadJSON(&cfgReq)
		assert.Equal(t, "get_config", cfgReq.Type)

		success := true
		conn.WriteJSON(Message{
			ID:      cfgReq.ID,
			Type:    "result",
			Success: &success,
			Result:  json.RawMessage(`{"latitude":32.0853,"longitude":34.7818,"location_name":"Home","time_zone":"Asia/Jerusalem","version":"2024.10.1"}`),
		})

		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	client := NewClient(server.URL, token, logger)

	err := client.Connect()
	require.NoError(t, err)
	defer client.Disconnect()

	cfg, err := client.GetConfig()
	require.NoError(t, err)
	assert.Equal(t, 32.0853, cfg.Latitude)
	assert.Equal(t, 34.7818, cfg.Longitude)
	assert.Equal(t, "Home", cfg.LocationName)
	assert.Equal(t, "Asia/Jerusalem", cfg.TimeZone)
}

func TestClient_GetAllStates(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	token := "test_token"

	server := mockHAServer(t, func(conn *websocket.Conn) {
		standardAuthFlow(t, conn, token)

		// Handle get_states request
		var statesReq GetStatesRequest
		conn.ReadJSON(&statesReq)

		states := []*State{
			{
				EntityID: "geo_location.oref_alert_location_event_rehovot_1700000000",
				State:    "12.34",
				Attributes: map[string]interface{}{
					"source":        "oref_alert",
					"friendly_name": "רחובות",
				},
			},
			{
				EntityID: "sun.sun",
				State:    "above_horizon",
				Attributes: map[string]interface{}{
					"friendly_name": "Sun",
				},
			},
		}

		statesJSON, _ := json.Marshal(states)
		success := true
		conn.WriteJSON(Message{
			ID:      statesReq.ID,
			Type:    "result",
			Success: &success,
			Result:  statesJSON,
		})

		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	client := NewClient(server.URL, token, logger)

	err := client.Connect()
	require.NoError(t, err)
	defer client.Disconnect()

	states, err := client.GetAllStates()
	assert.NoError(t, err)
	assert.Len(t, states, 2)
	assert.Equal(t, "geo_location.oref_alert_location_event_rehovot_1700000000", states[0].EntityID)
	assert.Equal(t, "12.34", states[0].State)
}

func TestClient_FireEvent(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	token := "test_token"

	server := mockHAServer(t, func(conn *websocket.Conn) {
		standardAuthFlow(t, conn, token)

		// Handle fire_event request
		var fireReq FireEventRequest
		conn.ReadJSON(&fireReq)

		assert.Equal(t, "fire_event", fireReq.Type)
		assert.Equal(t, "oref_alert_event", fireReq.EventType)
		assert.Equal(t, "רחובות", fireReq.EventData["area"])

		success := true
		conn.WriteJSON(Message{
			ID:      fireReq.ID,
			Type:    "result",
			Success: &success,
		})

		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	client := NewClient(server.URL, token, logger)

	err := client.Connect()
	require.NoError(t, err)
	defer client.Disconnect()

	err = client.FireEvent("oref_alert_event", map[string]interface{}{
		"area": "רחובות",
	})
	assert.NoError(t, err)
}

func TestClient_SubscribeEvents(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	token := "test_token"

	t.Run("while connected", func(t *testing.T) {
		server := mockHAServer(t, func(conn *websocket.Conn) {
			standardAuthFlow(t, conn, token)

			// Handle subscribe_events request
			var subMsg SubscribeEventsRequest
			conn.ReadJSON(&subMsg)
			assert.Equal(t, "subscribe_events", subMsg.Type)
			assert.Equal(t, "oref_alert_synthetic_alert", subMsg.EventType)

			success := true
			conn.WriteJSON(Message{
				ID:      subMsg.ID,
				Type:    "result",
				Success: &success,
			})

			// Deliver an event on the subscription
			conn.WriteJSON(Message{
				ID:   subMsg.ID,
				Type: "event",
				Event: &Event{
					EventType: "oref_alert_synthetic_alert",
					Data:      json.RawMessage(`{"area":"רחובות","duration":30}`),
					Origin:    "LOCAL",
					TimeFired: time.Now(),
				},
			})

			time.Sleep(200 * time.Millisecond)
		})
		defer server.Close()

		client := NewClient(server.URL, token, logger)

		err := client.Connect()
		require.NoError(t, err)
		defer client.Disconnect()

		received := make(chan Event, 1)
		sub, err := client.SubscribeEvents("oref_alert_synthetic_alert", func(event Event) {
			received <- event
		})
		require.NoError(t, err)
		defer sub.Unsubscribe()

		select {
		case event := <-received:
			assert.Equal(t, "oref_alert_synthetic_alert", event.EventType)

			var data struct {
				Area     string `json:"area"`
				Duration int    `json:"duration"`
			}
			require.NoError(t, json.Unmarshal(event.Data, &data))
			assert.Equal(t, "רחובות", data.Area)
			assert.Equal(t, 30, data.Duration)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event")
		}
	})

	t.Run("registered before connect", func(t *testing.T) {
		subscribed := make(chan string, 1)
		server := mockHAServer(t, func(conn *websocket.Conn) {
			standardAuthFlow(t, conn, token)

			// Connect re-sends subscriptions registered while offline
			var subMsg SubscribeEventsRequest
			conn.ReadJSON(&subMsg)
			subscribed <- subMsg.EventType

			success := true
			conn.WriteJSON(Message{
				ID:      subMsg.ID,
				Type:    "result",
				Success: &success,
			})

			time.Sleep(100 * time.Millisecond)
		})
		defer server.Close()

		client := NewClient(server.URL, token, logger)

		_, err := client.SubscribeEvents("oref_alert_synthetic_alert", func(event Event) {})
		require.NoError(t, err)

		err = client.Connect()
		require.NoError(t, err)
		defer client.Disconnect()

		select {
		case eventType := <-subscribed:
			assert.Equal(t, "oref_alert_synthetic_alert", eventType)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for subscribe_events")
		}
	})
}

func TestClient_UpsertState(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	token := "test_token"

	var gotPath, gotAuth string
	var gotPayload struct {
		State      string                 `json:"state"`
		Attributes map[string]interface{} `json:"attributes"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := NewClient(server.URL, token, logger)

	err := client.UpsertState(context.Background(), "geo_location.oref_alert_location_event_rehovot_1700000000", "12.34", map[string]interface{}{
		"source":        "oref_alert",
		"friendly_name": "רחובות",
	})
	require.NoError(t, err)

	assert.Equal(t, "/api/states/geo_location.oref_alert_location_event_rehovot_1700000000", gotPath)
	assert.Equal(t, "Bearer test_token", gotAuth)
	assert.Equal(t, "12.34", gotPayload.State)
	assert.Equal(t, "oref_alert", gotPayload.Attributes["source"])
}

func TestClient_RemoveState(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	token := "test_token"

	t.Run("removes entity", func(t *testing.T) {
		var gotMethod, gotPath string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotPath = r.URL.Path
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := NewClient(server.URL, token, logger)

		err := client.RemoveState(context.Background(), "geo_location.oref_alert_location_event_beeri_1700000000")
		require.NoError(t, err)
		assert.Equal(t, http.MethodDelete, gotMethod)
		assert.Equal(t, "/api/states/geo_location.oref_alert_location_event_beeri_1700000000", gotPath)
	})

	t.Run("missing entity is not an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		client := NewClient(server.URL, token, logger)

		err := client.RemoveState(context.Background(), "geo_location.oref_alert_location_event_gone_1700000000")
		assert.NoError(t, err)
	})

	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		client := NewClient(server.URL, token, logger)

		err := client.RemoveState(context.Background(), "geo_location.oref_alert_location_event_x_1700000000")
		assert.Error(t, err)
	})
}

func TestClient_Ping(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	t.Run("reachable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer test_token", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := NewClient(server.URL, "test_token", logger)
		assert.NoError(t, client.Ping(context.Background()))
	})

	t.Run("unauthorized", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		client := NewClient(server.URL, "bad_token", logger)
		assert.Error(t, client.Ping(context.Background()))
	})
}

func TestMockClient(t *testing.T) {
	t.Run("connection", func(t *testing.T) {
		mock := NewMockClient()
		assert.False(t, mock.IsConnected())

		err := mock.Connect()
		assert.NoError(t, err)
		assert.True(t, mock.IsConnected())

		err = mock.Connect()
		assert.Error(t, err)

		err = mock.Disconnect()
		assert.NoError(t, err)
		assert.False(t, mock.IsConnected())
	})

	t.Run("state writes", func(t *testing.T) {
		mock := NewMockClient()

		err := mock.UpsertState(context.Background(), "geo_location.test", "5.00", map[string]interface{}{
			"source": "oref_alert",
		})
		require.NoError(t, err)

		states, err := mock.GetAllStates()
		require.NoError(t, err)
		require.Len(t, states, 1)
		assert.Equal(t, "5.00", states[0].State)

		writes := mock.Upserts()
		require.Len(t, writes, 1)
		assert.Equal(t, "geo_location.test", writes[0].EntityID)

		err = mock.RemoveState(context.Background(), "geo_location.test")
		require.NoError(t, err)

		states, err = mock.GetAllStates()
		require.NoError(t, err)
		assert.Empty(t, states)
		assert.Equal(t, []string{"geo_location.test"}, mock.Removes())
	})

	t.Run("fired events", func(t *testing.T) {
		mock := NewMockClient()

		err := mock.FireEvent("oref_alert_event", map[string]interface{}{"area": "בארי"})
		require.NoError(t, err)

		fired := mock.FiredEvents()
		require.Len(t, fired, 1)
		assert.Equal(t, "oref_alert_event", fired[0].EventType)
		assert.Equal(t, "בארי", fired[0].Data["area"])
	})

	t.Run("event subscriptions", func(t *testing.T) {
		mock := NewMockClient()

		received := make(chan Event, 1)
		sub, err := mock.SubscribeEvents("oref_alert_synthetic_alert", func(event Event) {
			received <- event
		})
		require.NoError(t, err)

		err = mock.SimulateEvent("oref_alert_synthetic_alert", map[string]interface{}{"area": "רחובות"})
		require.NoError(t, err)

		select {
		case event := <-received:
			assert.Equal(t, "oref_alert_synthetic_alert", event.EventType)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}

		require.NoError(t, sub.Unsubscribe())
		require.NoError(t, mock.SimulateEvent("oref_alert_synthetic_alert", map[string]interface{}{"area": "רחובות"}))
		select {
		case <-received:
			t.Fatal("handler called after unsubscribe")
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("injected write failures", func(t *testing.T) {
		mock := NewMockClient()
		mock.SetUpsertError(assert.AnError)

		err := mock.UpsertState(context.Background(), "geo_location.test", "1.00", nil)
		assert.Error(t, err)
		assert.Empty(t, mock.Upserts())

		mock.SetUpsertError(nil)
		err = mock.UpsertState(context.Background(), "geo_location.test", "1.00", nil)
		assert.NoError(t, err)
	})
}
