package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenario_CleanStart seeds leftovers from a previous run and checks
// that startup removes exactly the bridge-owned entities.
func TestScenario_CleanStart(t *testing.T) {
	t.Log("GIVEN: Stale bridge entities and foreign entities from a previous run")
	seed := func(server *MockHAServer) {
		server.SetState("geo_location.oref_alert_location_event_be_eri_1700000000", "78.40", map[string]interface{}{
			"source":        "oref_alert",
			"friendly_name": "בארי",
		})
		server.SetState("geo_location.oref_alert_location_event_rehovot_1700000100", "21.59", map[string]interface{}{
			"source":        "oref_alert",
			"friendly_name": "רחובות",
		})
		server.SetState("geo_location.gdacs_eq_20240101", "4500", map[string]interface{}{
			"source":        "gdacs",
			"friendly_name": "Earthquake",
		})
		server.SetState("sun.sun", "above_horizon", map[string]interface{}{
			"friendly_name": "Sun",
		})
	}

	t.Log("WHEN: The bridge starts")
	b := startBridge(t, false, seed)

	t.Log("THEN: Only the bridge-owned geo_location entities are removed")
	assert.Nil(t, b.haServer.GetState("geo_location.oref_alert_location_event_be_eri_1700000000"))
	assert.Nil(t, b.haServer.GetState("geo_location.oref_alert_location_event_rehovot_1700000100"))
	assert.NotNil(t, b.haServer.GetState("geo_location.gdacs_eq_20240101"))
	assert.NotNil(t, b.haServer.GetState("sun.sun"))
	assert.Equal(t, 2, b.haServer.CountWrites(http.MethodDelete, "geo_location."))
}

// TestScenario_ReadOnly runs the bridge in read-only mode: alerts are
// tracked and logged but Home Assistant is never written to.
func TestScenario_ReadOnly(t *testing.T) {
	t.Log("GIVEN: A bridge in read-only mode with a stale entity")
	seed := func(server *MockHAServer) {
		server.SetState("geo_location.oref_alert_location_event_be_eri_1700000000", "78.40", map[string]interface{}{
			"source": "oref_alert",
		})
	}
	b := startBridge(t, true, seed)

	t.Log("THEN: The clean-start pass leaves the stale entity alone")
	assert.NotNil(t, b.haServer.GetState("geo_location.oref_alert_location_event_be_eri_1700000000"))

	t.Log("WHEN: An alert activates")
	require.Eventually(t, b.coordinator.Ready, waitFor, tick)
	b.feed.SetActive("133042653750000020", 1, "ירי רקטות וטילים", "רחובות")

	t.Log("THEN: The alert is tracked but nothing is written")
	require.Eventually(t, func() bool {
		tracked := b.manager.Tracked()
		return len(tracked) == 1 && tracked[0].Area == "רחובות"
	}, waitFor, tick, "alert should be tracked")

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, b.haServer.StateWrites())
	assert.Empty(t, b.haServer.FiredEvents())
}
