package geoloc

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orefalert/internal/metadata"
	"orefalert/internal/oref"
)

func TestSlugify(t *testing.T) {
	testCases := []struct {
		name string
		want string
	}{
		{"Rehovot", "rehovot"},
		{"Tel Aviv - City Center", "tel_aviv_city_center"},
		{"Be'eri", "be_eri"},
		{"Sderot, Ivim, Nir Am", "sderot_ivim_nir_am"},
		{"Névé Ilan", "neve_ilan"},
		{" - Haifa - ", "haifa"},
		{"Ashkelon - South", "ashkelon_south"},
		{"", ""},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.want, Slugify(tc.name), "input %q", tc.name)
	}
}

func TestHaversine(t *testing.T) {
	// Tel Aviv to Jerusalem
	d := Haversine(32.0853, 34.7818, 31.7683, 35.2137)
	assert.InDelta(t, 53.89, d, 0.1)

	assert.Zero(t, Haversine(32.0, 34.0, 32.0, 34.0))
}

func TestNewLocationEvent(t *testing.T) {
	date := time.Date(2024, 10, 7, 6, 30, 0, 0, oref.Israel)
	alert := oref.Alert{
		Area:     "רחובות",
		Title:    "ירי רקטות וטילים",
		Category: 1,
		Date:     date,
	}
	info := metadata.Info{En: "Rehovot", Lat: 31.8928, Long: 34.8113}
	home := Coordinates{Latitude: 32.0853, Longitude: 34.7818}

	event := NewLocationEvent(alert, info, home)

	wantUID := fmt.Sprintf("oref_alert_location_event_rehovot_%d", date.Unix())
	assert.Equal(t, wantUID, event.UniqueID)
	assert.Equal(t, "geo_location."+wantUID, event.EntityID)
	assert.Equal(t, "רחובות", event.Area)
	assert.InDelta(t, Haversine(home.Latitude, home.Longitude, info.Lat, info.Long), event.Distance, 1e-9)
	assert.Equal(t, fmt.Sprintf("%.2f", event.Distance), event.State())
}

func TestLocationEventAttributes(t *testing.T) {
	date := time.Date(2024, 10, 7, 6, 30, 0, 0, oref.Israel)
	event := NewLocationEvent(
		oref.Alert{Area: "בארי", Title: "ירי רקטות וטילים", Category: 1, Date: date},
		metadata.Info{En: "Be'eri", Lat: 31.4245, Long: 34.4926},
		Coordinates{Latitude: 32.0853, Longitude: 34.7818},
	)

	attrs := event.Attributes()
	assert.Equal(t, "oref_alert", attrs["source"])
	assert.Equal(t, "km", attrs["unit_of_measurement"])
	assert.Equal(t, "בארי", attrs["friendly_name"])
	assert.Equal(t, 31.4245, attrs["latitude"])
	assert.Equal(t, 34.4926, attrs["longitude"])

	dateAttr, ok := attrs["date"].(string)
	require.True(t, ok)
	assert.Equal(t, date.Format(time.RFC3339), dateAttr)

	// No date attribute when the timestamp is unknown
	event.Date = time.Time{}
	_, ok = event.Attributes()["date"]
	assert.False(t, ok)
}

func TestLocationEventEventData(t *testing.T) {
	event := NewLocationEvent(
		oref.Alert{Area: "רחובות", Title: "ירי רקטות וטילים", Category: 1, Date: time.Now()},
		metadata.Info{En: "Rehovot", Lat: 31.8928, Long: 34.8113},
		Coordinates{Latitude: 32.0853, Longitude: 34.7818},
	)

	data := event.EventData()
	assert.Equal(t, "רחובות", data["area"])
	assert.Equal(t, 1, data["category"])
	assert.Equal(t, "ירי רקטות וטילים", data["title"])
	assert.Equal(t, event.Distance, data["distance"])
}
