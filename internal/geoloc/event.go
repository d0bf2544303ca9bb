package geoloc

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"orefalert/internal/metadata"
	"orefalert/internal/oref"
)

const uniqueIDPrefix = "oref_alert_location_event"

// Coordinates is a WGS84 point.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// LocationEvent is the bridge-side record of one geo_location entity.
type LocationEvent struct {
	Area      string    `json:"area"`
	UniqueID  string    `json:"unique_id"`
	EntityID  string    `json:"entity_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Distance  float64   `json:"distance_km"`
	Date      time.Time `json:"date"`
	Category  int       `json:"category"`
	Title     string    `json:"title"`
}

// NewLocationEvent builds the entity record for one active alert. The
// unique ID carries the slug of the English area name plus the alert
// timestamp, so one area alerted twice produces the same entity only
// while the first alert is still tracked.
func NewLocationEvent(alert oref.Alert, info metadata.Info, home Coordinates) LocationEvent {
	uniqueID := fmt.Sprintf("%s_%s_%d", uniqueIDPrefix, Slugify(info.En), alert.Date.Unix())

	return LocationEvent{
		Area:      alert.Area,
		UniqueID:  uniqueID,
		EntityID:  "geo_location." + uniqueID,
		Latitude:  info.Lat,
		Longitude: info.Long,
		Distance:  Haversine(home.Latitude, home.Longitude, info.Lat, info.Long),
		Date:      alert.Date,
		Category:  alert.Category,
		Title:     alert.Title,
	}
}

// State returns the entity state string, the distance from home in km.
func (e LocationEvent) State() string {
	return strconv.FormatFloat(e.Distance, 'f', 2, 64)
}

// Attributes returns the attribute payload written alongside the state.
func (e LocationEvent) Attributes() map[string]interface{} {
	attrs := map[string]interface{}{
		"source":              "oref_alert",
		"latitude":            e.Latitude,
		"longitude":           e.Longitude,
		"unit_of_measurement": "km",
		"friendly_name":       e.Area,
	}
	if !e.Date.IsZero() {
		attrs["date"] = e.Date.Format(time.RFC3339)
	}
	return attrs
}

// EventData returns the payload fired on the event bus for a new alert.
func (e LocationEvent) EventData() map[string]interface{} {
	return map[string]interface{}{
		"area":      e.Area,
		"latitude":  e.Latitude,
		"longitude": e.Longitude,
		"distance":  e.Distance,
		"category":  e.Category,
		"title":     e.Title,
	}
}

var deaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify converts a display name into the form used in unique IDs:
// lowercase, diacritics stripped, every other run of non-alphanumeric
// characters collapsed to a single underscore.
func Slugify(name string) string {
	clean, _, err := transform.String(deaccent, name)
	if err != nil {
		clean = name
	}
	clean = strings.ToLower(clean)

	var b strings.Builder
	pendingSep := false
	for _, r := range clean {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !isAlnum {
			pendingSep = b.Len() > 0
			continue
		}
		if pendingSep {
			b.WriteByte('_')
			pendingSep = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

const earthRadiusKm = 6371.0

// Haversine returns the great-circle distance in kilometers between two
// WGS84 coordinates.
func Haversine(lat1, long1, lat2, long2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLong := toRad(long2 - long1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLong/2)*math.Sin(dLong/2)

	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
