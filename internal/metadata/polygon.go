package metadata

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

const (
	polygonArchive = "data/area_to_polygon.json.zip"
	polygonEntry   = "area_to_polygon.json"
)

var (
	polygonOnce sync.Once
	polygons    map[string][][]float64
)

// The polygon table is an order of magnitude larger than the other tables,
// so it ships compressed and is only inflated on first use.
func loadPolygons() {
	polygonOnce.Do(func() {
		raw, err := dataFS.ReadFile(polygonArchive)
		if err != nil {
			panic(fmt.Sprintf("metadata: read %s: %v", polygonArchive, err))
		}
		zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
		if err != nil {
			panic(fmt.Sprintf("metadata: open %s: %v", polygonArchive, err))
		}
		entry, err := zr.Open(polygonEntry)
		if err != nil {
			panic(fmt.Sprintf("metadata: open %s in %s: %v", polygonEntry, polygonArchive, err))
		}
		defer entry.Close()
		data, err := io.ReadAll(entry)
		if err != nil {
			panic(fmt.Sprintf("metadata: inflate %s: %v", polygonEntry, err))
		}
		if err := json.Unmarshal(data, &polygons); err != nil {
			panic(fmt.Sprintf("metadata: parse %s: %v", polygonEntry, err))
		}
	})
}

// Polygon returns the boundary of an area as [latitude, longitude] vertex
// pairs. Areas the upstream mapping does not cover return nil.
func Polygon(area string) [][]float64 {
	loadPolygons()
	return polygons[area]
}

// AreaAt returns the area whose polygon contains the given coordinate.
// Only areas with polygon coverage can match.
func AreaAt(lat, long float64) (string, bool) {
	loadPolygons()
	for area, vertices := range polygons {
		if pointInPolygon(lat, long, vertices) {
			return area, true
		}
	}
	return "", false
}

// Ray casting over the vertex list. Points on an edge may land on either
// side, which is acceptable for alert-area resolution.
func pointInPolygon(lat, long float64, vertices [][]float64) bool {
	inside := false
	n := len(vertices)
	if n < 3 {
		return false
	}
	j := n - 1
	for i := 0; i < n; i++ {
		yi, xi := vertices[i][0], vertices[i][1]
		yj, xj := vertices[j][0], vertices[j][1]
		if (yi > lat) != (yj > lat) && long < (xj-xi)*(lat-yi)/(yj-yi)+xi {
			inside = !inside
		}
		j = i
	}
	return inside
}
