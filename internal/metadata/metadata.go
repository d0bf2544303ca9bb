// Package metadata exposes the static geographic lookup tables the bridge
// depends on: individual alert areas, their coordinates and English names,
// city and district groupings, shelter times, and polygon boundaries.
// The JSON files under data/ are generated by cmd/genmetadata and embedded
// at build time.
package metadata

import (
	"encoding/json"
	"fmt"
	"sync"

	"embed"
)

//go:embed data
var dataFS embed.FS

// Info holds the per-area fields needed to place an alert on the map.
type Info struct {
	En   string  `json:"en"`
	Lat  float64 `json:"lat"`
	Long float64 `json:"long"`
}

var (
	loadOnce sync.Once

	areas          []string
	areaInfo       map[string]Info
	cityAllAreas   map[string][]string
	districtAreas  map[string][]string
	migunTime      map[string]int
	areasAndGroups []string
)

func load() {
	loadOnce.Do(func() {
		mustUnmarshal("data/areas.json", &areas)
		mustUnmarshal("data/area_info.json", &areaInfo)
		mustUnmarshal("data/city_all_areas.json", &cityAllAreas)
		mustUnmarshal("data/district_to_areas.json", &districtAreas)
		mustUnmarshal("data/area_to_migun_time.json", &migunTime)
		mustUnmarshal("data/areas_and_groups.json", &areasAndGroups)
	})
}

// The embedded files are produced by genmetadata and ship with the binary,
// so a parse failure is a build defect rather than a runtime condition.
func mustUnmarshal(name string, v any) {
	raw, err := dataFS.ReadFile(name)
	if err != nil {
		panic(fmt.Sprintf("metadata: read %s: %v", name, err))
	}
	if err := json.Unmarshal(raw, v); err != nil {
		panic(fmt.Sprintf("metadata: parse %s: %v", name, err))
	}
}

// Areas returns every individual alert area, sorted.
func Areas() []string {
	load()
	return areas
}

// AreaInfo returns the coordinates and English name for an individual area.
func AreaInfo(area string) (Info, bool) {
	load()
	info, ok := areaInfo[area]
	return info, ok
}

// MigunTime returns the shelter time in seconds for an area or group.
func MigunTime(area string) (int, bool) {
	load()
	seconds, ok := migunTime[area]
	return seconds, ok
}

// AreasAndGroups returns every selectable name: individual areas, city
// "all areas" groups, and districts, sorted.
func AreasAndGroups() []string {
	load()
	return areasAndGroups
}

// AreasInGroup expands a city or district group to its member areas.
// A known individual area expands to itself. Unknown names return nil.
func AreasInGroup(name string) []string {
	load()
	if members, ok := cityAllAreas[name]; ok {
		return members
	}
	if members, ok := districtAreas[name]; ok {
		return members
	}
	if _, ok := areaInfo[name]; ok {
		return []string{name}
	}
	return nil
}
