// Package generator builds the geographic metadata tables the bridge embeds:
// individual alert areas, city and district groupings, shelter times,
// coordinates with English names, and area polygons. It merges the public
// oref datasets with the tzevaadom dataset and writes the JSON files under
// internal/metadata/data, the service definition selectors, and the raw
// cities-mix fixture. cmd/genmetadata wires it to the real upstreams.
package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"orefalert/internal/metadata"
)

const (
	citiesMixURL     = "https://alerts-history.oref.org.il/Shared/Ajax/GetCitiesMix.aspx"
	districtsURL     = "https://alerts-history.oref.org.il/Shared/Ajax/GetDistricts.aspx"
	tzevaVersionsURL = "https://api.tzevaadom.co.il/lists-versions"
	tzevaCitiesURL   = "https://www.tzevaadom.co.il/static/cities.json?v="
	tzevaPolygonsURL = "https://www.tzevaadom.co.il/static/polygons.json?v="

	cityAllAreasSuffix = " - כל האזורים"
	// The Hadera group row ships with the dash on the wrong side.
	cityAllAreasSuffixTypo = " כל - האזורים"
	districtPrefix         = "מחוז "
)

// Labels in the districts feed that are country-wide rows, not districts.
var countryWideLabels = map[string]struct{}{
	"כל הארץ":    {},
	"ברחבי הארץ": {},
}

// cityMixRow is one row of the GetCitiesMix feed. Field order matches the
// upstream payload so the fixture write round-trips it unchanged.
type cityMixRow struct {
	ID        int         `json:"id"`
	Label     string      `json:"label"`
	Value     string      `json:"value"`
	AreaID    int         `json:"areaid"`
	LabelHe   string      `json:"label_he"`
	MigunTime json.Number `json:"migun_time"`
}

// districtRow is one row of the GetDistricts feed. Value is null on the
// placeholder row.
type districtRow struct {
	Value    *string `json:"value"`
	Label    string  `json:"label"`
	AreaName string  `json:"areaname"`
	AreaID   int     `json:"areaid"`
	LabelHe  string  `json:"label_he"`
}

type tzevaVersions struct {
	Cities   int `json:"cities"`
	Polygons int `json:"polygons"`
}

type tzevaCity struct {
	ID       int     `json:"id"`
	En       string  `json:"en"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Shelters int     `json:"shelters"`
}

type tzevaCitiesDoc struct {
	Cities map[string]tzevaCity `json:"cities"`
}

// Options selects where the generated files land. Empty ServicesYAML or
// FixturePath skips that output.
type Options struct {
	OutputDir    string
	ServicesYAML string
	FixturePath  string
}

// Generator fetches the upstream datasets and regenerates the metadata
// files.
type Generator struct {
	fetcher Fetcher
	opts    Options
	logger  *zap.Logger
}

func New(fetcher Fetcher, opts Options, logger *zap.Logger) *Generator {
	return &Generator{
		fetcher: fetcher,
		opts:    opts,
		logger:  logger.Named("generator"),
	}
}

// Run fetches, merges, and writes everything. Any fetch failure, data
// inconsistency, or unwritable output is an error; there is no partial
// success.
func (g *Generator) Run(ctx context.Context) error {
	data, err := g.collect(ctx)
	if err != nil {
		return err
	}
	if err := g.write(data); err != nil {
		return err
	}
	g.logger.Info("Metadata generated",
		zap.Int("areas", len(data.areasNoGroup)),
		zap.Int("city_groups", len(data.cityGroups)),
		zap.Int("district_groups", len(data.districtGroups)),
		zap.Int("polygons", len(data.areaPolygons)))
	return nil
}

// dataset holds every table derived from the upstream feeds.
type dataset struct {
	citiesMix      []cityMixRow
	areasNoGroup   []string
	cityGroups     map[string][]string
	migunTimes     map[string]int
	districtGroups map[string][]string
	areasAndGroups []string
	areaPolygons   map[string][][]float64
	areaInfo       map[string]metadata.Info
}

func (g *Generator) collect(ctx context.Context) (*dataset, error) {
	var rows []cityMixRow
	if err := g.fetcher.FetchJSON(ctx, citiesMixURL, &rows); err != nil {
		return nil, fmt.Errorf("cities mix: %w", err)
	}
	var districts []districtRow
	if err := g.fetcher.FetchJSON(ctx, districtsURL, &districts); err != nil {
		return nil, fmt.Errorf("districts: %w", err)
	}
	var versions tzevaVersions
	if err := g.fetcher.FetchJSON(ctx, tzevaVersionsURL, &versions); err != nil {
		return nil, fmt.Errorf("tzevaadom versions: %w", err)
	}
	var citiesDoc tzevaCitiesDoc
	citiesURL := tzevaCitiesURL + strconv.Itoa(versions.Cities)
	if err := g.fetcher.FetchJSON(ctx, citiesURL, &citiesDoc); err != nil {
		return nil, fmt.Errorf("tzevaadom cities: %w", err)
	}
	var polygons map[string][][]float64
	polygonsURL := tzevaPolygonsURL + strconv.Itoa(versions.Polygons)
	if err := g.fetcher.FetchJSON(ctx, polygonsURL, &polygons); err != nil {
		return nil, fmt.Errorf("tzevaadom polygons: %w", err)
	}

	areas, areasNoGroup := buildAreas(rows)
	cityGroups := buildCityGroups(areas, areasNoGroup)
	migunTimes, err := buildMigunTimes(rows)
	if err != nil {
		return nil, err
	}
	districtGroups, err := buildDistrictGroups(districts, areasNoGroup, cityGroups)
	if err != nil {
		return nil, err
	}
	areasAndGroups, err := mergeAreasAndGroups(areasNoGroup, cityGroups, districtGroups)
	if err != nil {
		return nil, err
	}
	areaInfo, err := buildAreaInfo(areasNoGroup, citiesDoc.Cities)
	if err != nil {
		return nil, err
	}

	return &dataset{
		citiesMix:      rows,
		areasNoGroup:   areasNoGroup,
		cityGroups:     cityGroups,
		migunTimes:     migunTimes,
		districtGroups: districtGroups,
		areasAndGroups: areasAndGroups,
		areaPolygons:   buildPolygons(citiesDoc.Cities, polygons, areasNoGroup),
		areaInfo:       areaInfo,
	}, nil
}

func (g *Generator) write(data *dataset) error {
	if err := os.MkdirAll(g.opts.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	tables := []struct {
		name  string
		value any
	}{
		{"areas.json", data.areasNoGroup},
		{"area_info.json", data.areaInfo},
		{"city_all_areas.json", data.cityGroups},
		{"district_to_areas.json", data.districtGroups},
		{"area_to_migun_time.json", data.migunTimes},
		{"areas_and_groups.json", data.areasAndGroups},
	}
	for _, table := range tables {
		if err := writePrettyJSON(filepath.Join(g.opts.OutputDir, table.name), table.value); err != nil {
			return err
		}
	}

	archivePath := filepath.Join(g.opts.OutputDir, polygonArchiveName)
	changed, err := writePolygonArchive(archivePath, data.areaPolygons)
	if err != nil {
		return err
	}
	if changed {
		g.logger.Info("Polygon archive rewritten", zap.String("path", archivePath))
	} else {
		g.logger.Debug("Polygon mapping unchanged, archive kept")
	}

	if g.opts.ServicesYAML != "" {
		if err := updateServicesYAML(g.opts.ServicesYAML, data.areasAndGroups, data.areasNoGroup); err != nil {
			return err
		}
	}
	if g.opts.FixturePath != "" {
		if err := writeCompactJSON(g.opts.FixturePath, data.citiesMix); err != nil {
			return err
		}
	}
	return nil
}

func fixSuffixTypo(label string) string {
	return strings.ReplaceAll(label, cityAllAreasSuffixTypo, cityAllAreasSuffix)
}

// buildAreas returns the unique, typo-fixed area labels, both with and
// without the per-city group rows.
func buildAreas(rows []cityMixRow) (areas, areasNoGroup []string) {
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		area := fixSuffixTypo(row.LabelHe)
		if _, ok := seen[area]; ok {
			continue
		}
		seen[area] = struct{}{}
		areas = append(areas, area)
	}
	sort.Strings(areas)
	for _, area := range areas {
		if !strings.HasSuffix(area, cityAllAreasSuffix) {
			areasNoGroup = append(areasNoGroup, area)
		}
	}
	return areas, areasNoGroup
}

// buildCityGroups maps every all-areas group row to the individual areas
// sharing its city prefix.
func buildCityGroups(areas, areasNoGroup []string) map[string][]string {
	groups := make(map[string][]string)
	for _, area := range areas {
		if !strings.HasSuffix(area, cityAllAreasSuffix) {
			continue
		}
		city := strings.TrimSuffix(area, cityAllAreasSuffix)
		members := []string{}
		for _, candidate := range areasNoGroup {
			if strings.HasPrefix(candidate, city) {
				members = append(members, candidate)
			}
		}
		groups[area] = members
	}
	return groups
}

func buildMigunTimes(rows []cityMixRow) (map[string]int, error) {
	times := make(map[string]int, len(rows))
	for _, row := range rows {
		seconds, err := row.MigunTime.Int64()
		if err != nil {
			return nil, fmt.Errorf("migun time for %q: %w", row.LabelHe, err)
		}
		times[fixSuffixTypo(row.LabelHe)] = int(seconds)
	}
	return times, nil
}

// buildDistrictGroups maps every district to its member areas. Rows with a
// null value or a country-wide label are skipped; member labels are limited
// to known individual areas.
func buildDistrictGroups(rows []districtRow, areasNoGroup []string, cityGroups map[string][]string) (map[string][]string, error) {
	known := stringSet(areasNoGroup)
	groups := make(map[string][]string)
	for _, row := range rows {
		if row.Value == nil {
			continue
		}
		if _, skip := countryWideLabels[row.Label]; skip {
			continue
		}
		key := districtPrefix + row.AreaName
		if _, ok := groups[key]; !ok {
			groups[key] = []string{}
		}
		if _, ok := known[row.LabelHe]; !ok {
			continue
		}
		if _, clash := cityGroups[row.LabelHe]; clash {
			return nil, fmt.Errorf("district member %q is already a city group", row.LabelHe)
		}
		groups[key] = append(groups[key], row.LabelHe)
	}
	for key, members := range groups {
		sort.Strings(members)
		groups[key] = dedupSorted(members)
	}
	return groups, nil
}

// mergeAreasAndGroups joins individual areas with both group kinds into the
// selectable-name list. A name appearing twice is a data error.
func mergeAreasAndGroups(areasNoGroup []string, cityGroups, districtGroups map[string][]string) ([]string, error) {
	merged := make([]string, 0, len(areasNoGroup)+len(cityGroups)+len(districtGroups))
	merged = append(merged, areasNoGroup...)
	for name := range cityGroups {
		merged = append(merged, name)
	}
	for name := range districtGroups {
		merged = append(merged, name)
	}
	sort.Strings(merged)
	for i := 1; i < len(merged); i++ {
		if merged[i] == merged[i-1] {
			return nil, fmt.Errorf("duplicate selectable name %q", merged[i])
		}
	}
	return merged, nil
}

// buildPolygons keys the tzevaadom polygons by area name for every known
// individual area. Areas without polygon coverage are simply absent.
func buildPolygons(cities map[string]tzevaCity, polygons map[string][][]float64, areasNoGroup []string) map[string][][]float64 {
	known := stringSet(areasNoGroup)
	mapping := make(map[string][][]float64)
	for name, city := range cities {
		if _, ok := known[name]; !ok {
			continue
		}
		vertices, ok := polygons[strconv.Itoa(city.ID)]
		if !ok {
			continue
		}
		mapping[name] = vertices
	}
	return mapping
}

// buildAreaInfo resolves coordinates and English names for every individual
// area, falling back to the hand-maintained table for areas the tzevaadom
// dataset lacks. An area covered by neither source is a data error, as is a
// hand-maintained area that upstream started covering.
func buildAreaInfo(areasNoGroup []string, cities map[string]tzevaCity) (map[string]metadata.Info, error) {
	for name := range missingCities {
		if _, ok := cities[name]; ok {
			return nil, fmt.Errorf("hand-maintained area %q is now covered upstream", name)
		}
	}
	info := make(map[string]metadata.Info, len(areasNoGroup))
	var uncovered []string
	for _, area := range areasNoGroup {
		if city, ok := cities[area]; ok {
			info[area] = metadata.Info{En: city.En, Lat: city.Lat, Long: city.Lng}
			continue
		}
		if fallback, ok := missingCities[area]; ok {
			info[area] = fallback
			continue
		}
		uncovered = append(uncovered, area)
	}
	if len(uncovered) > 0 {
		return nil, fmt.Errorf("areas without coordinates: %s", strings.Join(uncovered, ", "))
	}
	return info, nil
}

func stringSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		set[value] = struct{}{}
	}
	return set
}

func dedupSorted(values []string) []string {
	out := values[:0]
	for i, value := range values {
		if i == 0 || value != values[i-1] {
			out = append(out, value)
		}
	}
	return out
}
