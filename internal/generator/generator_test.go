package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"orefalert/internal/metadata"
)

// stubFetcher serves canned upstream payloads from testdata.
type stubFetcher struct {
	t    *testing.T
	docs map[string]string
}

func newStubFetcher(t *testing.T) *stubFetcher {
	return &stubFetcher{
		t: t,
		docs: map[string]string{
			citiesMixURL:            "GetCitiesMix.json",
			districtsURL:            "GetDistricts.json",
			tzevaVersionsURL:        "lists-versions.json",
			tzevaCitiesURL + "17":   "cities.json",
			tzevaPolygonsURL + "9":  "polygons.json",
		},
	}
}

func (f *stubFetcher) FetchJSON(_ context.Context, url string, v any) error {
	name, ok := f.docs[url]
	if !ok {
		return fmt.Errorf("unexpected url %s", url)
	}
	raw, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(f.t, err)
	return json.Unmarshal(raw, v)
}

func prettyJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.MarshalIndent(v, "", "  ")
	require.NoError(t, err)
	return append(data, '\n')
}

func TestPipelineGoldens(t *testing.T) {
	g := New(newStubFetcher(t), Options{}, zap.NewNop())
	data, err := g.collect(context.Background())
	require.NoError(t, err)

	gold := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	gold.Assert(t, "areas", prettyJSON(t, data.areasNoGroup))
	gold.Assert(t, "area_info", prettyJSON(t, data.areaInfo))
	gold.Assert(t, "city_all_areas", prettyJSON(t, data.cityGroups))
	gold.Assert(t, "district_to_areas", prettyJSON(t, data.districtGroups))
	gold.Assert(t, "area_to_migun_time", prettyJSON(t, data.migunTimes))
	gold.Assert(t, "areas_and_groups", prettyJSON(t, data.areasAndGroups))
	gold.Assert(t, "area_to_polygon", prettyJSON(t, data.areaPolygons))
}

func TestRunWritesOutputs(t *testing.T) {
	dir := t.TempDir()
	servicesPath := filepath.Join(dir, "services.yaml")
	copyFile(t, filepath.Join("testdata", "services.yaml"), servicesPath)
	fixturePath := filepath.Join(dir, "GetCitiesMix.json")

	g := New(newStubFetcher(t), Options{
		OutputDir:    dir,
		ServicesYAML: servicesPath,
		FixturePath:  fixturePath,
	}, zap.NewNop())
	require.NoError(t, g.Run(context.Background()))

	// The table files must match the embedded copies byte for byte.
	for _, name := range []string{
		"areas.json",
		"area_info.json",
		"city_all_areas.json",
		"district_to_areas.json",
		"area_to_migun_time.json",
		"areas_and_groups.json",
	} {
		want, err := os.ReadFile(filepath.Join("..", "metadata", "data", name))
		require.NoError(t, err, name)
		got, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Equal(t, string(want), string(got), name)
	}

	// The fixture write round-trips the upstream payload unchanged.
	want, err := os.ReadFile(filepath.Join("testdata", "GetCitiesMix.json"))
	require.NoError(t, err)
	got, err := os.ReadFile(fixturePath)
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))

	mapping, err := readPolygonArchive(filepath.Join(dir, polygonArchiveName))
	require.NoError(t, err)
	assert.Len(t, mapping, 12)
	assert.Contains(t, mapping, "בארי")
}

func TestPolygonArchiveChangeDetection(t *testing.T) {
	path := filepath.Join(t.TempDir(), polygonArchiveName)
	mapping := map[string][][]float64{
		"בארי": {{31.4245, 34.4926}, {31.4427, 34.498}, {31.4065, 34.5142}},
	}

	changed, err := writePolygonArchive(path, mapping)
	require.NoError(t, err)
	assert.True(t, changed, "first write")

	changed, err = writePolygonArchive(path, mapping)
	require.NoError(t, err)
	assert.False(t, changed, "same mapping")

	mapping["זיקים"] = [][]float64{{31.608, 34.5211}, {31.6262, 34.5265}, {31.59, 34.5427}}
	changed, err = writePolygonArchive(path, mapping)
	require.NoError(t, err)
	assert.True(t, changed, "mapping grew")

	roundTrip, err := readPolygonArchive(path)
	require.NoError(t, err)
	if diff := cmp.Diff(mapping, roundTrip); diff != "" {
		t.Errorf("archive round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateServicesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.yaml")
	copyFile(t, filepath.Join("testdata", "services.yaml"), path)

	areasAndGroups := []string{"אשדוד - כל האזורים", "בארי", "מחוז עוטף עזה"}
	areas := []string{"בארי"}
	require.NoError(t, updateServicesYAML(path, areasAndGroups, areas))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "managed by genmetadata", "comments survive the rewrite")

	var doc yaml.Node
	require.NoError(t, yaml.Unmarshal(raw, &doc))

	options, err := nodeAt(&doc, "add_sensor", "fields", "areas", "selector", "select", "options")
	require.NoError(t, err)
	var got []string
	require.NoError(t, options.Decode(&got))
	assert.Equal(t, areasAndGroups, got)

	options, err = nodeAt(&doc, "synthetic_alert", "fields", "area", "selector", "select", "options")
	require.NoError(t, err)
	got = nil
	require.NoError(t, options.Decode(&got))
	assert.Equal(t, areas, got)

	// Untouched fields keep their values.
	duration, err := nodeAt(&doc, "synthetic_alert", "fields", "duration", "selector", "number", "max")
	require.NoError(t, err)
	assert.Equal(t, "3600", duration.Value)
}

func TestUpdateServicesYAMLMissingSelector(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.yaml")
	require.NoError(t, os.WriteFile(path, []byte("add_sensor:\n  fields: {}\n"), 0o644))

	err := updateServicesYAML(path, []string{"בארי"}, []string{"בארי"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "add_sensor")
}

func TestBuildAreasFixesSuffixTypo(t *testing.T) {
	rows := []cityMixRow{
		{LabelHe: "חדרה - מזרח", MigunTime: "60"},
		{LabelHe: "חדרה כל - האזורים", MigunTime: "60"},
		{LabelHe: "חדרה - מזרח", MigunTime: "60"},
	}
	areas, areasNoGroup := buildAreas(rows)
	assert.Equal(t, []string{"חדרה - כל האזורים", "חדרה - מזרח"}, areas)
	assert.Equal(t, []string{"חדרה - מזרח"}, areasNoGroup)
}

func TestBuildMigunTimesRejectsBadValue(t *testing.T) {
	_, err := buildMigunTimes([]cityMixRow{{LabelHe: "בארי", MigunTime: "soon"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "בארי")
}

func TestMergeAreasAndGroupsRejectsDuplicate(t *testing.T) {
	_, err := mergeAreasAndGroups(
		[]string{"בארי"},
		map[string][]string{"בארי": {}},
		nil,
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "בארי")
}

func TestBuildAreaInfoRejectsUncoveredArea(t *testing.T) {
	_, err := buildAreaInfo([]string{"יישוב חדש"}, map[string]tzevaCity{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "יישוב חדש")
}

func TestBuildAreaInfoRejectsCoveredFallback(t *testing.T) {
	cities := map[string]tzevaCity{
		"רמת רחל": {ID: 9, En: "Ramat Rachel", Lat: 31.7395, Lng: 35.2178},
	}
	_, err := buildAreaInfo([]string{"רמת רחל"}, cities)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "רמת רחל")
}

func TestBuildAreaInfoPrefersUpstream(t *testing.T) {
	cities := map[string]tzevaCity{
		"בארי": {ID: 500, En: "Be'eri", Lat: 31.4245, Lng: 34.4926},
	}
	info, err := buildAreaInfo([]string{"בארי", "רמת רחל"}, cities)
	require.NoError(t, err)
	assert.Equal(t, metadata.Info{En: "Be'eri", Lat: 31.4245, Long: 34.4926}, info["בארי"])
	assert.Equal(t, missingCities["רמת רחל"], info["רמת רחל"])
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/versions":
			fmt.Fprint(w, `{"cities":17,"polygons":9}`)
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			fmt.Fprint(w, `not json`)
		}
	}))
	defer srv.Close()

	fetcher, err := NewHTTPFetcher(0, "")
	require.NoError(t, err)

	var versions tzevaVersions
	require.NoError(t, fetcher.FetchJSON(context.Background(), srv.URL+"/versions", &versions))
	assert.Equal(t, tzevaVersions{Cities: 17, Polygons: 9}, versions)

	err = fetcher.FetchJSON(context.Background(), srv.URL+"/missing", &versions)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	assert.Error(t, fetcher.FetchJSON(context.Background(), srv.URL+"/garbage", &versions))
}

func TestNewHTTPFetcherRejectsBadProxy(t *testing.T) {
	_, err := NewHTTPFetcher(0, "://not-a-url")
	assert.Error(t, err)
}

func copyFile(t *testing.T, src, dst string) {
	t.Helper()
	data, err := os.ReadFile(src)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dst, data, 0o644))
}
