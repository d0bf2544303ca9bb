package generator

import (
	"archive/zip"
	"compress/flate"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
)

const (
	polygonArchiveName = "area_to_polygon.json.zip"
	polygonEntryName   = "area_to_polygon.json"
)

// writePrettyJSON writes v indented with two spaces, keys sorted, with a
// trailing newline. This is the exact format of the embedded data files, so
// regeneration without upstream changes leaves them untouched in git.
func writePrettyJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return writeFile(path, append(data, '\n'))
}

func writeCompactJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return writeFile(path, append(data, '\n'))
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// writePolygonArchive stores the polygon mapping as compressed JSON. The
// archive is rewritten only when the mapping differs from the stored one;
// a missing or unreadable archive counts as changed. Returns whether a
// write happened.
func writePolygonArchive(path string, mapping map[string][][]float64) (bool, error) {
	if previous, err := readPolygonArchive(path); err == nil && reflect.DeepEqual(previous, mapping) {
		return false, nil
	}

	data, err := json.Marshal(mapping)
	if err != nil {
		return false, fmt.Errorf("marshal polygons: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return false, fmt.Errorf("create %s: %w", path, err)
	}
	zw := zip.NewWriter(f)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})
	entry, err := zw.Create(polygonEntryName)
	if err == nil {
		_, err = entry.Write(data)
	}
	if cerr := zw.Close(); err == nil {
		err = cerr
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

func readPolygonArchive(path string) (map[string][][]float64, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	entry, err := zr.Open(polygonEntryName)
	if err != nil {
		return nil, err
	}
	defer entry.Close()
	var mapping map[string][][]float64
	if err := json.NewDecoder(entry).Decode(&mapping); err != nil {
		return nil, err
	}
	return mapping, nil
}
