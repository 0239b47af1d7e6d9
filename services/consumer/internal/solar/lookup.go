package solar

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

//go:embed data/gsp_locations.csv
var defaultLocationsCSV []byte

// Point is a GSP centroid.
type Point struct {
	Latitude  float64
	Longitude float64
	Name      string
}

// LocationLookup resolves a GSP id to its centroid.
type LocationLookup interface {
	Lookup(gspID int) (Point, bool)
}

// Table is a read-only LocationLookup built once at startup.
type Table struct {
	points map[int]Point
}

// NewTable builds a Table from an explicit map.
func NewTable(points map[int]Point) *Table {
	cp := make(map[int]Point, len(points))
	for id, p := range points {
		cp[id] = p
	}
	return &Table{points: cp}
}

// Lookup implements LocationLookup.
func (t *Table) Lookup(gspID int) (Point, bool) {
	p, ok := t.points[gspID]
	return p, ok
}

// Len is the number of GSPs in the table.
func (t *Table) Len() int {
	return len(t.points)
}

// DefaultTable returns the table compiled into the binary.
func DefaultTable() (*Table, error) {
	return ReadTable(bytes.NewReader(defaultLocationsCSV))
}

// LoadTable reads a CSV table from path, or the compiled-in table when path
// is empty.
func LoadTable(path string) (*Table, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultTable()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gsp locations: %w", err)
	}
	defer f.Close()
	return ReadTable(f)
}

// ReadTable parses CSV with a header naming gsp_id, latitude and longitude
// columns (gsp_name optional, any order).
func ReadTable(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("gsp locations: empty file")
		}
		return nil, fmt.Errorf("gsp locations header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"gsp_id", "latitude", "longitude"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("gsp locations: missing %q column", required)
		}
	}
	nameCol, hasName := cols["gsp_name"]

	points := make(map[int]Point)
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gsp locations line %d: %w", line, err)
		}
		field := func(col int) string {
			if col < len(rec) {
				return strings.TrimSpace(rec[col])
			}
			return ""
		}

		id, err := strconv.Atoi(field(cols["gsp_id"]))
		if err != nil {
			return nil, fmt.Errorf("gsp locations line %d: invalid gsp_id: %w", line, err)
		}
		lat, err := strconv.ParseFloat(field(cols["latitude"]), 64)
		if err != nil {
			return nil, fmt.Errorf("gsp locations line %d: invalid latitude: %w", line, err)
		}
		lon, err := strconv.ParseFloat(field(cols["longitude"]), 64)
		if err != nil {
			return nil, fmt.Errorf("gsp locations line %d: invalid longitude: %w", line, err)
		}
		p := Point{Latitude: lat, Longitude: lon}
		if hasName {
			p.Name = field(nameCol)
		}
		points[id] = p
	}
	return &Table{points: points}, nil
}
