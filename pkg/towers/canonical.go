package towers

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/golang/geo/s2"
)

// LeafLevel is the finest s2 level: sites merge only on identical coordinates.
const LeafLevel = 30

// Site is a raw tower with its position.
type Site struct {
	ID  ID
	Lat float64
	Lng float64
}

// Canonicalize maps every site to the characteristic tower of its location.
// Sites falling in the same s2 cell at level are merged onto the first one
// seen, so the input order decides the representative.
func Canonicalize(sites []Site, level int) map[ID]ID {
	if level < 0 || level > LeafLevel {
		level = LeafLevel
	}

	representative := make(map[s2.CellID]ID)
	out := make(map[ID]ID, len(sites))
	for _, site := range sites {
		cell := s2.CellIDFromLatLng(s2.LatLngFromDegrees(site.Lat, site.Lng)).Parent(level)
		rep, ok := representative[cell]
		if !ok {
			rep = site.ID
			representative[cell] = rep
		}
		out[site.ID] = rep
	}
	return out
}

// Characteristic returns the distinct representatives of a canonical mapping.
func Characteristic(mapping map[ID]ID) []ID {
	reps := make([]ID, 0, len(mapping))
	for _, rep := range mapping {
		reps = append(reps, rep)
	}
	return NewIndex(reps).IDs()
}

// ReadSites parses "tower_id,lat,long" rows; the first row is a header.
func ReadSites(r io.Reader) ([]Site, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	if _, err := reader.Read(); err != nil {
		return nil, fmt.Errorf("failed to read sites header: %w", err)
	}

	var sites []Site
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read sites line %d: %w", line, err)
		}
		if len(row) < 3 {
			return nil, fmt.Errorf("sites line %d: expected 3 fields, got %d", line, len(row))
		}
		id, err := ParseID(row[0])
		if err != nil {
			return nil, fmt.Errorf("sites line %d: %w", line, err)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("sites line %d: invalid latitude: %w", line, err)
		}
		lng, err := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("sites line %d: invalid longitude: %w", line, err)
		}
		sites = append(sites, Site{ID: id, Lat: lat, Lng: lng})
	}
	return sites, nil
}

// ReadList parses a tower list written as comma-separated IDs on one or more
// lines and returns it as an Index.
func ReadList(r io.Reader) (*Index, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var ids []ID
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tower list: %w", err)
		}
		for _, field := range row {
			if strings.TrimSpace(field) == "" {
				continue
			}
			id, err := ParseID(field)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("tower list is empty")
	}
	return NewIndex(ids), nil
}
