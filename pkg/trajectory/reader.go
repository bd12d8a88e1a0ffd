package trajectory

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gilchrisn/cell-mobility/pkg/models"
	"github.com/gilchrisn/cell-mobility/pkg/towers"
)

// Subscriber holds the per-user attributes of the nationalities file.
type Subscriber struct {
	Nationality int
	PhoneCost   float64
}

// MaxDay is the highest record day a paths file may carry.
const MaxDay = 31

// ReadPaths parses rows of "user,tower;dd;hh;mm;ss,..." into trajectories.
// Timestamps are placed in month (any time within the month works); the
// record day is kept on every stop even past the end of month. Rows of
// the same user are merged before sorting. nationalities may be nil.
func ReadPaths(r io.Reader, month time.Time, gap time.Duration, nationalities map[string]Subscriber) ([]Trajectory, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	stops := make(map[string][]Stop)
	var order []string
	for line := 1; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("paths line %d: %w", line, err)
		}
		if len(row) < 2 {
			continue
		}
		user := strings.TrimSpace(row[0])
		if _, ok := stops[user]; !ok {
			order = append(order, user)
		}
		for _, cell := range row[1:] {
			stop, err := parseStop(cell, month)
			if err != nil {
				return nil, fmt.Errorf("paths line %d: %w", line, err)
			}
			stops[user] = append(stops[user], stop)
		}
	}

	out := make([]Trajectory, 0, len(order))
	for _, user := range order {
		nat := 0
		if sub, ok := nationalities[user]; ok {
			nat = sub.Nationality
		}
		out = append(out, Build(user, nat, stops[user], gap))
	}
	return out, nil
}

func parseStop(cell string, month time.Time) (Stop, error) {
	parts := strings.Split(strings.TrimSpace(cell), ";")
	if len(parts) != 5 {
		return Stop{}, fmt.Errorf("%w: stop %q, expected tower;dd;hh;mm;ss", models.ErrInvalidParameter, cell)
	}
	tower, err := towers.ParseID(parts[0])
	if err != nil {
		return Stop{}, err
	}
	var clock [4]int
	for i, p := range parts[1:] {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Stop{}, fmt.Errorf("%w: stop %q: %v", models.ErrInvalidParameter, cell, err)
		}
		clock[i] = v
	}
	if clock[0] < 1 || clock[0] > MaxDay {
		return Stop{}, fmt.Errorf("%w: stop %q, day %d out of 1..%d", models.ErrInvalidParameter, cell, clock[0], MaxDay)
	}
	at := time.Date(month.Year(), month.Month(), clock[0], clock[1], clock[2], clock[3], 0, time.UTC)
	return Stop{Tower: tower, At: at, Day: clock[0]}, nil
}

// ReadNationalities parses "user,nationality,phone_cost" rows. The phone
// cost column is optional.
func ReadNationalities(r io.Reader) (map[string]Subscriber, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	out := make(map[string]Subscriber)
	for line := 1; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("nationalities line %d: %w", line, err)
		}
		if len(row) < 2 {
			return nil, fmt.Errorf("%w: nationalities line %d has %d fields", models.ErrInvalidParameter, line, len(row))
		}
		nat, err := strconv.Atoi(strings.TrimSpace(row[1]))
		if err != nil {
			return nil, fmt.Errorf("%w: nationalities line %d: %v", models.ErrInvalidParameter, line, err)
		}
		sub := Subscriber{Nationality: nat}
		if len(row) > 2 && strings.TrimSpace(row[2]) != "" {
			cost, err := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: nationalities line %d: %v", models.ErrInvalidParameter, line, err)
			}
			sub.PhoneCost = cost
		}
		out[strings.TrimSpace(row[0])] = sub
	}
	return out, nil
}

// Towers collects every tower seen in ts, ascending.
func Towers(ts []Trajectory) []towers.ID {
	seen := make(map[towers.ID]struct{})
	for _, t := range ts {
		for _, s := range t.Stops {
			seen[s.Tower] = struct{}{}
		}
	}
	out := make([]towers.ID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
