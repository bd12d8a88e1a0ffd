package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/gilchrisn/cell-mobility/pkg/evaluation"
	"github.com/gilchrisn/cell-mobility/pkg/towers"
)

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// WriteClusterings writes <dir>/clusterings/<label>/<day>.csv, one group of
// tower IDs per row.
func WriteClusterings(dir, label string, byDay map[int]towers.Clustering) error {
	target := filepath.Join(dir, "clusterings", filepath.FromSlash(label))
	if err := ensureDir(target); err != nil {
		return err
	}

	days := make([]int, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Ints(days)

	for _, day := range days {
		path := filepath.Join(target, fmt.Sprintf("%d.csv", day))
		if err := writeClustering(path, byDay[day]); err != nil {
			return err
		}
	}
	return nil
}

func writeClustering(path string, c towers.Clustering) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	for _, group := range c {
		row := make([]string, len(group))
		for i, id := range group {
			row[i] = strconv.FormatInt(int64(id), 10)
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadClusterings loads the clusterings WriteClusterings left in dir for
// each label. Labels never written are skipped.
func ReadClusterings(dir string, labels ...string) (Clusterings, error) {
	out := make(Clusterings)
	for _, label := range labels {
		source := filepath.Join(dir, "clusterings", filepath.FromSlash(label))
		entries, err := os.ReadDir(source)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", source, err)
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || filepath.Ext(name) != ".csv" {
				continue
			}
			day, err := strconv.Atoi(strings.TrimSuffix(name, ".csv"))
			if err != nil {
				continue
			}
			c, err := readClustering(filepath.Join(source, name))
			if err != nil {
				return nil, err
			}
			if out[label] == nil {
				out[label] = make(map[int]towers.Clustering)
			}
			out[label][day] = c
		}
	}
	return out, nil
}

func readClustering(path string) (towers.Clustering, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	c := make(towers.Clustering, 0, len(rows))
	for _, row := range rows {
		group := make([]towers.ID, 0, len(row))
		for _, field := range row {
			id, err := towers.ParseID(field)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			group = append(group, id)
		}
		c = append(c, group)
	}
	return c, nil
}

// WriteClusteringResult writes every clustering plus an outcomes.json
// summary into dir.
func WriteClusteringResult(dir string, result *ClusteringResult) error {
	for _, label := range result.Clusterings.Labels() {
		if err := WriteClusterings(dir, label, result.Clusterings[label]); err != nil {
			return err
		}
	}
	return writeJSON(filepath.Join(dir, "outcomes.json"), result)
}

// WriteReports writes reports.csv and reports.json into dir.
func WriteReports(dir string, reports []*evaluation.Report) error {
	if err := ensureDir(dir); err != nil {
		return err
	}

	file, err := os.Create(filepath.Join(dir, "reports.csv"))
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()
	if err := evaluation.WriteCSV(file, reports...); err != nil {
		return err
	}

	jsonFile, err := os.Create(filepath.Join(dir, "reports.json"))
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer jsonFile.Close()
	return evaluation.WriteJSON(jsonFile, reports...)
}

func writeJSON(path string, v interface{}) error {
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, data, 0o644)
}
