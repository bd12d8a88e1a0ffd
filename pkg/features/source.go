package features

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/cell-mobility/pkg/models"
	"github.com/gilchrisn/cell-mobility/pkg/towers"
)

// Source delivers raw feature matrices. Implementations must be safe for
// concurrent use.
type Source interface {
	Matrix(ctx context.Context, f Feature, day int) (*RawMatrix, error)
}

type sourceKey struct {
	feature Feature
	day     int
}

// MemorySource serves matrices registered with Put.
type MemorySource struct {
	mu       sync.RWMutex
	matrices map[sourceKey]*RawMatrix
}

func NewMemorySource() *MemorySource {
	return &MemorySource{matrices: make(map[sourceKey]*RawMatrix)}
}

// Put registers m for (f, day), replacing any previous matrix.
func (s *MemorySource) Put(f Feature, day int, m *RawMatrix) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matrices[sourceKey{f, day}] = m
}

func (s *MemorySource) Matrix(ctx context.Context, f Feature, day int) (*RawMatrix, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.matrices[sourceKey{f, day}]
	if !ok {
		return nil, fmt.Errorf("%w: no %s matrix for day %d", models.ErrMissingData, f, day)
	}
	return m, nil
}

// DirSource reads <Dir>/<feature>/<day>.csv. The first row holds the tower
// IDs, every following row one matrix row. Cells may be separated by commas
// or whitespace.
type DirSource struct {
	Dir string
}

func (s DirSource) Path(f Feature, day int) string {
	return filepath.Join(s.Dir, f.String(), fmt.Sprintf("%d.csv", day))
}

func (s DirSource) Matrix(ctx context.Context, f Feature, day int) (*RawMatrix, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := s.Path(f, day)
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", models.ErrMissingData, path)
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	m, err := ReadMatrix(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return m, nil
}

// ReadMatrix parses a header row of tower IDs followed by numeric rows.
func ReadMatrix(r io.Reader) (*RawMatrix, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	var (
		header []towers.ID
		data   []float64
		rows   int
		line   int
	)
	for scanner.Scan() {
		line++
		fields := splitCells(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if header == nil {
			header = make([]towers.ID, 0, len(fields))
			for _, f := range fields {
				id, err := towers.ParseID(f)
				if err != nil {
					return nil, fmt.Errorf("header: %w", err)
				}
				header = append(header, id)
			}
			continue
		}
		if len(fields) != len(header) {
			return nil, fmt.Errorf("%w: line %d has %d cells, expected %d",
				models.ErrInvalidParameter, line, len(fields), len(header))
		}
		for _, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", models.ErrInvalidParameter, line, err)
			}
			data = append(data, v)
		}
		rows++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(header) == 0 {
		return nil, fmt.Errorf("%w: empty matrix file", models.ErrMissingData)
	}
	if rows != len(header) {
		return nil, fmt.Errorf("%w: %d rows for %d towers", models.ErrInvalidParameter, rows, len(header))
	}
	return &RawMatrix{Towers: header, Values: mat.NewDense(rows, rows, data)}, nil
}

func splitCells(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\r'
	})
}
