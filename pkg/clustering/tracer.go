package clustering

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// TraceEvent is one objective evaluation.
type TraceEvent struct {
	RunID      string    `json:"run_id,omitempty"`
	Day        int       `json:"day"`
	Strategy   Strategy  `json:"strategy"`
	Feature    string    `json:"feature,omitempty"`
	Evaluation int       `json:"evaluation"`
	Params     []float64 `json:"params"`
	Score      float64   `json:"score"`
	Groups     int       `json:"groups"`
	Timestamp  int64     `json:"timestamp"`
}

// Tracer writes optimizer evaluations as JSON lines. A nil *Tracer
// discards everything, so callers never need to check.
type Tracer struct {
	mu      sync.Mutex
	closer  io.Closer
	encoder *json.Encoder
	runID   string
}

// NewTracer writes events to w.
func NewTracer(w io.Writer, runID string) *Tracer {
	t := &Tracer{encoder: json.NewEncoder(w), runID: runID}
	if c, ok := w.(io.Closer); ok {
		t.closer = c
	}
	return t
}

// CreateTracer truncates path and traces into it.
func CreateTracer(path, runID string) (*Tracer, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace file: %w", err)
	}
	return NewTracer(file, runID), nil
}

// Record appends ev. Encoding errors are dropped; tracing never fails a run.
func (t *Tracer) Record(ev TraceEvent) {
	if t == nil {
		return
	}
	ev.RunID = t.runID
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.encoder.Encode(ev)
}

func (t *Tracer) Close() error {
	if t == nil || t.closer == nil {
		return nil
	}
	return t.closer.Close()
}
