package evaluation

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"gonum.org/v1/gonum/stat"
)

// PrefixStat summarizes the precision samples of one prefix length.
type PrefixStat struct {
	Prefix   int     `json:"prefix"`
	Mean     float64 `json:"mean"`
	Std      float64 `json:"std"`
	N        int     `json:"n"`
	Excluded int     `json:"excluded,omitempty"`
}

// DayResult holds the per-prefix statistics of one test day.
type DayResult struct {
	Day      int          `json:"day"`
	Prefixes []PrefixStat `json:"prefixes"`
}

// Report is the outcome of evaluating one model over a range of days.
// Overall holds, per prefix, the mean and deviation of the per-day means.
type Report struct {
	RunID     string       `json:"run_id"`
	Model     string       `json:"model"`
	CreatedAt time.Time    `json:"created_at"`
	Days      []DayResult  `json:"days"`
	Overall   []PrefixStat `json:"overall"`
}

// Summarize returns the population mean and standard deviation of samples,
// or zeros when there are none.
func Summarize(samples []float64) (mean, std float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	return stat.PopMeanStdDev(samples, nil)
}

// overall reduces per-day means prefix by prefix. Days without samples do
// not contribute.
func overall(days []DayResult, prefixes []int) []PrefixStat {
	out := make([]PrefixStat, 0, len(prefixes))
	for k, p := range prefixes {
		var means []float64
		excluded := 0
		for _, d := range days {
			ps := d.Prefixes[k]
			excluded += ps.Excluded
			if ps.N > 0 {
				means = append(means, ps.Mean)
			}
		}
		mean, std := Summarize(means)
		out = append(out, PrefixStat{Prefix: p, Mean: mean, Std: std, N: len(means), Excluded: excluded})
	}
	return out
}

// WriteCSV writes one row per (model, day, prefix) followed by the overall
// rows of each report.
func WriteCSV(w io.Writer, reports ...*Report) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"run_id", "model", "day", "prefix", "mean", "std", "n", "excluded"}); err != nil {
		return err
	}

	row := func(r *Report, day string, ps PrefixStat) []string {
		return []string{
			r.RunID,
			r.Model,
			day,
			strconv.Itoa(ps.Prefix),
			strconv.FormatFloat(ps.Mean, 'f', 6, 64),
			strconv.FormatFloat(ps.Std, 'f', 6, 64),
			strconv.Itoa(ps.N),
			strconv.Itoa(ps.Excluded),
		}
	}
	for _, r := range reports {
		for _, d := range r.Days {
			for _, ps := range d.Prefixes {
				if err := writer.Write(row(r, strconv.Itoa(d.Day), ps)); err != nil {
					return err
				}
			}
		}
		for _, ps := range r.Overall {
			if err := writer.Write(row(r, "overall", ps)); err != nil {
				return err
			}
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to write report csv: %w", err)
	}
	return nil
}

// WriteJSON writes the reports as an indented JSON array.
func WriteJSON(w io.Writer, reports ...*Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(reports); err != nil {
		return fmt.Errorf("failed to write report json: %w", err)
	}
	return nil
}
