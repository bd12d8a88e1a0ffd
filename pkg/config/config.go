// Package config holds the run configuration, backed by viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/gilchrisn/cell-mobility/pkg/clustering"
	"github.com/gilchrisn/cell-mobility/pkg/evaluation"
	"github.com/gilchrisn/cell-mobility/pkg/features"
	"github.com/gilchrisn/cell-mobility/pkg/knn"
	"github.com/gilchrisn/cell-mobility/pkg/markov"
	"github.com/gilchrisn/cell-mobility/pkg/models"
	"github.com/gilchrisn/cell-mobility/pkg/trajectory"
)

// Config manages the pipeline configuration using Viper
type Config struct {
	v *viper.Viper
}

// NewConfig creates a configuration with defaults. Environment variables
// prefixed with MOBILITY_ override any key (dots become underscores).
func NewConfig() *Config {
	v := viper.New()

	// Input data
	v.SetDefault("data.dir", "./processed_data")
	v.SetDefault("data.towers_file", "char_towers_only.csv")
	v.SetDefault("data.sites_file", "")
	v.SetDefault("data.paths_file", "user_paths.csv")
	v.SetDefault("data.nationalities_file", "user_nat_ph.csv")
	v.SetDefault("data.month", "2014-06")

	v.SetDefault("days.first", 2)
	v.SetDefault("days.last", 30)

	v.SetDefault("trajectory.repeat_gap", time.Minute)
	v.SetDefault("towers.merge_level", 30)

	// Clustering
	v.SetDefault("clustering.singleton_bonus", 100.0)
	v.SetDefault("clustering.pair_weight", 1.0)
	v.SetDefault("clustering.size_penalty", 1.0)
	// "minimize" drives the partition score down and so favours a few
	// multi-tower groups: on four towers in two tight pairs it picks the
	// pairs (score -1). "maximize" minimizes -score, which favours
	// singletons and picks all four alone there (score 99).
	v.SetDefault("clustering.objective", "minimize")
	v.SetDefault("clustering.strategies", []string{"naive", "learned", "individual", "consensus"})
	v.SetDefault("clustering.initial_cut.naive", 0.3)
	v.SetDefault("clustering.initial_cut.consensus", 0.5)
	v.SetDefault("clustering.initial_cut.jaccard", 0.85)
	v.SetDefault("clustering.initial_cut.connectivity", 0.7)
	v.SetDefault("clustering.initial_cut.nationality", 0.005)
	v.SetDefault("clustering.initial_cut.phone_cost", 0.005)
	v.SetDefault("clustering.initial_learned", []float64{0.5, 0.5, 0.5, 0.5, 0.5})
	v.SetDefault("optimizer.max_evaluations", 400)
	v.SetDefault("optimizer.simplex_size", 0.05)

	// Prediction
	v.SetDefault("markov.max_order", 3)
	v.SetDefault("markov.prior_fallback", false)
	v.SetDefault("markov.eval_first_day", 20)
	v.SetDefault("markov.eval_last_day", 30)
	v.SetDefault("knn.k", 20)
	v.SetDefault("knn.max_candidates", 10)
	v.SetDefault("knn.scorer", "edit")
	v.SetDefault("classifier.k", 30)
	v.SetDefault("classifier.chunk_size", 25)
	v.SetDefault("split.train_first_day", 1)
	v.SetDefault("split.train_last_day", 20)
	v.SetDefault("split.test_first_day", 21)
	v.SetDefault("split.test_last_day", 30)

	// Evaluation
	v.SetDefault("evaluation.min_stops", 5)
	v.SetDefault("evaluation.max_prefix", 5)
	v.SetDefault("evaluation.unique_paths", true)
	v.SetDefault("evaluation.workers", runtime.NumCPU())
	v.SetDefault("evaluation.chunk_size", 0)
	v.SetDefault("evaluation.cluster_aggregate", true)

	// Logging and output
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("output.dir", "./output")
	v.SetDefault("output.trace_optimizer", false)

	v.SetEnvPrefix("MOBILITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Config{v: v}
}

// LoadFromFile loads configuration from file
func (c *Config) LoadFromFile(path string) error {
	c.v.SetConfigFile(path)
	if err := c.v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return nil
}

// Set allows dynamic configuration changes
func (c *Config) Set(key string, value interface{}) {
	c.v.Set(key, value)
}

// Input data
func (c *Config) DataDir() string { return c.v.GetString("data.dir") }
func (c *Config) TowersFile() string { return c.dataPath("data.towers_file") }
func (c *Config) SitesFile() string { return c.dataPath("data.sites_file") }
func (c *Config) PathsFile() string { return c.dataPath("data.paths_file") }
func (c *Config) NationalitiesFile() string { return c.dataPath("data.nationalities_file") }
func (c *Config) FeatureDir() string { return c.DataDir() }

func (c *Config) dataPath(key string) string {
	name := c.v.GetString(key)
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.DataDir(), name)
}

// Month returns the first instant of the month the records belong to.
func (c *Config) Month() (time.Time, error) {
	m, err := time.Parse("2006-01", c.v.GetString("data.month"))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: data.month: %v", models.ErrInvalidParameter, err)
	}
	return m, nil
}

func (c *Config) FirstDay() int { return c.v.GetInt("days.first") }
func (c *Config) LastDay() int { return c.v.GetInt("days.last") }

func (c *Config) RepeatGap() time.Duration { return c.v.GetDuration("trajectory.repeat_gap") }
func (c *Config) MergeLevel() int { return c.v.GetInt("towers.merge_level") }

// Clustering
func (c *Config) InitialCut(name string) float64 {
	return c.v.GetFloat64("clustering.initial_cut." + name)
}

// InitialLearned returns the learned search start [cut, weights...].
func (c *Config) InitialLearned() ([5]float64, error) {
	var out [5]float64
	raw := c.v.Get("clustering.initial_learned")
	values, ok := raw.([]float64)
	if !ok {
		// values read from files arrive as []interface{}
		items, ok := raw.([]interface{})
		if !ok {
			return out, fmt.Errorf("%w: clustering.initial_learned must be a list", models.ErrInvalidParameter)
		}
		for _, it := range items {
			f, err := toFloat(it)
			if err != nil {
				return out, err
			}
			values = append(values, f)
		}
	}
	if len(values) != len(out) {
		return out, fmt.Errorf("%w: clustering.initial_learned needs %d values, got %d",
			models.ErrInvalidParameter, len(out), len(values))
	}
	copy(out[:], values)
	return out, nil
}

func toFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	}
	return 0, fmt.Errorf("%w: %v is not a number", models.ErrInvalidParameter, v)
}

// Strategies returns the clustering strategies to run.
func (c *Config) Strategies() ([]clustering.Strategy, error) {
	var out []clustering.Strategy
	for _, s := range c.v.GetStringSlice("clustering.strategies") {
		st, err := clustering.ParseStrategy(s)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// Clustering returns the optimizer settings.
func (c *Config) Clustering() (clustering.Config, error) {
	sense, err := clustering.ParseSense(c.v.GetString("clustering.objective"))
	if err != nil {
		return clustering.Config{}, err
	}
	return clustering.Config{
		SingletonBonus: c.v.GetFloat64("clustering.singleton_bonus"),
		PairWeight:     c.v.GetFloat64("clustering.pair_weight"),
		SizePenalty:    c.v.GetFloat64("clustering.size_penalty"),
		Sense:          sense,
		MaxEvaluations: c.v.GetInt("optimizer.max_evaluations"),
		SimplexSize:    c.v.GetFloat64("optimizer.simplex_size"),
	}, nil
}

// FeatureSpecs returns the default feature transforms.
func (c *Config) FeatureSpecs() map[features.Feature]features.Spec { return features.DefaultSpecs() }

// Prediction
func (c *Config) Markov() markov.Config {
	return markov.Config{
		MaxOrder:        c.v.GetInt("markov.max_order"),
		FallbackToPrior: c.v.GetBool("markov.prior_fallback"),
	}
}

func (c *Config) MarkovEvalDays() []int {
	return dayRange(c.v.GetInt("markov.eval_first_day"), c.v.GetInt("markov.eval_last_day"))
}

func (c *Config) KNN() (knn.Config, error) {
	dist, err := knn.ParseDistance(c.v.GetString("knn.scorer"))
	if err != nil {
		return knn.Config{}, err
	}
	return knn.Config{
		K:             c.v.GetInt("knn.k"),
		MaxCandidates: c.v.GetInt("knn.max_candidates"),
		Distance:      dist,
	}, nil
}

// ClassifierK is the neighbourhood size of the step classifier.
func (c *Config) ClassifierK() int { return c.v.GetInt("classifier.k") }

// ClassifierChunkSize is how many test trajectories one classifier task
// scores.
func (c *Config) ClassifierChunkSize() int { return c.v.GetInt("classifier.chunk_size") }

func (c *Config) TrainFirstDay() int { return c.v.GetInt("split.train_first_day") }
func (c *Config) TrainLastDay() int { return c.v.GetInt("split.train_last_day") }

func (c *Config) TestDays() []int {
	return dayRange(c.v.GetInt("split.test_first_day"), c.v.GetInt("split.test_last_day"))
}

// Evaluation
func (c *Config) Evaluation() evaluation.Config {
	return evaluation.Config{
		MinStops:    c.v.GetInt("evaluation.min_stops"),
		MaxPrefix:   c.v.GetInt("evaluation.max_prefix"),
		UniquePaths: c.v.GetBool("evaluation.unique_paths"),
		Workers:     c.Workers(),
		ChunkSize:   c.v.GetInt("evaluation.chunk_size"),
	}
}

func (c *Config) Workers() int {
	if n := c.v.GetInt("evaluation.workers"); n > 0 {
		return n
	}
	return runtime.NumCPU()
}

func (c *Config) ClusterAggregate() bool { return c.v.GetBool("evaluation.cluster_aggregate") }

// Logging and output
func (c *Config) LogLevel() string { return c.v.GetString("logging.level") }
func (c *Config) LogFormat() string { return c.v.GetString("logging.format") }
func (c *Config) OutputDir() string { return c.v.GetString("output.dir") }
func (c *Config) TraceOptimizer() bool { return c.v.GetBool("output.trace_optimizer") }
func (c *Config) ClusteringDays() []int { return dayRange(c.FirstDay(), c.LastDay()) }

// Validate checks cross-key constraints.
func (c *Config) Validate() error {
	var errs models.ValidationErrors
	if c.FirstDay() > c.LastDay() {
		errs = append(errs, models.ValidationError{Field: "days", Message: "first day after last day"})
	}
	if c.v.GetInt("markov.max_order") < 1 {
		errs = append(errs, models.ValidationError{Field: "markov.max_order", Message: "must be at least 1"})
	}
	if c.v.GetInt("evaluation.max_prefix") < 1 {
		errs = append(errs, models.ValidationError{Field: "evaluation.max_prefix", Message: "must be at least 1"})
	}
	if c.FirstDay() < 1 || c.LastDay() > trajectory.MaxDay {
		errs = append(errs, models.ValidationError{Field: "days", Message: fmt.Sprintf("days must lie in 1..%d", trajectory.MaxDay),
			Value: fmt.Sprintf("%d..%d", c.FirstDay(), c.LastDay())})
	}
	if c.TrainLastDay() >= c.v.GetInt("split.test_first_day") {
		errs = append(errs, models.ValidationError{Field: "split", Message: "training window overlaps the test window"})
	}
	if c.TrainLastDay() < c.FirstDay() || c.TrainLastDay() > c.LastDay() {
		errs = append(errs, models.ValidationError{Field: "split.train_last_day",
			Message: fmt.Sprintf("classifier state needs a day in %d..%d", c.FirstDay(), c.LastDay()),
			Value:   fmt.Sprint(c.TrainLastDay())})
	}
	if c.ClassifierK() < 1 {
		errs = append(errs, models.ValidationError{Field: "classifier.k", Message: "must be at least 1"})
	}
	// day d is predicted from the state built through day d-1
	errs = append(errs, c.heldOut("markov.eval", c.v.GetInt("markov.eval_first_day"), c.v.GetInt("markov.eval_last_day"))...)
	errs = append(errs, c.heldOut("split.test", c.v.GetInt("split.test_first_day"), c.v.GetInt("split.test_last_day"))...)
	if _, err := c.Month(); err != nil {
		errs = append(errs, models.ValidationError{Field: "data.month", Message: err.Error()})
	}
	if _, err := c.Clustering(); err != nil {
		errs = append(errs, models.ValidationError{Field: "clustering.objective", Message: err.Error()})
	}
	if _, err := c.KNN(); err != nil {
		errs = append(errs, models.ValidationError{Field: "knn.scorer", Message: err.Error()})
	}
	if _, err := c.InitialLearned(); err != nil {
		errs = append(errs, models.ValidationError{Field: "clustering.initial_learned", Message: err.Error()})
	}
	return errs.OrNil()
}

// heldOut checks that the day before every day of first..last has a model
// state, i.e. lies in days.first..days.last.
func (c *Config) heldOut(prefix string, first, last int) models.ValidationErrors {
	var errs models.ValidationErrors
	if first-1 < c.FirstDay() {
		errs = append(errs, models.ValidationError{Field: prefix + "_first_day",
			Message: fmt.Sprintf("needs the state of day %d, before days.first %d", first-1, c.FirstDay()),
			Value:   fmt.Sprint(first)})
	}
	if last-1 > c.LastDay() {
		errs = append(errs, models.ValidationError{Field: prefix + "_last_day",
			Message: fmt.Sprintf("needs the state of day %d, after days.last %d", last-1, c.LastDay()),
			Value:   fmt.Sprint(last)})
	}
	return errs
}

// CreateLogger creates a zerolog logger based on config
func (c *Config) CreateLogger(service string) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel())
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if c.LogFormat() == "json" {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		})
	}
	return logger.Level(level).With().Timestamp().Str("service", service).Logger()
}

func dayRange(first, last int) []int {
	if first > last {
		return nil
	}
	out := make([]int, 0, last-first+1)
	for d := first; d <= last; d++ {
		out = append(out, d)
	}
	return out
}
