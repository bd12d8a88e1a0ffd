package pipeline

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/gilchrisn/cell-mobility/pkg/config"
	"github.com/gilchrisn/cell-mobility/pkg/features"
	"github.com/gilchrisn/cell-mobility/pkg/towers"
	"github.com/gilchrisn/cell-mobility/pkg/trajectory"
)

// Data is everything read from the data directory.
type Data struct {
	Index *towers.Index
	// Canonical maps raw tower IDs onto characteristic towers; nil when no
	// sites file is configured.
	Canonical map[towers.ID]towers.ID
	ByDay     trajectory.ByDay
}

// LoadData reads the tower list, the optional site coordinates, the
// nationalities and the paths named in cfg.
func LoadData(cfg *config.Config, logger zerolog.Logger) (*Data, error) {
	data := &Data{}

	// Step 1: characteristic towers
	if path := cfg.SitesFile(); path != "" {
		sites, err := readFile(path, towers.ReadSites)
		if err != nil {
			return nil, err
		}
		data.Canonical = towers.Canonicalize(sites, cfg.MergeLevel())
		data.Index = towers.NewIndex(towers.Characteristic(data.Canonical))
		logger.Info().
			Int("sites", len(sites)).
			Int("towers", data.Index.Len()).
			Int("merge_level", cfg.MergeLevel()).
			Msg("Towers canonicalized")
	} else {
		index, err := readFile(cfg.TowersFile(), towers.ReadList)
		if err != nil {
			return nil, err
		}
		data.Index = index
	}

	// Step 2: subscribers and paths
	subscribers, err := readFile(cfg.NationalitiesFile(), trajectory.ReadNationalities)
	if err != nil {
		return nil, err
	}
	month, err := cfg.Month()
	if err != nil {
		return nil, err
	}
	file, err := os.Open(cfg.PathsFile())
	if err != nil {
		return nil, fmt.Errorf("failed to open paths file: %w", err)
	}
	defer file.Close()

	trajectories, err := trajectory.ReadPaths(file, month, cfg.RepeatGap(), subscribers)
	if err != nil {
		return nil, fmt.Errorf("failed to read paths: %w", err)
	}
	if data.Canonical != nil {
		trajectories = canonicalize(trajectories, data.Canonical, cfg)
	}
	data.ByDay = trajectory.PartitionByDay(trajectories)

	logger.Info().
		Int("towers", data.Index.Len()).
		Int("subscribers", len(subscribers)).
		Int("trajectories", data.ByDay.Count()).
		Int("days", len(data.ByDay)).
		Msg("Input data loaded")
	return data, nil
}

// canonicalize rewrites every stop onto its characteristic tower and
// collapses the repeats this creates.
func canonicalize(ts []trajectory.Trajectory, mapping map[towers.ID]towers.ID, cfg *config.Config) []trajectory.Trajectory {
	out := make([]trajectory.Trajectory, len(ts))
	for i, t := range ts {
		stops := make([]trajectory.Stop, len(t.Stops))
		for j, s := range t.Stops {
			if rep, ok := mapping[s.Tower]; ok {
				s.Tower = rep
			}
			stops[j] = s
		}
		out[i] = trajectory.Build(t.User, t.Nationality, stops, cfg.RepeatGap())
	}
	return out
}

func readFile[T any](path string, read func(io.Reader) (T, error)) (T, error) {
	var zero T
	file, err := os.Open(path)
	if err != nil {
		return zero, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	v, err := read(file)
	if err != nil {
		return zero, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return v, nil
}

// Open loads the configured data and builds a pipeline over the feature
// matrices in cfg.FeatureDir().
func Open(cfg *config.Config, logger zerolog.Logger) (*Pipeline, *Data, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	data, err := LoadData(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	src := features.DirSource{Dir: cfg.FeatureDir()}
	store := features.NewStore(src, data.Index, cfg.FeatureSpecs(), logger)
	return New(cfg, store, logger), data, nil
}
