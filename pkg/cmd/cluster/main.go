package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/gilchrisn/cell-mobility/pkg/clustering"
	"github.com/gilchrisn/cell-mobility/pkg/config"
	"github.com/gilchrisn/cell-mobility/pkg/pipeline"
)

func main() {
	fmt.Println("=== Daily Tower Clustering ===")

	if len(os.Args) < 2 {
		log.Fatalf("Usage: %s <config_file> [strategy...]", os.Args[0])
	}

	cfg := config.NewConfig()
	if err := cfg.LoadFromFile(os.Args[1]); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	strategies, err := cfg.Strategies()
	if err != nil {
		log.Fatalf("Invalid strategies: %v", err)
	}
	if len(os.Args) > 2 {
		strategies = strategies[:0]
		for _, name := range os.Args[2:] {
			s, err := clustering.ParseStrategy(name)
			if err != nil {
				log.Fatalf("Invalid strategy: %v", err)
			}
			strategies = append(strategies, s)
		}
	}
	logger := cfg.CreateLogger("cluster")

	// Step 1: Load towers, paths and the feature store
	fmt.Println("\nStep 1: Loading input data...")
	p, data, err := pipeline.Open(cfg, logger)
	if err != nil {
		log.Fatalf("Setup failed: %v", err)
	}
	fmt.Printf("  Towers: %d\n", data.Index.Len())
	fmt.Printf("  Trajectories: %d\n", data.ByDay.Count())

	// Step 2: Optimize every strategy for every day
	fmt.Printf("\nStep 2: Clustering days %d..%d...\n", cfg.FirstDay(), cfg.LastDay())
	ctx := context.Background()
	result, err := p.RunClustering(ctx, strategies...)
	if err != nil {
		log.Fatalf("Clustering failed: %v", err)
	}

	// Step 3: Write clusterings and outcomes
	fmt.Println("\nStep 3: Writing results...")
	if err := pipeline.WriteClusteringResult(cfg.OutputDir(), result); err != nil {
		log.Fatalf("Failed to write results: %v", err)
	}

	displayResults(result)
}

func displayResults(result *pipeline.ClusteringResult) {
	fmt.Println("\n=== Results ===")
	fmt.Printf("Run: %s\n", result.RunID)
	fmt.Printf("Runtime: %d ms\n", result.Runtime.Milliseconds())

	outcomes := append([]clustering.Outcome(nil), result.Outcomes...)
	sort.Slice(outcomes, func(i, j int) bool {
		if outcomes[i].Day != outcomes[j].Day {
			return outcomes[i].Day < outcomes[j].Day
		}
		return pipeline.Label(outcomes[i].Strategy, outcomes[i].Feature) < pipeline.Label(outcomes[j].Strategy, outcomes[j].Feature)
	})
	for _, o := range outcomes {
		fmt.Printf("  Day %2d %-26s cut=%.4f score=%.2f groups=%d singletons=%d\n",
			o.Day, pipeline.Label(o.Strategy, o.Feature), o.Cut, o.Score, o.NumGroups, o.Singletons)
	}

	for _, s := range result.Similarity {
		fmt.Printf("  Day %2d learned/consensus overlap: %.3f / %.3f\n", s.Day, s.LearnedCoverage, s.ConsensusCoverage)
	}
}
