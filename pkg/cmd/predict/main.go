package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/gilchrisn/cell-mobility/pkg/clustering"
	"github.com/gilchrisn/cell-mobility/pkg/config"
	"github.com/gilchrisn/cell-mobility/pkg/evaluation"
	"github.com/gilchrisn/cell-mobility/pkg/pipeline"
)

func main() {
	fmt.Println("=== Next-Stop Prediction ===")

	if len(os.Args) != 2 {
		log.Fatalf("Usage: %s <config_file>", os.Args[0])
	}

	cfg := config.NewConfig()
	if err := cfg.LoadFromFile(os.Args[1]); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := cfg.CreateLogger("predict")

	p, data, err := pipeline.Open(cfg, logger)
	if err != nil {
		log.Fatalf("Setup failed: %v", err)
	}

	clusterings, err := pipeline.ReadClusterings(cfg.OutputDir(), string(clustering.Learned), string(clustering.Consensus))
	if err != nil {
		log.Fatalf("Failed to read clusterings: %v", err)
	}

	reports, err := p.RunPrediction(context.Background(), data.ByDay, clusterings)
	if err != nil {
		log.Fatalf("Prediction failed: %v", err)
	}
	if err := pipeline.WriteReports(cfg.OutputDir(), reports); err != nil {
		log.Fatalf("Failed to write reports: %v", err)
	}

	displayResults(reports)
}

func displayResults(reports []*evaluation.Report) {
	fmt.Println("\n=== Results ===")
	for _, r := range reports {
		fmt.Printf("\n%s (%d days):\n", r.Model, len(r.Days))
		for _, s := range r.Overall {
			fmt.Printf("  Prefix %d: mean %.4f, std %.4f, days %d\n", s.Prefix, s.Mean, s.Std, s.N)
		}
	}
}
