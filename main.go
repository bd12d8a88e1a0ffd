package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gilchrisn/cell-mobility/pkg/clustering"
	"github.com/gilchrisn/cell-mobility/pkg/config"
	"github.com/gilchrisn/cell-mobility/pkg/evaluation"
	"github.com/gilchrisn/cell-mobility/pkg/pipeline"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: mobility <mode> [config_file]")
		fmt.Println("Modes:")
		fmt.Println("  cluster - Optimize the daily tower clusterings")
		fmt.Println("  predict - Evaluate the Markov, KNN and step-classifier next-stop predictors")
		fmt.Println("  all     - Cluster, evaluate the clusterings, then predict")
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  mobility cluster config.yaml")
		fmt.Println("  MOBILITY_DAYS_LAST=10 mobility all")
		os.Exit(1)
	}
	mode := os.Args[1]
	if !knownMode(mode) {
		fmt.Printf("Unknown mode: %s\n", mode)
		fmt.Println("Available modes: cluster, predict, all")
		os.Exit(1)
	}

	cfg := config.NewConfig()
	if len(os.Args) > 2 {
		if err := cfg.LoadFromFile(os.Args[2]); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	logger := cfg.CreateLogger("mobility")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, data, err := pipeline.Open(cfg, logger)
	if err != nil {
		log.Fatalf("Setup failed: %v", err)
	}
	out := cfg.OutputDir()

	var reports []*evaluation.Report
	var clusterings pipeline.Clusterings
	switch mode {
	case "cluster", "all":
		strategies, err := cfg.Strategies()
		if err != nil {
			log.Fatalf("Invalid strategies: %v", err)
		}
		result, err := p.RunClustering(ctx, strategies...)
		if err != nil {
			log.Fatalf("Clustering failed: %v", err)
		}
		if err := pipeline.WriteClusteringResult(out, result); err != nil {
			log.Fatalf("Failed to write clusterings: %v", err)
		}
		clusterings = result.Clusterings
		if mode == "cluster" {
			break
		}
		clusterReports, err := p.RunClusterEvaluation(ctx, result.Clusterings, data.ByDay)
		if err != nil {
			log.Fatalf("Cluster evaluation failed: %v", err)
		}
		reports = append(reports, clusterReports...)
		fallthrough
	case "predict":
		if clusterings == nil {
			// the step classifier reuses the clusterings of an earlier run
			clusterings, err = pipeline.ReadClusterings(out, string(clustering.Learned), string(clustering.Consensus))
			if err != nil {
				log.Fatalf("Failed to read clusterings: %v", err)
			}
		}
		predictReports, err := p.RunPrediction(ctx, data.ByDay, clusterings)
		if err != nil {
			log.Fatalf("Prediction failed: %v", err)
		}
		reports = append(reports, predictReports...)
	}

	if len(reports) > 0 {
		if err := pipeline.WriteReports(out, reports); err != nil {
			log.Fatalf("Failed to write reports: %v", err)
		}
		printReports(reports)
	}
	logger.Info().Str("output", out).Msg("Done")
}

func knownMode(mode string) bool {
	switch mode {
	case "cluster", "predict", "all":
		return true
	}
	return false
}

func printReports(reports []*evaluation.Report) {
	fmt.Println("\n=== Results ===")
	for _, r := range reports {
		fmt.Printf("%s:\n", r.Model)
		for _, s := range r.Overall {
			fmt.Printf("  prefix %d: %.4f ± %.4f (n=%d)\n", s.Prefix, s.Mean, s.Std, s.N)
		}
	}
}
