package main

import (
	"flag"
	"fmt"
	"os"

	"margin_monitor/internal/config"
	"margin_monitor/internal/margin"
	"margin_monitor/internal/render"

	"github.com/shopspring/decimal"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/monitor.yaml", "Path to configuration file")
	rateStr := flag.String("rate", "", "Rate to evaluate at (required unless -scan)")
	scan := flag.Bool("scan", false, "Print a range scan table instead of a single evaluation")
	minStr := flag.String("min", "", "Scan lower bound (overrides config)")
	maxStr := flag.String("max", "", "Scan upper bound (overrides config)")
	stepStr := flag.String("step", "", "Scan step (overrides config)")
	targetStr := flag.String("target", "", "Also solve the rate for this margin level, e.g. 100")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("margincalc version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	book, err := cfg.ToBook()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid book configuration: %v\n", err)
		os.Exit(1)
	}

	switch {
	case *scan:
		minRate, maxRate, step := cfg.ScanGrid()
		if minRate, err = override(minRate, *minStr); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid -min: %v\n", err)
			os.Exit(1)
		}
		if maxRate, err = override(maxRate, *maxStr); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid -max: %v\n", err)
			os.Exit(1)
		}
		if step, err = override(step, *stepStr); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid -step: %v\n", err)
			os.Exit(1)
		}

		snapshots, err := margin.ScanRange(book, minRate, maxRate, step)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Scan failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(render.ScanTable(snapshots))

	case *rateStr != "":
		rate, err := decimal.NewFromString(*rateStr)
		if err != nil || !rate.IsPositive() {
			fmt.Fprintf(os.Stderr, "Invalid -rate: must be a positive number\n")
			os.Exit(1)
		}
		snap := margin.Evaluate(book, rate)
		fmt.Print(render.Snapshot(&snap))

	default:
		fmt.Fprintln(os.Stderr, "Either -rate or -scan is required")
		flag.Usage()
		os.Exit(2)
	}

	if *targetStr != "" {
		target, err := decimal.NewFromString(*targetStr)
		if err != nil || !target.IsPositive() {
			fmt.Fprintf(os.Stderr, "Invalid -target: must be a positive number\n")
			os.Exit(1)
		}
		result := margin.SolveCriticalRate(book, target)
		fmt.Println()
		fmt.Print(render.CriticalRate(*targetStr, result))
	}
}

func override(current decimal.Decimal, s string) (decimal.Decimal, error) {
	if s == "" {
		return current, nil
	}
	return decimal.NewFromString(s)
}
