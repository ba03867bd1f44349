package main

import (
	"flag"
	"fmt"
	"os"

	"margin_monitor/internal/config"
	"margin_monitor/internal/loan"
	"margin_monitor/internal/render"

	"github.com/shopspring/decimal"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/monitor.yaml", "Path to configuration file")
	principal := flag.Float64("principal", 0, "Loan principal (overrides config)")
	annualRate := flag.Float64("annual-rate", -1, "Annual rate percent (overrides config)")
	years := flag.Int("years", 0, "Term in years (overrides config)")
	method := flag.String("method", "", "fixed_payment or fixed_principal (overrides config)")
	deduction := flag.Bool("deduction", false, "Also print the mortgage tax deduction table")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("loancalc version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	terms, plan, err := cfg.ToLoan()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid loan configuration: %v\n", err)
		os.Exit(1)
	}

	if *principal > 0 {
		terms.Principal = decimal.NewFromFloat(*principal)
	}
	if *annualRate >= 0 {
		terms.AnnualRatePercent = decimal.NewFromFloat(*annualRate)
	}
	if *years > 0 {
		terms.Years = *years
	}
	if *method != "" {
		m, err := loan.ParseMethod(*method)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid -method: %v\n", err)
			os.Exit(1)
		}
		terms.Method = m
	}

	schedule, err := terms.Schedule()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build schedule: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Loan: principal %s, %s%% per year, %d years, %s\n\n",
		terms.Principal.StringFixed(0),
		terms.AnnualRatePercent.String(),
		terms.Years,
		terms.Method,
	)
	fmt.Print(render.AmortizationTable(schedule))

	if *deduction {
		if plan == nil {
			fmt.Fprintln(os.Stderr, "\nNo deduction plan configured (loan.deduction.enabled: true)")
			os.Exit(1)
		}
		fmt.Println()
		fmt.Print(render.DeductionTable(plan.Apply(schedule)))
	}
}
