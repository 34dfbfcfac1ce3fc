package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jkaninda/warden/internal/security"
)

var pricingCmd = &cobra.Command{
	Use:   "pricing",
	Short: "Show the instance pricing table and the hourly budget ceiling",
	Args:  cobra.NoArgs,
	RunE:  runPricing,
}

func runPricing(_ *cobra.Command, _ []string) error {
	logger := newLogger()
	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}

	// The guard alone is enough; no store or backend is needed.
	guard := security.NewBudgetGuard(cfg.Budget.MaxHourlyCostUSD, cfg.Budget.Pricing, logger)
	if cfg.Budget.PricingFile != "" {
		if err := guard.LoadPricingFile(cfg.Budget.PricingFile); err != nil {
			return err
		}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CLASS\tHOURLY\tMONTHLY\tALLOWED")
	for _, e := range guard.Table() {
		allowed := "yes"
		if e.HourlyCost > guard.Ceiling() {
			allowed = "no"
		}
		fmt.Fprintf(w, "%s\t$%.4f\t$%.2f\t%s\n", e.ResourceClass, e.HourlyCost, e.MonthlyCost, allowed)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\nCeiling: $%.4f/hour ($%.2f/month)\n", guard.Ceiling(), security.MonthlyCost(guard.Ceiling()))
	return nil
}
