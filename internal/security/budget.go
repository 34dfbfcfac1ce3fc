package security

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// HoursPerMonth converts hourly cost to the monthly-equivalent shown to callers.
const HoursPerMonth = 730

// DefaultMaxHourlyCost is the per-hour ceiling used when none is configured.
const DefaultMaxHourlyCost = 1.0

// DefaultPricing is the on-demand hourly price table (USD) for known
// instance classes.
var DefaultPricing = map[string]float64{
	"t3.nano":    0.0052,
	"t3.micro":   0.0104,
	"t3.small":   0.0208,
	"t3.medium":  0.0416,
	"t3.large":   0.0832,
	"t3.xlarge":  0.1664,
	"t3.2xlarge": 0.3328,
	"t2.micro":   0.0116,
	"t2.small":   0.023,
	"t2.medium":  0.0464,
	"t2.large":   0.0928,
	"m5.large":   0.096,
	"m5.xlarge":  0.192,
	"m5.2xlarge": 0.384,
	"m5.4xlarge": 0.768,
	"c5.large":   0.085,
	"c5.xlarge":  0.17,
	"c5.2xlarge": 0.34,
	"r5.large":   0.126,
	"r5.xlarge":  0.252,
	"r5.2xlarge": 0.504,
}

// BudgetDecision is the result of a budget check. Not persisted.
type BudgetDecision struct {
	Allowed       bool    `json:"allowed"`
	ResourceClass string  `json:"resource_class"`
	Known         bool    `json:"known"` // False: class missing from the table, cost assumed 0.
	HourlyCost    float64 `json:"hourly_cost"`
	Ceiling       float64 `json:"ceiling"`
	MonthlyCost   float64 `json:"monthly_cost"`
	Reason        string  `json:"reason,omitempty"`
}

// Err returns a wrapped ErrBudgetExceeded when the decision disallows, else nil.
func (d BudgetDecision) Err() error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrBudgetExceeded, d.Reason)
}

// PriceEntry is one row of the pricing table.
type PriceEntry struct {
	ResourceClass string  `json:"resource_class"`
	HourlyCost    float64 `json:"hourly_cost"`
	MonthlyCost   float64 `json:"monthly_cost"`
}

// BudgetGuard compares the hourly cost of a resource class against a
// configured per-hour ceiling. The pricing table can be replaced at runtime.
type BudgetGuard struct {
	mu      sync.RWMutex
	pricing map[string]float64
	ceiling float64
	logger  *slog.Logger
}

// NewBudgetGuard creates a guard with the default pricing table extended by
// overrides. A non-positive ceiling selects DefaultMaxHourlyCost.
func NewBudgetGuard(ceiling float64, overrides map[string]float64, logger *slog.Logger) *BudgetGuard {
	if ceiling <= 0 {
		ceiling = DefaultMaxHourlyCost
	}
	return &BudgetGuard{
		pricing: mergePricing(DefaultPricing, overrides),
		ceiling: ceiling,
		logger:  logger,
	}
}

// Check evaluates a resource class. Unknown classes cost 0 and are allowed;
// callers must read Known=false as "not verified".
func (b *BudgetGuard) Check(ctx context.Context, resourceClass string) BudgetDecision {
	b.mu.RLock()
	hourly, known := b.pricing[resourceClass]
	ceiling := b.ceiling
	b.mu.RUnlock()

	d := BudgetDecision{
		Allowed:       hourly <= ceiling,
		ResourceClass: resourceClass,
		Known:         known,
		HourlyCost:    hourly,
		Ceiling:       ceiling,
		MonthlyCost:   MonthlyCost(hourly),
	}

	if !known {
		b.logger.WarnContext(ctx, "resource class not in pricing table, cost unverified",
			slog.String("resource_class", resourceClass),
		)
	}
	if !d.Allowed {
		d.Reason = fmt.Sprintf("%s costs $%.4f/hour ($%.2f/month), exceeds limit of $%.4f/hour",
			resourceClass, hourly, d.MonthlyCost, ceiling)
		b.logger.WarnContext(ctx, "budget exceeded",
			slog.String("resource_class", resourceClass),
			slog.Float64("hourly_cost", hourly),
			slog.Float64("ceiling", ceiling),
		)
	}
	return d
}

// HourlyCost returns the table price for a class and whether it is known.
func (b *BudgetGuard) HourlyCost(resourceClass string) (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.pricing[resourceClass]
	return c, ok
}

// CostDiff returns the monthly-equivalent change when moving between classes.
func (b *BudgetGuard) CostDiff(from, to string) float64 {
	fromCost, _ := b.HourlyCost(from)
	toCost, _ := b.HourlyCost(to)
	return MonthlyCost(toCost - fromCost)
}

// Ceiling returns the configured per-hour ceiling.
func (b *BudgetGuard) Ceiling() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ceiling
}

// Table returns the pricing table sorted by hourly cost, then class name.
func (b *BudgetGuard) Table() []PriceEntry {
	b.mu.RLock()
	entries := make([]PriceEntry, 0, len(b.pricing))
	for class, cost := range b.pricing {
		entries = append(entries, PriceEntry{ResourceClass: class, HourlyCost: cost, MonthlyCost: MonthlyCost(cost)})
	}
	b.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].HourlyCost != entries[j].HourlyCost {
			return entries[i].HourlyCost < entries[j].HourlyCost
		}
		return entries[i].ResourceClass < entries[j].ResourceClass
	})
	return entries
}

// SetPricing replaces the overrides layered on top of DefaultPricing.
func (b *BudgetGuard) SetPricing(overrides map[string]float64) {
	merged := mergePricing(DefaultPricing, overrides)
	b.mu.Lock()
	b.pricing = merged
	b.mu.Unlock()
}

// LoadPricingFile reads a YAML or JSON map of class to hourly cost and
// applies it with SetPricing.
func (b *BudgetGuard) LoadPricingFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading pricing file %s: %w", path, err)
	}
	var overrides map[string]float64
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return fmt.Errorf("parsing pricing file %s: %w", path, err)
	}
	for class, cost := range overrides {
		if cost < 0 {
			return fmt.Errorf("pricing file %s: %q has negative cost", path, class)
		}
	}
	b.SetPricing(overrides)
	b.logger.Info("pricing table loaded",
		slog.String("path", path),
		slog.Int("overrides", len(overrides)),
	)
	return nil
}

// MonthlyCost converts an hourly cost to the monthly equivalent, rounded to cents.
func MonthlyCost(hourly float64) float64 {
	return math.Round(hourly*HoursPerMonth*100) / 100
}

func mergePricing(base, overrides map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}
