package application

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	reconcile "reconcile-cloud/internal/reconcile/domain"
)

// NormalizerSettings overrides quantity normaliser defaults. Zero values
// mean "keep the default".
type NormalizerSettings struct {
	KegLitres  float64  `yaml:"keg_litres"`
	CaskLitres float64  `yaml:"cask_litres"`
	PinLitres  float64  `yaml:"pin_litres"`
	FOCTerms   []string `yaml:"foc_terms"`
}

// SolverSettings overrides discount solver defaults.
type SolverSettings struct {
	PennyTolerance           float64 `yaml:"penny_tolerance"`
	MinConfidence            float64 `yaml:"min_confidence"`
	ResidualTolerancePennies int     `yaml:"residual_tolerance_pennies"`
	MaxPercent               float64 `yaml:"max_percent"`
	MaxPerCaseAmount         float64 `yaml:"max_per_case_amount"`
	MaxPerLitre              float64 `yaml:"max_per_litre"`
}

// MathCheckSettings overrides line math validation defaults.
type MathCheckSettings struct {
	PriceTolAbs      float64 `yaml:"price_tol_abs"`
	PriceTolPct      float64 `yaml:"price_tol_pct"`
	QtyTol           float64 `yaml:"qty_tol"`
	LargeDiscountPct float64 `yaml:"large_discount_pct"`
	LargeDiscountAbs float64 `yaml:"large_discount_abs"`
}

// Config defines reconciliation engine configuration.
type Config struct {
	RulesetID  string             `yaml:"ruleset_id"`
	Normalizer NormalizerSettings `yaml:"normalizer"`
	Solver     SolverSettings     `yaml:"solver"`
	MathCheck  MathCheckSettings  `yaml:"math_check"`
}

// LoadConfig loads config from yaml or env.
func LoadConfig() (Config, error) {
	cfg := Config{
		RulesetID: getenvDefault("RECONCILE_RULESET_ID", "uk-hospitality-v1"),
		Solver: SolverSettings{
			MinConfidence: getenvFloatDefault("RECONCILE_MIN_CONFIDENCE", 0),
		},
		Normalizer: NormalizerSettings{
			FOCTerms: splitCSV(os.Getenv("RECONCILE_FOC_TERMS")),
		},
	}

	if path := os.Getenv("RECONCILE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.RulesetID == "" {
		return cfg, errors.New("reconcile config: ruleset_id required")
	}
	return cfg, nil
}

// NormalizerConfig merges overrides onto the normaliser defaults.
func (c Config) NormalizerConfig() reconcile.NormalizerConfig {
	base := reconcile.DefaultNormalizerConfig()
	if c.Normalizer.KegLitres != 0 {
		base.KegLitres = c.Normalizer.KegLitres
	}
	if c.Normalizer.CaskLitres != 0 {
		base.CaskLitres = c.Normalizer.CaskLitres
	}
	if c.Normalizer.PinLitres != 0 {
		base.PinLitres = c.Normalizer.PinLitres
	}
	if len(c.Normalizer.FOCTerms) > 0 {
		base.FOCTerms = c.Normalizer.FOCTerms
	}
	return base
}

// SolverConfig merges overrides onto the solver defaults.
func (c Config) SolverConfig() reconcile.SolverConfig {
	base := reconcile.DefaultSolverConfig()
	if c.Solver.PennyTolerance != 0 {
		base.PennyTolerance = c.Solver.PennyTolerance
	}
	if c.Solver.MinConfidence != 0 {
		base.MinConfidence = c.Solver.MinConfidence
	}
	if c.Solver.ResidualTolerancePennies != 0 {
		base.ResidualTolerancePennies = c.Solver.ResidualTolerancePennies
	}
	if c.Solver.MaxPercent != 0 {
		base.MaxPercent = c.Solver.MaxPercent
	}
	if c.Solver.MaxPerCaseAmount != 0 {
		base.MaxPerCaseAmount = c.Solver.MaxPerCaseAmount
	}
	if c.Solver.MaxPerLitre != 0 {
		base.MaxPerLitre = c.Solver.MaxPerLitre
	}
	return base
}

// MathCheckConfig merges overrides onto the math validation defaults.
func (c Config) MathCheckConfig() reconcile.MathCheckConfig {
	base := reconcile.DefaultMathCheckConfig()
	if c.MathCheck.PriceTolAbs != 0 {
		base.PriceTolAbs = c.MathCheck.PriceTolAbs
	}
	if c.MathCheck.PriceTolPct != 0 {
		base.PriceTolPct = c.MathCheck.PriceTolPct
	}
	if c.MathCheck.QtyTol != 0 {
		base.QtyTol = c.MathCheck.QtyTol
	}
	if c.MathCheck.LargeDiscountPct != 0 {
		base.LargeDiscountPct = c.MathCheck.LargeDiscountPct
	}
	if c.MathCheck.LargeDiscountAbs != 0 {
		base.LargeDiscountAbs = c.MathCheck.LargeDiscountAbs
	}
	if len(c.Normalizer.FOCTerms) > 0 {
		base.FOCTerms = c.Normalizer.FOCTerms
	}
	return base
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	var result []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
