package quota

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tier is a tenant's service tier. Ordering: free < standard < premium < unlimited.
type Tier string

const (
	TierFree      Tier = "free"
	TierStandard  Tier = "standard"
	TierPremium   Tier = "premium"
	TierUnlimited Tier = "unlimited"
)

// TierConfig holds the limits and model selection for one tier.
type TierConfig struct {
	RequestsPerDay      int    `yaml:"requests_per_day"`
	MaxTokensPerRequest int    `yaml:"max_tokens_per_request"`
	Model               string `yaml:"model"`
}

// TierTable maps tiers to their configuration.
type TierTable map[Tier]TierConfig

// DefaultTiers returns the reference tier configuration. Numbers are policy,
// not mechanism; operators override them via a tiers YAML file.
func DefaultTiers() TierTable {
	return TierTable{
		TierFree:      {RequestsPerDay: 100, MaxTokensPerRequest: 1024, Model: "gpt-4o-mini"},
		TierStandard:  {RequestsPerDay: 500, MaxTokensPerRequest: 2048, Model: "gpt-4o-mini"},
		TierPremium:   {RequestsPerDay: 2000, MaxTokensPerRequest: 4096, Model: "gpt-4o"},
		TierUnlimited: {RequestsPerDay: 10000, MaxTokensPerRequest: 4096, Model: "gpt-4o"},
	}
}

// LoadTiers reads tier overrides from a YAML file and merges them over the
// defaults. A tier absent from the file keeps its default. File shape:
//
//	tiers:
//	  premium:
//	    requests_per_day: 5000
//	    max_tokens_per_request: 8192
//	    model: gpt-4o
func LoadTiers(path string) (TierTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tiers config %s: %w", path, err)
	}

	var raw struct {
		Tiers map[Tier]TierConfig `yaml:"tiers"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing tiers config: %w", err)
	}

	table := DefaultTiers()
	for tier, override := range raw.Tiers {
		base, ok := table[tier]
		if !ok {
			return nil, fmt.Errorf("unknown tier %q in %s", tier, path)
		}
		if override.RequestsPerDay > 0 {
			base.RequestsPerDay = override.RequestsPerDay
		}
		if override.MaxTokensPerRequest > 0 {
			base.MaxTokensPerRequest = override.MaxTokensPerRequest
		}
		if override.Model != "" {
			base.Model = override.Model
		}
		table[tier] = base
	}
	return table, nil
}

// Config returns the configuration for a tier, falling back to free for
// unknown values so a mistyped tier row degrades to the tightest limit.
func (t TierTable) Config(tier Tier) TierConfig {
	if cfg, ok := t[tier]; ok {
		return cfg
	}
	return t[TierFree]
}
