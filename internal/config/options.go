package config

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ModuleConfig is the declarative enable/params entry for one pluggable
// module (calculator, pattern, generator, filter).
type ModuleConfig struct {
	Enabled bool           `yaml:"enabled"`
	Params  map[string]any `yaml:"params"`
}

// Options is the typed runtime knob record. Downstream code takes this
// record, never a dynamic settings map; the settings repository is a thin
// adapter that overrides fields at load time.
type Options struct {
	PlannerBatchSize    int `yaml:"planner_batch_size"`
	PlannerBatchSizeAPI int `yaml:"planner_batch_size_api"`

	TransactionCostFixed   float64 `yaml:"transaction_cost_fixed"`
	TransactionCostPercent float64 `yaml:"transaction_cost_percent"`
	MinTradeValue          float64 `yaml:"min_trade_value"`

	MaxPlanDepth               int     `yaml:"max_plan_depth"`
	MaxOpportunitiesPerCategory int    `yaml:"max_opportunities_per_category"`
	EnableCombinatorialGeneration bool `yaml:"enable_combinatorial_generation"`
	PriorityThresholdForCombinations float64 `yaml:"priority_threshold_for_combinations"`
	CombinatorialMaxCombinationsPerDepth int `yaml:"combinatorial_max_combinations_per_depth"`
	CombinatorialMaxSells      int `yaml:"combinatorial_max_sells"`
	CombinatorialMaxBuys       int `yaml:"combinatorial_max_buys"`
	CombinatorialMaxCandidates int `yaml:"combinatorial_max_candidates"`

	MarketRegimeDetectionEnabled bool    `yaml:"market_regime_detection_enabled"`
	MarketRegimeBullThreshold    float64 `yaml:"market_regime_bull_threshold"`
	MarketRegimeBearThreshold    float64 `yaml:"market_regime_bear_threshold"`

	StockDiscoveryEnabled             bool    `yaml:"stock_discovery_enabled"`
	StockDiscoveryScoreThreshold      float64 `yaml:"stock_discovery_score_threshold"`
	StockDiscoveryMaxPerMonth         int     `yaml:"stock_discovery_max_per_month"`
	StockDiscoveryRequireManualReview bool    `yaml:"stock_discovery_require_manual_review"`

	StrategyLotStandardMaxPct      float64 `yaml:"strategy_lot_standard_max_pct"`
	StrategyLotCoarseMaxPct        float64 `yaml:"strategy_lot_coarse_max_pct"`
	StrategyCoreFloorPct           float64 `yaml:"strategy_core_floor_pct"`
	StrategyMinOppScore            float64 `yaml:"strategy_min_opp_score"`
	StrategyMaxFundingSellsPerCycle int    `yaml:"strategy_max_funding_sells_per_cycle"`
	StrategyMaxFundingTurnoverPct  float64 `yaml:"strategy_max_funding_turnover_pct"`

	TradingMode string `yaml:"trading_mode"` // "research" or "live"

	SnapshotRetentionDays   int `yaml:"snapshot_retention_days"`
	DailyPriceRetentionDays int `yaml:"daily_price_retention_days"`
	BackupRetentionCount    int `yaml:"backup_retention_count"`

	R2AccountID  string `yaml:"r2_account_id"`
	R2AccessKey  string `yaml:"r2_access_key"`
	R2SecretKey  string `yaml:"r2_secret_key"`
	R2BucketName string `yaml:"r2_bucket_name"`

	EventDrivenRebalancingEnabled bool `yaml:"event_driven_rebalancing_enabled"`

	// Per-module registries, keyed by module name.
	OpportunityCalculators map[string]ModuleConfig `yaml:"opportunity_calculators"`
	PatternGenerators      map[string]ModuleConfig `yaml:"pattern_generators"`
	SequenceGenerators     map[string]ModuleConfig `yaml:"sequence_generators"`
	SequenceFilters        map[string]ModuleConfig `yaml:"sequence_filters"`
}

// DefaultOptions is the balanced profile.
func DefaultOptions() Options {
	return Options{
		PlannerBatchSize:    100,
		PlannerBatchSizeAPI: 5,

		TransactionCostFixed:   2.0,
		TransactionCostPercent: 0.002,
		MinTradeValue:          500.0,

		MaxPlanDepth:                         5,
		MaxOpportunitiesPerCategory:          5,
		EnableCombinatorialGeneration:        true,
		PriorityThresholdForCombinations:     0.3,
		CombinatorialMaxCombinationsPerDepth: 50,
		CombinatorialMaxSells:                4,
		CombinatorialMaxBuys:                 4,
		CombinatorialMaxCandidates:           12,

		MarketRegimeDetectionEnabled: false,
		MarketRegimeBullThreshold:    0.05,
		MarketRegimeBearThreshold:    -0.10,

		StockDiscoveryEnabled:             false,
		StockDiscoveryScoreThreshold:      0.75,
		StockDiscoveryMaxPerMonth:         2,
		StockDiscoveryRequireManualReview: true,

		StrategyLotStandardMaxPct:       0.01,
		StrategyLotCoarseMaxPct:         0.05,
		StrategyCoreFloorPct:            0.02,
		StrategyMinOppScore:             0.45,
		StrategyMaxFundingSellsPerCycle: 2,
		StrategyMaxFundingTurnoverPct:   0.12,

		TradingMode: "research",

		SnapshotRetentionDays:   90,
		DailyPriceRetentionDays: 365,
		BackupRetentionCount:    7,

		EventDrivenRebalancingEnabled: true,
	}
}

// LoadOptions reads the YAML profile over the defaults. An empty path
// returns the defaults.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()
	if path == "" {
		return opts, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("failed to read profile %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}
	return opts, nil
}

// SettingsReader is the slice of the settings repository options use.
type SettingsReader interface {
	Get(ctx context.Context, key, def string) (string, error)
	GetFloat(ctx context.Context, key string, def float64) (float64, error)
	GetInt(ctx context.Context, key string, def int) (int, error)
	GetBool(ctx context.Context, key string, def bool) (bool, error)
}

// ApplySettings overlays settings-database values onto the options.
// Settings take precedence over file and defaults.
func (o *Options) ApplySettings(ctx context.Context, settings SettingsReader) error {
	var err error
	if o.PlannerBatchSize, err = settings.GetInt(ctx, "planner_batch_size", o.PlannerBatchSize); err != nil {
		return err
	}
	if o.PlannerBatchSizeAPI, err = settings.GetInt(ctx, "planner_batch_size_api", o.PlannerBatchSizeAPI); err != nil {
		return err
	}
	if o.TransactionCostFixed, err = settings.GetFloat(ctx, "transaction_cost_fixed", o.TransactionCostFixed); err != nil {
		return err
	}
	if o.TransactionCostPercent, err = settings.GetFloat(ctx, "transaction_cost_percent", o.TransactionCostPercent); err != nil {
		return err
	}
	if o.MinTradeValue, err = settings.GetFloat(ctx, "min_trade_value", o.MinTradeValue); err != nil {
		return err
	}
	if o.StrategyCoreFloorPct, err = settings.GetFloat(ctx, "strategy_core_floor_pct", o.StrategyCoreFloorPct); err != nil {
		return err
	}
	if o.StrategyMinOppScore, err = settings.GetFloat(ctx, "strategy_min_opp_score", o.StrategyMinOppScore); err != nil {
		return err
	}
	if o.StrategyMaxFundingSellsPerCycle, err = settings.GetInt(ctx, "strategy_max_funding_sells_per_cycle", o.StrategyMaxFundingSellsPerCycle); err != nil {
		return err
	}
	if o.StrategyMaxFundingTurnoverPct, err = settings.GetFloat(ctx, "strategy_max_funding_turnover_pct", o.StrategyMaxFundingTurnoverPct); err != nil {
		return err
	}
	if o.TradingMode, err = settings.Get(ctx, "trading_mode", o.TradingMode); err != nil {
		return err
	}
	if o.R2AccountID, err = settings.Get(ctx, "r2_account_id", o.R2AccountID); err != nil {
		return err
	}
	if o.R2AccessKey, err = settings.Get(ctx, "r2_access_key", o.R2AccessKey); err != nil {
		return err
	}
	if o.R2SecretKey, err = settings.Get(ctx, "r2_secret_key", o.R2SecretKey); err != nil {
		return err
	}
	if o.R2BucketName, err = settings.Get(ctx, "r2_bucket_name", o.R2BucketName); err != nil {
		return err
	}
	return nil
}
