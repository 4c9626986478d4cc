package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// SignalSource selects which signal pipeline the auto-trader uses.
type SignalSource string

const (
	SourceElite         SignalSource = "elite"
	SourceQuant         SignalSource = "quant"
	SourceQuantEnsemble SignalSource = "quant_ensemble"
)

// EnsembleMethod selects how model probabilities are combined.
type EnsembleMethod string

const (
	EnsembleWeightedAverage EnsembleMethod = "weighted_average"
	EnsembleVoting          EnsembleMethod = "voting"
	// EnsembleStacking is accepted in config but combines as a weighted
	// average until a fitted meta-model backs it.
	EnsembleStacking EnsembleMethod = "stacking"
)

// TradingConfig is the closed set of recognized trading options. Any key in
// trading_config.yaml outside this record fails the load.
type TradingConfig struct {
	MaxRiskPerTrade    float64 `mapstructure:"max_risk_per_trade"`
	MaxPositionSize    float64 `mapstructure:"max_position_size"`
	MaxDailyRisk       float64 `mapstructure:"max_daily_risk"`
	MaxPortfolioRisk   float64 `mapstructure:"max_portfolio_risk"`
	MaxOpenPositions   int     `mapstructure:"max_open_positions"`
	MinRiskRewardRatio float64 `mapstructure:"min_risk_reward_ratio"`

	ConfidenceThreshold         float64 `mapstructure:"confidence_threshold"`
	ConfidenceThresholdRanging  float64 `mapstructure:"confidence_threshold_ranging"`
	ConfidenceThresholdTrending float64 `mapstructure:"confidence_threshold_trending"`
	UseRegimeThresholds         bool    `mapstructure:"use_regime_thresholds"`
	UseAdaptiveThreshold        bool    `mapstructure:"use_adaptive_threshold"`
	AdaptiveThresholdFloor      float64 `mapstructure:"adaptive_threshold_floor"`

	MaxConsecutiveLosses   int     `mapstructure:"max_consecutive_losses"`
	DailyLossLimitPct      float64 `mapstructure:"daily_loss_limit_pct"`
	DailyLossLimitAmount   float64 `mapstructure:"daily_loss_limit_amount"`
	CooldownMinutes        int     `mapstructure:"cooldown_minutes"`
	MinAccuracy            float64 `mapstructure:"min_accuracy"`
	CooldownHoursAfterLoss float64 `mapstructure:"cooldown_hours_after_ticker_loss"`

	SignalSource        SignalSource   `mapstructure:"signal_source"`
	QuantEnsembleMethod EnsembleMethod `mapstructure:"quant_ensemble_method"`
}

// DefaultTradingConfig returns the documented defaults.
func DefaultTradingConfig() TradingConfig {
	return TradingConfig{
		MaxRiskPerTrade:    0.02,
		MaxPositionSize:    0.20,
		MaxDailyRisk:       0.05,
		MaxPortfolioRisk:   0.30,
		MaxOpenPositions:   10,
		MinRiskRewardRatio: 1.5,

		ConfidenceThreshold:         0.65,
		ConfidenceThresholdRanging:  0.70,
		ConfidenceThresholdTrending: 0.60,
		UseRegimeThresholds:         true,
		UseAdaptiveThreshold:        true,
		AdaptiveThresholdFloor:      0.75,

		MaxConsecutiveLosses:   5,
		DailyLossLimitPct:      0.05,
		DailyLossLimitAmount:   0, // disabled unless set
		CooldownMinutes:        60,
		MinAccuracy:            0.40,
		CooldownHoursAfterLoss: 24,

		SignalSource:        SourceElite,
		QuantEnsembleMethod: EnsembleWeightedAverage,
	}
}

// LoadTradingConfig reads trading_config.yaml on top of the defaults.
// A missing file yields pure defaults; an unknown key is a fatal
// configuration error.
func LoadTradingConfig(path string) (TradingConfig, error) {
	cfg := DefaultTradingConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("failed to read trading config %s: %w", path, err)
	}

	// UnmarshalExact rejects keys not present in the TradingConfig record.
	if err := v.UnmarshalExact(&cfg); err != nil {
		return cfg, fmt.Errorf("invalid trading config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid trading config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate enforces sane ranges on the loaded options.
func (c TradingConfig) Validate() error {
	if c.MaxRiskPerTrade <= 0 || c.MaxRiskPerTrade > 0.5 {
		return fmt.Errorf("max_risk_per_trade must be in (0, 0.5], got %v", c.MaxRiskPerTrade)
	}
	if c.MaxPositionSize <= 0 || c.MaxPositionSize > 1 {
		return fmt.Errorf("max_position_size must be in (0, 1], got %v", c.MaxPositionSize)
	}
	if c.MaxOpenPositions <= 0 {
		return fmt.Errorf("max_open_positions must be positive, got %d", c.MaxOpenPositions)
	}
	switch c.SignalSource {
	case SourceElite, SourceQuant, SourceQuantEnsemble:
	default:
		return fmt.Errorf("signal_source must be one of elite, quant, quant_ensemble; got %q", c.SignalSource)
	}
	switch c.QuantEnsembleMethod {
	case EnsembleWeightedAverage, EnsembleVoting, EnsembleStacking:
	default:
		return fmt.Errorf("quant_ensemble_method must be weighted_average or voting; got %q", c.QuantEnsembleMethod)
	}
	return nil
}
