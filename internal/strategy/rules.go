package strategy

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Weights are the signed contributions of each sub-vote to strength.
type Weights struct {
	MATrend      float64 `yaml:"ma_trend"`
	MACDMomentum float64 `yaml:"macd_momentum"`
	RSIExtreme   float64 `yaml:"rsi_extreme"`
	BBBreakout   float64 `yaml:"bb_breakout"`
	Stoch        float64 `yaml:"stoch"`
	Volume       float64 `yaml:"volume"`
}

// RuleSet parameterizes the generator. Rule sets are versioned so that
// threshold differences are explicit configuration.
type RuleSet struct {
	Version string `yaml:"version"`

	RSIOverbought float64 `yaml:"rsi_overbought"`
	RSIOversold   float64 `yaml:"rsi_oversold"`

	StochOverbought float64 `yaml:"stoch_overbought"`
	StochOversold   float64 `yaml:"stoch_oversold"`

	Weights Weights `yaml:"weights"`

	// |strength| >= StrongThreshold is a strong signal, >= WeakThreshold weak.
	StrongThreshold float64 `yaml:"strong_threshold"`
	WeakThreshold   float64 `yaml:"weak_threshold"`

	BBWidthExpansion   float64 `yaml:"bb_width_expansion"`
	VolumeConfirmRatio float64 `yaml:"volume_confirm_ratio"`

	// MinInterval suppresses a repeat of the same direction; 0 disables.
	MinInterval time.Duration `yaml:"min_interval"`

	ATRStopMult   float64 `yaml:"atr_stop_mult"`
	ATRTakeMult   float64 `yaml:"atr_take_mult"`
	ConfidenceCap float64 `yaml:"confidence_cap"`
}

var defaultWeights = Weights{
	MATrend:      20,
	MACDMomentum: 15,
	RSIExtreme:   10,
	BBBreakout:   15,
	Stoch:        5,
	Volume:       5,
}

// V1 uses the classic 30/70 RSI bands and no debounce.
func V1() RuleSet {
	return RuleSet{
		Version:            "v1",
		RSIOverbought:      70,
		RSIOversold:        30,
		StochOverbought:    80,
		StochOversold:      20,
		Weights:            defaultWeights,
		StrongThreshold:    40,
		WeakThreshold:      20,
		BBWidthExpansion:   0.1,
		VolumeConfirmRatio: 1.5,
		MinInterval:        0,
		ATRStopMult:        2,
		ATRTakeMult:        3,
		ConfidenceCap:      95,
	}
}

// V2 tightens the RSI bands to 25/75 and debounces repeats for 5 minutes.
func V2() RuleSet {
	r := V1()
	r.Version = "v2"
	r.RSIOverbought = 75
	r.RSIOversold = 25
	r.MinInterval = 5 * time.Minute
	return r
}

// ErrUnknownRuleVersion is returned for a version with no built-in rule set.
var ErrUnknownRuleVersion = errors.New("strategy: unknown rule version")

// Builtin returns the built-in rule set for version ("" means v2).
func Builtin(version string) (RuleSet, error) {
	switch version {
	case "v1":
		return V1(), nil
	case "v2", "":
		return V2(), nil
	default:
		return RuleSet{}, fmt.Errorf("%w: %q", ErrUnknownRuleVersion, version)
	}
}

// LoadRules reads a YAML rule file. Fields absent from the file keep the
// values of the built-in set named by its version key.
func LoadRules(path string) (RuleSet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("strategy: read rules: %w", err)
	}
	var head struct {
		Version string `yaml:"version"`
	}
	if err := yaml.Unmarshal(b, &head); err != nil {
		return RuleSet{}, fmt.Errorf("strategy: parse rules %s: %w", path, err)
	}
	rs, err := Builtin(head.Version)
	if err != nil {
		return RuleSet{}, err
	}
	if err := yaml.Unmarshal(b, &rs); err != nil {
		return RuleSet{}, fmt.Errorf("strategy: parse rules %s: %w", path, err)
	}
	if err := rs.Validate(); err != nil {
		return RuleSet{}, err
	}
	return rs, nil
}

// Validate checks the rule set for inconsistent thresholds.
func (r RuleSet) Validate() error {
	switch {
	case r.RSIOversold <= 0 || r.RSIOverbought >= 100 || r.RSIOversold >= r.RSIOverbought:
		return fmt.Errorf("strategy: rsi bands %v/%v invalid", r.RSIOversold, r.RSIOverbought)
	case r.StochOversold < 0 || r.StochOverbought > 100 || r.StochOversold >= r.StochOverbought:
		return fmt.Errorf("strategy: stochastic bands %v/%v invalid", r.StochOversold, r.StochOverbought)
	case r.WeakThreshold <= 0 || r.StrongThreshold < r.WeakThreshold || r.StrongThreshold > 100:
		return fmt.Errorf("strategy: thresholds weak=%v strong=%v invalid", r.WeakThreshold, r.StrongThreshold)
	case r.ConfidenceCap <= 0 || r.ConfidenceCap >= 100:
		return fmt.Errorf("strategy: confidence cap %v must be in (0,100)", r.ConfidenceCap)
	case r.MinInterval < 0:
		return fmt.Errorf("strategy: negative min interval %v", r.MinInterval)
	case r.ATRStopMult <= 0 || r.ATRTakeMult <= 0:
		return fmt.Errorf("strategy: atr multipliers must be positive")
	}
	return nil
}
