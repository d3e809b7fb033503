package validator

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Timeframe is one entry in the validation hierarchy. Weight reflects how
// much the timeframe contributes to consensus; longer horizons carry more.
type Timeframe struct {
	Label  string  `yaml:"label"`
	Weight float64 `yaml:"weight"`
}

// timeframeFile is the top-level YAML structure.
type timeframeFile struct {
	Timeframes []Timeframe `yaml:"timeframes"`
}

// LoadTimeframes reads the timeframe hierarchy from a YAML file.
func LoadTimeframes(path string) ([]Timeframe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file timeframeFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	return file.Timeframes, nil
}

// DefaultTimeframes returns the built-in hierarchy used when no YAML file
// is provided.
func DefaultTimeframes() []Timeframe {
	return []Timeframe{
		{Label: "M15", Weight: 0.1},
		{Label: "H1", Weight: 0.2},
		{Label: "H4", Weight: 0.3},
		{Label: "D1", Weight: 0.4},
	}
}

// Config carries the validator's construction parameters.
type Config struct {
	// Timeframes, ordered shortest to longest with increasing weights.
	Timeframes []Timeframe

	// ShortPeriod and LongPeriod are the SMA windows of the trend test.
	ShortPeriod int
	LongPeriod  int

	// Synthetic enables perturbation-based signals for timeframes with no
	// market data. Simulation only; never enable against live feeds.
	Synthetic     bool
	SyntheticSeed int64

	// HistorySize bounds the in-memory record of past reports.
	HistorySize int
}

func (c *Config) validate() ([]Timeframe, error) {
	if len(c.Timeframes) == 0 {
		return nil, fmt.Errorf("validator: no timeframes configured")
	}

	total := 0.0
	prev := 0.0
	out := make([]Timeframe, len(c.Timeframes))
	for i, tf := range c.Timeframes {
		if tf.Label == "" {
			return nil, fmt.Errorf("validator: timeframe %d has empty label", i)
		}
		if tf.Weight <= 0 {
			return nil, fmt.Errorf("validator: timeframe %s has non-positive weight %.4f", tf.Label, tf.Weight)
		}
		if tf.Weight <= prev {
			return nil, fmt.Errorf("validator: timeframe %s weight %.4f does not increase over previous %.4f", tf.Label, tf.Weight, prev)
		}
		prev = tf.Weight
		total += tf.Weight
		out[i] = tf
	}

	// Normalize so downstream math can assume the weights sum to one.
	for i := range out {
		out[i].Weight /= total
	}
	return out, nil
}
