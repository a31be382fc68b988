package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Overlay is the YAML configuration file.
//
//	confidence: {threshold: 0.5, fallback_penalty: 0.9}
//	selection: {min_overlap: 0.75, fallback_cap: 0.7, absolute_floor: 0.1, alpha: 0.4}
//	tolerances: {npv_with_salvage: 1e-4}
//	domains: {portfolio: "Portfolio analytics"}
type Overlay struct {
	Confidence struct {
		Threshold       *float64 `yaml:"threshold"`
		FallbackPenalty *float64 `yaml:"fallback_penalty"`
	} `yaml:"confidence"`
	Selection struct {
		MinOverlap    *float64 `yaml:"min_overlap"`
		FallbackCap   *float64 `yaml:"fallback_cap"`
		AbsoluteFloor *float64 `yaml:"absolute_floor"`
		Alpha         *float64 `yaml:"alpha"`
	} `yaml:"selection"`
	Tolerances map[string]float64 `yaml:"tolerances"`
	Domains    map[string]string  `yaml:"domains"`
}

// ReadOverlay parses a YAML overlay file. Unknown keys are errors.
func ReadOverlay(path string) (*Overlay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load config file %q: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var o Overlay
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&o); err != nil {
		return nil, fmt.Errorf("parse config file %q: %w", path, err)
	}
	return &o, nil
}

func envLookup(opts env.Options) func(string) bool {
	if opts.Environment != nil {
		return func(k string) bool {
			_, ok := opts.Environment[k]
			return ok
		}
	}
	return func(k string) bool {
		_, ok := os.LookupEnv(k)
		return ok
	}
}

// apply copies overlay values into cfg where isSet reports the matching
// environment variable absent. The environment always wins.
func (o *Overlay) apply(cfg *Config, isSet func(string) bool) {
	set := func(key string, dst *float64, v *float64) {
		if v != nil && !isSet(key) {
			*dst = *v
		}
	}
	set("CONFIDENCE_THRESHOLD", &cfg.ConfidenceThreshold, o.Confidence.Threshold)
	set("FALLBACK_PENALTY", &cfg.FallbackPenalty, o.Confidence.FallbackPenalty)
	set("SELECTION_MIN_OVERLAP", &cfg.MinOverlap, o.Selection.MinOverlap)
	set("SELECTION_FALLBACK_CAP", &cfg.FallbackCap, o.Selection.FallbackCap)
	set("SELECTION_ABSOLUTE_FLOOR", &cfg.AbsoluteFloor, o.Selection.AbsoluteFloor)
	set("SELECTION_ALPHA", &cfg.Alpha, o.Selection.Alpha)

	if len(o.Tolerances) > 0 {
		merged := make(map[string]float64, len(o.Tolerances)+len(cfg.Tolerances))
		for k, v := range o.Tolerances {
			merged[k] = v
		}
		for k, v := range cfg.Tolerances {
			merged[k] = v
		}
		cfg.Tolerances = merged
	}
	if len(o.Domains) > 0 {
		cfg.DomainLabels = make(map[string]string, len(o.Domains))
		for k, v := range o.Domains {
			cfg.DomainLabels[k] = v
		}
	}
}
