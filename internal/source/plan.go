package source

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Plan is a YAML run description:
//
//	throttle:
//	  min_rate: 2
//	  max_rate: 10
//	targets:
//	  - url: https://api.example.com/items/1
//	  - url: https://api.example.com/items/2
//	    method: HEAD
//	  - domain: example.com
type Plan struct {
	// Throttle holds overrides for the throttle config section.
	Throttle map[string]any `yaml:"throttle,omitempty"`
	Targets  []Target       `yaml:"targets"`
}

// LoadPlan reads and validates a plan file.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	plan, err := ParsePlan(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return plan, nil
}

// ParsePlan decodes and validates plan YAML.
func ParsePlan(data []byte) (*Plan, error) {
	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if len(plan.Targets) == 0 {
		return nil, fmt.Errorf("plan has no targets")
	}
	for i, target := range plan.Targets {
		if err := target.Validate(); err != nil {
			return nil, fmt.Errorf("targets[%d]: %w", i, err)
		}
	}
	return &plan, nil
}

// Overrides returns the throttle section as a runtime config override, or
// nil when the plan has none.
func (p *Plan) Overrides() map[string]any {
	if p == nil || len(p.Throttle) == 0 {
		return nil
	}
	return map[string]any{"throttle": p.Throttle}
}
