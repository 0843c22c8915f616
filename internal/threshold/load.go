package threshold

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/vigil/internal/errors"
	"github.com/xtxerr/vigil/internal/storage/types"
)

// file is the YAML layout of a threshold file.
type file struct {
	Boundary string          `yaml:"boundary"`
	Rules    map[string]Rule `yaml:"rules"`
}

// LoadFile reads and validates a threshold file.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read thresholds: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates threshold YAML. Environment variables are expanded.
// An omitted boundary is inclusive.
func Parse(data []byte) (*Table, error) {
	expanded := os.ExpandEnv(string(data))

	var f file
	if err := yaml.Unmarshal([]byte(expanded), &f); err != nil {
		return nil, fmt.Errorf("parse thresholds: %w: %w", errors.ErrInvalidConfig, err)
	}

	t := &Table{
		Boundary: Boundary(f.Boundary),
		Rules:    make(map[types.MetricType]Rule, len(f.Rules)),
	}
	if t.Boundary == "" {
		t.Boundary = Inclusive
	}

	errs := errors.NewValidationErrors()
	for name, rule := range f.Rules {
		metric, err := types.ParseMetricType(name)
		if err != nil {
			errs.Add(errors.NewInvalidValue("rules", name, "unknown metric"))
			continue
		}
		t.Rules[metric] = rule
	}
	errs.Add(t.Validate())

	if err := errs.Err(); err != nil {
		return nil, err
	}
	return t, nil
}
