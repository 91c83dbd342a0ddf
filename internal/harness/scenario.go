package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// Scenario runs one plan document against one or more backends and checks
// the rows each step produces.
type Scenario struct {
	// Name identifies the scenario and its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario checks.
	Description string `yaml:"description"`

	// Plan is the path of the plan document. LoadScenario resolves it
	// relative to the scenario file.
	Plan string `yaml:"plan"`

	// Backends lists the backends to run on. Defaults to memory only.
	Backends []string `yaml:"backends,omitempty"`

	// Steps execute the plan in order, each with its own parameters.
	Steps []Step `yaml:"steps"`

	// Assertions are checked against the trace after every step ran.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one execution of the plan.
type Step struct {
	// Params are the parameter values in field text format.
	Params map[string]string `yaml:"params,omitempty"`

	// Expect is checked against every backend. If nil the step only has
	// to succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect describes the outcome of a step.
type Expect struct {
	// Rows are the expected rows in tuple text format.
	Rows []string `yaml:"rows,omitempty"`

	// Ordered requires Rows in exactly this order. Otherwise any order of
	// the same rows matches.
	Ordered bool `yaml:"ordered,omitempty"`

	// Empty expects no rows at all.
	Empty bool `yaml:"empty,omitempty"`

	// Error expects the step to fail with a message containing it.
	Error string `yaml:"error,omitempty"`
}

// Assertion checks the trace of a whole run.
type Assertion struct {
	// Type is one of the Assert constants.
	Type string `yaml:"type"`

	// Step selects the step for row_count, contains_row and row_order.
	Step int `yaml:"step,omitempty"`

	// Backend restricts the assertion to one backend. Empty means all.
	Backend string `yaml:"backend,omitempty"`

	// Row is the row of contains_row.
	Row string `yaml:"row,omitempty"`

	// Rows are the rows of row_order, which must appear in this order.
	Rows []string `yaml:"rows,omitempty"`

	// Count is the row count of row_count.
	Count int `yaml:"count,omitempty"`
}

// Assertion types.
const (
	AssertRowCount      = "row_count"
	AssertContainsRow   = "contains_row"
	AssertRowOrder      = "row_order"
	AssertBackendsAgree = "backends_agree"
)

// Backend names.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// LoadScenario reads a scenario file. Unknown fields are rejected and a
// relative plan path is resolved against the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Plan != "" && !filepath.IsAbs(scenario.Plan) {
		scenario.Plan = filepath.Join(filepath.Dir(path), scenario.Plan)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Plan == "" {
		return fmt.Errorf("plan is required")
	}
	if _, err := os.Stat(s.Plan); os.IsNotExist(err) {
		return fmt.Errorf("plan file not found: %s", s.Plan)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, b := range s.Backends {
		if b != BackendMemory && b != BackendSQLite {
			return fmt.Errorf("backends[%d]: unknown backend %q", i, b)
		}
		if slices.Contains(s.Backends[:i], b) {
			return fmt.Errorf("backends[%d]: %q listed twice", i, b)
		}
	}

	for i, step := range s.Steps {
		if e := step.Expect; e != nil {
			if e.Error != "" && (len(e.Rows) > 0 || e.Empty) {
				return fmt.Errorf("steps[%d].expect: error excludes rows and empty", i)
			}
			if e.Empty && len(e.Rows) > 0 {
				return fmt.Errorf("steps[%d].expect: empty excludes rows", i)
			}
			if e.Ordered && len(e.Rows) == 0 {
				return fmt.Errorf("steps[%d].expect: ordered needs rows", i)
			}
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], len(s.Steps)); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion, steps int) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Step < 0 || a.Step >= steps {
		return fmt.Errorf("assertions[%d]: step %d out of range [0, %d)", index, a.Step, steps)
	}

	switch a.Type {
	case AssertRowCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for row_count", index)
		}
	case AssertContainsRow:
		if a.Row == "" {
			return fmt.Errorf("assertions[%d]: row is required for contains_row", index)
		}
	case AssertRowOrder:
		if len(a.Rows) < 2 {
			return fmt.Errorf("assertions[%d]: row_order needs at least two rows", index)
		}
	case AssertBackendsAgree:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// backends returns the backends s runs on.
func (s *Scenario) backends() []string {
	if len(s.Backends) == 0 {
		return []string{BackendMemory}
	}
	return s.Backends
}
