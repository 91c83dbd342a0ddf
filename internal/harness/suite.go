package harness

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// SuiteResult summarizes a set of scenario files.
type SuiteResult struct {
	Total     int       `json:"total"`
	Passed    int       `json:"passed"`
	Failed    int       `json:"failed"`
	Scenarios []Outcome `json:"scenarios"`
}

// Outcome is the result of one scenario file.
type Outcome struct {
	Path   string   `json:"path"`
	Name   string   `json:"name,omitempty"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
	// Golden is "matched" or "updated" when the trace was compared with
	// or written to a golden file.
	Golden string `json:"golden,omitempty"`
}

// Failures returns the outcomes that did not pass.
func (s *SuiteResult) Failures() []Outcome {
	var out []Outcome
	for _, o := range s.Scenarios {
		if !o.Pass {
			out = append(out, o)
		}
	}
	return out
}

// WithGolden compares each passing scenario's trace with
// golden/<file>.golden next to the scenario file, if that file exists. With
// update set the golden files are written instead.
func WithGolden(update bool) Option {
	return func(r *runner) {
		r.golden = true
		r.update = update
	}
}

// GoldenPath returns the golden file of a scenario file.
func GoldenPath(scenarioPath string) string {
	base := filepath.Base(scenarioPath)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(scenarioPath), "golden", name+".golden")
}

// FindScenarios returns the .yaml and .yml files under dir, sorted. A
// non-empty filter is a glob matched against file names without extension.
// Files under golden directories are skipped.
func FindScenarios(dir, filter string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "golden" && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		ext := filepath.Ext(path)
		switch strings.ToLower(ext) {
		case ".yaml", ".yml":
		default:
			return nil
		}
		if filter != "" {
			matched, err := filepath.Match(filter, strings.TrimSuffix(d.Name(), ext))
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find scenarios: %w", err)
	}
	slices.Sort(paths)
	return paths, nil
}

// RunAll loads and runs each scenario file in order.
func RunAll(ctx context.Context, paths []string, opts ...Option) *SuiteResult {
	r := &runner{}
	for _, opt := range opts {
		opt(r)
	}

	suite := &SuiteResult{Scenarios: []Outcome{}}
	for _, path := range paths {
		o := runFile(ctx, path, r, opts)
		suite.Total++
		if o.Pass {
			suite.Passed++
		} else {
			suite.Failed++
		}
		suite.Scenarios = append(suite.Scenarios, o)
	}
	return suite
}

func runFile(ctx context.Context, path string, r *runner, opts []Option) Outcome {
	o := Outcome{Path: path}
	scenario, err := LoadScenario(path)
	if err != nil {
		o.Errors = []string{fmt.Sprintf("failed to load scenario: %v", err)}
		return o
	}
	o.Name = scenario.Name

	result, err := Run(ctx, scenario, opts...)
	if err != nil {
		o.Errors = []string{fmt.Sprintf("scenario execution failed: %v", err)}
		return o
	}
	if !result.Pass {
		o.Errors = result.Errors
		return o
	}

	if r.golden {
		status, err := checkGolden(GoldenPath(path), scenario.Name, result, r.update)
		if err != nil {
			o.Errors = []string{err.Error()}
			return o
		}
		o.Golden = status
	}
	o.Pass = true
	return o
}

func checkGolden(path, name string, result *Result, update bool) (string, error) {
	data, err := MarshalSnapshot(name, result.Trace)
	if err != nil {
		return "", fmt.Errorf("failed to marshal trace: %w", err)
	}
	if update {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", fmt.Errorf("failed to create golden directory: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return "", fmt.Errorf("failed to write golden file: %w", err)
		}
		return "updated", nil
	}

	want, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read golden file: %w", err)
	}
	if !bytes.Equal(want, data) {
		return "", fmt.Errorf("trace does not match golden file %s (run with --update to regenerate)", path)
	}
	return "matched", nil
}
