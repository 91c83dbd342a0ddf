package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "big_spenders.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "big-spenders", s.Name)
	assert.Equal(t, filepath.Join("testdata", "plans", "shop.yaml"), s.Plan)
	assert.Equal(t, []string{BackendMemory, BackendSQLite}, s.backends())
	require.Len(t, s.Steps, 5)
	assert.Equal(t, map[string]string{"city": "Oslo", "limit": "5"}, s.Steps[0].Params)
	assert.Equal(t, &Expect{Rows: []string{"ann,1000", "cid,1000"}, Ordered: true}, s.Steps[0].Expect)
	assert.Equal(t, &Expect{Empty: true}, s.Steps[3].Expect)
	assert.Equal(t, "$limit is not set", s.Steps[4].Expect.Error)
	require.Len(t, s.Assertions, 4)
	assert.Equal(t, Assertion{Type: AssertRowCount, Step: 0, Count: 2}, s.Assertions[1])
}

func TestLoadScenario_DefaultBackend(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "failing", "wrong_rows.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{BackendMemory}, s.backends())
}

func TestLoadScenario_Errors(t *testing.T) {
	dir := t.TempDir()
	plan, err := filepath.Abs(filepath.Join("testdata", "plans", "shop.yaml"))
	require.NoError(t, err)

	testCases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unknown field",
			content: "name: x\nplan: " + plan + "\nstep: []\n",
			wantErr: "field step not found",
		},
		{
			name:    "missing name",
			content: "plan: " + plan + "\nsteps: [{}]\n",
			wantErr: "name is required",
		},
		{
			name:    "missing plan",
			content: "name: x\nsteps: [{}]\n",
			wantErr: "plan is required",
		},
		{
			name:    "plan not found",
			content: "name: x\nplan: nope.yaml\nsteps: [{}]\n",
			wantErr: "plan file not found",
		},
		{
			name:    "no steps",
			content: "name: x\nplan: " + plan + "\n",
			wantErr: "steps list is required",
		},
		{
			name:    "unknown backend",
			content: "name: x\nplan: " + plan + "\nbackends: [postgres]\nsteps: [{}]\n",
			wantErr: `unknown backend "postgres"`,
		},
		{
			name:    "duplicate backend",
			content: "name: x\nplan: " + plan + "\nbackends: [memory, memory]\nsteps: [{}]\n",
			wantErr: "listed twice",
		},
		{
			name:    "error with rows",
			content: "name: x\nplan: " + plan + "\nsteps: [{expect: {error: boom, rows: [a]}}]\n",
			wantErr: "error excludes rows",
		},
		{
			name:    "empty with rows",
			content: "name: x\nplan: " + plan + "\nsteps: [{expect: {empty: true, rows: [a]}}]\n",
			wantErr: "empty excludes rows",
		},
		{
			name:    "ordered without rows",
			content: "name: x\nplan: " + plan + "\nsteps: [{expect: {ordered: true}}]\n",
			wantErr: "ordered needs rows",
		},
		{
			name:    "assertion without type",
			content: "name: x\nplan: " + plan + "\nsteps: [{}]\nassertions: [{count: 1}]\n",
			wantErr: "type is required",
		},
		{
			name:    "assertion step out of range",
			content: "name: x\nplan: " + plan + "\nsteps: [{}]\nassertions: [{type: row_count, step: 1}]\n",
			wantErr: "step 1 out of range",
		},
		{
			name:    "negative count",
			content: "name: x\nplan: " + plan + "\nsteps: [{}]\nassertions: [{type: row_count, count: -1}]\n",
			wantErr: "count must be non-negative",
		},
		{
			name:    "contains_row without row",
			content: "name: x\nplan: " + plan + "\nsteps: [{}]\nassertions: [{type: contains_row}]\n",
			wantErr: "row is required",
		},
		{
			name:    "row_order with one row",
			content: "name: x\nplan: " + plan + "\nsteps: [{}]\nassertions: [{type: row_order, rows: [a]}]\n",
			wantErr: "at least two rows",
		},
		{
			name:    "unknown assertion",
			content: "name: x\nplan: " + plan + "\nsteps: [{}]\nassertions: [{type: final_state}]\n",
			wantErr: `unknown assertion type "final_state"`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, "scenario.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.content), 0o644))

			_, err := LoadScenario(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}
