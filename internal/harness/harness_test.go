package harness

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-logr/logr/funcr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tuplex/internal/exec"
	"github.com/roach88/tuplex/internal/plan"
	"github.com/roach88/tuplex/internal/tuple"
)

var shopPlan = filepath.Join("testdata", "plans", "shop.yaml")

func TestRun_Scenario(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "big_spenders.yaml"))
	require.NoError(t, err)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)

	for _, backend := range []string{BackendMemory, BackendSQLite} {
		assert.Equal(t, []string{"ann,1000", "cid,1000"}, result.Rows(backend, 0), backend)
		assert.Equal(t, []string{"ann,1000"}, result.Rows(backend, 1), backend)
		assert.Empty(t, result.Rows(backend, 3), backend)
		msg, failed := result.StepError(backend, 4)
		assert.True(t, failed, backend)
		assert.Contains(t, msg, "$limit is not set")
	}
}

func TestRun_TraceIsNumberedInOrder(t *testing.T) {
	s := &Scenario{
		Name:  "trace",
		Plan:  shopPlan,
		Steps: []Step{{Params: map[string]string{"city": "Rome", "limit": "5"}}},
	}
	result, err := Run(context.Background(), s)
	require.NoError(t, err)

	require.Len(t, result.Trace, 3)
	for i, e := range result.Trace {
		assert.Equal(t, int64(i+1), e.Seq)
		assert.Equal(t, BackendMemory, e.Backend)
	}
	assert.Equal(t, EventOpen, result.Trace[0].Type)
	assert.Equal(t, map[string]string{"city": "Rome", "limit": "5"}, result.Trace[0].Params)
	assert.Equal(t, TraceEvent{Seq: 2, Type: EventRow, Backend: BackendMemory, Row: "bob,100"}, result.Trace[1])
	assert.Equal(t, TraceEvent{Seq: 3, Type: EventDone, Backend: BackendMemory, Count: 1}, result.Trace[2])
}

func TestRun_ExpectationFailures(t *testing.T) {
	rome := map[string]string{"city": "Rome", "limit": "5"}
	oslo := map[string]string{"city": "Oslo", "limit": "5"}

	testCases := []struct {
		name    string
		step    Step
		wantErr string
	}{
		{
			name:    "wrong rows",
			step:    Step{Params: rome, Expect: &Expect{Rows: []string{"bob,999"}}},
			wantErr: "expected rows [bob,999] in any order, got [bob,100]",
		},
		{
			name:    "wrong order",
			step:    Step{Params: oslo, Expect: &Expect{Rows: []string{"cid,1000", "ann,1000"}, Ordered: true}},
			wantErr: "in order, got [ann,1000 cid,1000]",
		},
		{
			name:    "rows instead of empty",
			step:    Step{Params: rome, Expect: &Expect{Empty: true}},
			wantErr: "expected no rows, got [bob,100]",
		},
		{
			name:    "missing error",
			step:    Step{Params: rome, Expect: &Expect{Error: "boom"}},
			wantErr: `expected error containing "boom", got 1 rows`,
		},
		{
			name:    "different error",
			step:    Step{Params: map[string]string{"city": "Rome"}, Expect: &Expect{Error: "boom"}},
			wantErr: `parameter $limit is not set"`,
		},
		{
			name:    "unexpected error",
			step:    Step{Params: map[string]string{"city": "Rome", "limit": "many"}},
			wantErr: "memory step 0: unexpected error: parameter $limit",
		},
		{
			name:    "unknown parameter",
			step:    Step{Params: map[string]string{"town": "Rome"}, Expect: &Expect{Rows: []string{"bob,100"}}},
			wantErr: "unknown parameter $town",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := &Scenario{Name: tc.name, Plan: shopPlan, Steps: []Step{tc.step}}
			result, err := Run(context.Background(), s)
			require.NoError(t, err)
			assert.False(t, result.Pass)
			require.Len(t, result.Errors, 1)
			assert.Contains(t, result.Errors[0], tc.wantErr)
		})
	}
}

func TestRun_BackendsDisagreeOnUnsupportedPlans(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seek.yaml")
	doc := `name: seek
indexes:
  - name: nums
    columns: [{name: n, type: int64}]
    key: [n]
    rows: ["1", "2", "3"]
query: {op: seek, key: ["2"], source: {op: index, index: nums}}
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	s := &Scenario{
		Name:       "seek",
		Plan:       path,
		Backends:   []string{BackendMemory, BackendSQLite},
		Steps:      []Step{{Expect: &Expect{Rows: []string{"2"}}}},
		Assertions: []Assertion{{Type: AssertBackendsAgree}},
	}
	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)

	assert.Equal(t, []string{"2"}, result.Rows(BackendMemory, 0))
	_, failed := result.StepError(BackendSQLite, 0)
	assert.True(t, failed)

	require.Len(t, result.Errors, 2)
	assert.True(t, strings.HasPrefix(result.Errors[0], "sqlite step 0: unexpected error: "), result.Errors[0])
	assert.Contains(t, result.Errors[1], "Assertion failed: backends_agree (sqlite)")
}

func TestRun_PlanErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("name: bad\nquery: {op: index, index: missing}\n"), 0o644))

	_, err := Run(context.Background(), &Scenario{Name: "bad", Plan: bad, Steps: []Step{{}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build plan bad")

	_, err = Run(context.Background(), &Scenario{Name: "gone", Plan: filepath.Join(dir, "gone.yaml"), Steps: []Step{{}}})
	require.Error(t, err)
	var le *plan.LoadError
	assert.ErrorAs(t, err, &le)
}

func TestRun_Logs(t *testing.T) {
	var lines []string
	log := funcr.New(func(prefix, args string) {
		lines = append(lines, args)
	}, funcr.Options{Verbosity: 1})

	s := &Scenario{
		Name:  "logged",
		Plan:  shopPlan,
		Steps: []Step{{Params: map[string]string{"city": "Rome", "limit": "5"}}},
	}
	_, err := Run(context.Background(), s, WithLogger(log))
	require.NoError(t, err)

	joined := strings.Join(lines, "\n")
	assert.Contains(t, joined, `"msg"="step completed"`)
	assert.Contains(t, joined, `"scenario"="logged"`)
	assert.Contains(t, joined, `"rows"=1`)
}

func TestRun_WithCache(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "big_spenders.yaml"))
	require.NoError(t, err)

	result, err := Run(context.Background(), s, WithBackendConfig(BackendConfig{CacheSize: 4}))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestCheckExpect(t *testing.T) {
	assert.Empty(t, checkExpect(nil, []string{"a"}, nil))
	assert.Empty(t, checkExpect(&Expect{}, []string{"a"}, nil))
	assert.Empty(t, checkExpect(&Expect{Rows: []string{"b", "a", "a"}}, []string{"a", "b", "a"}, nil))
	assert.NotEmpty(t, checkExpect(&Expect{Rows: []string{"a", "a"}}, []string{"a"}, nil))
	assert.NotEmpty(t, checkExpect(&Expect{Rows: []string{"a", "b"}}, []string{"a", "a"}, nil))
}

func TestOpenBackend_Unknown(t *testing.T) {
	doc, err := plan.Load(shopPlan)
	require.NoError(t, err)
	p, err := plan.Build(doc)
	require.NoError(t, err)

	_, err = OpenBackend(context.Background(), "postgres", p, BackendConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown backend "postgres"`)
}

func TestOpenBackend_SQLiteFile(t *testing.T) {
	doc, err := plan.Load(shopPlan)
	require.NoError(t, err)
	p, err := plan.Build(doc)
	require.NoError(t, err)
	db := filepath.Join(t.TempDir(), "shop.db")

	for range 2 {
		b, err := OpenBackend(context.Background(), BackendSQLite, p, BackendConfig{Database: db})
		require.NoError(t, err)
		params, err := p.Bind(map[string]string{"city": "Rome", "limit": "5"})
		require.NoError(t, err)
		rows, err := exec.Run(context.Background(), b.Compiler, p.Root, params)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "bob,100", tuple.Format(rows[0]))
		require.NoError(t, b.Close())
	}
	_, err = os.Stat(db)
	assert.NoError(t, err)
}
