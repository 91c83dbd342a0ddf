package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithGolden(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "oslo_top.yaml"))
	require.NoError(t, err)
	require.NoError(t, RunWithGolden(t, s))
}

func TestRun_TraceIsDeterministic(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "big_spenders.yaml"))
	require.NoError(t, err)

	first, err := Run(context.Background(), s)
	require.NoError(t, err)
	second, err := Run(context.Background(), s)
	require.NoError(t, err)

	a, err := MarshalSnapshot(s.Name, first.Trace)
	require.NoError(t, err)
	b, err := MarshalSnapshot(s.Name, second.Trace)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestMarshalSnapshot(t *testing.T) {
	data, err := MarshalSnapshot("tiny", []TraceEvent{
		{Seq: 1, Type: EventOpen, Backend: BackendMemory},
		{Seq: 2, Type: EventError, Backend: BackendMemory, Error: "boom"},
	})
	require.NoError(t, err)
	want := `{
  "scenario": "tiny",
  "trace": [
    {
      "seq": 1,
      "type": "open",
      "backend": "memory",
      "step": 0
    },
    {
      "seq": 2,
      "type": "error",
      "backend": "memory",
      "step": 0,
      "error": "boom"
    }
  ]
}
`
	assert.Equal(t, want, string(data))
}
