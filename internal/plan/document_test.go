package plan

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoad_YAMLAndCUEAgree(t *testing.T) {
	y, err := Load(filepath.Join("testdata", "shop.yaml"))
	require.NoError(t, err)
	c, err := Load(filepath.Join("testdata", "shop.cue"))
	require.NoError(t, err)
	assert.Equal(t, y.Query, c.Query)
	assert.Equal(t, y.Params, c.Params)
	assert.Equal(t, len(y.Indexes), len(c.Indexes))
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}

	testCases := []struct {
		name    string
		path    string
		invalid bool
	}{
		{name: "missing file", path: filepath.Join(dir, "nope.yaml")},
		{name: "unknown extension", path: write("plan.txt", "name: x\n")},
		{name: "unknown field", path: write("extra.yaml", "name: x\nquery: {op: index, index: a}\nbogus: 1\n")},
		{name: "unknown node field", path: write("node.yaml", "name: x\nquery: {op: index, indx: a}\n")},
		{name: "bad yaml", path: write("bad.yaml", "name: [x\n")},
		{name: "missing name", path: write("noname.yaml", "query: {op: index, index: a}\n"), invalid: true},
		{name: "missing query", path: write("noquery.yaml", "name: x\n"), invalid: true},
		{name: "cue syntax", path: write("bad.cue", "name: \"x\"\nquery: {\n")},
		{name: "cue conflict", path: write("conflict.cue", "name: \"x\"\nname: \"y\"\nquery: {op: \"index\"}\n")},
		{name: "cue unknown field", path: write("extra.cue", "name: \"x\"\nquery: {op: \"index\"}\nbogus: 1\n")},
		{name: "cue incomplete", path: filepath.Join("testdata", "incomplete.cue")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(tc.path)
			require.Error(t, err)
			var le *LoadError
			require.True(t, errors.As(err, &le), "got %T", err)
			assert.Equal(t, tc.invalid, IsInvalid(err), "got %v", err)
		})
	}
}

func TestLoad_CUEIncomplete(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "incomplete.cue"))
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Contains(t, err.Error(), "incomplete.cue")
}

func TestLoad_CUEDropsDefinitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "defs.cue")
	src := `#Index: {op: "index", index: string}
_hidden: 1
name: "defs"
query: #Index & {index: "customers"}
`
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	doc, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, &Node{Op: "index", Index: "customers"}, doc.Query)
}

func TestCount_Unmarshal(t *testing.T) {
	testCases := []struct {
		src  string
		want Count
		err  bool
	}{
		{src: "3", want: Count{N: 3}},
		{src: "-1", want: Count{N: -1}},
		{src: `"$limit"`, want: Count{Param: "limit"}},
		{src: `"$"`, err: true},
		{src: `"many"`, err: true},
		{src: "[1]", err: true},
	}

	for _, tc := range testCases {
		t.Run(tc.src, func(t *testing.T) {
			var fromYAML, fromJSON Count
			yerr := yaml.Unmarshal([]byte(tc.src), &fromYAML)
			jerr := json.Unmarshal([]byte(tc.src), &fromJSON)
			if tc.err {
				assert.Error(t, yerr)
				assert.Error(t, jerr)
				return
			}
			require.NoError(t, yerr)
			require.NoError(t, jerr)
			assert.Equal(t, tc.want, fromYAML)
			assert.Equal(t, tc.want, fromJSON)
		})
	}
}

func TestCount_String(t *testing.T) {
	assert.Equal(t, "5", Count{N: 5}.String())
	assert.Equal(t, "$limit", Count{Param: "limit"}.String())
}
