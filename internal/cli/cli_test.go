package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catchDoc = `{
  "label": "CATCH", "kind": "batch",
  "children": [
    {"label": "COD", "kind": "batch", "taxonGroup": "COD",
     "children": [
       {"label": "COD.LAN", "kind": "batch", "samplingRatio": 0.5,
        "children": [
          {"label": "COD.LAN.1", "kind": "sample", "individualCount": 3},
          {"label": "COD.LAN.2", "kind": "sample", "individualCount": 4}
        ]},
       {"label": "COD.DIS", "kind": "batch",
        "children": [
          {"label": "COD.DIS.1", "kind": "sample"},
          {"label": "COD.DIS.2", "kind": "sample"}
        ]}
     ]}
  ]
}`

type env struct {
	configDir string
	dataDir   string
}

func newEnv(t *testing.T) env {
	t.Helper()
	for _, k := range []string{"BATCHTREE_BACKEND", "BATCHTREE_DSN", "BATCHTREE_LOG_LEVEL", "BATCHTREE_CONFIG_DIR", "BATCHTREE_DATA_DIR"} {
		t.Setenv(k, "")
	}
	root := t.TempDir()
	return env{
		configDir: filepath.Join(root, "config"),
		dataDir:   filepath.Join(root, "data"),
	}
}

// run executes one CLI invocation against e and returns stdout and stderr.
func (e env) run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config-dir", e.configDir, "--data-dir", e.dataDir, "--log-level", "warn"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func (e env) writeDoc(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tree.json")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func (e env) importCatch(t *testing.T) importResult {
	t.Helper()
	out, _, err := e.run(t, "", "--json", "import", e.writeDoc(t, catchDoc))
	require.NoError(t, err)
	var res importResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	return res
}

func TestVersion(t *testing.T) {
	e := newEnv(t)
	out, _, err := e.run(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "batchtree 0.1.0\n", out)
}

func TestInit(t *testing.T) {
	e := newEnv(t)

	out, _, err := e.run(t, "", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+filepath.Join(e.configDir, "config.yaml"))
	assert.Contains(t, out, "Initialized sqlite backend in "+e.dataDir)

	data, err := os.ReadFile(filepath.Join(e.configDir, "config.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "backend: sqlite")
	assert.FileExists(t, filepath.Join(e.dataDir, "records.jsonl"))

	out, _, err = e.run(t, "", "init")
	require.NoError(t, err)
	assert.NotContains(t, out, "Wrote")
}

func TestImportShowExport(t *testing.T) {
	e := newEnv(t)
	res := e.importCatch(t)
	assert.Equal(t, 8, res.Records)
	assert.Len(t, res.Promoted, 8)
	assert.Equal(t, []int64{0}, idsOf(res.Roots))
	assert.Empty(t, res.Warnings)

	out, stderr, err := e.run(t, "", "show", "0")
	require.NoError(t, err)
	assert.Empty(t, stderr)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 8)
	assert.Equal(t, "CATCH [0] batch count=16", lines[0])
	assert.Equal(t, "  COD [1] batch count=16", lines[1])
	assert.Equal(t, "    COD.LAN [2] batch count=14 ratio=50%", lines[2])
	assert.Equal(t, "      COD.LAN.1 [3] sample count=3", lines[3])
	assert.Equal(t, "    COD.DIS [5] batch count=2", lines[5])
	assert.Equal(t, "      COD.DIS.2 [7] sample", lines[7])

	out, _, err = e.run(t, "", "export")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 8)

	out, _, err = e.run(t, "", "export", "--nested", "2")
	require.NoError(t, err)
	var nested []nestedNode
	require.NoError(t, json.Unmarshal([]byte(out), &nested))
	require.Len(t, nested, 1)
	assert.Equal(t, "COD.LAN", nested[0].Label)
	assert.Len(t, nested[0].Children, 2)
}

func TestImportAgainKeepsServerIDs(t *testing.T) {
	e := newEnv(t)
	e.importCatch(t)

	out, _, err := e.run(t, "", "export", "--nested", "0")
	require.NoError(t, err)
	res := importResultOf(t, e, out)
	assert.Equal(t, 8, res.Records)
	assert.Empty(t, res.Promoted)
	assert.Equal(t, []int64{0}, idsOf(res.Roots))
}

func importResultOf(t *testing.T, e env, doc string) importResult {
	t.Helper()
	out, _, err := e.run(t, "", "--json", "import", e.writeDoc(t, doc))
	require.NoError(t, err)
	var res importResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	return res
}

func TestGroups(t *testing.T) {
	e := newEnv(t)
	e.importCatch(t)

	out, _, err := e.run(t, "", "--json", "groups", "0")
	require.NoError(t, err)
	var got []groupSummary
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 1)
	g := got[0]
	assert.Equal(t, "COD", g.TaxonGroup)
	assert.Equal(t, 1, g.RankOrder)
	require.NotNil(t, g.Count)
	assert.Equal(t, int64(16), *g.Count)
	require.NotNil(t, g.Landing)
	assert.Equal(t, int64(14), *g.Landing)
	require.NotNil(t, g.Discard)
	assert.Equal(t, int64(2), *g.Discard)
	assert.Equal(t, 4, g.Individual)

	out, _, err = e.run(t, "", "groups", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "COD")
	assert.Contains(t, out, "LANDING")
}

func TestRecomputeFromStdin(t *testing.T) {
	e := newEnv(t)
	out, stderr, err := e.run(t, catchDoc, "recompute", "-")
	require.NoError(t, err)
	assert.Empty(t, stderr)

	var got []nestedNode
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 1)
	require.NotNil(t, got[0].IndividualCount)
	assert.Equal(t, int64(16), *got[0].IndividualCount)
	assert.Nil(t, got[0].ID)
	assert.Equal(t, "50%", got[0].Children[0].Children[0].SamplingRatioText)
}

func TestRecomputeWarnsOnZeroRatio(t *testing.T) {
	e := newEnv(t)
	doc := `{"label": "B", "samplingRatio": 0, "children": [{"label": "S", "kind": "sample", "individualCount": 5}]}`
	out, stderr, err := e.run(t, doc, "recompute", "-")
	require.NoError(t, err)
	assert.Contains(t, stderr, "warning:")
	assert.Contains(t, out, `"individualCount": 5`)
}

func TestDelete(t *testing.T) {
	e := newEnv(t)
	e.importCatch(t)

	out, _, err := e.run(t, "", "delete", "1")
	require.NoError(t, err)
	assert.Equal(t, "Deleted 7 records\n", out)

	out, _, err = e.run(t, "", "show")
	require.NoError(t, err)
	assert.Equal(t, "CATCH [0] batch count=16\n", out)
}

func TestMetricsFlag(t *testing.T) {
	e := newEnv(t)
	_, stderr, err := e.run(t, "", "--metrics", "import", e.writeDoc(t, catchDoc))
	require.NoError(t, err)
	assert.Contains(t, stderr, "batchtree_records_saved_total 8")
	assert.Contains(t, stderr, `batchtree_ids_allocated_total{entity="Batch"} 4`)
	assert.Contains(t, stderr, `batchtree_ids_allocated_total{entity="Sample"} 4`)
	assert.Contains(t, stderr, "# TYPE batchtree_save_duration_seconds histogram")
	assert.Contains(t, stderr, `batchtree_save_duration_seconds_bucket{le="+Inf"} 1`)
	assert.Contains(t, stderr, "batchtree_save_duration_seconds_count 1")
}

func TestExitCodes(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want int
	}{
		{"bad id", []string{"show", "abc"}, exitUserError},
		{"missing tree", []string{"show", "99"}, exitUserError},
		{"missing file", []string{"import", "/no/such/file.json"}, exitUserError},
		{"unknown command", []string{"frobnicate"}, exitUserError},
		{"extra args", []string{"version", "x"}, exitUserError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			_, _, err := e.run(t, "", tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.want, exitCode(err))
		})
	}
}

func TestBadConfigIsUserError(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, os.MkdirAll(e.configDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(e.configDir, "config.yaml"), []byte("backend: oracle\n"), 0o644))

	_, _, err := e.run(t, "", "show")
	require.Error(t, err)
	assert.Equal(t, exitUserError, exitCode(err))
	assert.Contains(t, err.Error(), "unknown backend")
}

func TestBackendFromEnv(t *testing.T) {
	e := newEnv(t)
	t.Setenv("BATCHTREE_BACKEND", "memory")

	out, _, err := e.run(t, "", "--json", "import", e.writeDoc(t, catchDoc))
	require.NoError(t, err)
	assert.Contains(t, out, `"records": 8`)
	assert.NoFileExists(t, filepath.Join(e.dataDir, "records.jsonl"))

	_, _, err = e.run(t, "", "delete", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not support deletion")
}

func TestDecodeNested(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		roots   int
		wantErr string
	}{
		{"single object", `{"label": "A"}`, 1, ""},
		{"array", `[{"label": "A"}, {"label": "B"}]`, 2, ""},
		{"empty", "  ", 0, "empty"},
		{"bad json", `{"label": `, 0, "decode tree"},
		{"bad kind", `{"label": "A", "kind": "crate"}`, 0, "unknown kind"},
		{"rank clash", `{"label": "A", "children": [{"label": "x", "rankOrder": 1}, {"label": "y", "rankOrder": 1}]}`, 0, "duplicate rank"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := decodeNested(strings.NewReader(tt.doc))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, tr.Roots(), tt.roots)
		})
	}
}

func idsOf[T ~int64](ids []T) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
