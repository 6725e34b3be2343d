package index

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/perfgo/tpdiff/model"
	"github.com/perfgo/tpdiff/testutil"
)

const parsingIndex = `
suite: Parsing
tests:
  - name: print_count
    trace:
      textproto: |
        packet { ftrace_events { cpu: 0 } }
    query:
      sql: SELECT COUNT(1) FROM slice
    out:
      csv: |
        "COUNT(1)"
        1
  - name: cpu_metric
    trace:
      data_path: android_sched.pb
    query:
      metric: android_cpu
    out:
      path: cpu_metric.out
    modules: [android]
    register_files_dir: files
  - name: summary
    trace:
      simpleperf:
        - "sample { time: 1 }"
        - "thread { thread_id: 2 }"
    query:
      metric_v2: 'id: "m" value: "v" query: "SELECT 1 AS v"'
    out:
      textproto: 'row { value: 1 }'
    mutation:
      packets: [ftrace_events]
      values:
        machine_id: 1001
  - name: profile
    trace:
      path: profile.textproto
    query:
      path: profile.sql
    out:
      binary_proto:
        message_type: perfetto.third_party.perftools.profiles.Profile
        contents: "Sample:"
        post_processing: pprof
`

func TestParse(t *testing.T) {
	tests, err := Parse([]byte(parsingIndex), "/src/test/parsing")
	require.NoError(t, err)

	want := []model.RawTest{
		{
			Name: "Parsing:print_count",
			Dir:  "/src/test/parsing",
			Blueprint: model.Blueprint{
				Trace:  model.TraceTextProto{Contents: "packet { ftrace_events { cpu: 0 } }\n"},
				Query:  model.QuerySQL{SQL: "SELECT COUNT(1) FROM slice"},
				Output: model.OutputCSV{Contents: "\"COUNT(1)\"\n1\n"},
			},
		},
		{
			Name: "Parsing:cpu_metric",
			Dir:  "/src/test/parsing",
			Blueprint: model.Blueprint{
				Trace:            model.TraceDataPath{Path: "android_sched.pb"},
				Query:            model.QueryMetric{Name: "android_cpu"},
				Output:           model.OutputPath{Path: "cpu_metric.out"},
				Modules:          []string{"android"},
				RegisterFilesDir: "files",
			},
		},
		{
			Name: "Parsing:summary",
			Dir:  "/src/test/parsing",
			Blueprint: model.Blueprint{
				Trace:  model.TraceSimpleperf{Records: []string{"sample { time: 1 }", "thread { thread_id: 2 }"}},
				Query:  model.QueryMetricV2Spec{Contents: `id: "m" value: "v" query: "SELECT 1 AS v"`},
				Output: model.OutputTextProto{Contents: "row { value: 1 }"},
				Mutation: &model.TraceMutation{
					Packets: []string{"ftrace_events"},
					Values:  map[string]any{"machine_id": 1001},
				},
			},
		},
		{
			Name: "Parsing:profile",
			Dir:  "/src/test/parsing",
			Blueprint: model.Blueprint{
				Trace: model.TracePath{Path: "profile.textproto"},
				Query: model.QueryPath{Path: "profile.sql"},
				Output: model.OutputBinaryProto{
					MessageType: "perfetto.third_party.perftools.profiles.Profile",
					Contents:    "Sample:",
					PostProcess: "pprof",
				},
			},
		},
	}
	if diff := cmp.Diff(want, tests); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{
			name: "unknown key",
			data: `
tests:
  - name: a
    trace: {json: "{}"}
    query: {sql: "SELECT 1"}
    out: {csv: "1"}
    outt: {csv: "1"}
`,
			wantErr: "field outt not found",
		},
		{
			name: "two trace variants",
			data: `
tests:
  - name: a
    trace: {json: "{}", csv: "a"}
    query: {sql: "SELECT 1"}
    out: {csv: "1"}
`,
			wantErr: "test a: trace: more than one variant set: json, csv",
		},
		{
			name: "no query",
			data: `
tests:
  - name: a
    trace: {json: "{}"}
    out: {csv: "1"}
`,
			wantErr: "test a: query: no variant set",
		},
		{
			name: "missing name",
			data: `
tests:
  - trace: {json: "{}"}
`,
			wantErr: "test #0: name is required",
		},
		{
			name: "binary proto for metric",
			data: `
tests:
  - name: a
    trace: {json: "{}"}
    query: {metric: android_cpu}
    out: {binary_proto: {message_type: perfetto.protos.TraceMetrics}}
`,
			wantErr: "test a: binary proto output is only supported for queries",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), "/tmp")
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	testutil.MustWriteFiles(t, dir, map[string]string{
		"b/tests.yaml": `
suite: B
tests:
  - name: one
    trace: {json: "{}"}
    query: {sql: "SELECT 1"}
    out: {csv: "1"}
`,
		"a/parsing_tests.yaml": `
suite: A
tests:
  - name: two
    trace: {json: "{}"}
    query: {sql: "SELECT 2"}
    out: {csv: "2"}
`,
		"a/notes.yaml": "not: an index",
		"empty/tests.yaml": "",
	})

	tests, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, tests, 2)
	require.Equal(t, "A:two", tests[0].Name)
	require.Equal(t, filepath.Join(dir, "a"), tests[0].Dir)
	require.Equal(t, "B:one", tests[1].Name)
	require.Equal(t, filepath.Join(dir, "b"), tests[1].Dir)
}

func TestIsIndexFile(t *testing.T) {
	require.True(t, IsIndexFile("tests.yaml"))
	require.True(t, IsIndexFile("parsing_tests.yaml"))
	require.False(t, IsIndexFile("tests.yml"))
	require.False(t, IsIndexFile("contests.yaml"))
}
