package executor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/perfgo/tpdiff/model"
)

func TestBuildArgs(t *testing.T) {
	base := []string{
		"--analyze-trace-proto-content",
		"--crop-track-events",
		"--extra-checks",
		"--perf-file", "/tmp/perf",
	}
	with := func(args ...string) []string {
		return append(append([]string{}, base...), args...)
	}

	tests := []struct {
		name string
		test *model.Test
		opts CommandOptions
		want []string
	}{
		{
			name: "inline query",
			test: &model.Test{
				Mode:      model.ModeQuery,
				Blueprint: model.Blueprint{Query: model.QuerySQL{SQL: "SELECT 1"}},
			},
			want: with("-Q", "SELECT 1", "/tmp/trace"),
		},
		{
			name: "query file with register dir and overrides",
			test: &model.Test{
				Mode:             model.ModeQuery,
				Blueprint:        model.Blueprint{Query: model.QueryPath{Path: "q.sql"}},
				QueryPath:        "/src/q.sql",
				RegisterFilesDir: "/src/files",
			},
			opts: CommandOptions{Overrides: []string{"pkg=/a", " other=/b "}},
			want: with("-q", "/src/q.sql",
				"--register-files-dir", "/src/files",
				"--override-sql-package", "pkg=/a",
				"--override-sql-package", "other=/b",
				"/tmp/trace"),
		},
		{
			name: "binary metric",
			test: &model.Test{
				Mode: model.ModeMetricV1,
				Blueprint: model.Blueprint{
					Query:  model.QueryMetric{Name: "android_cpu"},
					Output: model.OutputPath{Path: "cpu.out"},
				},
				ExpectedPath: "/src/cpu.out",
			},
			want: with("--run-metrics", "android_cpu", "--metrics-output=binary", "/tmp/trace"),
		},
		{
			name: "json metric",
			test: &model.Test{
				Mode: model.ModeMetricV1,
				Blueprint: model.Blueprint{
					Query:  model.QueryMetric{Name: "android_cpu"},
					Output: model.OutputPath{Path: "cpu.json.out"},
				},
				ExpectedPath:     "/src/cpu.json.out",
				RegisterFilesDir: "/src/files",
			},
			want: with("--run-metrics", "android_cpu", "--metrics-output=json",
				"--register-files-dir", "/src/files", "/tmp/trace"),
		},
		{
			name: "metric v2",
			test: &model.Test{
				Mode:             model.ModeMetricV2,
				Blueprint:        model.Blueprint{Query: model.QueryMetricV2Spec{Contents: `id: "m"`}},
				RegisterFilesDir: "/src/files",
			},
			opts: CommandOptions{SpecFile: "/tmp/spec", MetricID: "m", Overrides: []string{"pkg=/a"}},
			want: with("--summary", "--summary-spec", "/tmp/spec",
				"--summary-metrics-v2", "m", "--summary-format", "binary",
				"--override-sql-package", "pkg=/a", "/tmp/trace"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts
			opts.TracePath = "/tmp/trace"
			opts.PerfFile = "/tmp/perf"
			args, err := BuildArgs(tt.test, opts)
			require.NoError(t, err)
			require.Equal(t, tt.want, args)
		})
	}
}

func TestBuildArgsErrors(t *testing.T) {
	_, err := BuildArgs(&model.Test{
		Mode:      model.ModeMetricV2,
		Blueprint: model.Blueprint{Query: model.QueryMetricV2Spec{Contents: `id: "m"`}},
	}, CommandOptions{})
	require.EqualError(t, err, "metric v2 test requires a summary spec file")

	_, err = BuildArgs(&model.Test{
		Mode:      model.ModeMetricV1,
		Blueprint: model.Blueprint{Query: model.QuerySQL{SQL: "SELECT 1"}},
	}, CommandOptions{})
	require.EqualError(t, err, "metric test has model.QuerySQL query")
}

func TestBuildCommand(t *testing.T) {
	cmd, err := BuildCommand(&model.Test{
		Mode:      model.ModeQuery,
		Blueprint: model.Blueprint{Query: model.QuerySQL{SQL: "SELECT COUNT(1) FROM slice"}},
	}, CommandOptions{Engine: "/out/trace_processor_shell", TracePath: "/tmp/my trace", PerfFile: "/tmp/perf"})
	require.NoError(t, err)
	require.Equal(t,
		"/out/trace_processor_shell --analyze-trace-proto-content --crop-track-events --extra-checks "+
			"--perf-file /tmp/perf -Q 'SELECT COUNT(1) FROM slice' '/tmp/my trace'",
		cmd)
}

func TestParsePerf(t *testing.T) {
	tests := []struct {
		in      string
		ingest  int64
		real    int64
		wantErr string
	}{
		{in: "12,34\n", ingest: 12, real: 34},
		{in: " 5 , 6 ", ingest: 5, real: 6},
		{in: "1,2\ntrailing", ingest: 1, real: 2},
		{in: "", wantErr: `malformed perf line ""`},
		{in: "1,2,3", wantErr: `malformed perf line "1,2,3"`},
		{in: "x,2", wantErr: "malformed ingest time"},
		{in: "1,y", wantErr: "malformed real time"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ingest, real, err := ParsePerf(tt.in)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.ingest, ingest)
			require.Equal(t, tt.real, real)
		})
	}
}

func TestEnv(t *testing.T) {
	env := Env("/src")
	require.Contains(t, env, "PERFETTO_BINARY_PATH=/src/test/data")
	require.Contains(t, env, "PERFETTO_SYMBOLIZER_MODE=index")
}
