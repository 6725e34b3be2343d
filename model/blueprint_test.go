package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlueprintValidate(t *testing.T) {
	tests := []struct {
		name    string
		bp      Blueprint
		wantErr string
	}{
		{
			name: "complete",
			bp: Blueprint{
				Trace:  TraceJSON{Contents: "{}"},
				Query:  QuerySQL{SQL: "SELECT 1"},
				Output: OutputCSV{Contents: "1"},
			},
		},
		{
			name:    "missing trace",
			bp:      Blueprint{Query: QuerySQL{SQL: "SELECT 1"}, Output: OutputCSV{Contents: "1"}},
			wantErr: "blueprint has no trace",
		},
		{
			name:    "missing query",
			bp:      Blueprint{Trace: TraceJSON{}, Output: OutputCSV{Contents: "1"}},
			wantErr: "blueprint has no query",
		},
		{
			name:    "missing output",
			bp:      Blueprint{Trace: TraceJSON{}, Query: QuerySQL{}},
			wantErr: "blueprint has no expected output",
		},
		{
			name: "empty mutation",
			bp: Blueprint{
				Trace:    TraceJSON{},
				Query:    QuerySQL{},
				Output:   OutputCSV{},
				Mutation: &TraceMutation{Values: map[string]any{"machine_id": 1}},
			},
			wantErr: "trace mutation has no target packets",
		},
		{
			name: "binary proto metric",
			bp: Blueprint{
				Trace:  TraceJSON{},
				Query:  QueryMetric{Name: "android_cpu"},
				Output: OutputBinaryProto{MessageType: "perfetto.protos.TraceMetrics"},
			},
			wantErr: "binary proto output is only supported for queries",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.bp.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestJSONOutput(t *testing.T) {
	inline := &Test{Blueprint: Blueprint{Output: OutputJSON{Contents: "{}"}}}
	require.True(t, inline.JSONOutput())

	file := &Test{Blueprint: Blueprint{Output: OutputPath{Path: "cpu.json.out"}}, ExpectedPath: "/tests/cpu.json.out"}
	require.True(t, file.JSONOutput())

	textproto := &Test{Blueprint: Blueprint{Output: OutputPath{Path: "cpu.out"}}, ExpectedPath: "/tests/cpu.out"}
	require.False(t, textproto.JSONOutput())
}

func TestResultFailed(t *testing.T) {
	require.False(t, (&Result{Passed: true}).Failed())
	require.True(t, (&Result{Passed: false}).Failed())
	require.True(t, (&Result{Passed: true, Err: errors.New("setup")}).Failed())
}
