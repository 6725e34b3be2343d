package model

import (
	"errors"
	"fmt"
)

// Blueprint is the declarative description of a single diff test: the trace to
// load, the query or metric to run against it and the output to expect.
type Blueprint struct {
	// Trace input (exactly one arm)
	Trace Trace
	// Query or metric to run (exactly one arm)
	Query Query
	// Expected output (exactly one arm)
	Output Output
	// Optional field rewriting applied to the trace before it is loaded
	Mutation *TraceMutation
	// Modules which must be enabled for the test to run
	Modules []string
	// Directory passed to the engine with --register-files-dir
	RegisterFilesDir string
}

// Validate checks that every union of the blueprint has an arm set.
func (b *Blueprint) Validate() error {
	if b.Trace == nil {
		return errors.New("blueprint has no trace")
	}
	if b.Query == nil {
		return errors.New("blueprint has no query")
	}
	if b.Output == nil {
		return errors.New("blueprint has no expected output")
	}
	if b.Mutation != nil && len(b.Mutation.Packets) == 0 {
		return errors.New("trace mutation has no target packets")
	}
	if _, ok := b.Output.(OutputBinaryProto); ok {
		if _, ok := b.Query.(QueryMetric); ok {
			return fmt.Errorf("binary proto output is only supported for queries")
		}
		if _, ok := b.Query.(QueryMetricV2Spec); ok {
			return fmt.Errorf("binary proto output is only supported for queries")
		}
	}
	return nil
}

// Trace is the input trace of a blueprint.
type Trace interface {
	isTrace()
}

// TracePath is a trace file relative to the directory of the test index.
// Files ending in .py are generator scripts, files ending in .textproto are
// text-format traces, anything else is handed to the engine as is.
type TracePath struct{ Path string }

// TraceDataPath is a trace file relative to the test data directory.
type TraceDataPath struct{ Path string }

// TraceJSON is an inline JSON trace.
type TraceJSON struct{ Contents string }

// TraceTextProto is an inline text-format perfetto.protos.Trace.
type TraceTextProto struct{ Contents string }

// TraceCSV is an inline CSV trace.
type TraceCSV struct{ Contents string }

// TraceSystrace is an inline systrace.
type TraceSystrace struct{ Contents string }

// TraceRawText is an inline trace in any other text format.
type TraceRawText struct{ Contents string }

// TraceSimpleperf is a list of text-format simpleperf records which are
// packed into a simpleperf proto container.
type TraceSimpleperf struct{ Records []string }

func (TracePath) isTrace()       {}
func (TraceDataPath) isTrace()   {}
func (TraceJSON) isTrace()       {}
func (TraceTextProto) isTrace()  {}
func (TraceCSV) isTrace()        {}
func (TraceSystrace) isTrace()   {}
func (TraceRawText) isTrace()    {}
func (TraceSimpleperf) isTrace() {}

// Query is the query or metric a blueprint runs.
type Query interface {
	isQuery()
}

// QuerySQL is an inline SQL query.
type QuerySQL struct{ SQL string }

// QueryPath is a SQL file relative to the directory of the test index.
type QueryPath struct{ Path string }

// QueryMetric is the name of a v1 metric.
type QueryMetric struct{ Name string }

// QueryMetricV2Spec is a text-format TraceMetricV2Spec.
type QueryMetricV2Spec struct{ Contents string }

func (QuerySQL) isQuery()          {}
func (QueryPath) isQuery()         {}
func (QueryMetric) isQuery()       {}
func (QueryMetricV2Spec) isQuery() {}

// Output is the expected output of a blueprint.
type Output interface {
	isOutput()
}

// OutputPath is an expected-output file relative to the directory of the test
// index.
type OutputPath struct{ Path string }

// OutputDataPath is an expected-output file relative to the test data
// directory.
type OutputDataPath struct{ Path string }

// OutputJSON is inline expected JSON.
type OutputJSON struct{ Contents string }

// OutputCSV is inline expected CSV.
type OutputCSV struct{ Contents string }

// OutputTextProto is an inline expected text proto.
type OutputTextProto struct{ Contents string }

// OutputBinaryProto expects the query to return a hex-encoded proto of
// MessageType in its last output row. The decoded message is rendered by the
// post-processor named PostProcess and compared with Contents.
type OutputBinaryProto struct {
	MessageType string
	Contents    string
	PostProcess string
}

func (OutputPath) isOutput()        {}
func (OutputDataPath) isOutput()    {}
func (OutputJSON) isOutput()        {}
func (OutputCSV) isOutput()         {}
func (OutputTextProto) isOutput()   {}
func (OutputBinaryProto) isOutput() {}

// TraceMutation overwrites fields of trace packets.
type TraceMutation struct {
	// Packet fields (e.g. "ftrace_events") selecting which packets are rewritten
	Packets []string
	// Packet field name to new value
	Values map[string]any
}

// RawTest is a blueprint as registered in a test index, before discovery.
type RawTest struct {
	Name string
	// Directory relative blueprint paths are resolved against
	Dir       string
	Blueprint Blueprint
}
