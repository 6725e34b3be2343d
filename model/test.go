package model

import "strings"

// Mode identifies the engine protocol used to run a test.
type Mode uint8

const (
	ModeQuery Mode = iota
	ModeMetricV1
	ModeMetricV2
)

func (m Mode) String() string {
	switch m {
	case ModeQuery:
		return "query"
	case ModeMetricV1:
		return "metric"
	case ModeMetricV2:
		return "metric_v2"
	}
	return "unknown"
}

// Test is a discovered test ready to run. It is created once by discovery and
// not modified afterwards.
type Test struct {
	// Stable name (e.g. "Parsing:print_count")
	Name string
	// Blueprint the test was created from
	Blueprint Blueprint
	// Protocol used to run the test
	Mode Mode
	// Absolute path of a file-backed trace, empty for inline traces
	TracePath string
	// Absolute path of a file-backed query
	QueryPath string
	// Absolute path of a file-backed expected output
	ExpectedPath string
	// Absolute path of the directory registered with the engine
	RegisterFilesDir string
	// Expected output, read from disk for file-backed outputs
	Expected string
}

// JSONOutput reports whether a metric test expects JSON output instead of a
// text proto.
func (t *Test) JSONOutput() bool {
	if _, ok := t.Blueprint.Output.(OutputJSON); ok {
		return true
	}
	return t.ExpectedPath != "" && strings.HasSuffix(t.ExpectedPath, ".json.out")
}

// QueryDescription returns the query file, metric name or inline marker used
// when describing the test in reports.
func (t *Test) QueryDescription() string {
	switch q := t.Blueprint.Query.(type) {
	case QueryPath:
		return t.QueryPath
	case QueryMetric:
		return q.Name
	case QuerySQL:
		return "<inline query>"
	case QueryMetricV2Spec:
		return "<inline metric v2 spec>"
	}
	return ""
}

// SkippedTest is a test which was not run.
type SkippedTest struct {
	Name   string
	Reason string
}
