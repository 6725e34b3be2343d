package model

import "time"

// PerfSample is the timing reported by the engine through its perf file.
type PerfSample struct {
	// Name of the test
	Test string `json:"test"`
	// Protocol used to run the test
	Mode Mode `json:"mode"`
	// Time spent loading the trace
	IngestNs int64 `json:"ingest_ns"`
	// Wall-clock time of the whole engine run
	RealNs int64 `json:"real_ns"`
}

// Result is the outcome of running a single test.
type Result struct {
	Test *Test
	// Trace handed to the engine (generated or the original file)
	TracePath string
	// Whether TracePath was synthesized for this run
	GeneratedTrace bool
	// Shell command reproducing a generated trace, empty when the trace was
	// not produced by a script
	TraceCommand string
	// Engine command line, including the binary
	Cmd      []string
	Stdout   []byte
	Stderr   string
	ExitCode int
	// Normalized outputs
	Expected string
	Actual   string
	Passed   bool
	// Only set when the engine exited with 0
	Perf *PerfSample
	// Setup error which prevented the test from being compared
	Err error
	// Temporary inputs kept on disk for debugging
	KeptFiles []string
	Duration  time.Duration
}

// Failed reports whether the test should be counted as a failure.
func (r *Result) Failed() bool {
	return r.Err != nil || !r.Passed
}

// Report aggregates the results of a run.
type Report struct {
	// Number of tests which ran
	Total int `json:"total"`
	// Number of tests which passed
	Passed int `json:"passed"`
	// Number of tests skipped because of missing modules
	Skipped int `json:"skipped"`
	// Names of the failed tests
	Failures []string `json:"failures,omitempty"`
	// Timings of the passed tests
	Perf []PerfSample `json:"perf,omitempty"`
	// Wall-clock duration of the run
	Duration time.Duration `json:"duration"`
}
