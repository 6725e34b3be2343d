// Package executor runs discovered tests against the engine binary.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"golang.org/x/sync/errgroup"

	"github.com/perfgo/tpdiff/model"
	"github.com/perfgo/tpdiff/protoset"
	"github.com/perfgo/tpdiff/tracegen"
)

// SummarySpecType is the message metric v2 specs are wrapped in.
const SummarySpecType = "perfetto.protos.TraceSummarySpec"

// Config configures an Executor.
type Config struct {
	// Engine binary
	EnginePath string
	// Source checkout root the engine environment is derived from
	RootDir string
	// Directory for perf and summary spec files
	TempDir string
	// SQL packages passed with --override-sql-package
	OverrideSQLPackages []string
	// Keep generated traces and spec files after the run
	KeepInput bool
	// Maximum number of concurrent engines, defaults to the number of
	// logical cores
	Workers int
	// Per-test engine timeout, 0 disables it
	Timeout time.Duration
	// Schema of metric v2 summary specs
	Summary *protoset.Lazy
}

// Synthesizer produces the trace a test is run against.
type Synthesizer interface {
	Synthesize(ctx context.Context, t *model.Test) (*tracegen.Generated, error)
}

// Comparator turns engine output into a result.
type Comparator interface {
	Compare(t *model.Test, stdout []byte, stderr string, exitCode int) (*model.Result, error)
}

// Executor runs tests on a bounded pool of engine processes.
type Executor struct {
	logger     zerolog.Logger
	cfg        Config
	synth      Synthesizer
	comparator Comparator
}

// New returns an Executor.
func New(logger zerolog.Logger, cfg Config, synth Synthesizer, comparator Comparator) *Executor {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers()
	}
	return &Executor{
		logger:     logger,
		cfg:        cfg,
		synth:      synth,
		comparator: comparator,
	}
}

// DefaultWorkers returns the number of logical cores of the host.
func DefaultWorkers() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// Run executes tests concurrently and delivers their results in completion
// order. The channel is closed once every started test has finished. Tests
// not yet started when ctx is cancelled are not run.
func (e *Executor) Run(ctx context.Context, tests []*model.Test) <-chan *model.Result {
	results := make(chan *model.Result)

	go func() {
		defer close(results)

		var g errgroup.Group
		g.SetLimit(e.cfg.Workers)
		for _, t := range tests {
			if ctx.Err() != nil {
				e.logger.Warn().
					Str("test", t.Name).
					Msg("Run cancelled, not starting remaining tests")
				break
			}
			g.Go(func() error {
				// g.Go blocks until a slot frees, which may be after cancellation.
				if ctx.Err() != nil {
					return nil
				}
				results <- e.RunTest(ctx, t)
				return nil
			})
		}
		_ = g.Wait()
	}()

	return results
}

// tempFiles tracks the files created for a single test.
type tempFiles struct {
	remove []string
	keep   []string
}

func (f *tempFiles) add(path string, keepable, keepInput bool) {
	if keepable && keepInput {
		f.keep = append(f.keep, path)
		return
	}
	f.remove = append(f.remove, path)
}

// RunTest runs a single test. Setup errors and panics are reported through
// Result.Err.
func (e *Executor) RunTest(ctx context.Context, t *model.Test) (res *model.Result) {
	start := time.Now()
	files := &tempFiles{}

	defer func() {
		if r := recover(); r != nil {
			res = &model.Result{Test: t, Err: fmt.Errorf("panic while running test: %v", r)}
		}
		for _, p := range files.remove {
			if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				e.logger.Warn().Err(err).Str("path", p).Msg("Failed to remove temporary file")
			}
		}
		res.KeptFiles = files.keep
		res.Duration = time.Since(start)
	}()

	res, err := e.runTest(ctx, t, files)
	if err != nil {
		if res == nil {
			res = &model.Result{Test: t}
		}
		res.Err = err
		e.logger.Debug().Err(err).Str("test", t.Name).Msg("Test setup failed")
	}
	return res
}

func (e *Executor) runTest(ctx context.Context, t *model.Test, files *tempFiles) (*model.Result, error) {
	tracePath := t.TracePath
	var generated *tracegen.Generated
	if e.synth != nil {
		var err error
		generated, err = e.synth.Synthesize(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("failed to synthesize trace: %w", err)
		}
		if generated != nil {
			tracePath = generated.Path
			files.add(generated.Path, true, e.cfg.KeepInput)
		}
	}
	if tracePath == "" {
		return nil, errors.New("test has no trace file")
	}

	perfFile, err := e.createTemp(t, "perf-*.txt", nil)
	if err != nil {
		return nil, err
	}
	files.add(perfFile, false, e.cfg.KeepInput)

	opts := CommandOptions{
		Engine:    e.cfg.EnginePath,
		TracePath: tracePath,
		PerfFile:  perfFile,
		Overrides: e.cfg.OverrideSQLPackages,
	}
	if t.Mode == model.ModeMetricV2 {
		spec, id, err := e.summarySpec(t)
		if err != nil {
			return nil, err
		}
		opts.SpecFile, err = e.createTemp(t, "spec-*.pb", spec)
		if err != nil {
			return nil, err
		}
		files.add(opts.SpecFile, true, e.cfg.KeepInput)
		opts.MetricID = id
	}

	args, err := BuildArgs(t, opts)
	if err != nil {
		return nil, err
	}
	cmdline := append([]string{e.cfg.EnginePath}, args...)

	runCtx := ctx
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}
	out, err := e.runEngine(runCtx, cmdline)
	if err != nil {
		return nil, err
	}
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		out.stderr = appendNote(out.stderr, fmt.Sprintf("Engine timed out after %s", e.cfg.Timeout))
	case ctx.Err() != nil:
		out.stderr = appendNote(out.stderr, "Engine killed: run cancelled")
	}

	res, err := e.comparator.Compare(t, out.stdout, out.stderr, out.exitCode)
	if err != nil {
		res = &model.Result{
			Test:     t,
			Stdout:   out.stdout,
			Stderr:   out.stderr,
			ExitCode: out.exitCode,
		}
		return e.decorate(res, tracePath, generated, cmdline), err
	}
	e.decorate(res, tracePath, generated, cmdline)

	if out.exitCode == 0 {
		perf, err := readPerfFile(perfFile, t)
		if err != nil {
			return res, err
		}
		res.Perf = perf
	}
	return res, nil
}

func (e *Executor) decorate(res *model.Result, tracePath string, generated *tracegen.Generated, cmdline []string) *model.Result {
	res.TracePath = tracePath
	res.GeneratedTrace = generated != nil
	if generated != nil {
		res.TraceCommand = generated.CommandLine()
	}
	res.Cmd = cmdline
	return res
}

// createTemp creates a per-test temporary file holding data.
func (e *Executor) createTemp(t *model.Test, pattern string, data []byte) (string, error) {
	f, err := os.CreateTemp(e.cfg.TempDir, tempPrefix(t.Name)+pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}
	_, werr := f.Write(data)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write temporary file: %w", err)
	}
	return f.Name(), nil
}

// summarySpec wraps the metric v2 spec of t into a serialized
// TraceSummarySpec and returns it with the id of the metric.
func (e *Executor) summarySpec(t *model.Test) ([]byte, string, error) {
	q, ok := t.Blueprint.Query.(model.QueryMetricV2Spec)
	if !ok {
		return nil, "", fmt.Errorf("metric v2 test has %T query", t.Blueprint.Query)
	}
	set, err := e.cfg.Summary.Get()
	if err != nil {
		return nil, "", fmt.Errorf("failed to load summary descriptors: %w", err)
	}
	spec, err := set.NewMessage(SummarySpecType)
	if err != nil {
		return nil, "", err
	}

	msg := spec.ProtoReflect()
	fd := msg.Descriptor().Fields().ByName("metric_spec")
	if fd == nil || !fd.IsList() || fd.Message() == nil {
		return nil, "", fmt.Errorf("%s has no repeated metric_spec field", SummarySpecType)
	}
	list := msg.Mutable(fd).List()
	elem := list.NewElement()
	if err := set.UnmarshalTextInto(elem.Message().Interface(), q.Contents); err != nil {
		return nil, "", fmt.Errorf("failed to parse metric v2 spec: %w", err)
	}
	list.Append(elem)

	var id string
	if idField := fd.Message().Fields().ByName("id"); idField != nil {
		id = elem.Message().Get(idField).String()
	}
	if id == "" {
		return nil, "", errors.New("metric v2 spec has no id")
	}

	data, err := protoset.Marshal(spec)
	if err != nil {
		return nil, "", fmt.Errorf("failed to serialize summary spec: %w", err)
	}
	return data, id, nil
}

func appendNote(stderr, note string) string {
	if stderr != "" && !strings.HasSuffix(stderr, "\n") {
		stderr += "\n"
	}
	return stderr + note + "\n"
}

func tempPrefix(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, name) + "-"
}
