// Package discovery turns registered blueprints into runnable tests.
package discovery

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"

	"github.com/perfgo/tpdiff/model"
)

// Options controls which tests are runnable.
type Options struct {
	// NameFilter selects tests by the base component of their name. nil
	// selects every test.
	NameFilter *regexp.Regexp
	// Modules the engine was built with
	EnabledModules []string
	// Directory *DataPath blueprint fields resolve against
	TestDataDir string
}

// Result partitions the registered tests.
type Result struct {
	Runnable      []*model.Test
	Filtered      []model.SkippedTest
	MissingModule []model.SkippedTest
}

// CompileFilter compiles a name filter which, like a prefix match, must match
// from the first character of the name.
func CompileFilter(expr string) (*regexp.Regexp, error) {
	if expr == "" {
		expr = ".*"
	}
	re, err := regexp.Compile("^(?:" + expr + ")")
	if err != nil {
		return nil, fmt.Errorf("invalid name filter: %w", err)
	}
	return re, nil
}

// Discover resolves, filters and classifies raw tests. A blueprint referring
// to a file which does not exist aborts discovery.
func Discover(raw []model.RawTest, opts Options) (*Result, error) {
	enabled := make(map[string]bool, len(opts.EnabledModules))
	for _, m := range opts.EnabledModules {
		enabled[m] = true
	}

	res := &Result{}
	seen := make(map[string]bool, len(raw))
	for _, r := range raw {
		if seen[r.Name] {
			return nil, fmt.Errorf("duplicate test name %q", r.Name)
		}
		seen[r.Name] = true

		if opts.NameFilter != nil && !opts.NameFilter.MatchString(path.Base(r.Name)) {
			res.Filtered = append(res.Filtered, model.SkippedTest{Name: r.Name, Reason: "filtered out"})
			continue
		}

		if missing := missingModule(r.Blueprint.Modules, enabled); missing != "" {
			res.MissingModule = append(res.MissingModule, model.SkippedTest{
				Name:   r.Name,
				Reason: fmt.Sprintf("module '%s' not found", missing),
			})
			continue
		}

		t, err := resolve(r, opts.TestDataDir)
		if err != nil {
			return nil, fmt.Errorf("test %s: %w", r.Name, err)
		}
		res.Runnable = append(res.Runnable, t)
	}
	return res, nil
}

func missingModule(required []string, enabled map[string]bool) string {
	for _, m := range required {
		if !enabled[m] {
			return m
		}
	}
	return ""
}

// Mode classifies a query.
func Mode(q model.Query) model.Mode {
	switch q.(type) {
	case model.QueryMetric:
		return model.ModeMetricV1
	case model.QueryMetricV2Spec:
		return model.ModeMetricV2
	default:
		return model.ModeQuery
	}
}

func resolve(r model.RawTest, dataDir string) (*model.Test, error) {
	if err := r.Blueprint.Validate(); err != nil {
		return nil, err
	}

	t := &model.Test{
		Name:      r.Name,
		Blueprint: r.Blueprint,
		Mode:      Mode(r.Blueprint.Query),
	}

	var err error
	switch tr := r.Blueprint.Trace.(type) {
	case model.TracePath:
		t.TracePath, err = existing(r.Dir, tr.Path)
	case model.TraceDataPath:
		t.TracePath, err = existing(dataDir, tr.Path)
	case model.TraceJSON, model.TraceTextProto, model.TraceCSV, model.TraceSystrace, model.TraceRawText, model.TraceSimpleperf:
	default:
		err = fmt.Errorf("unknown trace type %T", tr)
	}
	if err != nil {
		return nil, err
	}

	switch q := r.Blueprint.Query.(type) {
	case model.QueryPath:
		t.QueryPath, err = existing(r.Dir, q.Path)
	case model.QuerySQL, model.QueryMetric, model.QueryMetricV2Spec:
	default:
		err = fmt.Errorf("unknown query type %T", q)
	}
	if err != nil {
		return nil, err
	}

	switch o := r.Blueprint.Output.(type) {
	case model.OutputPath:
		t.ExpectedPath, err = existing(r.Dir, o.Path)
	case model.OutputDataPath:
		t.ExpectedPath, err = existing(dataDir, o.Path)
	case model.OutputJSON:
		t.Expected = o.Contents
	case model.OutputCSV:
		t.Expected = o.Contents
	case model.OutputTextProto:
		t.Expected = o.Contents
	case model.OutputBinaryProto:
		t.Expected = o.Contents
	default:
		err = fmt.Errorf("unknown output type %T", o)
	}
	if err != nil {
		return nil, err
	}
	if t.ExpectedPath != "" {
		data, err := os.ReadFile(t.ExpectedPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read expected output: %w", err)
		}
		t.Expected = string(data)
	}

	if r.Blueprint.RegisterFilesDir != "" {
		t.RegisterFilesDir, err = existing(r.Dir, r.Blueprint.RegisterFilesDir)
		if err != nil {
			return nil, err
		}
	}
	return t, nil
}

// existing joins dir and p, returning an absolute path to a file that exists.
func existing(dir, p string) (string, error) {
	if !filepath.IsAbs(p) {
		p = filepath.Join(dir, p)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("referenced file does not exist: %w", err)
	}
	return abs, nil
}
