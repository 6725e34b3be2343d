// Package index loads diff test blueprints from YAML test index files.
package index

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/perfgo/tpdiff/model"
)

// File is the on-disk layout of a test index.
type File struct {
	// Suite prefixes the name of every test in the file.
	Suite string  `yaml:"suite"`
	Tests []Entry `yaml:"tests"`
}

// Entry is a single test of an index file. Each of Trace, Query and Out must
// set exactly one of their keys.
type Entry struct {
	Name             string        `yaml:"name"`
	Trace            TraceSpec     `yaml:"trace"`
	Query            QuerySpec     `yaml:"query"`
	Out              OutSpec       `yaml:"out"`
	Modules          []string      `yaml:"modules,omitempty"`
	RegisterFilesDir string        `yaml:"register_files_dir,omitempty"`
	Mutation         *MutationSpec `yaml:"mutation,omitempty"`
}

type TraceSpec struct {
	Path       *string  `yaml:"path,omitempty"`
	DataPath   *string  `yaml:"data_path,omitempty"`
	JSON       *string  `yaml:"json,omitempty"`
	TextProto  *string  `yaml:"textproto,omitempty"`
	CSV        *string  `yaml:"csv,omitempty"`
	Systrace   *string  `yaml:"systrace,omitempty"`
	Raw        *string  `yaml:"raw,omitempty"`
	Simpleperf []string `yaml:"simpleperf,omitempty"`
}

type QuerySpec struct {
	SQL      *string `yaml:"sql,omitempty"`
	Path     *string `yaml:"path,omitempty"`
	Metric   *string `yaml:"metric,omitempty"`
	MetricV2 *string `yaml:"metric_v2,omitempty"`
}

type OutSpec struct {
	Path        *string          `yaml:"path,omitempty"`
	DataPath    *string          `yaml:"data_path,omitempty"`
	JSON        *string          `yaml:"json,omitempty"`
	CSV         *string          `yaml:"csv,omitempty"`
	TextProto   *string          `yaml:"textproto,omitempty"`
	BinaryProto *BinaryProtoSpec `yaml:"binary_proto,omitempty"`
}

type BinaryProtoSpec struct {
	MessageType    string `yaml:"message_type"`
	Contents       string `yaml:"contents"`
	PostProcessing string `yaml:"post_processing,omitempty"`
}

type MutationSpec struct {
	Packets []string       `yaml:"packets"`
	Values  map[string]any `yaml:"values"`
}

// IsIndexFile reports whether name is the base name of a test index file.
func IsIndexFile(name string) bool {
	return name == "tests.yaml" || strings.HasSuffix(name, "_tests.yaml")
}

// LoadDir loads every index file below dir. Tests are returned in file path
// order, then in file order.
func LoadDir(dir string) ([]model.RawTest, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsIndexFile(d.Name()) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk test directory: %w", err)
	}
	sort.Strings(paths)

	var tests []model.RawTest
	for _, path := range paths {
		loaded, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		tests = append(tests, loaded...)
	}
	return tests, nil
}

// LoadFile parses a single index file. Relative paths of its tests resolve
// against the directory containing it.
func LoadFile(path string) ([]model.RawTest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read test index: %w", err)
	}
	tests, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tests, nil
}

// Parse decodes index data, rejecting unknown keys.
func Parse(data []byte, dir string) ([]model.RawTest, error) {
	var f File
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	tests := make([]model.RawTest, 0, len(f.Tests))
	for i, e := range f.Tests {
		if e.Name == "" {
			return nil, fmt.Errorf("test #%d: name is required", i)
		}
		name := e.Name
		if f.Suite != "" {
			name = f.Suite + ":" + e.Name
		}
		bp, err := e.blueprint()
		if err != nil {
			return nil, fmt.Errorf("test %s: %w", name, err)
		}
		tests = append(tests, model.RawTest{Name: name, Dir: dir, Blueprint: bp})
	}
	return tests, nil
}

func (e *Entry) blueprint() (model.Blueprint, error) {
	trace, err := e.Trace.arm()
	if err != nil {
		return model.Blueprint{}, fmt.Errorf("trace: %w", err)
	}
	query, err := e.Query.arm()
	if err != nil {
		return model.Blueprint{}, fmt.Errorf("query: %w", err)
	}
	out, err := e.Out.arm()
	if err != nil {
		return model.Blueprint{}, fmt.Errorf("out: %w", err)
	}

	bp := model.Blueprint{
		Trace:            trace,
		Query:            query,
		Output:           out,
		Modules:          e.Modules,
		RegisterFilesDir: e.RegisterFilesDir,
	}
	if e.Mutation != nil {
		bp.Mutation = &model.TraceMutation{
			Packets: e.Mutation.Packets,
			Values:  e.Mutation.Values,
		}
	}
	if err := bp.Validate(); err != nil {
		return model.Blueprint{}, err
	}
	return bp, nil
}

// oneOf collects the arms that are set and fails unless there is exactly one.
type oneOf[T any] struct {
	set  []string
	last T
}

func (o *oneOf[T]) add(key string, present bool, arm T) {
	if present {
		o.set = append(o.set, key)
		o.last = arm
	}
}

func (o *oneOf[T]) get() (T, error) {
	switch len(o.set) {
	case 1:
		return o.last, nil
	case 0:
		var zero T
		return zero, errors.New("no variant set")
	default:
		var zero T
		return zero, fmt.Errorf("more than one variant set: %s", strings.Join(o.set, ", "))
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (s *TraceSpec) arm() (model.Trace, error) {
	var o oneOf[model.Trace]
	o.add("path", s.Path != nil, model.TracePath{Path: deref(s.Path)})
	o.add("data_path", s.DataPath != nil, model.TraceDataPath{Path: deref(s.DataPath)})
	o.add("json", s.JSON != nil, model.TraceJSON{Contents: deref(s.JSON)})
	o.add("textproto", s.TextProto != nil, model.TraceTextProto{Contents: deref(s.TextProto)})
	o.add("csv", s.CSV != nil, model.TraceCSV{Contents: deref(s.CSV)})
	o.add("systrace", s.Systrace != nil, model.TraceSystrace{Contents: deref(s.Systrace)})
	o.add("raw", s.Raw != nil, model.TraceRawText{Contents: deref(s.Raw)})
	o.add("simpleperf", s.Simpleperf != nil, model.TraceSimpleperf{Records: s.Simpleperf})
	return o.get()
}

func (s *QuerySpec) arm() (model.Query, error) {
	var o oneOf[model.Query]
	o.add("sql", s.SQL != nil, model.QuerySQL{SQL: deref(s.SQL)})
	o.add("path", s.Path != nil, model.QueryPath{Path: deref(s.Path)})
	o.add("metric", s.Metric != nil, model.QueryMetric{Name: deref(s.Metric)})
	o.add("metric_v2", s.MetricV2 != nil, model.QueryMetricV2Spec{Contents: deref(s.MetricV2)})
	return o.get()
}

func (s *OutSpec) arm() (model.Output, error) {
	var o oneOf[model.Output]
	o.add("path", s.Path != nil, model.OutputPath{Path: deref(s.Path)})
	o.add("data_path", s.DataPath != nil, model.OutputDataPath{Path: deref(s.DataPath)})
	o.add("json", s.JSON != nil, model.OutputJSON{Contents: deref(s.JSON)})
	o.add("csv", s.CSV != nil, model.OutputCSV{Contents: deref(s.CSV)})
	o.add("textproto", s.TextProto != nil, model.OutputTextProto{Contents: deref(s.TextProto)})
	if s.BinaryProto != nil {
		if s.BinaryProto.MessageType == "" {
			return nil, errors.New("binary_proto: message_type is required")
		}
		o.add("binary_proto", true, model.OutputBinaryProto{
			MessageType: s.BinaryProto.MessageType,
			Contents:    s.BinaryProto.Contents,
			PostProcess: s.BinaryProto.PostProcessing,
		})
	}
	return o.get()
}
