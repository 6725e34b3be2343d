// Package tracegen synthesizes the trace file a test runs against.
package tracegen

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"al.essio.dev/pkg/shellescape"
	"github.com/rs/zerolog"

	"github.com/perfgo/tpdiff/model"
	"github.com/perfgo/tpdiff/protoset"
)

// Config configures a Synthesizer.
type Config struct {
	// Source checkout root; <RootDir>/test is added to PYTHONPATH of trace
	// scripts.
	RootDir string
	// Interpreter for .py traces
	Python string
	// Directory generated traces are written to
	TempDir string
	// Descriptor set of perfetto.protos.Trace, passed to trace scripts
	TraceDescriptor string
	// Descriptor sets of TracePacket extensions, passed to trace scripts
	ExtensionDescriptors []string
	// Trace schema including extensions
	Trace *protoset.Lazy
	// Simpleperf record schema
	Simpleperf *protoset.Lazy
}

// Generated is a trace written for a single test. The caller owns Path.
type Generated struct {
	Path string
	// Command used to generate the trace, for script traces
	Command []string
}

// CommandLine returns the shell-escaped command reproducing the trace.
func (g *Generated) CommandLine() string {
	if len(g.Command) == 0 {
		return ""
	}
	escaped := make([]string, 0, len(g.Command)+2)
	for _, arg := range g.Command {
		escaped = append(escaped, shellescape.Quote(arg))
	}
	escaped = append(escaped, ">", shellescape.Quote(g.Path))
	return strings.Join(escaped, " ")
}

// Synthesizer turns the trace of a blueprint into a file the engine can load.
type Synthesizer struct {
	logger zerolog.Logger
	cfg    Config
}

// New returns a Synthesizer.
func New(logger zerolog.Logger, cfg Config) *Synthesizer {
	if cfg.Python == "" {
		cfg.Python = "python3"
	}
	return &Synthesizer{logger: logger, cfg: cfg}
}

// Synthesize writes the trace of t to a new file. It returns nil when t
// refers to an on-disk trace which can be used as is.
func (s *Synthesizer) Synthesize(ctx context.Context, t *model.Test) (*Generated, error) {
	var (
		data []byte
		cmd  []string
		err  error
	)

	switch tr := t.Blueprint.Trace.(type) {
	case model.TracePath, model.TraceDataPath:
		var asIs bool
		data, cmd, asIs, err = s.fromFile(ctx, t)
		if err == nil && asIs {
			return nil, nil
		}
	case model.TraceTextProto:
		data, err = s.textProto(tr.Contents)
	case model.TraceSimpleperf:
		data, err = s.simpleperf(tr.Records)
	case model.TraceJSON:
		data = []byte(tr.Contents)
	case model.TraceCSV:
		data = []byte(tr.Contents)
	case model.TraceSystrace:
		data = []byte(tr.Contents)
	case model.TraceRawText:
		data = []byte(tr.Contents)
	default:
		err = fmt.Errorf("unknown trace type %T", tr)
	}
	if err != nil {
		return nil, err
	}

	if mut := t.Blueprint.Mutation; mut != nil {
		set, err := s.cfg.Trace.Get()
		if err != nil {
			return nil, fmt.Errorf("failed to load trace descriptors: %w", err)
		}
		var rewritten int
		data, rewritten, err = Mutate(set, data, mut)
		if err != nil {
			return nil, err
		}
		s.logger.Debug().
			Str("test", t.Name).
			Int("packets", rewritten).
			Msg("Mutated trace")
	}

	f, err := os.CreateTemp(s.cfg.TempDir, tempPattern(t.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to write trace file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to write trace file: %w", err)
	}

	s.logger.Debug().
		Str("test", t.Name).
		Str("path", f.Name()).
		Int("size", len(data)).
		Msg("Synthesized trace")
	return &Generated{Path: f.Name(), Command: cmd}, nil
}

// fromFile returns the contents the file-backed trace of t expands to. asIs
// is set if the file can be handed to the engine unchanged.
func (s *Synthesizer) fromFile(ctx context.Context, t *model.Test) (data []byte, cmd []string, asIs bool, err error) {
	switch filepath.Ext(t.TracePath) {
	case ".py":
		data, cmd, err = s.runScript(ctx, t.TracePath)
		return data, cmd, false, err
	case ".textproto":
		text, err := os.ReadFile(t.TracePath)
		if err != nil {
			return nil, nil, false, fmt.Errorf("failed to read trace: %w", err)
		}
		data, err = s.textProto(string(text))
		return data, nil, false, err
	}
	if t.Blueprint.Mutation == nil {
		return nil, nil, true, nil
	}
	data, err = os.ReadFile(t.TracePath)
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to read trace: %w", err)
	}
	return data, nil, false, nil
}

// runScript runs a trace generator script and returns what it printed.
func (s *Synthesizer) runScript(ctx context.Context, script string) ([]byte, []string, error) {
	args := append([]string{script, s.cfg.TraceDescriptor}, s.cfg.ExtensionDescriptors...)
	cmd := exec.CommandContext(ctx, s.cfg.Python, args...)

	pythonPath := filepath.Join(s.cfg.RootDir, "test")
	if existing := os.Getenv("PYTHONPATH"); existing != "" {
		pythonPath += string(os.PathListSeparator) + existing
	}
	cmd.Env = append(os.Environ(), "PYTHONPATH="+pythonPath)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.logger.Debug().
		Str("interpreter", s.cfg.Python).
		Strs("args", args).
		Msg("Running trace script")

	if err := cmd.Run(); err != nil {
		return nil, nil, fmt.Errorf("trace script %s failed: %w: %s", script, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), append([]string{s.cfg.Python}, args...), nil
}

// textProto serializes a text-format trace.
func (s *Synthesizer) textProto(text string) ([]byte, error) {
	set, err := s.cfg.Trace.Get()
	if err != nil {
		return nil, fmt.Errorf("failed to load trace descriptors: %w", err)
	}
	m, err := set.UnmarshalText(TraceType, text)
	if err != nil {
		return nil, err
	}
	data, err := protoset.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize trace: %w", err)
	}
	return data, nil
}

func (s *Synthesizer) simpleperf(texts []string) ([]byte, error) {
	set, err := s.cfg.Simpleperf.Get()
	if err != nil {
		return nil, fmt.Errorf("failed to load simpleperf descriptors: %w", err)
	}
	records, err := simpleperfRecords(set, texts)
	if err != nil {
		return nil, err
	}
	return EncodeSimpleperf(records)
}

// tempPattern derives a temp file pattern from a test name.
func tempPattern(name string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, name)
	return clean + "-*.trace"
}
