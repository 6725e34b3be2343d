// Package compare checks engine output against the expectations of a test.
package compare

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/perfgo/tpdiff/model"
	"github.com/perfgo/tpdiff/protoset"
)

const (
	// InvalidInput replaces binary proto output which could not be decoded.
	InvalidInput = "<Invalid input for proto deserializaiton>"
	// PostProcessingFailed replaces binary proto output whose post-processor
	// failed.
	PostProcessingFailed = "<Proto post processing failed>"

	TraceMetricsType = "perfetto.protos.TraceMetrics"
	TraceSummaryType = "perfetto.protos.TraceSummary"
)

// Config holds the schemas the comparator decodes engine output with.
type Config struct {
	// Schema of v1 metric results
	Metrics *protoset.Lazy
	// Schema of trace summaries
	Summary *protoset.Lazy
	// Schemas of binary proto query results
	Output *protoset.Lazy
}

// Comparator compares engine output with expectations. It is safe for
// concurrent use.
type Comparator struct {
	cfg Config
}

// New returns a Comparator.
func New(cfg Config) *Comparator {
	return &Comparator{cfg: cfg}
}

// Compare builds the result of t from the output of its engine run. Output
// which cannot be decoded fails the test; an error is only returned when the
// expectation itself cannot be interpreted.
func (c *Comparator) Compare(t *model.Test, stdout []byte, stderr string, exitCode int) (*model.Result, error) {
	var (
		expected, actual string
		err              error
	)

	switch t.Mode {
	case model.ModeQuery:
		expected, actual, err = c.query(t, stdout)
	case model.ModeMetricV1:
		expected, actual, err = c.metricV1(t, stdout)
	case model.ModeMetricV2:
		expected, actual, err = c.metricV2(t, stdout)
	default:
		err = fmt.Errorf("unknown test mode %v", t.Mode)
	}
	if err != nil {
		return nil, err
	}

	res := &model.Result{
		Test:     t,
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: exitCode,
		Expected: Normalize(expected),
		Actual:   Normalize(actual),
	}
	res.Passed = res.Expected == res.Actual && exitCode == 0
	return res, nil
}

func (c *Comparator) query(t *model.Test, stdout []byte) (string, string, error) {
	bp, ok := t.Blueprint.Output.(model.OutputBinaryProto)
	if !ok {
		return t.Expected, string(stdout), nil
	}

	post, ok := PostProcessors[bp.PostProcess]
	if !ok {
		return "", "", fmt.Errorf("unknown post processor %q", bp.PostProcess)
	}
	set, err := c.cfg.Output.Get()
	if err != nil {
		return t.Expected, InvalidInput, nil
	}
	return expectedText(set, bp, t.Expected), DecodeBinaryProto(set, bp.MessageType, post, string(stdout)), nil
}

// expectedText renders a text proto expectation the same way decoded output
// is rendered. Expectations which do not parse as the message type are
// compared verbatim.
func expectedText(set *protoset.Set, bp model.OutputBinaryProto, expected string) string {
	if bp.PostProcess != "" && bp.PostProcess != "text" {
		return expected
	}
	m, err := set.UnmarshalText(bp.MessageType, expected)
	if err != nil {
		return expected
	}
	return set.Format(m)
}

// DecodeBinaryProto decodes the hex-encoded message in the last line of a
// query result and renders it with post. Failures are reported through the
// InvalidInput and PostProcessingFailed sentinels.
func DecodeBinaryProto(set *protoset.Set, messageType string, post PostProcessor, stdout string) string {
	raw, err := lastHexRow(stdout)
	if err != nil {
		return InvalidInput
	}
	m, err := set.Unmarshal(messageType, raw)
	if err != nil {
		return InvalidInput
	}
	out, err := safePostProcess(post, set, m)
	if err != nil {
		return PostProcessingFailed
	}
	return out
}

func safePostProcess(post PostProcessor, set *protoset.Set, m proto.Message) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("post processor panicked: %v", r)
		}
	}()
	return post(set, m)
}

// lastHexRow extracts the bytes of the last output row, which the engine
// prints quoted or bracketed.
func lastHexRow(stdout string) ([]byte, error) {
	stdout = strings.TrimRight(stdout, "\r\n")
	if strings.TrimSpace(stdout) == "" {
		return nil, errors.New("empty output")
	}
	row := stdout[strings.LastIndexByte(stdout, '\n')+1:]
	row = strings.TrimSpace(row)
	if row != "" && strings.IndexByte(`"'[(`, row[0]) >= 0 {
		row = row[1:]
	}
	if row != "" && strings.IndexByte(`"')]`, row[len(row)-1]) >= 0 {
		row = row[:len(row)-1]
	}
	return hex.DecodeString(row)
}

func (c *Comparator) metricV1(t *model.Test, stdout []byte) (string, string, error) {
	if t.JSONOutput() {
		return t.Expected, string(stdout), nil
	}

	set, err := c.cfg.Metrics.Get()
	if err != nil {
		return "", "", fmt.Errorf("failed to load metrics descriptors: %w", err)
	}
	expected, err := set.UnmarshalText(TraceMetricsType, t.Expected)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse expected output: %w", err)
	}
	actual, err := set.Unmarshal(TraceMetricsType, stdout)
	if err != nil {
		return set.Format(expected), InvalidInput, nil
	}
	return set.Format(expected), set.Format(actual), nil
}

func (c *Comparator) metricV2(t *model.Test, stdout []byte) (string, string, error) {
	set, err := c.cfg.Summary.Get()
	if err != nil {
		return "", "", fmt.Errorf("failed to load summary descriptors: %w", err)
	}
	summaryType, err := set.MessageType(TraceSummaryType)
	if err != nil {
		return "", "", err
	}
	bundles := summaryType.Descriptor().Fields().ByName("metric_bundles")
	if bundles == nil || bundles.Message() == nil {
		return "", "", fmt.Errorf("%s has no metric_bundles field", TraceSummaryType)
	}

	expected, err := set.UnmarshalText(string(bundles.Message().FullName()), t.Expected)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse expected output: %w", err)
	}

	summary, err := set.Unmarshal(TraceSummaryType, stdout)
	if err != nil {
		return set.Format(expected), InvalidInput, nil
	}
	return set.Format(expected), firstBundle(set, summary.ProtoReflect(), bundles), nil
}

func firstBundle(set *protoset.Set, summary protoreflect.Message, bundles protoreflect.FieldDescriptor) string {
	list := summary.Get(bundles).List()
	if list.Len() == 0 {
		return ""
	}
	return set.Format(list.Get(0).Message().Interface())
}
