package protoset

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/perfgo/tpdiff/testutil"
)

func TestLoadMergesSets(t *testing.T) {
	d := testutil.WriteDescriptors(t, t.TempDir())

	set, err := Load(d.Trace, d.TestExtensions, d.Trace)
	require.NoError(t, err)

	m, err := set.UnmarshalText("perfetto.protos.Trace", `
packet {
  timestamp: 10
  [perfetto.protos.test_label]: "hello"
}`)
	require.NoError(t, err)

	data, err := Marshal(m)
	require.NoError(t, err)

	back, err := set.Unmarshal("perfetto.protos.Trace", data)
	require.NoError(t, err)
	require.True(t, proto.Equal(m, back))
	require.Contains(t, set.Format(back), "[perfetto.protos.test_label]")
	require.Contains(t, set.Format(back), `"hello"`)
}

func TestUnknownMessageType(t *testing.T) {
	set, err := New(testutil.MetricsSet())
	require.NoError(t, err)

	_, err = set.NewMessage("perfetto.protos.Nope")
	require.ErrorContains(t, err, `message type "perfetto.protos.Nope"`)
}

func TestUnmarshalTextRejectsGarbage(t *testing.T) {
	set, err := New(testutil.MetricsSet())
	require.NoError(t, err)

	_, err = set.UnmarshalText("perfetto.protos.TraceMetrics", "test_metric { bogus: 1 }")
	require.Error(t, err)
}

func TestEnumsRegistered(t *testing.T) {
	set, err := New(testutil.TraceSet())
	require.NoError(t, err)

	m, err := set.UnmarshalText("perfetto.protos.TrackEvent", "type: TYPE_INSTANT")
	require.NoError(t, err)
	fd := m.ProtoReflect().Descriptor().Fields().ByName("type")
	require.Equal(t, protoreflect.EnumNumber(3), m.ProtoReflect().Get(fd).Enum())
}

func TestLazy(t *testing.T) {
	var nilLazy *Lazy
	_, err := nilLazy.Get()
	require.EqualError(t, err, "no descriptor sets configured")

	_, err = NewLazy().Get()
	require.EqualError(t, err, "no descriptor sets configured")

	_, err = NewLazy("/does/not/exist.descriptor").Get()
	require.ErrorContains(t, err, "failed to read descriptor set")

	d := testutil.WriteDescriptors(t, t.TempDir())
	l := NewLazy(d.Metrics)
	first, err := l.Get()
	require.NoError(t, err)
	second, err := l.Get()
	require.NoError(t, err)
	require.Same(t, first, second)

	built, err := New(testutil.SummarySet())
	require.NoError(t, err)
	got, err := Loaded(built).Get()
	require.NoError(t, err)
	require.Same(t, built, got)
}
