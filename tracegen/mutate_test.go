package tracegen

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/perfgo/tpdiff/model"
	"github.com/perfgo/tpdiff/protoset"
	"github.com/perfgo/tpdiff/testutil"
)

func packets(t *testing.T, set *protoset.Set, data []byte) []protoreflect.Message {
	t.Helper()
	m, err := set.Unmarshal(TraceType, data)
	require.NoError(t, err)
	list := m.ProtoReflect().Get(m.ProtoReflect().Descriptor().Fields().ByName("packet")).List()
	out := make([]protoreflect.Message, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		out = append(out, list.Get(i).Message())
	}
	return out
}

func getField(p protoreflect.Message, name string) (protoreflect.Value, bool) {
	fd := p.Descriptor().Fields().ByName(protoreflect.Name(name))
	return p.Get(fd), p.Has(fd)
}

func TestMutateTargetsOnlyMatchingPackets(t *testing.T) {
	set, err := protoset.New(testutil.TraceSet(), testutil.TestExtensionSet())
	require.NoError(t, err)
	orig, err := set.UnmarshalText(TraceType, printTrace)
	require.NoError(t, err)
	data, err := proto.Marshal(orig)
	require.NoError(t, err)

	out, rewritten, err := Mutate(set, data, &model.TraceMutation{
		Packets: []string{"ftrace_events"},
		Values: map[string]any{
			"machine_id":               1001,
			"first_packet_on_sequence": true,
		},
	})
	require.NoError(t, err)
	require.Equal(t, 2, rewritten)

	got := packets(t, set, out)
	require.Len(t, got, 3)
	for i, p := range got {
		machine, hasMachine := getField(p, "machine_id")
		first, hasFirst := getField(p, "first_packet_on_sequence")
		if i == 1 {
			require.False(t, hasMachine)
			require.False(t, hasFirst)
			continue
		}
		require.True(t, hasMachine)
		require.Equal(t, uint64(1001), machine.Uint())
		require.True(t, hasFirst)
		require.True(t, first.Bool())
	}

	// Untouched fields survive the round trip.
	ts, _ := getField(got[2], "timestamp")
	require.Equal(t, uint64(300), ts.Uint())
}

func TestMutateErrors(t *testing.T) {
	set, err := protoset.New(testutil.TraceSet())
	require.NoError(t, err)

	tests := []struct {
		name    string
		data    []byte
		mut     model.TraceMutation
		wantErr string
	}{
		{
			name:    "malformed trace",
			data:    []byte{0x0a, 0xff},
			mut:     model.TraceMutation{Packets: []string{"ftrace_events"}},
			wantErr: "failed to decode trace for mutation",
		},
		{
			name:    "unknown packet kind",
			mut:     model.TraceMutation{Packets: []string{"nope"}},
			wantErr: `unknown packet field "nope"`,
		},
		{
			name:    "unknown value field",
			mut:     model.TraceMutation{Packets: []string{"ftrace_events"}, Values: map[string]any{"nope": 1}},
			wantErr: `unknown packet field "nope"`,
		},
		{
			name:    "message field",
			mut:     model.TraceMutation{Packets: []string{"ftrace_events"}, Values: map[string]any{"track_event": 1}},
			wantErr: "field track_event: only singular scalar fields can be overwritten",
		},
		{
			name:    "wrong type",
			mut:     model.TraceMutation{Packets: []string{"ftrace_events"}, Values: map[string]any{"machine_id": "a"}},
			wantErr: "field machine_id: expected unsigned integer, got string",
		},
		{
			name:    "out of range",
			mut:     model.TraceMutation{Packets: []string{"ftrace_events"}, Values: map[string]any{"machine_id": -1}},
			wantErr: "field machine_id: value -1 out of range",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Mutate(set, tt.data, &tt.mut)
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestScalarValueEnum(t *testing.T) {
	set, err := protoset.New(testutil.TraceSet())
	require.NoError(t, err)
	mt, err := set.MessageType("perfetto.protos.TrackEvent")
	require.NoError(t, err)
	fd := mt.Descriptor().Fields().ByName("type")

	v, err := scalarValue(fd, "TYPE_INSTANT")
	require.NoError(t, err)
	require.Equal(t, protoreflect.EnumNumber(3), v.Enum())

	v, err = scalarValue(fd, 2)
	require.NoError(t, err)
	require.Equal(t, protoreflect.EnumNumber(2), v.Enum())

	_, err = scalarValue(fd, "TYPE_BOGUS")
	require.ErrorContains(t, err, `unknown enum value "TYPE_BOGUS"`)
}

func TestSynthesizeWithMutation(t *testing.T) {
	s, set, _ := newTestSynthesizer(t)
	test := testFor(model.TraceTextProto{Contents: printTrace})
	test.Blueprint.Mutation = &model.TraceMutation{
		Packets: []string{"track_event"},
		Values:  map[string]any{"trusted_packet_sequence_id": 7},
	}

	g, err := s.Synthesize(context.Background(), test)
	require.NoError(t, err)

	got := packets(t, set, readGenerated(t, g))
	seq, has := getField(got[1], "trusted_packet_sequence_id")
	require.True(t, has)
	require.Equal(t, uint64(7), seq.Uint())
	_, has = getField(got[0], "trusted_packet_sequence_id")
	require.False(t, has)
}

func TestSynthesizeMutationOfTextTraceFails(t *testing.T) {
	s, _, _ := newTestSynthesizer(t)
	test := testFor(model.TraceJSON{Contents: `{"traceEvents": [}`})
	test.Blueprint.Mutation = &model.TraceMutation{Packets: []string{"ftrace_events"}}

	_, err := s.Synthesize(context.Background(), test)
	require.ErrorContains(t, err, "failed to decode trace for mutation")
}
