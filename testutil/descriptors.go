package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

// Descriptors holds the paths of descriptor set fixtures written by
// WriteDescriptors.
type Descriptors struct {
	Trace          string
	TestExtensions string
	Metrics        string
	Summary        string
	Simpleperf     string
	Profile        string
}

// WriteDescriptors serializes every fixture descriptor set into dir.
func WriteDescriptors(t *testing.T, dir string) Descriptors {
	t.Helper()
	return Descriptors{
		Trace:          WriteDescriptorSet(t, dir, "trace.descriptor", TraceSet()),
		TestExtensions: WriteDescriptorSet(t, dir, "test_extensions.descriptor", TestExtensionSet()),
		Metrics:        WriteDescriptorSet(t, dir, "metrics.descriptor", MetricsSet()),
		Summary:        WriteDescriptorSet(t, dir, "trace_summary.descriptor", SummarySet()),
		Simpleperf:     WriteDescriptorSet(t, dir, "simpleperf.descriptor", SimpleperfSet()),
		Profile:        WriteDescriptorSet(t, dir, "profile.descriptor", ProfileSet()),
	}
}

// WriteDescriptorSet serializes fds into dir/name and returns the path.
func WriteDescriptorSet(t *testing.T, dir, name string, fds *descriptorpb.FileDescriptorSet) string {
	t.Helper()
	data, err := proto.Marshal(fds)
	if err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

type fieldType = descriptorpb.FieldDescriptorProto_Type

const (
	typeString  = descriptorpb.FieldDescriptorProto_TYPE_STRING
	typeBool    = descriptorpb.FieldDescriptorProto_TYPE_BOOL
	typeInt32   = descriptorpb.FieldDescriptorProto_TYPE_INT32
	typeInt64   = descriptorpb.FieldDescriptorProto_TYPE_INT64
	typeUint32  = descriptorpb.FieldDescriptorProto_TYPE_UINT32
	typeUint64  = descriptorpb.FieldDescriptorProto_TYPE_UINT64
	typeDouble  = descriptorpb.FieldDescriptorProto_TYPE_DOUBLE
	typeEnum    = descriptorpb.FieldDescriptorProto_TYPE_ENUM
	typeMessage = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE
)

func field(name string, num int32, typ fieldType, label descriptorpb.FieldDescriptorProto_Label, typeName string) *descriptorpb.FieldDescriptorProto {
	f := &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(num),
		Type:   typ.Enum(),
		Label:  label.Enum(),
	}
	if typeName != "" {
		f.TypeName = proto.String(typeName)
	}
	return f
}

func optional(name string, num int32, typ fieldType, typeName string) *descriptorpb.FieldDescriptorProto {
	return field(name, num, typ, descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL, typeName)
}

func repeated(name string, num int32, typ fieldType, typeName string) *descriptorpb.FieldDescriptorProto {
	return field(name, num, typ, descriptorpb.FieldDescriptorProto_LABEL_REPEATED, typeName)
}

func inOneof(f *descriptorpb.FieldDescriptorProto, index int32) *descriptorpb.FieldDescriptorProto {
	f.OneofIndex = proto.Int32(index)
	return f
}

func message(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
}

// TraceSet is a cut-down perfetto.protos.Trace schema.
func TraceSet() *descriptorpb.FileDescriptorSet {
	packet := message("TracePacket",
		// Members of a oneof must be declared consecutively.
		inOneof(optional("ftrace_events", 1, typeMessage, ".perfetto.protos.FtraceEventBundle"), 0),
		inOneof(optional("track_event", 11, typeMessage, ".perfetto.protos.TrackEvent"), 0),
		optional("timestamp", 8, typeUint64, ""),
		optional("trusted_packet_sequence_id", 10, typeUint32, ""),
		optional("first_packet_on_sequence", 87, typeBool, ""),
		optional("machine_id", 98, typeUint32, ""),
	)
	packet.OneofDecl = []*descriptorpb.OneofDescriptorProto{{Name: proto.String("data")}}
	packet.ExtensionRange = []*descriptorpb.DescriptorProto_ExtensionRange{
		{Start: proto.Int32(1000), End: proto.Int32(2000)},
	}

	trackEvent := message("TrackEvent",
		optional("type", 9, typeEnum, ".perfetto.protos.TrackEvent.Type"),
		optional("name", 23, typeString, ""),
	)
	trackEvent.EnumType = []*descriptorpb.EnumDescriptorProto{{
		Name: proto.String("Type"),
		Value: []*descriptorpb.EnumValueDescriptorProto{
			{Name: proto.String("TYPE_UNSPECIFIED"), Number: proto.Int32(0)},
			{Name: proto.String("TYPE_SLICE_BEGIN"), Number: proto.Int32(1)},
			{Name: proto.String("TYPE_SLICE_END"), Number: proto.Int32(2)},
			{Name: proto.String("TYPE_INSTANT"), Number: proto.Int32(3)},
		},
	}}

	return &descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{{
		Name:    proto.String("protos/perfetto/trace/trace.proto"),
		Package: proto.String("perfetto.protos"),
		MessageType: []*descriptorpb.DescriptorProto{
			message("Trace",
				repeated("packet", 1, typeMessage, ".perfetto.protos.TracePacket"),
			),
			packet,
			message("FtraceEventBundle",
				optional("cpu", 1, typeUint32, ""),
				repeated("event", 2, typeMessage, ".perfetto.protos.FtraceEvent"),
			),
			message("FtraceEvent",
				optional("timestamp", 1, typeUint64, ""),
				optional("pid", 2, typeUint32, ""),
				optional("print", 3, typeMessage, ".perfetto.protos.PrintFtraceEvent"),
			),
			message("PrintFtraceEvent",
				optional("buf", 2, typeString, ""),
			),
			trackEvent,
		},
	}}}
}

// TestExtensionSet extends TracePacket with a string field. It only contains
// the extension file and must be merged with TraceSet.
func TestExtensionSet() *descriptorpb.FileDescriptorSet {
	return &descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{{
		Name:       proto.String("protos/perfetto/trace/test_extensions.proto"),
		Package:    proto.String("perfetto.protos"),
		Dependency: []string{"protos/perfetto/trace/trace.proto"},
		Extension: []*descriptorpb.FieldDescriptorProto{{
			Name:     proto.String("test_label"),
			Number:   proto.Int32(1001),
			Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
			Type:     typeString.Enum(),
			Extendee: proto.String(".perfetto.protos.TracePacket"),
		}},
	}}}
}

// MetricsSet is a cut-down perfetto.protos.TraceMetrics schema.
func MetricsSet() *descriptorpb.FileDescriptorSet {
	return &descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{{
		Name:    proto.String("protos/perfetto/metrics/metrics.proto"),
		Package: proto.String("perfetto.protos"),
		MessageType: []*descriptorpb.DescriptorProto{
			message("TraceMetrics",
				optional("test_metric", 1, typeMessage, ".perfetto.protos.TestMetric"),
			),
			message("TestMetric",
				optional("count", 1, typeInt64, ""),
				repeated("name", 2, typeString, ""),
			),
		},
	}}}
}

// SummarySet is a cut-down trace summary schema covering both the spec and
// the result envelope.
func SummarySet() *descriptorpb.FileDescriptorSet {
	return &descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{{
		Name:    proto.String("protos/perfetto/trace_summary/file.proto"),
		Package: proto.String("perfetto.protos"),
		MessageType: []*descriptorpb.DescriptorProto{
			message("TraceSummarySpec",
				repeated("metric_spec", 1, typeMessage, ".perfetto.protos.TraceMetricV2Spec"),
			),
			message("TraceMetricV2Spec",
				optional("id", 1, typeString, ""),
				optional("value", 2, typeString, ""),
				optional("query", 3, typeString, ""),
			),
			message("TraceSummary",
				repeated("metric_bundles", 1, typeMessage, ".perfetto.protos.TraceMetricV2Bundle"),
			),
			message("TraceMetricV2Bundle",
				repeated("specs", 1, typeMessage, ".perfetto.protos.TraceMetricV2Spec"),
				repeated("row", 2, typeMessage, ".perfetto.protos.TraceMetricV2Row"),
			),
			message("TraceMetricV2Row",
				optional("value", 1, typeDouble, ""),
				repeated("dimension", 2, typeString, ""),
			),
		},
	}}}
}

// SimpleperfSet is a cut-down simpleperf report sample schema.
func SimpleperfSet() *descriptorpb.FileDescriptorSet {
	record := message("Record",
		inOneof(optional("sample", 1, typeMessage, ".simpleperf_report_proto.Sample"), 0),
		inOneof(optional("file", 3, typeMessage, ".simpleperf_report_proto.File"), 0),
		inOneof(optional("thread", 4, typeMessage, ".simpleperf_report_proto.Thread"), 0),
	)
	record.OneofDecl = []*descriptorpb.OneofDescriptorProto{{Name: proto.String("record_data")}}

	return &descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{{
		Name:    proto.String("system/extras/simpleperf/cmd_report_sample.proto"),
		Package: proto.String("simpleperf_report_proto"),
		MessageType: []*descriptorpb.DescriptorProto{
			record,
			message("Sample",
				optional("time", 1, typeUint64, ""),
				optional("thread_id", 2, typeInt32, ""),
				optional("event_count", 4, typeUint64, ""),
			),
			message("File",
				optional("id", 1, typeUint32, ""),
				optional("path", 2, typeString, ""),
				repeated("symbol", 3, typeString, ""),
			),
			message("Thread",
				optional("thread_id", 1, typeUint32, ""),
				optional("process_id", 2, typeUint32, ""),
				optional("thread_name", 3, typeString, ""),
			),
		},
	}}}
}

// ProfileSet is the subset of the pprof profile schema the profile printer
// reads.
func ProfileSet() *descriptorpb.FileDescriptorSet {
	const pkg = ".perfetto.third_party.perftools.profiles."
	return &descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{{
		Name:    proto.String("protos/third_party/pprof/profile.proto"),
		Package: proto.String("perfetto.third_party.perftools.profiles"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			message("Profile",
				repeated("sample_type", 1, typeMessage, pkg+"ValueType"),
				repeated("sample", 2, typeMessage, pkg+"Sample"),
				repeated("location", 4, typeMessage, pkg+"Location"),
				repeated("function", 5, typeMessage, pkg+"Function"),
				repeated("string_table", 6, typeString, ""),
			),
			message("ValueType",
				optional("type", 1, typeInt64, ""),
				optional("unit", 2, typeInt64, ""),
			),
			message("Sample",
				repeated("location_id", 1, typeUint64, ""),
				repeated("value", 2, typeInt64, ""),
			),
			message("Location",
				optional("id", 1, typeUint64, ""),
				optional("address", 3, typeUint64, ""),
				repeated("line", 4, typeMessage, pkg+"Line"),
			),
			message("Line",
				optional("function_id", 1, typeUint64, ""),
				optional("line", 2, typeInt64, ""),
			),
			message("Function",
				optional("id", 1, typeUint64, ""),
				optional("name", 2, typeInt64, ""),
			),
		},
	}}}
}
