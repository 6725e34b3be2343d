package tracegen

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/perfgo/tpdiff/model"
	"github.com/perfgo/tpdiff/protoset"
)

// TraceType is the root message of a trace file.
const TraceType = "perfetto.protos.Trace"

// Mutate rewrites the packets of a serialized trace. Every packet which has
// one of m.Packets set gets the fields of m.Values overwritten. It returns the
// serialized trace and the number of packets rewritten.
func Mutate(set *protoset.Set, data []byte, m *model.TraceMutation) ([]byte, int, error) {
	trace, err := set.Unmarshal(TraceType, data)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode trace for mutation: %w", err)
	}
	tr := trace.ProtoReflect()

	packetField := tr.Descriptor().Fields().ByName("packet")
	if packetField == nil || packetField.Message() == nil {
		return nil, 0, fmt.Errorf("%s has no packet field", TraceType)
	}
	packet := packetField.Message()

	targets := make([]protoreflect.FieldDescriptor, 0, len(m.Packets))
	for _, name := range m.Packets {
		fd := packet.Fields().ByName(protoreflect.Name(name))
		if fd == nil {
			return nil, 0, fmt.Errorf("unknown packet field %q", name)
		}
		targets = append(targets, fd)
	}

	type assignment struct {
		fd    protoreflect.FieldDescriptor
		value protoreflect.Value
	}
	assignments := make([]assignment, 0, len(m.Values))
	for name, raw := range m.Values {
		fd := packet.Fields().ByName(protoreflect.Name(name))
		if fd == nil {
			return nil, 0, fmt.Errorf("unknown packet field %q", name)
		}
		v, err := scalarValue(fd, raw)
		if err != nil {
			return nil, 0, fmt.Errorf("field %s: %w", name, err)
		}
		assignments = append(assignments, assignment{fd: fd, value: v})
	}

	packets := tr.Mutable(packetField).List()
	rewritten := 0
	for i := 0; i < packets.Len(); i++ {
		p := packets.Get(i).Message()
		if !hasAny(p, targets) {
			continue
		}
		for _, a := range assignments {
			p.Set(a.fd, a.value)
		}
		rewritten++
	}

	out, err := protoset.Marshal(trace)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to serialize mutated trace: %w", err)
	}
	return out, rewritten, nil
}

func hasAny(m protoreflect.Message, fields []protoreflect.FieldDescriptor) bool {
	for _, fd := range fields {
		if m.Has(fd) {
			return true
		}
	}
	return false
}

// scalarValue converts a decoded YAML value to the kind of fd.
func scalarValue(fd protoreflect.FieldDescriptor, raw any) (protoreflect.Value, error) {
	if fd.IsList() || fd.IsMap() || fd.Message() != nil {
		return protoreflect.Value{}, fmt.Errorf("only singular scalar fields can be overwritten")
	}

	switch fd.Kind() {
	case protoreflect.BoolKind:
		b, ok := raw.(bool)
		if !ok {
			return protoreflect.Value{}, fmt.Errorf("expected bool, got %T", raw)
		}
		return protoreflect.ValueOfBool(b), nil

	case protoreflect.StringKind:
		s, ok := raw.(string)
		if !ok {
			return protoreflect.Value{}, fmt.Errorf("expected string, got %T", raw)
		}
		return protoreflect.ValueOfString(s), nil

	case protoreflect.BytesKind:
		s, ok := raw.(string)
		if !ok {
			return protoreflect.Value{}, fmt.Errorf("expected string, got %T", raw)
		}
		return protoreflect.ValueOfBytes([]byte(s)), nil

	case protoreflect.EnumKind:
		if name, ok := raw.(string); ok {
			ev := fd.Enum().Values().ByName(protoreflect.Name(name))
			if ev == nil {
				return protoreflect.Value{}, fmt.Errorf("unknown enum value %q", name)
			}
			return protoreflect.ValueOfEnum(ev.Number()), nil
		}
		n, err := toInt64(raw, math.MinInt32, math.MaxInt32)
		if err != nil {
			return protoreflect.Value{}, err
		}
		return protoreflect.ValueOfEnum(protoreflect.EnumNumber(n)), nil

	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		n, err := toInt64(raw, math.MinInt32, math.MaxInt32)
		if err != nil {
			return protoreflect.Value{}, err
		}
		return protoreflect.ValueOfInt32(int32(n)), nil

	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		n, err := toInt64(raw, math.MinInt64, math.MaxInt64)
		if err != nil {
			return protoreflect.Value{}, err
		}
		return protoreflect.ValueOfInt64(n), nil

	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		n, err := toUint64(raw, math.MaxUint32)
		if err != nil {
			return protoreflect.Value{}, err
		}
		return protoreflect.ValueOfUint32(uint32(n)), nil

	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		n, err := toUint64(raw, math.MaxUint64)
		if err != nil {
			return protoreflect.Value{}, err
		}
		return protoreflect.ValueOfUint64(n), nil

	case protoreflect.FloatKind:
		f, err := toFloat64(raw)
		if err != nil {
			return protoreflect.Value{}, err
		}
		return protoreflect.ValueOfFloat32(float32(f)), nil

	case protoreflect.DoubleKind:
		f, err := toFloat64(raw)
		if err != nil {
			return protoreflect.Value{}, err
		}
		return protoreflect.ValueOfFloat64(f), nil
	}
	return protoreflect.Value{}, fmt.Errorf("unsupported field kind %s", fd.Kind())
}

func toInt64(raw any, lo, hi int64) (int64, error) {
	var n int64
	switch v := raw.(type) {
	case int:
		n = int64(v)
	case int64:
		n = v
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("value %d out of range", v)
		}
		n = int64(v)
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("expected integer, got %v", v)
		}
		n = int64(v)
	default:
		return 0, fmt.Errorf("expected integer, got %T", raw)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("value %d out of range", n)
	}
	return n, nil
}

func toUint64(raw any, hi uint64) (uint64, error) {
	var n uint64
	switch v := raw.(type) {
	case int:
		if v < 0 {
			return 0, fmt.Errorf("value %d out of range", v)
		}
		n = uint64(v)
	case int64:
		if v < 0 {
			return 0, fmt.Errorf("value %d out of range", v)
		}
		n = uint64(v)
	case uint64:
		n = v
	case float64:
		if v < 0 || v != math.Trunc(v) {
			return 0, fmt.Errorf("expected unsigned integer, got %v", v)
		}
		n = uint64(v)
	default:
		return 0, fmt.Errorf("expected unsigned integer, got %T", raw)
	}
	if n > hi {
		return 0, fmt.Errorf("value %d out of range", n)
	}
	return n, nil
}

func toFloat64(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	}
	return 0, fmt.Errorf("expected number, got %T", raw)
}
