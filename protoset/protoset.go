// Package protoset resolves protobuf message types at run time from serialized
// FileDescriptorSet files and converts messages between the binary and text
// formats.
package protoset

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Set is a merged pool of message, enum and extension types. A Set is
// read-only once built and safe for concurrent use.
type Set struct {
	types *protoregistry.Types
}

// Load reads and merges the FileDescriptorSet files at paths.
func Load(paths ...string) (*Set, error) {
	sets := make([]*descriptorpb.FileDescriptorSet, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read descriptor set: %w", err)
		}
		fds := &descriptorpb.FileDescriptorSet{}
		if err := proto.Unmarshal(data, fds); err != nil {
			return nil, fmt.Errorf("failed to parse descriptor set %s: %w", path, err)
		}
		sets = append(sets, fds)
	}
	return New(sets...)
}

// New merges descriptor sets into a Set. A file present in more than one set
// is taken from the first set containing it.
func New(sets ...*descriptorpb.FileDescriptorSet) (*Set, error) {
	merged := &descriptorpb.FileDescriptorSet{}
	seen := make(map[string]bool)
	for _, fds := range sets {
		for _, fd := range fds.GetFile() {
			if seen[fd.GetName()] {
				continue
			}
			seen[fd.GetName()] = true
			merged.File = append(merged.File, fd)
		}
	}

	files, err := protodesc.FileOptions{AllowUnresolvable: true}.NewFiles(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to build descriptor pool: %w", err)
	}

	types := new(protoregistry.Types)
	var regErr error
	files.RangeFiles(func(fd protoreflect.FileDescriptor) bool {
		regErr = register(types, fd)
		return regErr == nil
	})
	if regErr != nil {
		return nil, fmt.Errorf("failed to register types: %w", regErr)
	}

	return &Set{types: types}, nil
}

// scope is implemented by both file and message descriptors.
type scope interface {
	Messages() protoreflect.MessageDescriptors
	Enums() protoreflect.EnumDescriptors
	Extensions() protoreflect.ExtensionDescriptors
}

func register(types *protoregistry.Types, s scope) error {
	enums := s.Enums()
	for i := 0; i < enums.Len(); i++ {
		if err := types.RegisterEnum(dynamicpb.NewEnumType(enums.Get(i))); err != nil {
			return err
		}
	}
	exts := s.Extensions()
	for i := 0; i < exts.Len(); i++ {
		if err := types.RegisterExtension(dynamicpb.NewExtensionType(exts.Get(i))); err != nil {
			return err
		}
	}
	msgs := s.Messages()
	for i := 0; i < msgs.Len(); i++ {
		md := msgs.Get(i)
		if !md.IsMapEntry() {
			if err := types.RegisterMessage(dynamicpb.NewMessageType(md)); err != nil {
				return err
			}
		}
		if err := register(types, md); err != nil {
			return err
		}
	}
	return nil
}

// MessageType looks up a message type by its fully qualified name.
func (s *Set) MessageType(name string) (protoreflect.MessageType, error) {
	mt, err := s.types.FindMessageByName(protoreflect.FullName(name))
	if err != nil {
		return nil, fmt.Errorf("message type %q: %w", name, err)
	}
	return mt, nil
}

// NewMessage returns an empty message of the named type.
func (s *Set) NewMessage(name string) (proto.Message, error) {
	mt, err := s.MessageType(name)
	if err != nil {
		return nil, err
	}
	return mt.New().Interface(), nil
}

// Unmarshal parses binary data as a message of the named type.
func (s *Set) Unmarshal(name string, data []byte) (proto.Message, error) {
	m, err := s.NewMessage(name)
	if err != nil {
		return nil, err
	}
	if err := (proto.UnmarshalOptions{Resolver: s.types}).Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return m, nil
}

// UnmarshalText parses text-format data as a message of the named type.
func (s *Set) UnmarshalText(name, text string) (proto.Message, error) {
	m, err := s.NewMessage(name)
	if err != nil {
		return nil, err
	}
	if err := s.UnmarshalTextInto(m, text); err != nil {
		return nil, err
	}
	return m, nil
}

// UnmarshalTextInto parses text-format data into m, replacing its contents.
// Extension fields are resolved against the set.
func (s *Set) UnmarshalTextInto(m proto.Message, text string) error {
	if err := (prototext.UnmarshalOptions{Resolver: s.types}).Unmarshal([]byte(text), m); err != nil {
		return fmt.Errorf("failed to parse text proto %s: %w", m.ProtoReflect().Descriptor().FullName(), err)
	}
	return nil
}

// Format renders m in the canonical multi-line text format.
func (s *Set) Format(m proto.Message) string {
	return prototext.MarshalOptions{
		Multiline: true,
		Indent:    "  ",
		Resolver:  s.types,
	}.Format(m)
}

// Resolver exposes the set's types for encoders in other packages.
func (s *Set) Resolver() *protoregistry.Types {
	return s.types
}

// Marshal serializes m deterministically.
func Marshal(m proto.Message) ([]byte, error) {
	return proto.MarshalOptions{Deterministic: true}.Marshal(m)
}

// Lazy loads a Set from descriptor files the first time it is needed, so that
// runs which never touch a schema do not require its descriptors to exist.
type Lazy struct {
	paths []string
	once  sync.Once
	set   *Set
	err   error
}

// NewLazy returns a Lazy merging the descriptor sets at paths.
func NewLazy(paths ...string) *Lazy {
	return &Lazy{paths: paths}
}

// Loaded wraps an already built Set.
func Loaded(set *Set) *Lazy {
	l := &Lazy{}
	l.once.Do(func() { l.set = set })
	return l
}

// Get returns the loaded Set, loading it on the first call.
func (l *Lazy) Get() (*Set, error) {
	if l == nil {
		return nil, errors.New("no descriptor sets configured")
	}
	l.once.Do(func() {
		if len(l.paths) == 0 {
			l.err = errors.New("no descriptor sets configured")
			return
		}
		l.set, l.err = Load(l.paths...)
	})
	return l.set, l.err
}
