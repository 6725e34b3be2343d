package tracegen

// This file contains the simpleperf record container: a magic string and a
// version followed by length-prefixed serialized records and a zero length
// terminator, all little endian.

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/proto"

	"github.com/perfgo/tpdiff/protoset"
)

const (
	simpleperfMagic   = "SIMPLEPERF"
	simpleperfVersion = 1

	// SimpleperfRecordType is the message every container record holds.
	SimpleperfRecordType = "simpleperf_report_proto.Record"
)

// WriteSimpleperf writes records as a simpleperf container.
func WriteSimpleperf(w io.Writer, records [][]byte) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(simpleperfMagic); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint16(simpleperfVersion)); err != nil {
		return err
	}
	for _, r := range records {
		if len(r) == 0 {
			return errors.New("simpleperf records must not be empty")
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(r))); err != nil {
			return err
		}
		if _, err := bw.Write(r); err != nil {
			return err
		}
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(0)); err != nil {
		return err
	}
	return bw.Flush()
}

// EncodeSimpleperf returns the container holding records.
func EncodeSimpleperf(records [][]byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteSimpleperf(&buf, records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadSimpleperf decodes a simpleperf container into its serialized records.
func ReadSimpleperf(r io.Reader) ([][]byte, error) {
	br := bufio.NewReader(r)

	magic := make([]byte, len(simpleperfMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, fmt.Errorf("failed to read simpleperf magic: %w", err)
	}
	if string(magic) != simpleperfMagic {
		return nil, fmt.Errorf("invalid simpleperf magic %q", magic)
	}
	var version uint16
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("failed to read simpleperf version: %w", err)
	}
	if version != simpleperfVersion {
		return nil, fmt.Errorf("unsupported simpleperf version %d", version)
	}

	var records [][]byte
	for {
		var size uint32
		if err := binary.Read(br, binary.LittleEndian, &size); err != nil {
			return nil, fmt.Errorf("failed to read simpleperf record size: %w", err)
		}
		if size == 0 {
			return records, nil
		}
		rec := make([]byte, size)
		if _, err := io.ReadFull(br, rec); err != nil {
			return nil, fmt.Errorf("failed to read simpleperf record: %w", err)
		}
		records = append(records, rec)
	}
}

// simpleperfRecords parses text-format records with set and serializes each
// of them.
func simpleperfRecords(set *protoset.Set, texts []string) ([][]byte, error) {
	records := make([][]byte, 0, len(texts))
	for i, text := range texts {
		m, err := set.UnmarshalText(SimpleperfRecordType, text)
		if err != nil {
			return nil, fmt.Errorf("simpleperf record %d: %w", i, err)
		}
		data, err := protoset.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize simpleperf record %d: %w", i, err)
		}
		records = append(records, data)
	}
	return records, nil
}

// DecodeSimpleperfRecords parses the records of a container with set.
func DecodeSimpleperfRecords(set *protoset.Set, data []byte) ([]proto.Message, error) {
	raw, err := ReadSimpleperf(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	msgs := make([]proto.Message, 0, len(raw))
	for _, r := range raw {
		m, err := set.Unmarshal(SimpleperfRecordType, r)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
