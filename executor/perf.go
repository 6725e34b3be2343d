package executor

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/perfgo/tpdiff/model"
)

// ParsePerf parses the "<ingestNs>,<realNs>" line the engine writes to its
// perf file.
func ParsePerf(data string) (ingestNs, realNs int64, err error) {
	line := strings.TrimSpace(data)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	fields := strings.Split(line, ",")
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("malformed perf line %q", line)
	}
	ingestNs, err = strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed ingest time: %w", err)
	}
	realNs, err = strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed real time: %w", err)
	}
	return ingestNs, realNs, nil
}

func readPerfFile(path string, t *model.Test) (*model.PerfSample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read perf file: %w", err)
	}
	ingestNs, realNs, err := ParsePerf(string(data))
	if err != nil {
		return nil, err
	}
	return &model.PerfSample{
		Test:     t.Name,
		Mode:     t.Mode,
		IngestNs: ingestNs,
		RealNs:   realNs,
	}, nil
}
