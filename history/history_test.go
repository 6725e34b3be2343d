package history

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/perfgo/tpdiff/model"
)

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	logger := zerolog.Nop()

	older := &model.History{
		ID:        "0f1e2d3c-aaaa-bbbb-cccc-000000000001",
		Timestamp: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Args:      []string{"tpdiff", "run"},
		ExitCode:  1,
		Report:    &model.Report{Total: 2, Passed: 1, Failures: []string{"Parsing:b"}},
	}
	newer := &model.History{
		ID:        "9a8b7c6d-aaaa-bbbb-cccc-000000000002",
		Timestamp: time.Date(2024, 3, 2, 11, 30, 15, 0, time.UTC),
		Engine:    "/out/trace_processor_shell",
		Git:       &model.Git{Commit: "abcdef0123456789", Branch: "main"},
		Report: &model.Report{
			Total:  1,
			Passed: 1,
			Perf:   []model.PerfSample{{Test: "Parsing:a", Mode: model.ModeQuery, IngestNs: 12, RealNs: 34}},
		},
	}

	runDir, err := Save(logger, dir, older)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "20240301-100000-0f1e2d3c"), runDir)
	_, err = Save(logger, dir, newer)
	require.NoError(t, err)

	// Unparseable entries are skipped.
	broken := filepath.Join(dir, "broken")
	require.NoError(t, os.MkdirAll(broken, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(broken, "history.json"), []byte("{"), 0644))

	entries, err := LoadEntries(logger, dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, *newer, entries[0].History)
	require.Equal(t, *older, entries[1].History)
	require.Equal(t, runDir, entries[1].FullPath)
}

func TestLoadEntriesMissingDir(t *testing.T) {
	entries, err := LoadEntries(zerolog.Nop(), filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestFind(t *testing.T) {
	entries := []Entry{
		{History: model.History{ID: "ABCDEF01-new"}},
		{History: model.History{ID: "12345678-old"}},
	}

	tests := []struct {
		arg     string
		want    string
		wantErr string
	}{
		{arg: "0", want: "ABCDEF01-new"},
		{arg: "-1", want: "12345678-old"},
		{arg: "abc", want: "ABCDEF01-new"},
		{arg: "1", wantErr: "invalid index: 1"},
		{arg: "-2", wantErr: "index -2 out of range (only 2 history entries)"},
		{arg: "ffff", wantErr: "no history entry found matching ID: ffff"},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			e, err := Find(entries, tt.arg)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, e.History.ID)
		})
	}

	_, err := Find(nil, "0")
	require.EqualError(t, err, "no history entries found")
}
