package logger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalWritesOneLinePerRecord(t *testing.T) {
	var buf bytes.Buffer
	j := NewJournal(&buf)

	require.NoError(t, j.LogExit(&ExitRecord{Key: "INFY_CNC", Symbol: "INFY", Quantity: 1800, Price: "250.05", Success: true}))
	require.NoError(t, j.LogSignal(&SignalRecord{Strategy: "five_ema", Direction: "SELL", Entry: 100.5, Targets: []float64{99, 98}}))

	scanner := bufio.NewScanner(&buf)
	var lines []map[string]any
	for scanner.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "exit", lines[0]["type"])
	assert.Equal(t, "250.05", lines[0]["price"])
	assert.Equal(t, float64(1800), lines[0]["qty"])
	assert.Equal(t, "signal", lines[1]["type"])
	assert.Equal(t, "SELL", lines[1]["direction"])
}

func TestJournalNilSafe(t *testing.T) {
	var j *Journal
	assert.NoError(t, j.LogExit(&ExitRecord{}))
	assert.NoError(t, j.Close())
}

func TestOpenJournalAppends(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		j, err := OpenJournal(dir, "exits.jsonl")
		require.NoError(t, err)
		require.NoError(t, j.LogExit(&ExitRecord{Key: "A_MIS"}))
		require.NoError(t, j.Close())
	}
	data, err := os.ReadFile(filepath.Join(dir, "exits.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, 2, bytes.Count(data, []byte("\n")))
}

func TestComponentField(t *testing.T) {
	entry := Component(Discard().Logger, "position_monitor")
	assert.Equal(t, "position_monitor", entry.Data["component"])
}
