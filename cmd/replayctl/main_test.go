package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFixture(t *testing.T) (dataPath, metaPath string) {
	t.Helper()
	dir := t.TempDir()

	dataPath = filepath.Join(dir, "events.jsonl")
	content := ""
	for i := 1; i <= 5; i++ {
		content += `{"ts_event":` + itoa(i*1000) + `,"seq":` + itoa(i) + `,"payload":{"bid_price":100.0,"ask_price":101.0}}` + "\n"
	}
	require.NoError(t, os.WriteFile(dataPath, []byte(content), 0o644))

	metaPath = filepath.Join(dir, "manifest.json")
	meta := `{"schema_version":1,"rows":5,"ts_event_min":1000,"ts_event_max":5000,"ordering_columns":["ts_event","seq"],"stream_type":"top_of_book"}`
	require.NoError(t, os.WriteFile(metaPath, []byte(meta), 0o644))

	return dataPath, metaPath
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestRun_CounterStrategySucceeds(t *testing.T) {
	dataPath, metaPath := writeFixture(t)
	outDir := t.TempDir()

	var stdout, stderr bytes.Buffer
	code := Run([]string{"replayctl", "--parquet", dataPath, "--meta", metaPath, "--strategy", "counter", "--output-dir", outDir}, &stdout, &stderr)

	require.Equal(t, 0, code, "stderr: %s", stderr.String())

	var result cliResult
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &result))
	assert.Equal(t, uint64(5), result.EventCount)
	assert.Equal(t, uint64(0), result.DecisionCount)
	assert.NotEmpty(t, result.StateHash)
	assert.NotEmpty(t, result.RunID)
}

func TestRun_MarketMakerStrategyNarrowSpreadPlacesNoOrders(t *testing.T) {
	dataPath, metaPath := writeFixture(t)
	outDir := t.TempDir()

	var stdout, stderr bytes.Buffer
	code := Run([]string{"replayctl", "--parquet", dataPath, "--meta", metaPath, "--strategy", "marketmaker", "--output-dir", outDir}, &stdout, &stderr)

	require.Equal(t, 0, code, "stderr: %s", stderr.String())

	var result cliResult
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &result))
	assert.Equal(t, uint64(5), result.EventCount)
	assert.Equal(t, uint64(0), result.DecisionCount) // spread is 1.0, below the 5.0 threshold
}

func TestRun_MissingRequiredFlagsExitsOne(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"replayctl"}, &stdout, &stderr)
	assert.Equal(t, 1, code)
}

func TestRun_UnknownStrategyExitsOne(t *testing.T) {
	dataPath, metaPath := writeFixture(t)
	var stdout, stderr bytes.Buffer
	code := Run([]string{"replayctl", "--parquet", dataPath, "--meta", metaPath, "--strategy", "nonexistent"}, &stdout, &stderr)
	assert.Equal(t, 1, code)
}
