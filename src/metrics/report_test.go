package metrics_test

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ultramatch/src/metrics"
)

func monitorWithCounters(t *testing.T) *metrics.Monitor {
	t.Helper()
	m := metrics.New()
	m.OrdersProcessed.Add(100)
	m.TradesExecuted.Add(40)
	m.RecordLatency(250)
	m.RecordLatency(750)

	mon := metrics.NewMonitor(m, time.Hour)
	require.NoError(t, mon.Start())
	mon.Stop()
	return mon
}

func TestBuildReport(t *testing.T) {
	mon := monitorWithCounters(t)
	report := mon.BuildReport()

	assert.Equal(t, mon.RunID(), report.RunID)
	assert.NotZero(t, report.HeapBytes)
	assert.NotZero(t, report.Goroutines)

	rows := make(map[string]metrics.CounterRow, len(report.Counters))
	for _, row := range report.Counters {
		rows[row.Name] = row
	}
	assert.Equal(t, uint64(100), rows["orders_processed"].Current)
	assert.Equal(t, uint64(40), rows["trades_executed"].Current)

	latency := rows["submit_latency_ns"]
	assert.Equal(t, "latency", latency.Kind)
	assert.Equal(t, uint64(250), latency.Min)
	assert.Equal(t, uint64(750), latency.Max)
	assert.Equal(t, 500.0, latency.Average)
	assert.Equal(t, uint64(2), latency.Count)
}

func TestWriteReportBothFormats(t *testing.T) {
	mon := monitorWithCounters(t)
	base := filepath.Join(t.TempDir(), "run")

	require.NoError(t, mon.WriteReport(base, metrics.FormatBoth))

	// JSON parses back into a report
	data, err := os.ReadFile(base + ".json")
	require.NoError(t, err)
	var report metrics.Report
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, mon.RunID(), report.RunID)

	// CSV has a header plus one row per counter
	f, err := os.Open(base + ".csv")
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, []string{"counter", "kind", "current", "min", "max", "average", "count"}, rows[0])
	assert.Len(t, rows, len(report.Counters)+1)
}

func TestWriteReportUnknownFormat(t *testing.T) {
	mon := monitorWithCounters(t)
	err := mon.WriteReport(filepath.Join(t.TempDir(), "run"), "xml")
	assert.Error(t, err)
}
