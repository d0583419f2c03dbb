package metrics

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Report formats accepted by WriteReport.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatBoth = "both"
)

// CounterRow is one line of the shutdown report.
type CounterRow struct {
	Name    string  `json:"name"`
	Kind    string  `json:"kind"` // "throughput" or "latency"
	Current uint64  `json:"current"`
	Min     uint64  `json:"min"`
	Max     uint64  `json:"max"`
	Average float64 `json:"average"`
	Count   uint64  `json:"count"`
}

// Report is the full end-of-run document written at shutdown.
type Report struct {
	RunID           string       `json:"run_id"`
	GeneratedAt     time.Time    `json:"generated_at"`
	StartedAt       time.Time    `json:"started_at"`
	DurationSeconds float64      `json:"duration_seconds"`
	HeapBytes       uint64       `json:"heap_bytes"`
	PeakHeapBytes   uint64       `json:"peak_heap_bytes"`
	Goroutines      int64        `json:"goroutines"`
	Counters        []CounterRow `json:"counters"`
}

// BuildReport assembles the report document from the current counters.
func (mon *Monitor) BuildReport() Report {
	snap := mon.metrics.Snapshot()

	throughput := func(name string, v uint64) CounterRow {
		return CounterRow{Name: name, Kind: "throughput", Current: v, Count: v}
	}

	return Report{
		RunID:           mon.runID,
		GeneratedAt:     time.Now(),
		StartedAt:       mon.startedAt,
		DurationSeconds: mon.Uptime().Seconds(),
		HeapBytes:       mon.HeapBytes(),
		PeakHeapBytes:   mon.PeakHeapBytes(),
		Goroutines:      mon.Goroutines(),
		Counters: []CounterRow{
			throughput("orders_processed", snap.OrdersProcessed),
			throughput("orders_rejected", snap.OrdersRejected),
			throughput("orders_dropped", snap.OrdersDropped),
			throughput("orders_cancelled", snap.OrdersCancelled),
			throughput("trades_executed", snap.TradesExecuted),
			throughput("market_data_updates", snap.MarketDataUpdates),
			throughput("market_data_dropped", snap.MarketDataDropped),
			throughput("sink_failures", snap.SinkFailures),
			{
				Name:    "submit_latency_ns",
				Kind:    "latency",
				Current: snap.MaxLatencyNs,
				Min:     snap.MinLatencyNs,
				Max:     snap.MaxLatencyNs,
				Average: snap.AvgLatencyNs,
				Count:   snap.LatencySamples,
			},
		},
	}
}

// WriteReport renders the report to basePath with the extension implied by
// format; FormatBoth writes basePath.csv and basePath.json.
func (mon *Monitor) WriteReport(basePath, format string) error {
	report := mon.BuildReport()

	switch format {
	case FormatCSV:
		return writeCSV(basePath+".csv", report)
	case FormatJSON:
		return writeJSON(basePath+".json", report)
	case FormatBoth, "":
		if err := writeCSV(basePath+".csv", report); err != nil {
			return err
		}
		return writeJSON(basePath+".json", report)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

func writeCSV(path string, report Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"counter", "kind", "current", "min", "max", "average", "count"}); err != nil {
		return err
	}
	for _, row := range report.Counters {
		record := []string{
			row.Name,
			row.Kind,
			strconv.FormatUint(row.Current, 10),
			strconv.FormatUint(row.Min, 10),
			strconv.FormatUint(row.Max, 10),
			strconv.FormatFloat(row.Average, 'f', 2, 64),
			strconv.FormatUint(row.Count, 10),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeJSON(path string, report Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
