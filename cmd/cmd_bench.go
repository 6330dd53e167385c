// cmd_bench.go - Durchsatz-Messung ueber Batch- und Bildgroessen
// Hauptfunktionen: BenchHandler, benchConfig, writeBench
package cmd

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ollama/augpipe/graph"
	"github.com/ollama/augpipe/pipeline"
)

// benchResult enthaelt die Messwerte einer Konfiguration
type benchResult struct {
	Device     string          `json:"device"`
	ImageSize  string          `json:"image_size"`
	BatchSize  int             `json:"batch_size"`
	Iterations int             `json:"iterations"`
	Total      time.Duration   `json:"total"`
	AvgLatency time.Duration   `json:"avg_latency"` // pro Bild
	MinLatency time.Duration   `json:"min_latency"`
	MaxLatency time.Duration   `json:"max_latency"`
	P95Latency time.Duration   `json:"p95_latency"`
	Throughput float64         `json:"throughput"` // Bilder pro Sekunde
	PeakMemory uint64          `json:"peak_memory"`
	Timing     pipeline.Timing `json:"timing"`
}

// benchReport ist das JSON-Format von --format json
type benchReport struct {
	Timestamp time.Time     `json:"timestamp"`
	OS        string        `json:"os"`
	Arch      string        `json:"arch"`
	CPUCores  int           `json:"cpu_cores"`
	Results   []benchResult `json:"results"`
}

type latencyStats struct {
	total, avg, min, max, p95 time.Duration
}

func calculateStats(latencies []time.Duration) latencyStats {
	if len(latencies) == 0 {
		return latencyStats{}
	}

	sorted := slices.Clone(latencies)
	slices.Sort(sorted)

	var total time.Duration
	for _, d := range latencies {
		total += d
	}

	p95 := min(int(float64(len(sorted))*0.95), len(sorted)-1)
	return latencyStats{
		total: total,
		avg:   total / time.Duration(len(latencies)),
		min:   sorted[0],
		max:   sorted[len(sorted)-1],
		p95:   sorted[p95],
	}
}

func parseIntList(s string) ([]int, error) {
	var out []int
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid batch size %q", p)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, errors.New("no batch sizes")
	}
	return out, nil
}

func parseImageSize(s string) (width, height int, err error) {
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%dx%d", &width, &height); err != nil || width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("invalid image size %q", s)
	}
	return width, height, nil
}

// benchConfig - Misst eine Kombination aus Batch- und Bildgroesse
func benchConfig(cmd *cobra.Command, root string, batch, width, height int) (*benchResult, error) {
	opts, err := pipelineOptions(cmd)
	if err != nil {
		return nil, err
	}

	c, err := pipeline.Create(batch, opts...)
	if err != nil {
		return nil, err
	}
	defer c.Release()

	size, _ := cmd.Flags().GetInt("max-size")
	id, err := c.AddNode("reader.file", nil, graph.Params{"root": root})
	if err == nil {
		id, err = c.AddNode("decode", []graph.NodeID{id}, graph.Params{"max_width": size, "max_height": size})
	}
	if err == nil {
		id, err = c.AddNode("resize", []graph.NodeID{id}, graph.Params{"width": width, "height": height})
	}
	if err == nil {
		err = c.SetOutputs(id)
	}
	if err == nil {
		err = c.Build()
	}
	if err != nil {
		return nil, err
	}

	iterations, _ := cmd.Flags().GetInt("iterations")
	warmup, _ := cmd.Flags().GetInt("warmup")

	// valid meldet, ob die laufende Epoche schon einen Batch geliefert hat
	valid := false
	next := func() (int, error) {
		for {
			err := c.Run()
			switch {
			case errors.Is(err, pipeline.ErrExhausted):
				if !valid {
					return 0, pipeline.ErrNoValidSamples
				}
				if err := c.ResetLoaders(); err != nil {
					return 0, err
				}
				valid = false
				continue
			case errors.Is(err, pipeline.ErrNoValidSamples):
				continue
			case err != nil:
				return 0, err
			}

			info, err := c.LastBatch()
			if err != nil {
				return 0, err
			}
			valid = true
			return info.Size - info.Padded, nil
		}
	}

	for range warmup {
		if _, err := next(); err != nil {
			return nil, err
		}
	}

	latencies := make([]time.Duration, 0, iterations)
	var images int
	var total time.Duration
	for range max(iterations, 1) {
		start := time.Now()
		n, err := next()
		if err != nil {
			return nil, err
		}
		d := time.Since(start)
		total += d
		images += n
		latencies = append(latencies, d/time.Duration(max(n, 1)))
	}

	stats := calculateStats(latencies)
	st := c.Status()
	res := &benchResult{
		Device:     c.Device().DeviceName,
		ImageSize:  fmt.Sprintf("%dx%d", width, height),
		BatchSize:  batch,
		Iterations: len(latencies),
		Total:      total,
		AvgLatency: stats.avg,
		MinLatency: stats.min,
		MaxLatency: stats.max,
		P95Latency: stats.p95,
		PeakMemory: st.Memory.Peak,
		Timing:     c.TimingInfo(),
	}
	if total > 0 {
		res.Throughput = float64(images) / total.Seconds()
	}
	return res, nil
}

// BenchHandler - Misst alle Konfigurationen und gibt die Ergebnisse aus
func BenchHandler(cmd *cobra.Command, args []string) error {
	s, _ := cmd.Flags().GetString("batches")
	batches, err := parseIntList(s)
	if err != nil {
		return err
	}

	format, _ := cmd.Flags().GetString("format")
	switch format {
	case "table", "markdown", "csv", "json":
	default:
		return fmt.Errorf("unknown format %q", format)
	}

	s, _ = cmd.Flags().GetString("sizes")
	var results []benchResult
	for _, size := range strings.Split(s, ",") {
		width, height, err := parseImageSize(size)
		if err != nil {
			return err
		}
		for _, batch := range batches {
			if err := cmd.Context().Err(); err != nil {
				return err
			}
			res, err := benchConfig(cmd, args[0], batch, width, height)
			if err != nil {
				return fmt.Errorf("%dx%d batch %d: %w", width, height, batch, err)
			}
			results = append(results, *res)
		}
	}

	if err := writeBench(cmd.OutOrStdout(), format, results); err != nil {
		return err
	}

	if output, _ := cmd.Flags().GetString("output"); output != "" {
		f, err := os.Create(output)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := writeBenchCSV(f, results); err != nil {
			return err
		}
		return f.Close()
	}
	return nil
}

var benchHeader = []string{"SIZE", "BATCH", "ITERATIONS", "AVG/IMG", "P95/IMG", "MIN/IMG", "MAX/IMG", "IMG/S", "PEAK MEMORY"}

func benchRow(r benchResult) []string {
	return []string{
		r.ImageSize,
		strconv.Itoa(r.BatchSize),
		strconv.Itoa(r.Iterations),
		r.AvgLatency.Round(time.Microsecond).String(),
		r.P95Latency.Round(time.Microsecond).String(),
		r.MinLatency.Round(time.Microsecond).String(),
		r.MaxLatency.Round(time.Microsecond).String(),
		strconv.FormatFloat(r.Throughput, 'f', 1, 64),
		humanBytes(r.PeakMemory),
	}
}

// writeBench - Ausgabe als Tabelle, Markdown, CSV oder JSON
func writeBench(w io.Writer, format string, results []benchResult) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(benchReport{
			Timestamp: time.Now(),
			OS:        runtime.GOOS,
			Arch:      runtime.GOARCH,
			CPUCores:  runtime.NumCPU(),
			Results:   results,
		})
	case "csv":
		return writeBenchCSV(w, results)
	case "markdown":
		fmt.Fprintf(w, "| %s |\n", strings.Join(benchHeader, " | "))
		fmt.Fprintf(w, "|%s\n", strings.Repeat("---|", len(benchHeader)))
		for _, r := range results {
			fmt.Fprintf(w, "| %s |\n", strings.Join(benchRow(r), " | "))
		}
		return nil
	}

	table := newTable(w, benchHeader)
	for _, r := range results {
		table.Append(benchRow(r))
	}
	table.Render()
	return nil
}

func writeBenchCSV(w io.Writer, results []benchResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"device", "image_size", "batch_size", "iterations", "avg_latency_us", "p95_latency_us", "min_latency_us", "max_latency_us", "throughput", "peak_memory"}); err != nil {
		return err
	}
	for _, r := range results {
		if err := cw.Write([]string{
			r.Device,
			r.ImageSize,
			strconv.Itoa(r.BatchSize),
			strconv.Itoa(r.Iterations),
			strconv.FormatInt(r.AvgLatency.Microseconds(), 10),
			strconv.FormatInt(r.P95Latency.Microseconds(), 10),
			strconv.FormatInt(r.MinLatency.Microseconds(), 10),
			strconv.FormatInt(r.MaxLatency.Microseconds(), 10),
			strconv.FormatFloat(r.Throughput, 'f', 2, 64),
			strconv.FormatUint(r.PeakMemory, 10),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
