// cmd_display.go - Tabellen-Ausgabe fuer Timing, Kanal-Statistik, Geraete und Umgebung
// Hauptfunktionen: timingTable, channelTable, DevicesHandler, EnvHandler
package cmd

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ollama/augpipe/device"
	"github.com/ollama/augpipe/envconfig"
	"github.com/ollama/augpipe/pipeline"
)

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

// humanBytes - Bytes als lesbare Groesse (B, KB, MB, GB)
func humanBytes(b uint64) string {
	const unit = 1000
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}

	value, exp := float64(b), 0
	for value >= unit && exp < 4 {
		value /= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", value, "KMGT"[exp-1])
}

func share(d, total time.Duration) string {
	if total <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", 100*float64(d)/float64(total))
}

// timingTable - Zeit pro Phase
func timingTable(w io.Writer, t pipeline.Timing) {
	total := t.Load + t.Decode + t.Process + t.Transfer

	table := newTable(w, []string{"PHASE", "TIME", "SHARE"})
	for _, row := range []struct {
		name string
		d    time.Duration
	}{
		{"load", t.Load},
		{"decode", t.Decode},
		{"process", t.Process},
		{"transfer", t.Transfer},
	} {
		table.Append([]string{row.name, row.d.Round(time.Microsecond).String(), share(row.d, total)})
	}
	table.Render()
}

// channelTable - Mittelwert und Abweichung pro Kanal, gemittelt ueber alle Batches
func channelTable(w io.Writer, s *runStats) {
	table := newTable(w, []string{"CHANNEL", "MEAN", "STD"})
	for c := range s.mean {
		n := float64(max(s.batches, 1))
		table.Append([]string{
			strconv.Itoa(c),
			strconv.FormatFloat(s.mean[c]/n, 'f', 4, 64),
			strconv.FormatFloat(s.std[c]/n, 'f', 4, 64),
		})
	}
	table.Render()
}

// DevicesHandler - Listet alle Geraete auf
func DevicesHandler(cmd *cobra.Command, _ []string) error {
	var data [][]string
	for _, d := range device.GetDevices() {
		memory := "-"
		if d.MemoryTotal > 0 {
			memory = humanBytes(d.MemoryTotal)
		}
		def := ""
		if d.IsDefault {
			def = "*"
		}
		data = append(data, []string{string(d.Backend), strconv.Itoa(d.DeviceID), d.DeviceName, memory, def})
	}

	table := newTable(cmd.OutOrStdout(), []string{"BACKEND", "ID", "NAME", "MEMORY", "DEFAULT"})
	table.AppendBulk(data)
	table.Render()

	fmt.Fprintf(cmd.OutOrStdout(), "\nselected backend: %s\n", device.SelectBestBackend())
	return nil
}

// EnvHandler - Zeigt alle Umgebungsvariablen mit aktuellem Wert
func EnvHandler(cmd *cobra.Command, _ []string) error {
	vars := envconfig.AsMap()
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	table := newTable(cmd.OutOrStdout(), []string{"NAME", "VALUE", "DESCRIPTION"})
	for _, k := range keys {
		v := vars[k]
		table.Append([]string{v.Name, fmt.Sprintf("%v", v.Value), v.Description})
	}
	table.Render()
	return nil
}
