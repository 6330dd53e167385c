// cmd_builders.go - Command-Builder Funktionen
// Hauptfunktionen: newRunCmd, newBenchCmd, newDevicesCmd, newEnvCmd
package cmd

import (
	"github.com/spf13/cobra"
)

// newRunCmd - Erstellt den run Command
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run DIR",
		Short: "Run an augmentation pipeline over an image folder",
		Args:  cobra.ExactArgs(1),
		RunE:  RunHandler,
	}

	// Dataset
	runCmd.Flags().String("include", "", "Only read files whose relative path matches this pattern")
	runCmd.Flags().String("labels", "", "Label file with one \"name label\" pair per line")
	runCmd.Flags().String("label-db", "", "SQLite database with image labels")
	runCmd.Flags().String("label-query", "", "Query returning name, label rows from --label-db")
	runCmd.Flags().Bool("shuffle", false, "Shuffle the samples every epoch")
	runCmd.Flags().Int("shard", 0, "Shard to read")
	runCmd.Flags().Int("shards", 1, "Number of shards")

	// Graph
	runCmd.Flags().Int("max-size", 1024, "Decode canvas size; larger images are scaled down")
	runCmd.Flags().Int("width", 224, "Output width")
	runCmd.Flags().Int("height", 224, "Output height")
	runCmd.Flags().Bool("random-crop", false, "Random area and aspect crop before resizing")
	runCmd.Flags().Float64("min-area", 0.08, "Smallest crop area for --random-crop")
	runCmd.Flags().Float64("flip", 0, "Probability of a horizontal flip")
	runCmd.Flags().Float64("brightness", 0, "Random brightness factor range around 1")

	runCmd.Flags().IntP("batch", "b", 32, "Batch size")
	runCmd.Flags().Int("epochs", 1, "Number of epochs")
	addExecutionFlags(runCmd)
	addOutputFlags(runCmd)
	runCmd.Flags().Bool("dump", false, "Print the last output batch")
	runCmd.Flags().Bool("serve", false, "Serve pipeline status on AUGPIPE_HOST until interrupted")

	return runCmd
}

// addExecutionFlags - Flags fuer Backend, Threads, Queues und Seed
func addExecutionFlags(c *cobra.Command) {
	c.Flags().String("policy", "partial", "Last batch policy: partial, drop or pad")
	c.Flags().String("backend", "", "Backend: cpu or gpu (default: best available)")
	c.Flags().Int("device", 0, "Device id")
	c.Flags().Int("threads", 0, "CPU worker threads (default: available CPUs)")
	c.Flags().Int("prefetch", 0, "Depth of both prefetch queues")
	c.Flags().Int64("seed", 0, "Seed of the parameter service (default: AUGPIPE_SEED)")
}

// addOutputFlags - Flags fuer Format der Ausgabe-Tensoren
func addOutputFlags(c *cobra.Command) {
	c.Flags().String("dtype", "f32", "Output dtype: f32, f16, u8 or i32")
	c.Flags().String("layout", "NHWC", "Output layout: NHWC or NCHW")
	c.Flags().Float64Slice("mean", nil, "Per channel mean for normalization")
	c.Flags().Float64Slice("std", nil, "Per channel std for normalization")
	c.Flags().Bool("bgr", false, "Reverse the channel order")
}

// newBenchCmd - Erstellt den bench Command
func newBenchCmd() *cobra.Command {
	benchCmd := &cobra.Command{
		Use:   "bench DIR",
		Short: "Measure pipeline throughput over batch and image sizes",
		Args:  cobra.ExactArgs(1),
		RunE:  BenchHandler,
	}

	benchCmd.Flags().String("batches", "1,8,32", "Batch sizes (comma separated)")
	benchCmd.Flags().String("sizes", "224x224", "Output sizes (comma separated, WIDTHxHEIGHT)")
	benchCmd.Flags().Int("max-size", 1024, "Decode canvas size; larger images are scaled down")
	benchCmd.Flags().Int("iterations", 20, "Measured batches per configuration")
	benchCmd.Flags().Int("warmup", 2, "Unmeasured batches per configuration")
	benchCmd.Flags().String("format", "table", "Output format: table, markdown, csv or json")
	benchCmd.Flags().StringP("output", "o", "", "Also write the results as CSV to this file")
	addExecutionFlags(benchCmd)
	addOutputFlags(benchCmd)

	return benchCmd
}

// newDevicesCmd - Erstellt den devices Command
func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List compute devices",
		Args:  cobra.ExactArgs(0),
		RunE:  DevicesHandler,
	}
}

// newEnvCmd - Erstellt den env Command
func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Show the environment configuration",
		Args:  cobra.ExactArgs(0),
		RunE:  EnvHandler,
	}
}
