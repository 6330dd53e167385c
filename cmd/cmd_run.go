// cmd_run.go - Pipeline aus Flags bauen und ausfuehren
// Hauptfunktionen: RunHandler, buildPipeline, runEpochs
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/ollama/augpipe/device"
	"github.com/ollama/augpipe/envconfig"
	"github.com/ollama/augpipe/graph"
	"github.com/ollama/augpipe/marshal"
	"github.com/ollama/augpipe/ml"
	_ "github.com/ollama/augpipe/ops"
	"github.com/ollama/augpipe/param"
	"github.com/ollama/augpipe/pipeline"
	_ "github.com/ollama/augpipe/reader"
	"github.com/ollama/augpipe/server"
)

// runStats sammelt Kennzahlen ueber alle Batches
type runStats struct {
	batches int
	images  int
	padded  int
	skipped int
	partial int

	// Summe der Kanal-Mittelwerte und -Abweichungen pro Batch
	mean, std []float64
}

func (s *runStats) add(info pipeline.BatchInfo, t *ml.Tensor) {
	s.batches++
	s.images += info.Size - info.Padded
	s.padded += info.Padded
	s.skipped += info.Skipped
	if info.Partial {
		s.partial++
	}

	mean, std := marshal.ChannelStats(t)
	if s.mean == nil {
		s.mean = make([]float64, len(mean))
		s.std = make([]float64, len(std))
	}
	for c := range mean {
		s.mean[c] += mean[c]
		s.std[c] += std[c]
	}
}

func pipelineOptions(cmd *cobra.Command) ([]pipeline.Option, error) {
	flags := cmd.Flags()
	var opts []pipeline.Option

	if s, _ := flags.GetString("backend"); s != "" {
		b, err := device.ParseBackend(s)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithBackend(b))
	}

	id, _ := flags.GetInt("device")
	threads, _ := flags.GetInt("threads")
	opts = append(opts, pipeline.WithDeviceID(id), pipeline.WithThreads(threads))

	if n, _ := flags.GetInt("prefetch"); n > 0 {
		opts = append(opts, pipeline.WithPrefetchDepth(n))
	}

	if flags.Changed("seed") {
		seed, _ := flags.GetInt64("seed")
		opts = append(opts, pipeline.WithSeed(seed))
	}

	s, _ := flags.GetString("policy")
	policy, err := pipeline.ParseLastBatchPolicy(s)
	if err != nil {
		return nil, err
	}

	s, _ = flags.GetString("dtype")
	dtype, err := ml.ParseDType(s)
	if err != nil {
		return nil, err
	}

	s, _ = flags.GetString("layout")
	layout, err := ml.ParseLayout(s)
	if err != nil {
		return nil, err
	}

	bgr, _ := flags.GetBool("bgr")
	opts = append(opts,
		pipeline.WithLastBatchPolicy(policy),
		pipeline.WithDType(dtype),
		pipeline.WithLayout(layout),
		pipeline.WithReverseChannels(bgr),
	)

	mean, _ := flags.GetFloat64Slice("mean")
	std, _ := flags.GetFloat64Slice("std")
	if len(mean) > 0 || len(std) > 0 {
		opts = append(opts, pipeline.WithNormalization(mean, std))
	}

	return opts, nil
}

// buildPipeline - reader.file -> decode -> (crop_resize | resize) -> [flip] -> [brightness]
func buildPipeline(cmd *cobra.Command, root string) (*pipeline.Context, error) {
	opts, err := pipelineOptions(cmd)
	if err != nil {
		return nil, err
	}

	batch, _ := cmd.Flags().GetInt("batch")
	c, err := pipeline.Create(batch, opts...)
	if err != nil {
		return nil, err
	}

	if err := addNodes(cmd, c, root); err != nil {
		_ = c.Release()
		return nil, err
	}

	if err := c.Build(); err != nil {
		_ = c.Release()
		return nil, err
	}
	return c, nil
}

func addNodes(cmd *cobra.Command, c *pipeline.Context, root string) error {
	flags := cmd.Flags()

	src := graph.Params{"root": root}
	for flag, key := range map[string]string{
		"include":     "include",
		"labels":      "label_file",
		"label-db":    "label_db",
		"label-query": "label_query",
	} {
		if s, _ := flags.GetString(flag); s != "" {
			src[key] = s
		}
	}
	src["shuffle"], _ = flags.GetBool("shuffle")
	src["shard_id"], _ = flags.GetInt("shard")
	src["num_shards"], _ = flags.GetInt("shards")
	src["seed"] = c.Seed()

	id, err := c.AddNode("reader.file", nil, src)
	if err != nil {
		return err
	}

	size, _ := flags.GetInt("max-size")
	if id, err = c.AddNode("decode", []graph.NodeID{id}, graph.Params{"max_width": size, "max_height": size}); err != nil {
		return err
	}

	width, _ := flags.GetInt("width")
	height, _ := flags.GetInt("height")
	out := graph.Params{"width": width, "height": height}

	if crop, _ := flags.GetBool("random-crop"); crop {
		minArea, _ := flags.GetFloat64("min-area")
		for key, spec := range map[string]param.Spec{
			"area":   param.Uniform(minArea, 1),
			"aspect": param.Uniform(3.0/4, 4.0/3),
			"x":      param.Uniform(0, 1),
			"y":      param.Uniform(0, 1),
		} {
			h, err := c.CreateFloatParam(spec)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			out[key] = h
		}
		id, err = c.AddNode("crop_resize", []graph.NodeID{id}, out)
	} else {
		id, err = c.AddNode("resize", []graph.NodeID{id}, out)
	}
	if err != nil {
		return err
	}

	if p, _ := flags.GetFloat64("flip"); p > 0 {
		h, err := c.CreateIntParam(param.Choice([]float64{0, 1}, []float64{1 - p, p}))
		if err != nil {
			return err
		}
		if id, err = c.AddNode("flip", []graph.NodeID{id}, graph.Params{"horizontal": h}); err != nil {
			return err
		}
	}

	if d, _ := flags.GetFloat64("brightness"); d > 0 {
		h, err := c.CreateFloatParam(param.Uniform(1-d, 1+d))
		if err != nil {
			return err
		}
		if id, err = c.AddNode("brightness", []graph.NodeID{id}, graph.Params{"alpha": h}); err != nil {
			return err
		}
	}

	return c.SetOutputs(id)
}

// runEpochs - Fuehrt alle Epochen aus und sammelt Kennzahlen
func runEpochs(ctx context.Context, c *pipeline.Context, epochs int, progress io.Writer) (*runStats, error) {
	var stats runStats
	for epoch := range epochs {
		if epoch > 0 {
			if err := c.ResetLoaders(); err != nil {
				return nil, err
			}
		}

		for n := 1; ctx.Err() == nil; n++ {
			err := c.Run()
			if errors.Is(err, pipeline.ErrExhausted) {
				break
			}
			if errors.Is(err, pipeline.ErrNoValidSamples) {
				slog.Warn("batch without valid samples", "epoch", epoch)
				continue
			}
			if err != nil {
				return nil, err
			}

			info, err := c.LastBatch()
			if err != nil {
				return nil, err
			}
			tensors, err := c.GetOutputTensors()
			if err != nil {
				return nil, err
			}
			stats.add(info, tensors[0])

			if progress != nil {
				fmt.Fprintf(progress, "\repoch %d/%d  batch %d  remaining %d   ", epoch+1, epochs, n, c.RemainingImages())
			}
		}
	}
	if progress != nil {
		fmt.Fprintln(progress)
	}
	return &stats, ctx.Err()
}

// RunHandler - Baut die Pipeline und gibt Timing und Kanal-Statistik aus
func RunHandler(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := buildPipeline(cmd, args[0])
	if err != nil {
		return err
	}
	defer c.Release()

	slog.Info("pipeline built", "id", c.ID(), "device", c.Device().DeviceName, "batch", c.BatchSize(), "samples", c.RemainingImages())

	var g errgroup.Group
	serve, _ := cmd.Flags().GetBool("serve")
	serveCtx, cancelServe := context.WithCancel(ctx)
	defer cancelServe()
	if serve {
		ln, err := net.Listen("tcp", envconfig.Host())
		if err != nil {
			return err
		}
		srv := server.New()
		srv.Attach(c)
		g.Go(func() error { return srv.Serve(serveCtx, ln) })
	}

	var progress io.Writer
	if f, ok := cmd.ErrOrStderr().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		progress = f
	}

	epochs, _ := cmd.Flags().GetInt("epochs")
	stats, err := runEpochs(ctx, c, max(epochs, 1), progress)
	if err != nil {
		cancelServe()
		_ = g.Wait()
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "batches: %d  images: %d  padded: %d  skipped: %d  partial: %d\n\n",
		stats.batches, stats.images, stats.padded, stats.skipped, stats.partial)
	timingTable(w, c.TimingInfo())
	fmt.Fprintln(w)
	channelTable(w, stats)

	if dump, _ := cmd.Flags().GetBool("dump"); dump {
		if tensors, err := c.GetOutputTensors(); err == nil {
			fmt.Fprintln(w)
			fmt.Fprintln(w, ml.Dump(tensors[0], ml.DumpWithEdgeItems(2)))
		}
	}

	if serve {
		fmt.Fprintf(cmd.ErrOrStderr(), "serving status on %s, press Ctrl+C to stop\n", envconfig.Host())
		<-ctx.Done()
	}
	cancelServe()
	return g.Wait()
}
