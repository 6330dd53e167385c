package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ollama/augpipe/device"
	"github.com/ollama/augpipe/graph"
	"github.com/ollama/augpipe/logutil"
	"github.com/ollama/augpipe/marshal"
	"github.com/ollama/augpipe/media"
	"github.com/ollama/augpipe/meta"
	"github.com/ollama/augpipe/ml"
	"github.com/ollama/augpipe/param"
)

// scheduler runs the host stage of the graph on a worker pool and the
// device stage on a single stream. In pipelined mode both stages run in the
// background and hand batches over through two bounded queues; otherwise
// every call to next produces one batch on the calling goroutine.
type scheduler struct {
	graph    *graph.Graph
	host     graph.Stage
	dev      graph.Stage
	source   graph.Source
	sourceID graph.NodeID
	outputs  []graph.NodeID
	descs    []ml.TensorDesc

	svc       *param.Service
	batchSize int
	policy    LastBatchPolicy
	copyOpts  marshal.CopyOptions
	pipelined bool
	depth     QueueDepth

	stream *device.Stream
	arena  *device.Arena
	timing *timing

	// slots bounds the batches between the start of the device stage and
	// the Run after their delivery.
	slots        *semaphore.Weighted
	inflight     atomic.Int64
	inflightHigh atomic.Int64

	jobs chan job
	pool errgroup.Group

	// seq and epoch belong to whoever is producing.
	seq   int
	epoch int

	mu     sync.Mutex
	cancel context.CancelFunc
	stages *errgroup.Group
	cpuQ   *queue[*batch]
	outQ   *queue[*batch]
	err    error

	// mark is the parameter stream position after the last delivered
	// batch; stop rewinds to it so batches drawn ahead are drawn again.
	mark    param.Checkpoint
	markSeq int
}

type job struct {
	b  *batch
	s  *sample
	wg *sync.WaitGroup
}

type schedulerConfig struct {
	batchSize int
	threads   int
	depth     QueueDepth
	policy    LastBatchPolicy
	pipelined bool
	copyOpts  marshal.CopyOptions
	stream    *device.Stream
	arena     *device.Arena
	timing    *timing
}

func newScheduler(g *graph.Graph, svc *param.Service, cfg schedulerConfig) (*scheduler, error) {
	src := g.SourceNode()
	for _, n := range g.Nodes() {
		if n.ID == src.ID {
			continue
		}
		if _, ok := n.Op.(graph.Transform); !ok {
			return nil, &graph.VerificationError{Node: n.ID, Reason: fmt.Sprintf("%s is not a transform", n.Kind)}
		}
	}

	host, dev := g.Split()
	s := &scheduler{
		graph:     g,
		host:      host,
		dev:       dev,
		source:    g.Source(),
		sourceID:  src.ID,
		outputs:   g.Outputs(),
		descs:     g.OutputDescs(),
		svc:       svc,
		batchSize: cfg.batchSize,
		policy:    cfg.policy,
		copyOpts:  cfg.copyOpts,
		pipelined: cfg.pipelined,
		depth:     cfg.depth,
		stream:    cfg.stream,
		arena:     cfg.arena,
		timing:    cfg.timing,
		slots:     semaphore.NewWeighted(int64(cfg.depth.GPUSize)),
		jobs:      make(chan job),
	}

	for range cfg.threads {
		s.pool.Go(func() error {
			for j := range s.jobs {
				j.s.err = s.runNodes(s.host.Nodes, j.b, j.s)
				j.wg.Done()
			}
			return nil
		})
	}

	slog.Debug("pipeline: scheduler", "host nodes", len(host.Nodes), "device nodes", len(dev.Nodes),
		"threads", cfg.threads, "cpu queue", cfg.depth.CPUSize, "gpu queue", cfg.depth.GPUSize, "pipelined", cfg.pipelined)
	return s, nil
}

// ============================================================================
// Samples and batches
// ============================================================================

func (s *scheduler) runNodes(nodes []*graph.Node, b *batch, smp *sample) error {
	for _, n := range nodes {
		if n.ID == s.sourceID {
			continue
		}

		in := make([]*media.Frame, len(n.Inputs))
		for i, id := range n.Inputs {
			in[i] = smp.frames[id]
		}

		start := time.Now()
		out, err := n.Op.(graph.Transform).Apply(&graph.Exec{Sample: smp.index, Draw: b.draw, Meta: smp.rec}, in)
		if n.Kind == "decode" {
			s.timing.add(&s.timing.decode, start)
		} else {
			s.timing.add(&s.timing.process, start)
		}
		if err != nil {
			return fmt.Errorf("node %d (%s): %w", n.ID, n.Kind, err)
		}
		if d := out.Desc(); !d.Equal(n.Out) {
			return fmt.Errorf("node %d (%s): %w: produced %v, declared %v", n.ID, n.Kind, ml.ErrShapeMismatch, d, n.Out)
		}
		smp.frames[n.ID] = out
	}
	return nil
}

// produce reads the next batch from the source and runs the host stage.
// It returns io.EOF when the epoch has nothing left to deliver.
func (s *scheduler) produce() (*batch, error) {
	b := &batch{seq: s.seq, epoch: s.epoch}

	start := time.Now()
	for len(b.samples) < s.batchSize {
		rec, data, err := s.source.Next()
		if errors.Is(err, io.EOF) {
			b.short = true
			break
		}
		if rec == nil {
			rec = &meta.Record{}
		}

		smp := &sample{index: len(b.samples), rec: rec, frames: make([]*media.Frame, s.graph.Len())}
		switch {
		case err == nil:
			smp.frames[s.sourceID] = media.EncodedFrame(data)
		case errors.Is(err, graph.ErrMalformed):
			smp.err = err
		default:
			return nil, fmt.Errorf("source: %w", err)
		}
		b.samples = append(b.samples, smp)
	}
	s.timing.add(&s.timing.load, start)

	b.consumed = len(b.samples)
	if b.consumed == 0 || (b.short && s.policy == LastBatchDrop) {
		return nil, io.EOF
	}

	s.seq++
	b.draw = s.svc.Renew(s.batchSize)

	var wg sync.WaitGroup
	for _, smp := range b.samples {
		if smp.err != nil {
			continue
		}
		wg.Add(1)
		s.jobs <- job{b: b, s: smp, wg: &wg}
	}
	wg.Wait()

	valid := b.samples[:0]
	for _, smp := range b.samples {
		if smp.err == nil {
			valid = append(valid, smp)
			continue
		}
		if !errors.Is(smp.err, graph.ErrMalformed) {
			return nil, smp.err
		}
		slog.Warn("pipeline: skipping malformed sample", "name", smp.rec.Name, "id", smp.rec.ID, "error", smp.err)
		b.skipped++
	}
	b.samples = valid
	if len(valid) == 0 {
		b.err = ErrNoValidSamples
	}

	logutil.Trace("pipeline: produced", "seq", b.seq, "epoch", b.epoch, "samples", len(valid), "skipped", b.skipped, "short", b.short)
	return b, nil
}

// finish applies the last batch policy and collects the declared outputs.
// Only the short batch at the end of the epoch is padded or flagged; a
// batch that lost samples to skips is returned with fewer samples.
func (s *scheduler) finish(b *batch) {
	if b.short && b.size() < s.batchSize {
		if s.policy == LastBatchPad {
			b.pad(s.batchSize)
		} else {
			b.partial = true
		}
	}

	b.outputs = make([][]*media.Frame, len(s.outputs))
	for o, id := range s.outputs {
		b.outputs[o] = make([]*media.Frame, b.size())
		for i, smp := range b.samples {
			b.outputs[o][i] = smp.frames[id]
		}
	}

	for _, smp := range b.samples {
		if f := smp.frames[s.outputs[0]]; f != nil {
			smp.rec.ROIWidth, smp.rec.ROIHeight = f.ROI.Dx(), f.ROI.Dy()
		}
	}
}

// stage copies the outputs into arena buffers, normalized and converted.
func (s *scheduler) stage(b *batch) error {
	start := time.Now()
	defer s.timing.add(&s.timing.transfer, start)

	for o, frames := range b.outputs {
		buf, err := s.arena.Alloc(s.copyOpts.Size(s.batchSize, s.descs[o]))
		if err != nil {
			b.freeStaging()
			return err
		}
		b.staging = append(b.staging, buf)

		if err := marshal.CopyToTensor(frames, buf.Bytes(), s.copyOpts); err != nil {
			b.freeStaging()
			return fmt.Errorf("output %d: %w", o, err)
		}
	}
	return nil
}

// place runs the device stage of b on the stream.
func (s *scheduler) place(ctx context.Context, b *batch) error {
	if b.err != nil {
		return nil
	}

	return s.stream.Submit(ctx, func() error {
		for _, smp := range b.samples {
			if err := s.runNodes(s.dev.Nodes, b, smp); err != nil {
				return err
			}
		}
		s.finish(b)
		return s.stage(b)
	})
}

// hold charges an acquired device slot to b.
func (s *scheduler) hold(b *batch) {
	b.slot = true

	n := s.inflight.Add(1)
	for {
		h := s.inflightHigh.Load()
		if n <= h || s.inflightHigh.CompareAndSwap(h, n) {
			return
		}
	}
}

// release frees the staging buffers and the device slot of b. It may be
// called more than once.
func (s *scheduler) release(b *batch) {
	b.freeStaging()
	if b.slot {
		b.slot = false
		s.inflight.Add(-1)
		s.slots.Release(1)
	}
}

// ============================================================================
// Background stages
// ============================================================================

func (s *scheduler) fail(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
		slog.Error("pipeline: stage failed", "error", err)
	}
	// Queued batches are still delivered before the error.
	return nil
}

func (s *scheduler) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// produceLoop holds a host slot for every batch from its first source read
// until the device stage takes it over.
func (s *scheduler) produceLoop(ctx context.Context, cpuQ *queue[*batch], hostSlots *semaphore.Weighted) error {
	defer cpuQ.close()

	for {
		if err := hostSlots.Acquire(ctx, 1); err != nil {
			return nil
		}
		b, err := s.produce()
		if errors.Is(err, io.EOF) {
			hostSlots.Release(1)
			return nil
		}
		if err != nil {
			hostSlots.Release(1)
			return s.fail(err)
		}
		if err := cpuQ.push(b); err != nil {
			hostSlots.Release(1)
			return nil
		}
	}
}

func (s *scheduler) deviceLoop(ctx context.Context, cpuQ, outQ *queue[*batch], hostSlots *semaphore.Weighted) error {
	defer outQ.close()

	for {
		if err := s.slots.Acquire(ctx, 1); err != nil {
			return nil
		}
		b, ok := cpuQ.pop()
		if !ok {
			s.slots.Release(1)
			return nil
		}
		hostSlots.Release(1)
		s.hold(b)

		if err := s.place(ctx, b); err != nil {
			s.release(b)
			cpuQ.close()
			if ctx.Err() != nil {
				return nil
			}
			return s.fail(fmt.Errorf("device stage: %w", err))
		}

		if err := outQ.push(b); err != nil {
			s.release(b)
			return nil
		}
	}
}

// start launches the background stages for the current epoch.
func (s *scheduler) start() {
	if !s.pipelined {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	cpuQ := newQueue[*batch](s.depth.CPUSize)
	outQ := newQueue[*batch](s.depth.GPUSize)
	hostSlots := semaphore.NewWeighted(int64(s.depth.CPUSize))
	g := &errgroup.Group{}

	s.mu.Lock()
	s.cancel, s.stages = cancel, g
	s.cpuQ, s.outQ = cpuQ, outQ
	s.err = nil
	s.mark, s.markSeq = s.svc.Checkpoint(), s.seq
	s.mu.Unlock()

	g.Go(func() error { return s.produceLoop(ctx, cpuQ, hostSlots) })
	g.Go(func() error { return s.deviceLoop(ctx, cpuQ, outQ, hostSlots) })
}

// stop joins the background stages after their current item and drops
// everything still queued.
func (s *scheduler) stop() {
	s.mu.Lock()
	cancel, g := s.cancel, s.stages
	cpuQ, outQ := s.cpuQ, s.outQ
	mark, markSeq := s.mark, s.markSeq
	s.cancel, s.stages = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	cpuQ.close()
	outQ.close()
	_ = g.Wait()

	for _, b := range cpuQ.drain() {
		s.release(b)
	}
	for _, b := range outQ.drain() {
		s.release(b)
	}

	if err := s.svc.Rewind(mark); err != nil {
		slog.Warn("pipeline: parameter stream not rewound", "error", err)
		return
	}
	s.seq = markSeq
}

// next returns the next finished batch, or io.EOF at the end of the epoch.
func (s *scheduler) next(ctx context.Context) (*batch, error) {
	if !s.pipelined {
		b, err := s.produce()
		if err != nil {
			return nil, err
		}
		if err := s.slots.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		s.hold(b)
		if err := s.place(ctx, b); err != nil {
			s.release(b)
			return nil, fmt.Errorf("device stage: %w", err)
		}
		return b, nil
	}

	s.mu.Lock()
	outQ := s.outQ
	s.mu.Unlock()

	b, ok := outQ.pop()
	if !ok {
		if err := s.failure(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	s.mu.Lock()
	s.mark, s.markSeq = b.draw.Next(), b.seq+1
	s.mu.Unlock()
	return b, nil
}

// close stops everything and joins the worker pool and the stream.
func (s *scheduler) close() {
	s.stop()
	close(s.jobs)
	_ = s.pool.Wait()
	s.stream.Close()
}

// QueueStatus describes one prefetch queue.
type QueueStatus struct {
	Len       int `json:"len"`
	Cap       int `json:"cap"`
	HighWater int `json:"high_water"`
}

func (s *scheduler) queues() (cpu, gpu QueueStatus) {
	s.mu.Lock()
	cpuQ, outQ := s.cpuQ, s.outQ
	s.mu.Unlock()

	cpu = QueueStatus{Cap: s.depth.CPUSize}
	gpu = QueueStatus{Cap: s.depth.GPUSize}
	if cpuQ != nil {
		cpu.Len, cpu.HighWater = cpuQ.len(), cpuQ.highWater()
		gpu.Len, gpu.HighWater = outQ.len(), outQ.highWater()
	}
	return cpu, gpu
}
