// Package pipeline runs a frozen operator graph batch by batch. A Context
// owns the graph, the parameter service, the scheduler and the output
// tensors of one pipeline.
//
//	ctx, _ := pipeline.Create(32, pipeline.WithSeed(42))
//	src, _ := ctx.AddNode("reader.file", nil, graph.Params{"root": dir})
//	img, _ := ctx.AddNode("decode", []graph.NodeID{src}, graph.Params{"max_width": 256, "max_height": 256})
//	_ = ctx.SetOutputs(img)
//	_ = ctx.Build()
//	for ctx.Run() == nil {
//		tensors, _ := ctx.GetOutputTensors()
//		...
//	}
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ollama/augpipe/device"
	"github.com/ollama/augpipe/graph"
	"github.com/ollama/augpipe/logutil"
	"github.com/ollama/augpipe/marshal"
	"github.com/ollama/augpipe/ml"
	"github.com/ollama/augpipe/param"
)

type Context struct {
	id        uuid.UUID
	opts      Options
	batchSize int
	dev       device.DeviceInfo
	mem       ml.MemoryType
	copyOpts  marshal.CopyOptions

	svc    *param.Service
	state  *execState
	timing *timing

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	builder *graph.Builder
	graph   *graph.Graph
	arena   *device.Arena
	tensors []*ml.Tensor
	buffers []*device.Buffer
	last    *batch

	sched    atomic.Pointer[scheduler]
	released atomic.Bool
}

// Create makes a Context for batches of batchSize samples. A negative
// batchSize takes the size of the definition passed with WithRestore.
func Create(batchSize int, opts ...Option) (*Context, error) {
	o := DefaultOptions()
	o.Apply(opts...)
	if err := o.Validate(); err != nil {
		return nil, &CreationError{Op: "options", Err: err}
	}

	if batchSize < 0 {
		if o.Restore == nil {
			return nil, &CreationError{Op: "batch size", Err: fmt.Errorf("%d is only valid when restoring", batchSize)}
		}
		batchSize = o.Restore.BatchSize
	}
	if batchSize <= 0 {
		return nil, &CreationError{Op: "batch size", Err: fmt.Errorf("must be positive, got %d", batchSize)}
	}

	backend := o.Backend
	if backend == "" {
		backend = device.SelectBestBackend()
	}
	info, err := device.Lookup(backend, o.DeviceID)
	if err != nil {
		return nil, &CreationError{Op: "device", Err: err}
	}

	mem := ml.MemoryHost
	switch o.OutputMemory {
	case "device":
		if backend != device.BackendGPU {
			return nil, &CreationError{Op: "output memory", Err: fmt.Errorf("%w: device output needs a gpu backend", ErrInvalidOutputMemory)}
		}
		mem = ml.MemoryDevice
	case "":
		if backend == device.BackendGPU {
			mem = ml.MemoryDevice
		}
	}

	mult, offset, err := marshal.Normalization(o.Mean, o.Std)
	if err != nil {
		return nil, &CreationError{Op: "normalization", Err: err}
	}

	augment := graph.AffinityHost
	if backend == device.BackendGPU {
		augment = graph.AffinityDevice
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Context{
		id:        uuid.New(),
		opts:      o,
		batchSize: batchSize,
		dev:       info,
		mem:       mem,
		copyOpts: marshal.CopyOptions{
			Multiplier:      mult,
			Offset:          offset,
			ReverseChannels: o.ReverseChannels,
			Layout:          o.Layout,
			DType:           o.DType,
		},
		svc:     param.NewService(o.Seed),
		state:   newExecState(batchSize, o.LastBatch),
		timing:  &timing{},
		ctx:     ctx,
		cancel:  cancel,
		builder: graph.NewBuilder(o.Registry, augment),
	}

	if o.Restore != nil {
		if err := graph.Restore(o.Restore, c.builder, c.svc); err != nil {
			cancel()
			return nil, &CreationError{Op: "restore", Err: err}
		}
	}

	slog.Debug("pipeline: created", "id", c.id, "batch", batchSize, "backend", backend,
		"device", info.DeviceName, "output", mem, "seed", c.svc.Seed())
	return c, nil
}

func (c *Context) ID() uuid.UUID { return c.id }

func (c *Context) BatchSize() int { return c.batchSize }

// Device is the device the context runs its device stage on.
func (c *Context) Device() device.DeviceInfo { return c.dev }

func (c *Context) usable() error {
	if c.released.Load() {
		return ErrReleased
	}
	return nil
}

func (c *Context) ready() error {
	if err := c.usable(); err != nil {
		return err
	}
	if c.graph == nil {
		return ErrNotBuilt
	}
	return nil
}

// ============================================================================
// Graph construction
// ============================================================================

// AddNode adds an operator of the registered kind. After Build it returns a
// *graph.GraphError.
func (c *Context) AddNode(kind string, inputs []graph.NodeID, params graph.Params) (graph.NodeID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return -1, err
	}
	return c.builder.AddNode(kind, inputs, params)
}

// SetOutputs declares the externally visible nodes. It must precede Build.
func (c *Context) SetOutputs(ids ...graph.NodeID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	return c.builder.SetOutputs(ids...)
}

// Dump writes the graph nodes to w.
func (c *Context) Dump(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.builder.Dump(w)
}

// ============================================================================
// Parameter service
// ============================================================================

func (c *Context) CreateIntParam(spec param.Spec) (param.Handle, error) {
	if err := c.usable(); err != nil {
		return param.Handle{}, err
	}
	return c.svc.Create(param.KindInt, spec)
}

func (c *Context) CreateFloatParam(spec param.Spec) (param.Handle, error) {
	if err := c.usable(); err != nil {
		return param.Handle{}, err
	}
	return c.svc.Create(param.KindFloat, spec)
}

func (c *Context) update(kind param.Kind, h param.Handle, spec param.Spec) error {
	if err := c.usable(); err != nil {
		return err
	}
	k, _, err := c.svc.Spec(h)
	if err != nil {
		return err
	}
	if k != kind {
		return fmt.Errorf("pipeline: parameter %d is %s, not %s", h.Index(), k, kind)
	}
	return c.svc.Update(h, spec)
}

// UpdateIntParam changes the distribution of h from the next batch on.
func (c *Context) UpdateIntParam(h param.Handle, spec param.Spec) error {
	return c.update(param.KindInt, h, spec)
}

func (c *Context) UpdateFloatParam(h param.Handle, spec param.Spec) error {
	return c.update(param.KindFloat, h, spec)
}

// IntValue returns the value of h for the first sample of the last batch.
// Before the first batch it is the latest value drawn by the service.
func (c *Context) IntValue(h param.Handle) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.usable(); err != nil {
		return 0, err
	}
	if c.last != nil {
		return c.last.draw.Int(h, 0)
	}
	return c.svc.IntValue(h)
}

func (c *Context) FloatValue(h param.Handle) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.usable(); err != nil {
		return 0, err
	}
	if c.last != nil {
		return c.last.draw.Float(h, 0)
	}
	return c.svc.FloatValue(h)
}

// SetSeed restarts the random stream of the parameter service.
func (c *Context) SetSeed(seed int64) { c.svc.SetSeed(seed) }

func (c *Context) Seed() int64 { return c.svc.Seed() }

// ============================================================================
// Build und Run
// ============================================================================

// Build freezes the graph, allocates the output tensors and starts the
// scheduler. Calls after the first success do nothing.
func (c *Context) Build() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.usable(); err != nil {
		return err
	}
	if c.graph != nil {
		return nil
	}

	g, err := c.builder.Freeze()
	if err != nil {
		return err
	}

	arena := device.NewArena(c.dev, c.opts.DeviceMemory)
	var tensors []*ml.Tensor
	var buffers []*device.Buffer
	free := func() {
		for _, buf := range buffers {
			buf.Free()
		}
	}

	for i, desc := range g.OutputDescs() {
		size := c.copyOpts.Size(c.batchSize, desc)

		var data []byte
		if c.mem == ml.MemoryDevice {
			buf, err := arena.Alloc(size)
			if err != nil {
				free()
				return fmt.Errorf("pipeline: output %d: %w", i, err)
			}
			buffers = append(buffers, buf)
			data = buf.Bytes()
		} else {
			data = make([]byte, size)
		}

		t, err := ml.NewTensor(c.batchSize, desc, c.copyOpts.DType, c.copyOpts.Layout, c.mem, c.dev.DeviceID, data)
		if err != nil {
			free()
			return fmt.Errorf("pipeline: output %d: %w", i, err)
		}
		tensors = append(tensors, t)
	}

	stream := device.NewStream(c.dev)
	sched, err := newScheduler(g, c.svc, schedulerConfig{
		batchSize: c.batchSize,
		threads:   c.opts.Threads,
		depth:     c.opts.Queue,
		policy:    c.opts.LastBatch,
		pipelined: c.opts.pipelined(),
		copyOpts:  c.copyOpts,
		stream:    stream,
		arena:     arena,
		timing:    c.timing,
	})
	if err != nil {
		stream.Close()
		free()
		return err
	}

	src := g.Source()
	if err := src.Reset(); err != nil {
		free()
		sched.close()
		return fmt.Errorf("pipeline: reset source: %w", err)
	}

	c.graph, c.arena = g, arena
	c.tensors, c.buffers = tensors, buffers
	c.state.reset(src.Count(), 0)
	c.sched.Store(sched)
	sched.start()

	slog.Debug("pipeline: built", "id", c.id, "nodes", g.Len(), "outputs", len(tensors), "samples", src.Count())
	return nil
}

// Run advances one batch. It returns ErrExhausted when the epoch has no
// samples left. The previous batch is invalid from here on.
func (c *Context) Run() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(); err != nil {
		return err
	}
	if c.state.remaining() == 0 {
		return ErrExhausted
	}

	sched := c.sched.Load()
	if c.last != nil {
		sched.release(c.last)
		c.last = nil
	}

	b, err := sched.next(c.ctx)
	if c.released.Load() {
		if b != nil {
			sched.release(b)
		}
		return ErrReleased
	}
	if errors.Is(err, io.EOF) {
		return ErrExhausted
	}
	if err != nil {
		return err
	}

	c.state.deliver(b)
	c.timing.batches.Add(1)
	if b.err != nil {
		sched.release(b)
		return b.err
	}

	start := time.Now()
	for o, t := range c.tensors {
		copy(t.Bytes(), b.staging[o].Bytes())
	}
	c.timing.add(&c.timing.transfer, start)
	c.last = b

	logutil.Trace("pipeline: run", "seq", b.seq, "size", b.size(), "partial", b.partial,
		"padded", b.padded, "remaining", c.state.remaining())
	return nil
}

// ResetLoaders rewinds the source to the start of the next epoch. Batches
// prefetched from the old epoch are dropped.
func (c *Context) ResetLoaders() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(); err != nil {
		return err
	}

	sched := c.sched.Load()
	sched.stop()

	src := c.graph.Source()
	if err := src.Reset(); err != nil {
		return fmt.Errorf("pipeline: reset source: %w", err)
	}
	sched.epoch++
	c.state.reset(src.Count(), sched.epoch)
	sched.start()

	slog.Debug("pipeline: loaders reset", "id", c.id, "epoch", sched.epoch, "samples", src.Count())
	return nil
}

// Release stops all stages and frees the context. Calling it again does
// nothing.
func (c *Context) Release() error {
	if !c.released.CompareAndSwap(false, true) {
		return nil
	}

	c.cancel()
	sched := c.sched.Load()
	if sched != nil {
		// Unblocks a Run waiting for the next batch.
		sched.stop()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if sched != nil {
		if c.last != nil {
			sched.release(c.last)
		}
		sched.close()
	}
	for _, buf := range c.buffers {
		buf.Free()
	}
	c.buffers, c.tensors, c.last = nil, nil, nil

	slog.Debug("pipeline: released", "id", c.id)
	return nil
}

// ============================================================================
// Ausgaben
// ============================================================================

// GetOutputTensors returns one tensor per declared output holding the last
// batch. Shapes never change; the content is valid until the next Run.
func (c *Context) GetOutputTensors() ([]*ml.Tensor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(); err != nil {
		return nil, err
	}
	if c.last == nil {
		return nil, ErrNoBatch
	}
	return slices.Clone(c.tensors), nil
}

// CopyToExternal copies output idx of the last batch into dst with its own
// normalization, layout and dtype.
func (c *Context) CopyToExternal(idx int, dst []byte, opts marshal.CopyOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(); err != nil {
		return err
	}
	if c.last == nil {
		return ErrNoBatch
	}
	if idx < 0 || idx >= len(c.last.outputs) {
		return fmt.Errorf("pipeline: output %d out of range [0, %d)", idx, len(c.last.outputs))
	}

	start := time.Now()
	defer c.timing.add(&c.timing.transfer, start)
	return marshal.CopyToTensor(c.last.outputs[idx], dst, opts)
}

// Meta returns the metadata of the last batch.
func (c *Context) Meta() (*marshal.BatchMeta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(); err != nil {
		return nil, err
	}
	if c.last == nil {
		return nil, ErrNoBatch
	}
	return marshal.NewBatchMeta(c.last.records()), nil
}

// BatchInfo describes the last batch returned by Run.
type BatchInfo struct {
	Seq     int  `json:"seq"`
	Epoch   int  `json:"epoch"`
	Size    int  `json:"size"`
	Partial bool `json:"partial"`
	Padded  int  `json:"padded"`
	Skipped int  `json:"skipped"`
}

func (c *Context) LastBatch() (BatchInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(); err != nil {
		return BatchInfo{}, err
	}
	if c.last == nil {
		return BatchInfo{}, ErrNoBatch
	}
	b := c.last
	return BatchInfo{Seq: b.seq, Epoch: b.epoch, Size: b.size(), Partial: b.partial, Padded: b.padded, Skipped: b.skipped}, nil
}

// LastDraw returns the parameter values of the last batch, one slice per
// parameter in registration order.
func (c *Context) LastDraw() ([][]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(); err != nil {
		return nil, err
	}
	if c.last == nil {
		return nil, ErrNoBatch
	}
	return c.last.draw.Values(), nil
}

// RemainingImages is the number of samples left in the epoch. It is zero
// before Build.
func (c *Context) RemainingImages() int {
	if c.sched.Load() == nil {
		return 0
	}
	return c.state.remaining()
}

func (c *Context) IsEmpty() bool { return c.RemainingImages() == 0 }

// LastBatchPaddedSize is the number of repeated samples in the last batch.
func (c *Context) LastBatchPaddedSize() int {
	_, _, padded := c.state.snapshot()
	return padded
}

func (c *Context) TimingInfo() Timing { return c.timing.snapshot() }

// Definition returns the serializable form of the built graph and its
// parameters.
func (c *Context) Definition() (*graph.Definition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(); err != nil {
		return nil, err
	}
	return c.graph.Definition(c.batchSize, c.svc)
}

// Status is a snapshot for monitoring. It never waits for a running batch.
type Status struct {
	ID        uuid.UUID         `json:"id"`
	Built     bool              `json:"built"`
	Released  bool              `json:"released"`
	BatchSize int               `json:"batch_size"`
	Device    device.DeviceInfo `json:"device"`

	Epoch     int `json:"epoch"`
	Batches   int `json:"batches"`
	Remaining int `json:"remaining"`
	Padded    int `json:"padded"`

	CPUQueue       QueueStatus       `json:"cpu_queue"`
	GPUQueue       QueueStatus       `json:"gpu_queue"`
	DeviceInFlight int               `json:"device_in_flight_high"`
	Memory         device.MemoryInfo `json:"memory"`
	Timing         Timing            `json:"timing"`
}

func (c *Context) Status() Status {
	epoch, batches, padded := c.state.snapshot()
	st := Status{
		ID:        c.id,
		Released:  c.released.Load(),
		BatchSize: c.batchSize,
		Device:    c.dev,
		Epoch:     epoch,
		Batches:   batches,
		Padded:    padded,
		Timing:    c.timing.snapshot(),
	}

	if sched := c.sched.Load(); sched != nil {
		st.Built = true
		st.Remaining = c.state.remaining()
		st.CPUQueue, st.GPUQueue = sched.queues()
		st.DeviceInFlight = int(sched.inflightHigh.Load())
		st.Memory = sched.arena.Info()
	}
	return st
}
