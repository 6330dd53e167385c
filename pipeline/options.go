// MODUL: options
// ZWECK: Functional Options fuer die Pipeline-Konfiguration
// INPUT: Optionale Parameter (Backend, Threads, Queue-Tiefe, Layout, ...)
// OUTPUT: Options Struct
// NEBENEFFEKTE: Keine
// ABHAENGIGKEITEN: envconfig (Defaults), device, graph, ml
// HINWEISE: DefaultOptions liest zuerst die AUGPIPE_* Variablen, Options
//           ueberschreiben sie danach

package pipeline

import (
	"errors"
	"fmt"

	"github.com/ollama/augpipe/device"
	"github.com/ollama/augpipe/envconfig"
	"github.com/ollama/augpipe/graph"
	"github.com/ollama/augpipe/ml"
)

// ============================================================================
// Queue-Tiefe und Policy fuer den letzten Batch
// ============================================================================

// QueueDepth sind die Kapazitaeten der beiden Prefetch-Queues.
type QueueDepth struct {
	CPUSize int // fertige Host-Batches vor dem Device-Stage
	GPUSize int // Device-Batches in Arbeit oder bereit fuer Run
}

// normalize setzt ein leeres Feld auf den Wert des anderen; beide leer = 2.
func (q QueueDepth) normalize() QueueDepth {
	switch {
	case q.CPUSize <= 0 && q.GPUSize <= 0:
		return QueueDepth{CPUSize: 2, GPUSize: 2}
	case q.CPUSize <= 0:
		q.CPUSize = q.GPUSize
	case q.GPUSize <= 0:
		q.GPUSize = q.CPUSize
	}
	return q
}

// LastBatchPolicy bestimmt was mit dem kurzen letzten Batch einer Epoche
// passiert.
type LastBatchPolicy int

const (
	// LastBatchPartial gibt den kurzen Batch zurueck und markiert ihn.
	LastBatchPartial LastBatchPolicy = iota
	// LastBatchDrop verwirft ihn.
	LastBatchDrop
	// LastBatchPad fuellt ihn mit Wiederholungen des letzten gueltigen Samples.
	LastBatchPad
)

func (p LastBatchPolicy) String() string {
	switch p {
	case LastBatchDrop:
		return "drop"
	case LastBatchPad:
		return "pad"
	default:
		return "partial"
	}
}

// ParseLastBatchPolicy parst die Namen aus String.
func ParseLastBatchPolicy(s string) (LastBatchPolicy, error) {
	switch s {
	case "partial", "":
		return LastBatchPartial, nil
	case "drop":
		return LastBatchDrop, nil
	case "pad", "fill":
		return LastBatchPad, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
}

// ============================================================================
// Options
// ============================================================================

// Options enthaelt die Konfiguration eines Contexts.
type Options struct {
	Backend      device.Backend // leer = bestes verfuegbares Backend
	DeviceID     int
	Threads      int
	Queue        QueueDepth
	DeviceMemory uint64 // Limit der Device-Arena in Bytes, 0 = Geraetespeicher

	DType           ml.DType
	Layout          ml.Layout
	OutputMemory    string // "host", "device" oder leer (abhaengig vom Backend)
	Mean, Std       []float64
	ReverseChannels bool

	ExecPipelined bool
	ExecAsync     bool

	Seed      int64
	LastBatch LastBatchPolicy

	Registry *graph.Registry   // nil = graph.DefaultRegistry
	Restore  *graph.Definition // Graph und Parameter beim Erstellen wiederherstellen
}

// Option ist eine funktionale Option fuer Options.
type Option func(*Options)

var (
	ErrInvalidThreads      = errors.New("pipeline: invalid thread count")
	ErrInvalidDType        = errors.New("pipeline: invalid output dtype")
	ErrInvalidOutputMemory = errors.New("pipeline: invalid output memory type")
	ErrInvalidPolicy       = errors.New("pipeline: invalid last batch policy")
	ErrInvalidNormalize    = errors.New("pipeline: invalid normalization")
)

// DefaultOptions gibt die Konfiguration aus der Umgebung zurueck.
func DefaultOptions() Options {
	threads := int(envconfig.NumThreads())
	if threads == 0 {
		threads = defaultThreads()
	}

	return Options{
		Threads:       threads,
		Queue:         QueueDepth{CPUSize: int(envconfig.CPUQueue()), GPUSize: int(envconfig.GPUQueue())}.normalize(),
		DeviceMemory:  envconfig.DeviceMemory(),
		DType:         ml.DTypeF32,
		Layout:        ml.LayoutNHWC,
		OutputMemory:  envconfig.OutputMemory(),
		ExecPipelined: envconfig.ExecPipelined(true),
		ExecAsync:     envconfig.ExecAsync(true),
		Seed:          envconfig.Seed(),
		LastBatch:     LastBatchPartial,
	}
}

// ============================================================================
// Functional Options
// ============================================================================

func WithBackend(b device.Backend) Option {
	return func(o *Options) { o.Backend = b }
}

func WithDeviceID(id int) Option {
	return func(o *Options) { o.DeviceID = id }
}

// WithThreads setzt die Anzahl der CPU-Worker. Werte <= 0 werden ignoriert.
func WithThreads(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.Threads = n
		}
	}
}

// WithQueueDepth setzt beide Queue-Kapazitaeten. Ein leeres Feld uebernimmt
// den Wert des anderen.
func WithQueueDepth(q QueueDepth) Option {
	return func(o *Options) { o.Queue = q.normalize() }
}

// WithPrefetchDepth setzt beide Queues auf n.
func WithPrefetchDepth(n int) Option {
	return WithQueueDepth(QueueDepth{CPUSize: n})
}

func WithDeviceMemory(limit uint64) Option {
	return func(o *Options) { o.DeviceMemory = limit }
}

func WithDType(d ml.DType) Option {
	return func(o *Options) { o.DType = d }
}

func WithLayout(l ml.Layout) Option {
	return func(o *Options) { o.Layout = l }
}

// WithOutputMemory legt die Platzierung der Ausgabe-Tensoren fest.
func WithOutputMemory(m ml.MemoryType) Option {
	return func(o *Options) { o.OutputMemory = m.String() }
}

// WithNormalization setzt mean und std pro Kanal. Ein einzelner Wert gilt
// fuer alle Kanaele.
func WithNormalization(mean, std []float64) Option {
	return func(o *Options) {
		o.Mean = append([]float64(nil), mean...)
		o.Std = append([]float64(nil), std...)
	}
}

func WithReverseChannels(enabled bool) Option {
	return func(o *Options) { o.ReverseChannels = enabled }
}

// WithExecPipelined aktiviert das Vorab-Fuellen im Hintergrund.
func WithExecPipelined(enabled bool) Option {
	return func(o *Options) { o.ExecPipelined = enabled }
}

// WithExecAsync laesst Run gegen die vorgefuellten Queues laufen.
func WithExecAsync(enabled bool) Option {
	return func(o *Options) { o.ExecAsync = enabled }
}

// WithSeed setzt den Seed des Parameter-Service. param.RandomSeed waehlt
// einen zufaelligen.
func WithSeed(seed int64) Option {
	return func(o *Options) { o.Seed = seed }
}

func WithLastBatchPolicy(p LastBatchPolicy) Option {
	return func(o *Options) { o.LastBatch = p }
}

// WithRegistry setzt die Registry aus der Operatoren erzeugt werden.
func WithRegistry(r *graph.Registry) Option {
	return func(o *Options) { o.Registry = r }
}

// WithRestore baut Graph und Parameter aus einer gespeicherten Definition.
func WithRestore(def *graph.Definition) Option {
	return func(o *Options) { o.Restore = def }
}

// Apply wendet alle Options an.
func (o *Options) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(o)
	}
}

// pipelined meldet ob die Stages im Hintergrund laufen.
func (o *Options) pipelined() bool {
	return o.ExecPipelined && o.ExecAsync
}

// ============================================================================
// Validation
// ============================================================================

// Validate prueft die Options.
func (o *Options) Validate() error {
	if o.Threads <= 0 {
		return ErrInvalidThreads
	}

	if o.DType.Size() == 0 {
		return ErrInvalidDType
	}

	switch o.OutputMemory {
	case "", "host", "device":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidOutputMemory, o.OutputMemory)
	}

	switch o.LastBatch {
	case LastBatchPartial, LastBatchDrop, LastBatchPad:
	default:
		return ErrInvalidPolicy
	}

	if len(o.Mean) != len(o.Std) {
		return fmt.Errorf("%w: %d means but %d stds", ErrInvalidNormalize, len(o.Mean), len(o.Std))
	}
	for _, s := range o.Std {
		if s == 0 {
			return fmt.Errorf("%w: std is zero", ErrInvalidNormalize)
		}
	}

	if o.Backend != "" {
		if _, err := device.ParseBackend(string(o.Backend)); err != nil {
			return err
		}
	}

	return nil
}
