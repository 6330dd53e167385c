// Package graph holds the operator graph of a pipeline: a builder that only
// accepts edges to nodes that already exist, the frozen executable graph and
// its split into a host stage and a device stage.
package graph

import (
	"errors"
	"maps"
	"math"

	"github.com/ollama/augpipe/media"
	"github.com/ollama/augpipe/meta"
	"github.com/ollama/augpipe/ml"
	"github.com/ollama/augpipe/param"
)

// NodeID is the handle returned by AddNode.
type NodeID int

// Affinity selects the stage a node runs in.
type Affinity int

const (
	AffinityHost Affinity = iota
	AffinityDevice
)

func (a Affinity) String() string {
	if a == AffinityDevice {
		return "device"
	}
	return "host"
}

// Capability tags what metadata a node produces.
type Capability uint

const (
	CapLabels Capability = 1 << iota
	CapBoxes
	CapMasks
	CapASCII
)

func (c Capability) Has(o Capability) bool { return c&o == o }

// Operator is the common part of every node implementation.
type Operator interface {
	// Infer returns the per-sample output descriptor for the given input
	// descriptors.
	Infer(in []ml.TensorDesc) (ml.TensorDesc, error)
}

// Source produces raw samples. A graph has exactly one.
type Source interface {
	Operator

	// Count is the number of samples in one epoch.
	Count() int

	// Reset rewinds to the start of the next epoch.
	Reset() error

	// Next returns the next sample's metadata and bytes, or io.EOF at the
	// end of the epoch.
	Next() (*meta.Record, []byte, error)
}

// Transform maps its input frames to one output frame per sample.
type Transform interface {
	Operator
	Apply(x *Exec, in []*media.Frame) (*media.Frame, error)
}

// Pinned is implemented by operators that must run on one affinity
// regardless of the pipeline backend.
type Pinned interface {
	Affinity() Affinity
}

// Capable is implemented by operators that produce or change metadata.
type Capable interface {
	Caps() Capability
}

// ErrMalformed marks per-sample failures. A sample that fails with it is
// skipped instead of failing the batch.
var ErrMalformed = errors.New("malformed sample")

type malformedError struct{ err error }

func (e *malformedError) Error() string { return "malformed sample: " + e.err.Error() }

func (e *malformedError) Unwrap() []error { return []error{ErrMalformed, e.err} }

// Malformed wraps err so that errors.Is(err, ErrMalformed) holds.
func Malformed(err error) error {
	if err == nil {
		return nil
	}
	return &malformedError{err: err}
}

// Node is one vertex of the graph. Nodes are not modified after Freeze.
type Node struct {
	ID       NodeID
	Kind     string
	Inputs   []NodeID
	Params   Params
	Out      ml.TensorDesc
	Affinity Affinity
	Caps     Capability
	Op       Operator
}

func (n *Node) clone() *Node {
	c := *n
	c.Inputs = append([]NodeID(nil), n.Inputs...)
	c.Params = maps.Clone(n.Params)
	return &c
}

// Exec is handed to a Transform for one sample.
type Exec struct {
	// Sample is the index within the batch.
	Sample int
	Draw   *param.Draw
	// Meta may be modified by transforms that change geometry.
	Meta *meta.Record
}

// Float resolves v for this sample.
func (x *Exec) Float(v Value) (float64, error) { return v.At(x.Draw, x.Sample) }

// Int resolves v for this sample.
func (x *Exec) Int(v Value) (int, error) {
	f, err := x.Float(v)
	return int(math.Round(f)), err
}
