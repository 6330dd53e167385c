package graph

import (
	"fmt"
	"io"
	"log/slog"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/ollama/augpipe/ml"
)

// Builder collects nodes in topological order. Every input of a new node
// must already be part of the builder, so the graph cannot contain cycles.
type Builder struct {
	registry *Registry
	// augment is the affinity of operators that are not pinned.
	augment Affinity

	nodes   *orderedmap.OrderedMap[NodeID, *Node]
	outputs []NodeID

	graph *Graph
}

// NewBuilder returns an empty builder. A nil registry means DefaultRegistry.
func NewBuilder(registry *Registry, augment Affinity) *Builder {
	if registry == nil {
		registry = DefaultRegistry
	}
	return &Builder{
		registry: registry,
		augment:  augment,
		nodes:    orderedmap.New[NodeID, *Node](),
	}
}

// Len is the number of nodes added so far.
func (b *Builder) Len() int { return b.nodes.Len() }

// Node returns a copy of node id.
func (b *Builder) Node(id NodeID) (Node, bool) {
	n, ok := b.nodes.Get(id)
	if !ok {
		return Node{}, false
	}
	return *n.clone(), true
}

// Frozen reports whether Freeze has succeeded.
func (b *Builder) Frozen() bool { return b.graph != nil }

// AddNode creates a node of the given kind and infers its output.
func (b *Builder) AddNode(kind string, inputs []NodeID, params Params) (NodeID, error) {
	id := NodeID(b.nodes.Len())
	fail := func(err error) (NodeID, error) {
		return -1, &GraphError{Op: "add", Node: id, Kind: kind, Err: err}
	}

	if b.graph != nil {
		return fail(ErrFrozen)
	}

	descs := make([]ml.TensorDesc, len(inputs))
	var caps Capability
	for i, in := range inputs {
		n, ok := b.nodes.Get(in)
		if !ok {
			return fail(fmt.Errorf("%w: %d", ErrUnknownInput, in))
		}
		descs[i] = n.Out
		caps |= n.Caps
	}

	op, err := b.registry.Create(kind, params)
	if err != nil {
		return fail(err)
	}

	out, err := op.Infer(descs)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", ErrInference, err))
	}
	if !out.Encoded && !out.Concrete() {
		return fail(fmt.Errorf("%w: %v", ErrInference, out))
	}

	affinity, err := b.affinity(op, params)
	if err != nil {
		return fail(err)
	}

	if c, ok := op.(Capable); ok {
		caps |= c.Caps()
	}

	b.nodes.Set(id, &Node{
		ID:       id,
		Kind:     kind,
		Inputs:   append([]NodeID(nil), inputs...),
		Params:   params,
		Out:      out,
		Affinity: affinity,
		Caps:     caps,
		Op:       op,
	})

	slog.Debug("graph: node added", "id", id, "kind", kind, "out", out, "affinity", affinity)
	return id, nil
}

func (b *Builder) affinity(op Operator, params Params) (Affinity, error) {
	if p, ok := op.(Pinned); ok {
		return p.Affinity(), nil
	}

	s, err := params.String("affinity", "")
	if err != nil {
		return 0, err
	}
	switch s {
	case "":
		return b.augment, nil
	case "host", "cpu":
		return AffinityHost, nil
	case "device", "gpu":
		return AffinityDevice, nil
	}
	return 0, fmt.Errorf("unknown affinity %q", s)
}

// SetOutputs declares the externally visible nodes, in order.
func (b *Builder) SetOutputs(ids ...NodeID) error {
	if b.graph != nil {
		return &GraphError{Op: "set outputs", Err: ErrFrozen}
	}
	for _, id := range ids {
		if _, ok := b.nodes.Get(id); !ok {
			return &GraphError{Op: "set outputs", Err: fmt.Errorf("%w: %d", ErrUnknownInput, id)}
		}
	}
	b.outputs = append([]NodeID(nil), ids...)
	return nil
}

// Freeze verifies the graph and returns the executable form. After the first
// success it returns the same graph.
func (b *Builder) Freeze() (*Graph, error) {
	if b.graph != nil {
		return b.graph, nil
	}

	if len(b.outputs) == 0 {
		return nil, &VerificationError{Node: -1, Reason: "no outputs declared"}
	}

	nodes := make([]*Node, 0, b.nodes.Len())
	source := -1
	for pair := b.nodes.Oldest(); pair != nil; pair = pair.Next() {
		n := pair.Value.clone()
		if _, ok := n.Op.(Source); ok {
			if source >= 0 {
				return nil, &VerificationError{Node: n.ID, Reason: "more than one source"}
			}
			source = len(nodes)
		}
		nodes = append(nodes, n)
	}
	if source < 0 {
		return nil, &VerificationError{Node: -1, Reason: "graph has no source"}
	}

	if err := propagate(nodes); err != nil {
		return nil, err
	}

	for _, id := range b.outputs {
		if nodes[id].Out.Encoded {
			return nil, &VerificationError{Node: id, Reason: "declared output is not a tensor; add a decoder"}
		}
	}

	if err := connected(nodes, b.outputs); err != nil {
		return nil, err
	}

	g := &Graph{nodes: nodes, outputs: append([]NodeID(nil), b.outputs...), source: source}
	g.split = len(nodes)
	for i, n := range nodes {
		if n.Affinity == AffinityDevice {
			g.split = i
			break
		}
	}

	b.graph = g
	slog.Debug("graph: frozen", "nodes", len(nodes), "outputs", len(g.outputs), "split", g.split)
	return g, nil
}

// propagate repeats shape and type inference from the source through every
// node and checks that it agrees with what AddNode recorded.
func propagate(nodes []*Node) error {
	for _, n := range nodes {
		descs := make([]ml.TensorDesc, len(n.Inputs))
		for i, in := range n.Inputs {
			descs[i] = nodes[in].Out
		}

		out, err := n.Op.Infer(descs)
		if err != nil {
			return &VerificationError{Node: n.ID, Reason: "type mismatch", Err: err}
		}
		if !out.Equal(n.Out) {
			return &VerificationError{Node: n.ID, Reason: fmt.Sprintf("descriptor changed from %v to %v", n.Out, out)}
		}
	}
	return nil
}

// connected checks that every node reaches a declared output.
func connected(nodes []*Node, outputs []NodeID) error {
	live := make([]bool, len(nodes))
	for _, id := range outputs {
		live[id] = true
	}

	// Nodes only point backwards, so one reverse pass marks all ancestors.
	for i := len(nodes) - 1; i >= 0; i-- {
		if !live[i] {
			continue
		}
		for _, in := range nodes[i].Inputs {
			live[in] = true
		}
	}

	for i, ok := range live {
		if !ok {
			return &VerificationError{Node: NodeID(i), Reason: "output is not connected to a declared output"}
		}
	}
	return nil
}

// Dump writes the nodes in a readable form.
func (b *Builder) Dump(w io.Writer) {
	for pair := b.nodes.Oldest(); pair != nil; pair = pair.Next() {
		n := pair.Value
		fmt.Fprintf(w, "%3d %-16s %-6s %v <- %v\n", n.ID, n.Kind, n.Affinity, n.Out, n.Inputs)
	}
}
