package graph

import (
	"slices"

	"github.com/ollama/augpipe/ml"
)

// Graph is a frozen, verified operator graph. It is safe for concurrent
// reads.
type Graph struct {
	nodes   []*Node
	outputs []NodeID
	source  int
	// split is the index of the first device node.
	split int
}

// Nodes returns all nodes in topological order. The nodes must not be
// modified.
func (g *Graph) Nodes() []*Node { return slices.Clone(g.nodes) }

// Node returns node id, or nil.
func (g *Graph) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(g.nodes) {
		return nil
	}
	return g.nodes[id]
}

func (g *Graph) Len() int { return len(g.nodes) }

func (g *Graph) Outputs() []NodeID { return slices.Clone(g.outputs) }

// OutputDescs returns the per-sample descriptor of every declared output.
func (g *Graph) OutputDescs() []ml.TensorDesc {
	descs := make([]ml.TensorDesc, len(g.outputs))
	for i, id := range g.outputs {
		descs[i] = g.nodes[id].Out
	}
	return descs
}

// Source returns the single source operator.
func (g *Graph) Source() Source { return g.nodes[g.source].Op.(Source) }

// SourceNode returns the node of the source operator.
func (g *Graph) SourceNode() *Node { return g.nodes[g.source] }

// Caps is the metadata produced along the declared outputs.
func (g *Graph) Caps() Capability {
	var caps Capability
	for _, id := range g.outputs {
		caps |= g.nodes[id].Caps
	}
	return caps
}

// Stage is a contiguous run of nodes executed on one affinity.
type Stage struct {
	Affinity Affinity
	Nodes    []*Node
}

func (s Stage) Empty() bool { return len(s.Nodes) == 0 }

// Split cuts the graph at the first device node. The host stage holds the
// nodes before it, the device stage that node and everything after.
func (g *Graph) Split() (host, device Stage) {
	host = Stage{Affinity: AffinityHost, Nodes: slices.Clone(g.nodes[:g.split])}
	device = Stage{Affinity: AffinityDevice, Nodes: slices.Clone(g.nodes[g.split:])}
	return host, device
}
