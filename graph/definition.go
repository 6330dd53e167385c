package graph

import (
	"fmt"

	"github.com/ollama/augpipe/param"
)

// Definition is the serializable form of a frozen pipeline.
type Definition struct {
	BatchSize int        `json:"batch_size"`
	Params    []ParamDef `json:"params,omitempty"`
	Nodes     []NodeDef  `json:"nodes"`
	Outputs   []NodeID   `json:"outputs"`
}

// ParamDef is one registered parameter, in registration order.
type ParamDef struct {
	Kind string     `json:"kind"`
	Spec param.Spec `json:"spec"`
}

type NodeDef struct {
	Kind   string   `json:"kind"`
	Inputs []NodeID `json:"inputs,omitempty"`
	Params Params   `json:"params,omitempty"`
}

// Definition captures g together with the parameters of svc.
func (g *Graph) Definition(batchSize int, svc *param.Service) (*Definition, error) {
	def := &Definition{BatchSize: batchSize, Outputs: g.Outputs()}

	for _, h := range svc.Handles() {
		kind, spec, err := svc.Spec(h)
		if err != nil {
			return nil, err
		}
		def.Params = append(def.Params, ParamDef{Kind: kind.String(), Spec: spec})
	}

	for _, n := range g.nodes {
		nd := NodeDef{Kind: n.Kind, Inputs: n.Inputs}
		if len(n.Params) > 0 {
			nd.Params = make(Params, len(n.Params))
			for k, v := range n.Params {
				if h, ok := v.(param.Handle); ok {
					if _, _, err := svc.Spec(h); err != nil {
						return nil, fmt.Errorf("node %d param %q: %w", n.ID, k, err)
					}
					v = map[string]any{paramRef: h.Index()}
				}
				nd.Params[k] = v
			}
		}
		def.Nodes = append(def.Nodes, nd)
	}

	return def, nil
}

// Restore registers the parameters of def with svc and replays its nodes
// into b.
func Restore(def *Definition, b *Builder, svc *param.Service) error {
	handles := make([]param.Handle, len(def.Params))
	for i, pd := range def.Params {
		kind, err := param.ParseKind(pd.Kind)
		if err != nil {
			return err
		}
		if handles[i], err = svc.Create(kind, pd.Spec); err != nil {
			return fmt.Errorf("restore param %d: %w", i, err)
		}
	}

	for i, nd := range def.Nodes {
		params := make(Params, len(nd.Params))
		for k, v := range nd.Params {
			if ref, ok := v.(map[string]any); ok {
				idx, ok := toFloat(ref[paramRef])
				if !ok || int(idx) < 0 || int(idx) >= len(handles) {
					return fmt.Errorf("restore node %d: bad parameter reference %v", i, v)
				}
				v = handles[int(idx)]
			}
			params[k] = v
		}

		id, err := b.AddNode(nd.Kind, nd.Inputs, params)
		if err != nil {
			return err
		}
		if id != NodeID(i) {
			return fmt.Errorf("restore node %d: builder assigned id %d", i, id)
		}
	}

	return b.SetOutputs(def.Outputs...)
}
