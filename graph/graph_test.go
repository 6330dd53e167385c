package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/ollama/augpipe/media"
	"github.com/ollama/augpipe/meta"
	"github.com/ollama/augpipe/ml"
	"github.com/ollama/augpipe/param"
)

type testSource struct{}

func (testSource) Infer(in []ml.TensorDesc) (ml.TensorDesc, error) {
	if len(in) != 0 {
		return ml.TensorDesc{}, errors.New("source takes no inputs")
	}
	return ml.TensorDesc{Encoded: true}, nil
}
func (testSource) Count() int                          { return 0 }
func (testSource) Reset() error                        { return nil }
func (testSource) Next() (*meta.Record, []byte, error) { return nil, nil, io.EOF }
func (testSource) Affinity() Affinity                  { return AffinityHost }
func (testSource) Caps() Capability                    { return CapLabels }

type testDecode struct{ w, h int }

func (d testDecode) Infer(in []ml.TensorDesc) (ml.TensorDesc, error) {
	if len(in) != 1 || !in[0].Encoded {
		return ml.TensorDesc{}, errors.New("decoder needs one encoded input")
	}
	return ml.ImageDesc(d.h, d.w, 3, ml.DTypeU8), nil
}
func (testDecode) Affinity() Affinity { return AffinityHost }
func (testDecode) Apply(*Exec, []*media.Frame) (*media.Frame, error) {
	return media.NewFrame(1, 1, 3), nil
}

// testAug accepts one u8 image and passes it through.
type testAug struct{ caps Capability }

func (testAug) Infer(in []ml.TensorDesc) (ml.TensorDesc, error) {
	if len(in) != 1 || in[0].Encoded || in[0].DType != ml.DTypeU8 {
		return ml.TensorDesc{}, fmt.Errorf("expected one u8 image, got %v", in)
	}
	return in[0], nil
}
func (a testAug) Caps() Capability { return a.caps }
func (testAug) Apply(_ *Exec, in []*media.Frame) (*media.Frame, error) {
	return in[0], nil
}

type testFloat struct{}

func (testFloat) Infer(in []ml.TensorDesc) (ml.TensorDesc, error) {
	d := in[0]
	return ml.TensorDesc{Shape: d.Shape, DType: ml.DTypeF32}, nil
}

func testRegistry() *Registry {
	r := NewRegistry()
	r.Register("source", func(Params) (Operator, error) { return testSource{}, nil })
	r.Register("decode", func(p Params) (Operator, error) {
		w, err := p.Int("width", 4)
		if err != nil {
			return nil, err
		}
		h, err := p.Int("height", 4)
		if err != nil {
			return nil, err
		}
		return testDecode{w: w, h: h}, nil
	})
	r.Register("aug", func(p Params) (Operator, error) {
		if _, err := p.Value("amount", 0); err != nil {
			return nil, err
		}
		return testAug{}, nil
	})
	r.Register("boxes", func(Params) (Operator, error) { return testAug{caps: CapBoxes}, nil })
	r.Register("float", func(Params) (Operator, error) { return testFloat{}, nil })
	return r
}

// chain builds source -> decode -> kinds...
func chain(t *testing.T, b *Builder, kinds ...string) []NodeID {
	t.Helper()

	src, err := b.AddNode("source", nil, nil)
	require.NoError(t, err)
	dec, err := b.AddNode("decode", []NodeID{src}, Params{"width": 8, "height": 6})
	require.NoError(t, err)

	ids := []NodeID{src, dec}
	for _, k := range kinds {
		id, err := b.AddNode(k, []NodeID{ids[len(ids)-1]}, nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestAddNodeErrors(t *testing.T) {
	b := NewBuilder(testRegistry(), AffinityHost)
	src, err := b.AddNode("source", nil, nil)
	require.NoError(t, err)

	cases := []struct {
		name   string
		kind   string
		inputs []NodeID
		params Params
		want   error
	}{
		{"forward reference", "decode", []NodeID{5}, nil, ErrUnknownInput},
		{"unknown kind", "warp", []NodeID{src}, nil, ErrKindNotRegistered},
		{"inference", "aug", []NodeID{src}, nil, ErrInference},
		{"bad params", "decode", []NodeID{src}, Params{"width": "wide"}, nil},
		{"bad affinity", "aug", nil, Params{"affinity": "tpu"}, nil},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.AddNode(tt.kind, tt.inputs, tt.params)

			var ge *GraphError
			if !errors.As(err, &ge) {
				t.Fatalf("GraphError erwartet, bekommen %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("erwartet %v, bekommen %v", tt.want, err)
			}
		})
	}

	if b.Len() != 1 {
		t.Errorf("fehlgeschlagene AddNode-Aufrufe haben den Builder veraendert: %d Knoten", b.Len())
	}
}

func TestDTypeMismatchAtAdd(t *testing.T) {
	b := NewBuilder(testRegistry(), AffinityHost)
	ids := chain(t, b, "float")

	_, err := b.AddNode("aug", []NodeID{ids[2]}, nil)
	require.ErrorIs(t, err, ErrInference)
}

func TestFreeze(t *testing.T) {
	b := NewBuilder(testRegistry(), AffinityDevice)
	ids := chain(t, b, "aug", "boxes")
	require.NoError(t, b.SetOutputs(ids[3]))

	g, err := b.Freeze()
	require.NoError(t, err)

	again, err := b.Freeze()
	require.NoError(t, err)
	if g != again {
		t.Error("zweites Freeze lieferte einen anderen Graphen")
	}

	if diff := cmp.Diff([]ml.TensorDesc{ml.ImageDesc(6, 8, 3, ml.DTypeU8)}, g.OutputDescs()); diff != "" {
		t.Errorf("output descs unterschiedlich (-erwartet +bekommen):\n%s", diff)
	}
	if !g.Caps().Has(CapLabels | CapBoxes) {
		t.Errorf("caps = %b, erwartet labels und boxes", g.Caps())
	}
	if g.SourceNode().ID != ids[0] {
		t.Errorf("source = %d", g.SourceNode().ID)
	}

	_, err = b.AddNode("aug", []NodeID{ids[3]}, nil)
	require.ErrorIs(t, err, ErrFrozen)
	require.ErrorIs(t, b.SetOutputs(ids[2]), ErrFrozen)
}

func TestFreezeVerification(t *testing.T) {
	cases := []struct {
		name  string
		build func(t *testing.T, b *Builder)
	}{
		{"no outputs", func(t *testing.T, b *Builder) {
			chain(t, b, "aug")
		}},
		{"dead node", func(t *testing.T, b *Builder) {
			ids := chain(t, b, "aug")
			_, err := b.AddNode("boxes", []NodeID{ids[1]}, nil)
			require.NoError(t, err)
			require.NoError(t, b.SetOutputs(ids[2]))
		}},
		{"encoded output", func(t *testing.T, b *Builder) {
			src, err := b.AddNode("source", nil, nil)
			require.NoError(t, err)
			require.NoError(t, b.SetOutputs(src))
		}},
		{"two sources", func(t *testing.T, b *Builder) {
			ids := chain(t, b)
			other := chain(t, b)
			require.NoError(t, b.SetOutputs(ids[1], other[1]))
		}},
		{"no source", func(t *testing.T, b *Builder) {
			b.registry.Register("const", func(Params) (Operator, error) { return constOp{}, nil })
			id, err := b.AddNode("const", nil, nil)
			require.NoError(t, err)
			require.NoError(t, b.SetOutputs(id))
		}},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder(testRegistry(), AffinityHost)
			tt.build(t, b)

			_, err := b.Freeze()
			var ve *VerificationError
			if !errors.As(err, &ve) {
				t.Fatalf("VerificationError erwartet, bekommen %v", err)
			}
			if b.Frozen() {
				t.Error("Builder nach fehlgeschlagener Verifikation eingefroren")
			}
		})
	}
}

type constOp struct{}

func (constOp) Infer([]ml.TensorDesc) (ml.TensorDesc, error) {
	return ml.ImageDesc(1, 1, 1, ml.DTypeU8), nil
}

func TestSplit(t *testing.T) {
	cases := []struct {
		name    string
		augment Affinity
		params  Params
		host    []string
		device  []string
	}{
		{"cpu backend", AffinityHost, nil, []string{"source", "decode", "aug", "boxes"}, nil},
		{"gpu backend", AffinityDevice, nil, []string{"source", "decode"}, []string{"aug", "boxes"}},
		{"pinned to host", AffinityDevice, Params{"affinity": "host"}, []string{"source", "decode", "aug"}, []string{"boxes"}},
	}

	kinds := func(s Stage) []string {
		var out []string
		for _, n := range s.Nodes {
			out = append(out, n.Kind)
		}
		return out
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder(testRegistry(), tt.augment)
			ids := chain(t, b)
			aug, err := b.AddNode("aug", []NodeID{ids[1]}, tt.params)
			require.NoError(t, err)
			last, err := b.AddNode("boxes", []NodeID{aug}, nil)
			require.NoError(t, err)
			require.NoError(t, b.SetOutputs(last))

			g, err := b.Freeze()
			require.NoError(t, err)

			host, device := g.Split()
			if diff := cmp.Diff(tt.host, kinds(host)); diff != "" {
				t.Errorf("host-stufe (-erwartet +bekommen):\n%s", diff)
			}
			if diff := cmp.Diff(tt.device, kinds(device)); diff != "" {
				t.Errorf("device-stufe (-erwartet +bekommen):\n%s", diff)
			}
		})
	}
}

func TestDefinitionRestore(t *testing.T) {
	svc := param.NewService(3)
	h, err := svc.Create(param.KindFloat, param.Uniform(0.5, 1.5))
	require.NoError(t, err)

	b := NewBuilder(testRegistry(), AffinityHost)
	ids := chain(t, b)
	aug, err := b.AddNode("aug", []NodeID{ids[1]}, Params{"amount": h})
	require.NoError(t, err)
	require.NoError(t, b.SetOutputs(aug))
	g, err := b.Freeze()
	require.NoError(t, err)

	def, err := g.Definition(16, svc)
	require.NoError(t, err)

	data, err := json.Marshal(def)
	require.NoError(t, err)

	var decoded Definition
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, 16, decoded.BatchSize)

	svc2 := param.NewService(3)
	b2 := NewBuilder(testRegistry(), AffinityHost)
	require.NoError(t, Restore(&decoded, b2, svc2))
	g2, err := b2.Freeze()
	require.NoError(t, err)

	require.Equal(t, g.Len(), g2.Len())
	if diff := cmp.Diff(g.OutputDescs(), g2.OutputDescs()); diff != "" {
		t.Errorf("output descs unterschiedlich (-erwartet +bekommen):\n%s", diff)
	}

	restored, ok := g2.Node(aug).Params["amount"].(param.Handle)
	if !ok {
		t.Fatalf("amount wurde nicht als Parameter wiederhergestellt: %T", g2.Node(aug).Params["amount"])
	}
	kind, spec, err := svc2.Spec(restored)
	require.NoError(t, err)
	require.Equal(t, param.KindFloat, kind)
	require.Equal(t, param.Uniform(0.5, 1.5), spec)
}

func TestValue(t *testing.T) {
	svc := param.NewService(1)
	h, _ := svc.Create(param.KindInt, param.Constant(4))
	d := svc.Renew(2)

	v, err := Params{"n": h}.Value("n", 0)
	require.NoError(t, err)
	require.True(t, v.IsRandom())

	x := &Exec{Sample: 1, Draw: d}
	n, err := x.Int(v)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	c, err := Params{}.Value("n", 2.5)
	require.NoError(t, err)
	f, err := c.At(nil, 0)
	require.NoError(t, err)
	require.Equal(t, 2.5, f)

	_, err = Params{"n": "x"}.Value("n", 0)
	require.Error(t, err)
}

func TestParamsAccessors(t *testing.T) {
	// JSON numbers arrive as float64 and lists as []any.
	var p Params
	require.NoError(t, json.Unmarshal([]byte(`{"w": 3, "r": 0.5, "on": true, "s": "x", "l": [1, 2]}`), &p))

	w, err := p.Int("w", 0)
	require.NoError(t, err)
	require.Equal(t, 3, w)

	_, err = p.Int("r", 0)
	require.Error(t, err)

	on, err := p.Bool("on", false)
	require.NoError(t, err)
	require.True(t, on)

	l, err := p.Floats("l")
	require.NoError(t, err)
	require.Equal(t, []float64{1, 2}, l)

	def, err := p.String("missing", "d")
	require.NoError(t, err)
	require.Equal(t, "d", def)
}

func TestRegistry(t *testing.T) {
	r := testRegistry()
	require.Equal(t, []string{"aug", "boxes", "decode", "float", "source"}, r.List())
	require.True(t, r.Unregister("float"))
	require.False(t, r.Unregister("float"))
	require.Equal(t, 4, r.Count())

	_, err := r.Create("float", nil)
	var re *RegistryError
	require.ErrorAs(t, err, &re)
	require.Equal(t, "create", re.Op)
}
