// Package reader contains the sample sources of a pipeline. Every reader is
// a graph.Source that yields encoded sample bytes plus a metadata record.
package reader

import (
	"fmt"
	"math/rand/v2"

	"github.com/ollama/augpipe/graph"
	"github.com/ollama/augpipe/ml"
)

// ShardOptions selects a contiguous slice of a dataset and its order.
type ShardOptions struct {
	ShardID   int
	NumShards int
	Shuffle   bool
	Seed      int64
}

func shardParams(p graph.Params) (ShardOptions, error) {
	var o ShardOptions
	var err error
	if o.ShardID, err = p.Int("shard_id", 0); err != nil {
		return o, err
	}
	if o.NumShards, err = p.Int("num_shards", 1); err != nil {
		return o, err
	}
	if o.Shuffle, err = p.Bool("shuffle", false); err != nil {
		return o, err
	}
	seed, err := p.Int("seed", 1)
	o.Seed = int64(seed)
	return o, err
}

// cursor walks the shard of n items, reshuffling on every epoch.
type cursor struct {
	opts  ShardOptions
	lo    int
	hi    int
	epoch int
	order []int
	pos   int
}

func newCursor(n int, opts ShardOptions) (*cursor, error) {
	if opts.NumShards <= 0 {
		opts.NumShards = 1
	}
	if opts.ShardID < 0 || opts.ShardID >= opts.NumShards {
		return nil, fmt.Errorf("reader: shard %d out of range [0, %d)", opts.ShardID, opts.NumShards)
	}

	c := &cursor{
		opts: opts,
		lo:   n * opts.ShardID / opts.NumShards,
		hi:   n * (opts.ShardID + 1) / opts.NumShards,
	}
	c.arrange()
	return c, nil
}

func (c *cursor) arrange() {
	c.order = make([]int, 0, c.hi-c.lo)
	for i := c.lo; i < c.hi; i++ {
		c.order = append(c.order, i)
	}
	if c.opts.Shuffle {
		r := rand.New(rand.NewPCG(uint64(c.opts.Seed), uint64(c.epoch)))
		r.Shuffle(len(c.order), func(i, j int) { c.order[i], c.order[j] = c.order[j], c.order[i] })
	}
	c.pos = 0
}

func (c *cursor) count() int { return c.hi - c.lo }

func (c *cursor) next() (int, bool) {
	if c.pos >= len(c.order) {
		return 0, false
	}
	i := c.order[c.pos]
	c.pos++
	return i, true
}

func (c *cursor) reset() {
	c.epoch++
	c.arrange()
}

// encoded is embedded by all readers.
type encoded struct{}

func (encoded) Infer(in []ml.TensorDesc) (ml.TensorDesc, error) {
	if len(in) != 0 {
		return ml.TensorDesc{}, fmt.Errorf("reader takes no inputs, got %d", len(in))
	}
	return ml.TensorDesc{Encoded: true}, nil
}

func (encoded) Affinity() graph.Affinity { return graph.AffinityHost }
