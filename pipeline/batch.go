package pipeline

import (
	"github.com/ollama/augpipe/device"
	"github.com/ollama/augpipe/media"
	"github.com/ollama/augpipe/meta"
	"github.com/ollama/augpipe/param"
)

// sample is one record moving through the graph. frames is indexed by
// node id.
type sample struct {
	index  int // position in the batch draw
	rec    *meta.Record
	frames []*media.Frame
	err    error
}

// batch owns its samples from the producer until the next Run after its
// delivery.
type batch struct {
	seq   int
	epoch int

	samples []*sample
	draw    *param.Draw

	consumed int // source records read for this batch
	short    bool
	partial  bool
	padded   int
	skipped  int
	err      error

	// outputs[o][i] is output o of sample i.
	outputs [][]*media.Frame
	staging []*device.Buffer
	slot    bool
}

func (b *batch) size() int { return len(b.samples) }

func (b *batch) records() []*meta.Record {
	out := make([]*meta.Record, len(b.samples))
	for i, s := range b.samples {
		out[i] = s.rec
	}
	return out
}

// pad repeats the last sample until the batch has n samples.
func (b *batch) pad(n int) {
	last := b.samples[len(b.samples)-1]
	for len(b.samples) < n {
		b.samples = append(b.samples, &sample{index: last.index, rec: last.rec.Clone(), frames: last.frames})
		b.padded++
	}
}

func (b *batch) freeStaging() {
	for _, buf := range b.staging {
		buf.Free()
	}
	b.staging = nil
}
