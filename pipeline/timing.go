package pipeline

import (
	"sync/atomic"
	"time"
)

// Timing is the time spent per phase since the context was built.
type Timing struct {
	Load     time.Duration `json:"load"`     // reading samples from the source
	Decode   time.Duration `json:"decode"`   // decode nodes
	Process  time.Duration `json:"process"`  // every other node
	Transfer time.Duration `json:"transfer"` // staging and output copies
	Batches  int           `json:"batches"`
}

type timing struct {
	load, decode, process, transfer atomic.Int64
	batches                         atomic.Int64
}

func (t *timing) add(d *atomic.Int64, since time.Time) {
	d.Add(int64(time.Since(since)))
}

func (t *timing) snapshot() Timing {
	return Timing{
		Load:     time.Duration(t.load.Load()),
		Decode:   time.Duration(t.decode.Load()),
		Process:  time.Duration(t.process.Load()),
		Transfer: time.Duration(t.transfer.Load()),
		Batches:  int(t.batches.Load()),
	}
}
