package pipeline

import "sync"

// execState tracks the epoch cursor of a context. Counts are in source
// records, so skipped samples still advance it.
type execState struct {
	mu sync.Mutex

	batchSize int
	policy    LastBatchPolicy

	total     int
	delivered int
	epoch     int
	batches   int
	padded    int
}

func newExecState(batchSize int, policy LastBatchPolicy) *execState {
	return &execState{batchSize: batchSize, policy: policy}
}

// reset starts a new epoch over total records.
func (e *execState) reset(total int, epoch int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.total = total
	e.delivered = 0
	e.epoch = epoch
	e.padded = 0
}

// deliverable is the number of records that end up in a returned batch.
func (e *execState) deliverable() int {
	if e.policy == LastBatchDrop {
		return e.total - e.total%e.batchSize
	}
	return e.total
}

func (e *execState) remaining() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return max(e.deliverable()-e.delivered, 0)
}

func (e *execState) deliver(b *batch) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.delivered += b.consumed
	e.batches++
	e.padded = b.padded
}

func (e *execState) snapshot() (epoch, batches, padded int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.epoch, e.batches, e.padded
}
