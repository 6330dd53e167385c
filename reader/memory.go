package reader

import (
	"io"
	"sync"

	"github.com/ollama/augpipe/graph"
	"github.com/ollama/augpipe/meta"
)

type memoryItem struct {
	rec  meta.Record
	data []byte
}

// Memory is an external source fed by the caller. Samples fed during an
// epoch become visible from the next Reset on.
type Memory struct {
	encoded

	mu      sync.Mutex
	pending []memoryItem
	items   []memoryItem
	pos     int
}

func NewMemory() *Memory { return &Memory{} }

// Feed appends one sample.
func (m *Memory) Feed(rec meta.Record, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := memoryItem{rec: *rec.Clone(), data: data}
	item.rec.ID = len(m.items) + len(m.pending)
	m.pending = append(m.pending, item)

	// Before the first epoch starts feeding goes straight to the dataset.
	if m.pos == 0 {
		m.items = append(m.items, m.pending...)
		m.pending = m.pending[:0]
	}
}

// Factory returns a graph.Factory that always yields m.
func (m *Memory) Factory() graph.Factory {
	return func(graph.Params) (graph.Operator, error) { return m, nil }
}

func (m *Memory) Caps() graph.Capability { return graph.CapLabels | graph.CapBoxes | graph.CapMasks }

func (m *Memory) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *Memory) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = append(m.items, m.pending...)
	m.pending = nil
	m.pos = 0
	return nil
}

func (m *Memory) Next() (*meta.Record, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pos >= len(m.items) {
		return nil, nil, io.EOF
	}
	item := m.items[m.pos]
	m.pos++
	return item.rec.Clone(), item.data, nil
}
