// MODUL: memory
// ZWECK: Speicherverwaltung fuer Device-Tensoren (Arena mit Limit)
// INPUT: Groesse in Bytes
// OUTPUT: Buffer, Nutzungsstatistik
// NEBENEFFEKTE: Allokiert Host-RAM als Ersatz fuer Device-Speicher
// ABHAENGIGKEITEN: backend.go
// HINWEISE: Limit 0 bedeutet unbegrenzt

package device

import (
	"errors"
	"fmt"
	"sync"
)

// ErrOutOfMemory wird zurueckgegeben wenn das Arena-Limit ueberschritten wird.
var ErrOutOfMemory = errors.New("device: out of memory")

// MemoryInfo beschreibt den Speicherzustand einer Arena.
type MemoryInfo struct {
	Total uint64
	Free  uint64
	Used  uint64
	Peak  uint64
}

// Arena verwaltet die Allokationen eines Geraets.
type Arena struct {
	info  DeviceInfo
	limit uint64

	mu   sync.Mutex
	used uint64
	peak uint64
}

// NewArena erstellt eine Arena fuer das Geraet. limit ueberschreibt
// MemoryTotal des Geraets wenn groesser 0.
func NewArena(info DeviceInfo, limit uint64) *Arena {
	if limit == 0 {
		limit = info.MemoryTotal
	}
	return &Arena{info: info, limit: limit}
}

// Buffer ist eine Allokation aus einer Arena.
type Buffer struct {
	arena *Arena
	data  []byte
	freed bool
}

// Alloc reserviert size Bytes.
func (a *Arena) Alloc(size int) (*Buffer, error) {
	if size < 0 {
		return nil, fmt.Errorf("device: negative allocation %d", size)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	n := uint64(size)
	if a.limit > 0 && a.used+n > a.limit {
		return nil, fmt.Errorf("%w: %s %d: requested %d bytes, %d of %d in use",
			ErrOutOfMemory, a.info.Backend, a.info.DeviceID, n, a.used, a.limit)
	}

	a.used += n
	a.peak = max(a.peak, a.used)
	return &Buffer{arena: a, data: make([]byte, size)}, nil
}

// Info gibt den aktuellen Speicherzustand zurueck.
func (a *Arena) Info() MemoryInfo {
	a.mu.Lock()
	defer a.mu.Unlock()

	info := MemoryInfo{Total: a.limit, Used: a.used, Peak: a.peak}
	if a.limit > 0 {
		info.Free = a.limit - a.used
	}
	return info
}

// Bytes gibt den Inhalt des Buffers zurueck.
func (b *Buffer) Bytes() []byte { return b.data }

// Len gibt die Groesse des Buffers zurueck.
func (b *Buffer) Len() int { return len(b.data) }

// Free gibt den Buffer an die Arena zurueck. Mehrfaches Free ist erlaubt.
func (b *Buffer) Free() {
	a := b.arena
	a.mu.Lock()
	defer a.mu.Unlock()

	if b.freed {
		return
	}
	b.freed = true
	a.used -= uint64(len(b.data))
	b.data = nil
}
