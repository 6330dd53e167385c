// MODUL: stream
// ZWECK: Serielle Ausfuehrungs-Queue eines Geraets
// INPUT: Arbeitsfunktionen
// OUTPUT: Fehler der Arbeitsfunktion
// NEBENEFFEKTE: Startet genau eine Goroutine pro Stream
// ABHAENGIGKEITEN: backend.go
// HINWEISE: Arbeit wird strikt in Einreichungsreihenfolge ausgefuehrt

package device

import (
	"context"
	"errors"
	"sync"
)

// ErrStreamClosed wird zurueckgegeben wenn auf einem geschlossenen Stream
// Arbeit eingereicht wird.
var ErrStreamClosed = errors.New("device: stream closed")

type work struct {
	fn   func() error
	done chan error
}

// Stream fuehrt Arbeit seriell auf einer einzelnen Goroutine aus.
type Stream struct {
	info DeviceInfo

	work chan work
	quit chan struct{}
	wg   sync.WaitGroup

	closeOnce sync.Once
}

// NewStream startet einen Stream fuer das Geraet.
func NewStream(info DeviceInfo) *Stream {
	s := &Stream{
		info: info,
		work: make(chan work),
		quit: make(chan struct{}),
	}

	s.wg.Add(1)
	go s.loop()
	return s
}

func (s *Stream) loop() {
	defer s.wg.Done()
	for {
		select {
		case w := <-s.work:
			w.done <- w.fn()
		case <-s.quit:
			return
		}
	}
}

// Device gibt das Geraet des Streams zurueck.
func (s *Stream) Device() DeviceInfo { return s.info }

// Submit reiht fn ein und wartet auf das Ergebnis.
func (s *Stream) Submit(ctx context.Context, fn func() error) error {
	w := work{fn: fn, done: make(chan error, 1)}

	select {
	case s.work <- w:
	case <-s.quit:
		return ErrStreamClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	// Laufende Arbeit wird nicht abgebrochen
	return <-w.done
}

// Close beendet den Stream nach der laufenden Arbeit.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
	})
	s.wg.Wait()
}
