// MODUL: backend_test
// ZWECK: Unit-Tests fuer Backend-Detection, Arena und Stream
// INPUT: Keine
// OUTPUT: Test-Ergebnisse
// NEBENEFFEKTE: Registriert temporaer einen GPU-Detektor
// ABHAENGIGKEITEN: testing (stdlib), backend.go, memory.go, stream.go
// HINWEISE: Tests laufen auf jeder Plattform (CPU immer verfuegbar)

package device

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

type testDetector struct {
	available bool
}

func (d *testDetector) Detect() bool             { return d.available }
func (d *testDetector) GetDevices() []DeviceInfo { return nil }
func (d *testDetector) Backend() Backend         { return BackendGPU }

func withGPU(t *testing.T, d Detector) {
	t.Helper()
	RegisterDetector(BackendGPU, d)
	t.Cleanup(func() { UnregisterDetector(BackendGPU) })
}

// ============================================================================
// Backend-Typ Tests
// ============================================================================

func TestParseBackend(t *testing.T) {
	for _, name := range []string{"cpu", "gpu"} {
		b, err := ParseBackend(name)
		if err != nil || string(b) != name {
			t.Errorf("ParseBackend(%q): erwartet %q, bekommen %q (%v)", name, name, b, err)
		}
	}

	_, err := ParseBackend("tpu")
	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("ParseBackend(tpu): erwartet BackendError, bekommen %v", err)
	}
}

func TestDefaultPriority(t *testing.T) {
	prio := DefaultPriority()
	if len(prio) != 2 || prio[0] != BackendGPU || prio[1] != BackendCPU {
		t.Errorf("DefaultPriority: erwartet [gpu cpu], bekommen %v", prio)
	}
}

// ============================================================================
// Detection Tests
// ============================================================================

func TestDetectBackendsCPUOnly(t *testing.T) {
	withGPU(t, &testDetector{available: false})

	backends := DetectBackends()
	if len(backends) != 1 || backends[0] != BackendCPU {
		t.Errorf("DetectBackends: erwartet [cpu], bekommen %v", backends)
	}
	if SelectBestBackend() != BackendCPU {
		t.Errorf("SelectBestBackend: erwartet cpu")
	}
	if IsBackendAvailable(BackendGPU) {
		t.Error("GPU sollte nicht verfuegbar sein")
	}
}

func TestEmulatedGPU(t *testing.T) {
	withGPU(t, &EmulatedDetector{Devices: 2, MemoryTotal: 1 << 20})

	if SelectBestBackend() != BackendGPU {
		t.Errorf("SelectBestBackend: erwartet gpu")
	}

	devices := GetDevices()
	if len(devices) != 3 {
		t.Fatalf("GetDevices: erwartet 3 Geraete, bekommen %d", len(devices))
	}

	dev, err := Lookup(BackendGPU, 1)
	if err != nil {
		t.Fatal(err)
	}
	if dev.DeviceID != 1 || dev.MemoryTotal != 1<<20 {
		t.Errorf("Lookup: unerwartetes Geraet %+v", dev)
	}

	if _, err := Lookup(BackendGPU, 2); err == nil {
		t.Error("Lookup(gpu, 2): erwartet Fehler")
	}
}

func TestLookupUnavailable(t *testing.T) {
	UnregisterDetector(BackendGPU)

	_, err := Lookup(BackendGPU, 0)
	var be *BackendError
	if !errors.As(err, &be) || be.Op != "detect" {
		t.Errorf("Lookup: erwartet detect-Fehler, bekommen %v", err)
	}

	if _, err := Lookup(BackendCPU, 0); err != nil {
		t.Errorf("Lookup(cpu, 0): %v", err)
	}
}

// ============================================================================
// Arena Tests
// ============================================================================

func TestArenaLimit(t *testing.T) {
	a := NewArena(DeviceInfo{Backend: BackendGPU, MemoryTotal: 100}, 0)

	b1, err := a.Alloc(60)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Alloc(60); !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("erwartet ErrOutOfMemory, bekommen %v", err)
	}

	b1.Free()
	b1.Free()

	info := a.Info()
	if info.Used != 0 || info.Peak != 60 || info.Free != 100 {
		t.Errorf("Info: unerwartet %+v", info)
	}

	if _, err := a.Alloc(100); err != nil {
		t.Errorf("Alloc nach Free: %v", err)
	}
}

func TestArenaUnlimited(t *testing.T) {
	a := NewArena(cpuDeviceInfo(), 0)
	b, err := a.Alloc(1 << 16)
	if err != nil {
		t.Fatal(err)
	}
	if b.Len() != 1<<16 {
		t.Errorf("Len: erwartet %d, bekommen %d", 1<<16, b.Len())
	}
}

// ============================================================================
// Stream Tests
// ============================================================================

func TestStreamOrder(t *testing.T) {
	s := NewStream(cpuDeviceInfo())
	defer s.Close()

	var order []int
	for i := range 5 {
		if err := s.Submit(context.Background(), func() error {
			order = append(order, i)
			return nil
		}); err != nil {
			t.Fatal(err)
		}
	}

	for i, v := range order {
		if v != i {
			t.Fatalf("Reihenfolge: erwartet %d, bekommen %d", i, v)
		}
	}
}

func TestStreamError(t *testing.T) {
	s := NewStream(cpuDeviceInfo())
	defer s.Close()

	want := errors.New("kernel fault")
	if err := s.Submit(context.Background(), func() error { return want }); !errors.Is(err, want) {
		t.Errorf("erwartet %v, bekommen %v", want, err)
	}
}

func TestStreamClosed(t *testing.T) {
	s := NewStream(cpuDeviceInfo())
	s.Close()
	s.Close()

	var ran atomic.Bool
	err := s.Submit(context.Background(), func() error {
		ran.Store(true)
		return nil
	})
	if !errors.Is(err, ErrStreamClosed) {
		t.Errorf("erwartet ErrStreamClosed, bekommen %v", err)
	}
	if ran.Load() {
		t.Error("Arbeit auf geschlossenem Stream ausgefuehrt")
	}
}
