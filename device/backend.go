// MODUL: backend
// ZWECK: Abstraktion fuer Compute-Backends (CPU/GPU) der Pipeline
// INPUT: Backend-Name, Geraete-Index
// OUTPUT: Backend-Typ, DeviceInfo, Verfuegbarkeit
// NEBENEFFEKTE: Keine
// ABHAENGIGKEITEN: Keine externen (nur stdlib)
// HINWEISE: GPU-Detektoren werden registriert (emulated.go, Build-spezifische Treiber)

package device

import (
	"fmt"
	"sync"
)

// ============================================================================
// Backend-Typ Definition
// ============================================================================

// Backend repraesentiert ein verfuegbares Compute-Backend.
type Backend string

// Verfuegbare Backend-Typen
const (
	BackendCPU Backend = "cpu"
	BackendGPU Backend = "gpu"
)

// ParseBackend prueft einen Backend-Namen.
func ParseBackend(s string) (Backend, error) {
	switch Backend(s) {
	case BackendCPU, BackendGPU:
		return Backend(s), nil
	}
	return "", &BackendError{Backend: Backend(s), Op: "parse"}
}

// ============================================================================
// DeviceInfo - Hardware-Informationen
// ============================================================================

// DeviceInfo enthaelt Informationen ueber ein verfuegbares Compute-Geraet.
type DeviceInfo struct {
	Backend     Backend // Backend-Typ (cpu, gpu)
	DeviceID    int     // Geraete-Index (0 fuer CPU, GPU-Index sonst)
	DeviceName  string  // Lesbarer Geraetename
	MemoryTotal uint64  // Gesamter Speicher in Bytes (0 = unbegrenzt)
	IsDefault   bool    // Ob dies das Standard-Geraet ist
}

// ============================================================================
// Backend-Selection Optionen
// ============================================================================

// SelectionPriority definiert Praeferenzreihenfolge fuer Backend-Auswahl.
type SelectionPriority []Backend

// DefaultPriority gibt die Standard-Praeferenzreihenfolge zurueck.
func DefaultPriority() SelectionPriority {
	return SelectionPriority{BackendGPU, BackendCPU}
}

// ============================================================================
// Detection Interface
// ============================================================================

// Detector ist das Interface fuer Backend-Erkennung.
type Detector interface {
	// Detect prueft ob das Backend verfuegbar ist
	Detect() bool

	// GetDevices gibt alle verfuegbaren Geraete zurueck
	GetDevices() []DeviceInfo

	// Backend gibt den Backend-Typ zurueck
	Backend() Backend
}

// ============================================================================
// Globale Detection-Funktionen
// ============================================================================

var (
	detectorsMu         sync.RWMutex
	registeredDetectors = make(map[Backend]Detector)
)

// RegisterDetector registriert einen Detektor fuer ein Backend.
func RegisterDetector(b Backend, d Detector) {
	detectorsMu.Lock()
	defer detectorsMu.Unlock()
	registeredDetectors[b] = d
}

// UnregisterDetector entfernt den Detektor eines Backends.
func UnregisterDetector(b Backend) {
	detectorsMu.Lock()
	defer detectorsMu.Unlock()
	delete(registeredDetectors, b)
}

func detector(b Backend) (Detector, bool) {
	detectorsMu.RLock()
	defer detectorsMu.RUnlock()
	d, ok := registeredDetectors[b]
	return d, ok
}

// DetectBackends erkennt alle verfuegbaren Backends.
func DetectBackends() []Backend {
	// CPU ist immer verfuegbar
	available := []Backend{BackendCPU}

	if d, ok := detector(BackendGPU); ok && d.Detect() {
		available = append(available, BackendGPU)
	}

	return available
}

// GetDevices gibt alle verfuegbaren Geraete zurueck.
func GetDevices() []DeviceInfo {
	devices := []DeviceInfo{cpuDeviceInfo()}

	if d, ok := detector(BackendGPU); ok && d.Detect() {
		devices = append(devices, d.GetDevices()...)
	}

	return devices
}

// SelectBestBackend waehlt das optimale Backend basierend auf Prioritaet.
func SelectBestBackend() Backend {
	return SelectBestBackendWithPriority(DefaultPriority())
}

// SelectBestBackendWithPriority waehlt Backend nach gegebener Prioritaet.
func SelectBestBackendWithPriority(priority SelectionPriority) Backend {
	availableSet := make(map[Backend]bool)
	for _, b := range DetectBackends() {
		availableSet[b] = true
	}

	for _, preferred := range priority {
		if availableSet[preferred] {
			return preferred
		}
	}

	return BackendCPU
}

// IsBackendAvailable prueft ob ein bestimmtes Backend verfuegbar ist.
func IsBackendAvailable(b Backend) bool {
	if b == BackendCPU {
		return true
	}
	if d, ok := detector(b); ok {
		return d.Detect()
	}
	return false
}

// Lookup gibt das Geraet mit dem angegebenen Index eines Backends zurueck.
func Lookup(b Backend, id int) (DeviceInfo, error) {
	if !IsBackendAvailable(b) {
		return DeviceInfo{}, &BackendError{Backend: b, Op: "detect"}
	}

	for _, dev := range GetDevices() {
		if dev.Backend == b && dev.DeviceID == id {
			return dev, nil
		}
	}

	return DeviceInfo{}, &BackendError{Backend: b, Op: fmt.Sprintf("device %d", id)}
}

// ============================================================================
// CPU Device Info (immer verfuegbar)
// ============================================================================

// cpuDeviceInfo gibt Informationen ueber CPU zurueck.
func cpuDeviceInfo() DeviceInfo {
	return DeviceInfo{
		Backend:    BackendCPU,
		DeviceID:   0,
		DeviceName: "CPU",
		IsDefault:  true,
	}
}

// ============================================================================
// Fehlertypen
// ============================================================================

// BackendError repraesentiert einen Backend-spezifischen Fehler.
type BackendError struct {
	Backend Backend
	Op      string
}

// Error implementiert error Interface.
func (e *BackendError) Error() string {
	return "device: " + string(e.Backend) + ": " + e.Op + " not available"
}
