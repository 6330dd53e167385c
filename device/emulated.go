// MODUL: emulated
// ZWECK: Emuliertes GPU-Backend ohne Treiber
// INPUT: Anzahl Geraete, Speicherlimit
// OUTPUT: DeviceInfo-Liste fuer BackendGPU
// NEBENEFFEKTE: Keine
// ABHAENGIGKEITEN: backend.go
// HINWEISE: Device-Speicher liegt im Host-RAM, Ausfuehrung auf dem Stream-Goroutine

package device

import "fmt"

// EmulatedDetector meldet emulierte GPU-Geraete.
type EmulatedDetector struct {
	Devices     int
	MemoryTotal uint64
}

// RegisterEmulated registriert n emulierte GPUs als BackendGPU.
func RegisterEmulated(n int, memoryTotal uint64) {
	RegisterDetector(BackendGPU, &EmulatedDetector{Devices: n, MemoryTotal: memoryTotal})
}

func (d *EmulatedDetector) Detect() bool { return d.Devices > 0 }

func (d *EmulatedDetector) GetDevices() []DeviceInfo {
	devices := make([]DeviceInfo, d.Devices)
	for i := range devices {
		devices[i] = DeviceInfo{
			Backend:     BackendGPU,
			DeviceID:    i,
			DeviceName:  fmt.Sprintf("Emulated GPU %d", i),
			MemoryTotal: d.MemoryTotal,
			IsDefault:   i == 0,
		}
	}
	return devices
}

func (d *EmulatedDetector) Backend() Backend { return BackendGPU }
