// config_features.go - Feature-Flags, Executor- und Device-Konfiguration
//
// Dieses Modul enthaelt:
// - Executor-Flags (Pipelined, Async)
// - Queue- und Thread-Einstellungen
// - Device-Emulation und Arena-Groesse
package envconfig

// =============================================================================
// Executor-Flags
// =============================================================================

var (
	// ExecPipelined aktiviert das Vorab-Fuellen der Prefetch-Queues im Hintergrund
	ExecPipelined = BoolWithDefault("AUGPIPE_EXEC_PIPELINED")

	// ExecAsync laesst Run gegen bereits gefuellte Queues laufen
	ExecAsync = BoolWithDefault("AUGPIPE_EXEC_ASYNC")
)

// =============================================================================
// Parallelitaets- und Queue-Einstellungen
// =============================================================================

var (
	// NumThreads setzt die Anzahl der CPU-Worker (0 = automatisch)
	// Konfigurierbar via AUGPIPE_NUM_THREADS
	NumThreads = Uint("AUGPIPE_NUM_THREADS", 0)

	// CPUQueue setzt die Tiefe der CPU->Device Queue (0 = wie GPUQueue bzw. 2)
	// Konfigurierbar via AUGPIPE_CPU_QUEUE
	CPUQueue = Uint("AUGPIPE_CPU_QUEUE", 0)

	// GPUQueue setzt die Tiefe der Ausgabe-Queue (0 = wie CPUQueue bzw. 2)
	// Konfigurierbar via AUGPIPE_GPU_QUEUE
	GPUQueue = Uint("AUGPIPE_GPU_QUEUE", 0)
)

// =============================================================================
// Device-Einstellungen
// =============================================================================

var (
	// EmulateGPU registriert ein emuliertes GPU-Backend (fuer Tests und CI)
	EmulateGPU = Bool("AUGPIPE_EMULATE_GPU")

	// DeviceMemory begrenzt die Device-Arena (in Bytes, 0 = unbegrenzt)
	// Konfigurierbar via AUGPIPE_DEVICE_MEMORY
	DeviceMemory = Uint64("AUGPIPE_DEVICE_MEMORY", 0)
)
