package consts

import "time"

// WorkerState is the lifecycle state of the engine worker process.
type WorkerState string

const (
	StateStopped     WorkerState = "STOPPED"
	StateStarting    WorkerState = "STARTING"    // Spawned, waiting for the ready frame
	StateReady       WorkerState = "READY"       // Accepting commands
	StateTerminating WorkerState = "TERMINATING" // Shutdown requested or readiness failed
)

// Ordinal maps a state to a stable number for gauges.
func (s WorkerState) Ordinal() float64 {
	switch s {
	case StateStarting:
		return 1
	case StateReady:
		return 2
	case StateTerminating:
		return 3
	default:
		return 0
	}
}

// Worker events fed to the state machine.
const (
	EventStart = "start"
	EventReady = "ready"
	EventStop  = "stop"
	EventExit  = "exit"
)

// Line protocol
const (
	ResponsePrefix   = "RESPONSE:"
	MaxResponseFrame = 1 << 30
	MaxNoiseLine     = 12 * 1024 * 1024
)

// Environment
const (
	EnvConfigPath = "FOPWATCH_CONFIG"
	EnvJavaHome   = "JAVA_HOME"
)

// Tuning defaults
const (
	DefaultReadyTimeout   = 30 * time.Second
	DefaultShutdownGrace  = 5 * time.Second
	DefaultRequestTimeout = 2 * time.Minute
	DefaultDebounce       = 300 * time.Millisecond
	DefaultRestartBackoff = time.Second
	DefaultRestartMax     = 3
	DefaultServerClass    = "FopServer"
	DefaultConfigFile     = "fopwatch.yaml"
	WorkspaceMetaDir      = ".fopwatch"
	OutputFileName        = "output.pdf"
	DefaultControlSocket  = "fopwatch.sock"
	DefaultControlTimeout = 5 * time.Second
)

// Personal.AI order the ending
