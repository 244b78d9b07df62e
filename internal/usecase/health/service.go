// Package health produces the system and engine snapshots pushed to
// connected clients by the hub's background pollers.
package health

import (
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/charmbracelet/log"
)

// SystemSnapshot is a point-in-time view of the console process.
type SystemSnapshot struct {
	UptimeSeconds  int64  `json:"uptime_seconds"`
	Goroutines     int    `json:"goroutines"`
	HeapAllocBytes uint64 `json:"heap_alloc_bytes"`
	NumCPU         int    `json:"num_cpu"`
	GoVersion      string `json:"go_version"`
}

// EngineHealth reports whether the external backup engine is reachable.
type EngineHealth struct {
	Healthy     bool   `json:"healthy"`
	EnginePath  string `json:"engine_path"`
	DataDirOK   bool   `json:"data_dir_ok"`
	Error       string `json:"error,omitempty"`
	CheckedAt   string `json:"checked_at"`
	EngineFound bool   `json:"engine_found"`
}

// Service builds health snapshots. It holds no mutable state beyond the
// process start time.
type Service struct {
	engineBinary string
	dataDir      string
	startTime    time.Time
	log          *log.Logger
}

// NewService creates a health service.
func NewService(engineBinary, dataDir string, logger *log.Logger) *Service {
	return &Service{
		engineBinary: engineBinary,
		dataDir:      dataDir,
		startTime:    time.Now().UTC(),
		log:          logger,
	}
}

// System returns a snapshot of the console process.
func (s *Service) System() SystemSnapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return SystemSnapshot{
		UptimeSeconds:  int64(time.Since(s.startTime).Seconds()),
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocBytes: mem.HeapAlloc,
		NumCPU:         runtime.NumCPU(),
		GoVersion:      runtime.Version(),
	}
}

// Engine checks that the engine binary resolves and the data directory is
// usable. It does not invoke the engine; a run here could collide with real
// jobs.
func (s *Service) Engine() EngineHealth {
	health := EngineHealth{
		EnginePath: s.engineBinary,
		CheckedAt:  time.Now().UTC().Format(time.RFC3339),
	}

	if _, err := exec.LookPath(s.engineBinary); err != nil {
		health.Error = err.Error()
		s.log.Debug("Engine binary not resolvable", "binary", s.engineBinary, "error", err)
	} else {
		health.EngineFound = true
	}

	if info, err := os.Stat(s.dataDir); err == nil && info.IsDir() {
		health.DataDirOK = true
	} else if err != nil {
		if health.Error == "" {
			health.Error = err.Error()
		}
	}

	health.Healthy = health.EngineFound && health.DataDirOK
	return health
}
