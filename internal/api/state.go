package api

import (
	"sync"
	"time"
)

// ServiceState is the mutex-protected status record the control loop writes
// to after every tick and the HTTP handlers read from, mirroring the
// Python worker's info_lock-guarded worker_status dict.
type ServiceState struct {
	mu sync.RWMutex

	serviceName  string
	version      string
	running      bool
	lastResponse string
	startedAt    time.Time
	activeLeases int
}

// NewServiceState creates a ServiceState reporting serviceName/version on
// /status and /health.
func NewServiceState(serviceName, version string) *ServiceState {
	return &ServiceState{
		serviceName:  serviceName,
		version:      version,
		lastResponse: "not started",
	}
}

// SetRunning records whether the control loop goroutine is currently active.
func (s *ServiceState) SetRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = running

	if running {
		s.startedAt = time.Now()
	}
}

// SetLastResponse records the most recent tick's outcome and the number of
// leases currently held, surfaced on /status.
func (s *ServiceState) SetLastResponse(response string, activeLeases int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastResponse = response
	s.activeLeases = activeLeases
}

// StatusSnapshot is the read-only view /status and /health serialize.
type StatusSnapshot struct {
	ServiceName  string    `json:"service_name"`
	Version      string    `json:"version"`
	Running      bool      `json:"running"`
	LastResponse string    `json:"last_response"`
	ActiveLeases int       `json:"active_leases"`
	StartedAt    time.Time `json:"started_at,omitempty"`
}

// Snapshot returns a consistent copy of the current state.
func (s *ServiceState) Snapshot() StatusSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return StatusSnapshot{
		ServiceName:  s.serviceName,
		Version:      s.version,
		Running:      s.running,
		LastResponse: s.lastResponse,
		ActiveLeases: s.activeLeases,
		StartedAt:    s.startedAt,
	}
}
