// Package procutil provides OS-level process liveness and listening-port
// introspection used by the ports component and the reaper.
package procutil

import (
	"sync"
	"time"

	gopsnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// PidAlive reports whether a process with the given pid currently
// exists. It is never cached — callers that need liveness must probe
// at the moment of the decision.
func PidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	alive, err := process.PidExists(int32(pid))
	if err != nil {
		return false
	}
	return alive
}

// ListeningPorts scans the OS for TCP ports currently in LISTEN state.
// It scans on every call; Scanner wraps it with a short-lived cache to
// bound the cost of repeated free-port searches.
func ListeningPorts() (map[int]struct{}, error) {
	conns, err := gopsnet.Connections("tcp")
	if err != nil {
		return nil, err
	}
	ports := make(map[int]struct{})
	for _, c := range conns {
		if c.Status == "LISTEN" {
			ports[int(c.Laddr.Port)] = struct{}{}
		}
	}
	return ports, nil
}

// Scanner caches the OS listening-port set for a bounded TTL, so a
// burst of port-claim attempts doesn't re-scan /proc (or its platform
// equivalent) on every call.
type Scanner struct {
	ttl time.Duration

	mu        sync.Mutex
	cached    map[int]struct{}
	cachedAt  time.Time
}

// NewScanner returns a Scanner whose cache is valid for ttl (~2 seconds
// is a reasonable default for a listening-port scan).
func NewScanner(ttl time.Duration) *Scanner {
	return &Scanner{ttl: ttl}
}

// ListeningPorts returns the cached listening-port set, refreshing it
// if the cache has expired.
func (s *Scanner) ListeningPorts() (map[int]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && time.Since(s.cachedAt) < s.ttl {
		return s.cached, nil
	}

	ports, err := ListeningPorts()
	if err != nil {
		if s.cached != nil {
			return s.cached, nil
		}
		return nil, err
	}
	s.cached = ports
	s.cachedAt = time.Now()
	return ports, nil
}
