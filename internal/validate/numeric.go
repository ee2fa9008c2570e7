package validate

import (
	"fmt"
	"time"
)

// ValidatePort validates a TCP port against the range the kernel is
// willing to hand out or accept in a claim request.
func ValidatePort(port int) error {
	if port < 1024 || port > 65535 {
		return fmt.Errorf("port must be in range [1024, 65535], got %d", port)
	}
	return nil
}

// ValidatePID validates a process id.
func ValidatePID(pid int) error {
	if pid < 1 || pid > 99999 {
		return fmt.Errorf("pid must be in range [1, 99999], got %d", pid)
	}
	return nil
}

// ValidateTTL validates a lock/claim TTL.
func ValidateTTL(ttl time.Duration) error {
	if ttl < time.Millisecond || ttl > 24*time.Hour {
		return fmt.Errorf("ttl must be in range [1ms, 24h], got %s", ttl)
	}
	return nil
}

// ValidatePayloadSize rejects payloads over the configured maximum.
func ValidatePayloadSize(size int, max int64) error {
	if int64(size) > max {
		return fmt.Errorf("payload size %d exceeds maximum %d bytes", size, max)
	}
	return nil
}
