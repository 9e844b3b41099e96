// Package ports finds a free TCP port for the embedded FTP server.
package ports

import (
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/shutterlink/shutterlink/internal/logging"
)

// MaxAttempts bounds the sequential probe.
const MaxAttempts = 10

// ErrNoPortAvailable is returned when every candidate port is in use.
// Callers surface this to the user instead of falling back to an
// arbitrary port.
var ErrNoPortAvailable = errors.New("no available port")

// FindAvailable probes start, start+1, ... and returns the first port that
// accepts a bind. The probe listener is closed before returning, so the
// caller can rebind immediately.
func FindAvailable(start int) (int, error) {
	for port := start; port < start+MaxAttempts; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
		if err != nil {
			logging.Warn("port in use, trying next", zap.Int("port", port))
			continue
		}
		if err := ln.Close(); err != nil {
			return 0, fmt.Errorf("release probe listener on port %d: %w", port, err)
		}
		return port, nil
	}
	return 0, fmt.Errorf("%w between %d and %d", ErrNoPortAvailable, start, start+MaxAttempts-1)
}
