package ftpserver

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	serverlib "github.com/fclairamb/ftpserverlib"
	"go.uber.org/zap"

	"github.com/shutterlink/shutterlink/internal/logging"
	"github.com/shutterlink/shutterlink/internal/metrics"
	"github.com/shutterlink/shutterlink/internal/session"
)

// Server is a running FTP endpoint bound to one port.
type Server struct {
	srv  *serverlib.FtpServer
	port int
	host string

	stopOnce sync.Once
	done     chan struct{}
}

// Start binds an FTP server on port with the given passive range
// ("start-end"). It returns once the control socket is listening, so a
// bind failure surfaces here rather than in the serve loop.
func Start(registry *session.Registry, port int, pasvRange string) (*Server, error) {
	pasvStart, pasvEnd, err := ParsePasvRange(pasvRange)
	if err != nil {
		return nil, err
	}

	host := PublicHost()
	d := &driver{
		registry:   registry,
		listenPort: port,
		publicHost: host,
		pasvStart:  pasvStart,
		pasvEnd:    pasvEnd,
	}

	srv := serverlib.NewFtpServer(d)
	srv.Logger = newLogAdapter()
	if err := srv.Listen(); err != nil {
		return nil, fmt.Errorf("bind FTP port %d: %w", port, err)
	}

	s := &Server{
		srv:  srv,
		port: port,
		host: host,
		done: make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		if err := srv.Serve(); err != nil {
			logging.Error("FTP serve loop ended", zap.Error(err))
		}
	}()

	metrics.SetFTPServerUp(true)
	logging.Info("FTP server started",
		zap.String("host", host),
		zap.Int("port", port),
		zap.String("pasvRange", pasvRange))
	return s, nil
}

// Stop shuts the server down and waits until the control port is
// released, so an immediate restart can rebind it.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		if err := s.srv.Stop(); err != nil {
			logging.Error("FTP server stop", zap.Error(err))
		}
		<-s.done
		metrics.SetFTPServerUp(false)
		logging.Info("FTP server stopped", zap.Int("port", s.port))
	})
}

// Port returns the bound control port.
func (s *Server) Port() int { return s.port }

// Host returns the address clients should connect to.
func (s *Server) Host() string { return s.host }

// ParsePasvRange parses a "start-end" passive port range.
func ParsePasvRange(r string) (int, int, error) {
	first, second, ok := strings.Cut(r, "-")
	if !ok {
		return 0, 0, fmt.Errorf("invalid passive port range %q", r)
	}
	start, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid passive port range %q", r)
	}
	end, err := strconv.Atoi(strings.TrimSpace(second))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid passive port range %q", r)
	}
	if start <= 0 || end > 65535 || end < start {
		return 0, 0, fmt.Errorf("invalid passive port range %q", r)
	}
	return start, end, nil
}

// PublicHost returns the machine's first non-loopback IPv4 address, or
// "localhost" when none is available. Cameras on the same LAN dial this.
func PublicHost() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "localhost"
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipNet.IP.To4()
			if ip == nil || ip.IsLoopback() {
				continue
			}
			return ip.String()
		}
	}
	return "localhost"
}
