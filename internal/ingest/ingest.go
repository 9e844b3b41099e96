// Package ingest orchestrates one camera session end to end: credential
// registration, FTP endpoint lifecycle, directory watching, and handoff
// of stable files to the upload relay.
//
// At most one FTP server runs per process. Starting a session with the
// same username, directory and album as the running one is idempotent and
// returns the existing connection details; any other combination tears
// the old session down first so ports and watchers never leak.
package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shutterlink/shutterlink/internal/events"
	"github.com/shutterlink/shutterlink/internal/ftpserver"
	"github.com/shutterlink/shutterlink/internal/imagesig"
	"github.com/shutterlink/shutterlink/internal/library"
	"github.com/shutterlink/shutterlink/internal/logging"
	"github.com/shutterlink/shutterlink/internal/metrics"
	"github.com/shutterlink/shutterlink/internal/ports"
	"github.com/shutterlink/shutterlink/internal/relay"
	"github.com/shutterlink/shutterlink/internal/session"
	"github.com/shutterlink/shutterlink/internal/watcher"
)

// relayTimeout bounds one file's upload pipeline, retries included.
const relayTimeout = 5 * time.Minute

// ConnectionDescriptor is everything a camera needs to connect.
type ConnectionDescriptor struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Mode     string `json:"mode"`
}

// Status reports the engine's current ingest state.
type Status struct {
	Running    bool   `json:"running"`
	Host       string `json:"host,omitempty"`
	Port       int    `json:"port,omitempty"`
	ActiveUser string `json:"activeUser,omitempty"`
	Sessions   int    `json:"sessions"`
}

// Relayer pushes one media source through upload and registration.
type Relayer interface {
	Do(ctx context.Context, src relay.Source, albumID, albumLabel, token string) (*library.MediaRecord, error)
}

type ftpHandle interface {
	Stop()
	Port() int
	Host() string
}

type watchHandle interface {
	Start()
	Close()
}

// Service owns the single FTP server and its watcher.
type Service struct {
	registry    *session.Registry
	relayer     Relayer
	broadcaster *events.Broadcaster
	basePort    int
	pasvRange   string

	// replaced in tests
	startFTP     func(reg *session.Registry, port int, pasvRange string) (ftpHandle, error)
	startWatcher func(root string, onFile func(string)) (watchHandle, error)
	findPort     func(start int) (int, error)

	mu     sync.Mutex
	srv    ftpHandle
	watch  watchHandle
	active *session.Session
}

// New creates the orchestrator. basePort is the first FTP control port to
// probe; pasvRange is the "start-end" passive data range.
func New(registry *session.Registry, relayer Relayer, broadcaster *events.Broadcaster, basePort int, pasvRange string) *Service {
	return &Service{
		registry:    registry,
		relayer:     relayer,
		broadcaster: broadcaster,
		basePort:    basePort,
		pasvRange:   pasvRange,
		startFTP: func(reg *session.Registry, port int, pasvRange string) (ftpHandle, error) {
			return ftpserver.Start(reg, port, pasvRange)
		},
		startWatcher: func(root string, onFile func(string)) (watchHandle, error) {
			w, err := watcher.New(root, onFile, watcher.Options{})
			if err != nil {
				return nil, err
			}
			return w, nil
		},
		findPort: ports.FindAvailable,
	}
}

// StartSession registers credentials for username targeting directory and
// albumID, ensures the FTP server and watcher are running, and returns
// the connection details a camera needs.
func (s *Service) StartSession(username, directory, albumID, albumLabel, token string) (*ConnectionDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalized := session.Normalize(username)

	// Same session already running: hand back the live endpoint without
	// disturbing in-flight transfers. The registry entry is still
	// refreshed so a newer bearer token or album label takes effect.
	if s.srv != nil && s.active != nil &&
		s.active.Username == normalized &&
		sameDir(s.active.Root, directory) &&
		s.active.AlbumID == albumID {
		sess, err := s.registry.Put(username, directory, albumID, albumLabel, token)
		if err != nil {
			return nil, err
		}
		s.active = sess
		logging.Info("session already running, reusing endpoint",
			zap.String("username", normalized), zap.Int("port", s.srv.Port()))
		return s.descriptorLocked(), nil
	}

	// Anything else replaces the running session wholesale.
	s.teardownLocked()

	sess, err := s.registry.Put(username, directory, albumID, albumLabel, token)
	if err != nil {
		return nil, err
	}

	port, err := s.findPort(s.basePort)
	if err != nil {
		return nil, err
	}

	srv, err := s.startFTP(s.registry, port, s.pasvRange)
	if err != nil {
		return nil, fmt.Errorf("start FTP server: %w", err)
	}

	w, err := s.startWatcher(sess.Root, s.handleFile)
	if err != nil {
		srv.Stop()
		return nil, fmt.Errorf("watch %s: %w", sess.Root, err)
	}
	w.Start()

	s.srv = srv
	s.watch = w
	s.active = sess
	logging.Info("ingest session started",
		zap.String("username", sess.Username),
		zap.String("root", sess.Root),
		zap.String("albumId", sess.AlbumID),
		zap.Int("port", port))
	return s.descriptorLocked(), nil
}

// handleFile runs on the watcher's dispatch goroutine for each stable
// file: announce it, gate on the image signature, then relay. The
// session is snapshotted at dispatch time so a refreshed token applies
// to every file after the refresh.
func (s *Service) handleFile(path string) {
	s.mu.Lock()
	sess := s.active
	s.mu.Unlock()
	if sess == nil {
		return
	}

	name := filepath.Base(path)
	s.publish(events.Event{
		Action:   events.ActionPending,
		FilePath: path,
		AlbumID:  sess.AlbumID,
	})

	if !imagesig.IsImage(path) {
		metrics.RecordFileIngested("rejected")
		logging.Warn("rejected non-image file", zap.String("path", path))
		s.publish(events.Event{
			Action:  events.ActionError,
			AlbumID: sess.AlbumID,
			Error:   fmt.Sprintf("Not an image: %s", name),
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
	defer cancel()
	if _, err := s.relayer.Do(ctx, relay.Source{Path: path}, sess.AlbumID, sess.AlbumLabel, sess.Token); err != nil {
		logging.Error("relay failed", zap.String("file", name), zap.Error(err))
	}
}

// CloseServer stops the FTP server and watcher. Stored sessions survive,
// so a later StartSession reuses the same credentials.
func (s *Service) CloseServer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
}

// ResetAll stops everything and drops every stored session.
func (s *Service) ResetAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
	s.registry.Reset()
}

// Status reports whether a session is live and on which endpoint.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Sessions: s.registry.Count()}
	if s.srv != nil {
		st.Running = true
		st.Host = s.srv.Host()
		st.Port = s.srv.Port()
		if s.active != nil {
			st.ActiveUser = s.active.Username
		}
	}
	return st
}

// Descriptor returns the live connection details, or false when no
// session is running.
func (s *Service) Descriptor() (*ConnectionDescriptor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil || s.active == nil {
		return nil, false
	}
	return s.descriptorLocked(), true
}

func (s *Service) descriptorLocked() *ConnectionDescriptor {
	return &ConnectionDescriptor{
		Host:     s.srv.Host(),
		Port:     s.srv.Port(),
		Username: s.active.Username,
		// Read through the registry so a concurrent password
		// regeneration is reflected immediately.
		Password: s.registry.Password(),
		Mode:     "Passive",
	}
}

// teardownLocked stops the watcher before the server so no file event
// arrives for a dead session.
func (s *Service) teardownLocked() {
	if s.watch != nil {
		s.watch.Close()
		s.watch = nil
	}
	if s.srv != nil {
		s.srv.Stop()
		s.srv = nil
	}
	s.active = nil
}

func (s *Service) publish(e events.Event) {
	if s.broadcaster != nil {
		s.broadcaster.Publish(e)
	}
}

func sameDir(a, b string) bool {
	absB, err := filepath.Abs(b)
	if err != nil {
		return false
	}
	return a == absB
}
