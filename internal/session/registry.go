// Package session holds per-user FTP credentials and their target
// directories and catalog albums.
//
// The registry is the only shared mutable state between the control plane,
// the FTP adapter and the watcher pipeline. All lookups key on the
// normalized username (whitespace stripped).
package session

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/shutterlink/shutterlink/internal/logging"
)

// ErrBadDirectory is returned when a session's target path does not exist
// or is not a directory.
var ErrBadDirectory = errors.New("directory does not exist or is inaccessible")

// ErrMissingField is returned when a required session field is empty.
var ErrMissingField = errors.New("username, directory, album ID, and token are required")

const (
	passwordFile = "ftpPassword.json"
	passwordLen  = 5
)

// passwordShape is the persisted-password validity check: fixed-length
// lowercase alphanumeric.
var passwordShape = regexp.MustCompile(`^[a-z0-9]{5}$`)

// Session is one user's ingest configuration.
type Session struct {
	Username   string // normalized
	Password   string
	Root       string // absolute directory the FTP login is jailed to
	AlbumID    string
	AlbumLabel string
	Token      string
}

// Registry stores sessions and the shared FTP password.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	password string
	dataDir  string
}

// NewRegistry creates a registry persisting its password under dataDir.
// An existing valid password file is reloaded so the credential survives
// restarts; otherwise a fresh password is generated and saved.
func NewRegistry(dataDir string) (*Registry, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	r := &Registry{
		sessions: make(map[string]*Session),
		dataDir:  dataDir,
	}
	if err := r.loadPassword(); err != nil {
		return nil, err
	}
	return r, nil
}

// Normalize strips all whitespace from a username.
func Normalize(username string) string {
	return strings.Join(strings.Fields(username), "")
}

// Password returns the current shared FTP password.
func (r *Registry) Password() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.password
}

// Put validates and stores a session. The username is normalized; the
// directory must exist and be a directory. The stored password is the
// registry's current one.
func (r *Registry) Put(username, directory, albumID, albumLabel, token string) (*Session, error) {
	normalized := Normalize(username)
	if normalized == "" || directory == "" || albumID == "" || token == "" {
		return nil, ErrMissingField
	}

	abs, err := filepath.Abs(directory)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadDirectory, directory)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrBadDirectory, directory)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	sess := &Session{
		Username:   normalized,
		Password:   r.password,
		Root:       abs,
		AlbumID:    albumID,
		AlbumLabel: albumLabel,
		Token:      token,
	}
	r.sessions[normalized] = sess
	logging.Info("stored session credentials", zap.String("username", normalized), zap.String("root", abs))
	return sess, nil
}

// Get returns the session for a (raw or normalized) username.
func (r *Registry) Get(username string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[Normalize(username)]
	return sess, ok
}

// All returns a snapshot of every stored session.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		copied := *s
		out = append(out, &copied)
	}
	return out
}

// TestCredentials checks a username/password pair against the stored
// session. The comparison runs over both inputs regardless of where they
// diverge and reports only pass/fail.
func (r *Registry) TestCredentials(username, password string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[Normalize(username)]
	if !ok {
		// Compare against the shared password anyway so a missing user
		// costs the same as a wrong password.
		subtle.ConstantTimeCompare([]byte(password), []byte(r.password))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(sess.Password)) == 1
}

// Regenerate draws a new password, persists it synchronously, and updates
// the named user's session if present. Returns the new password.
func (r *Registry) Regenerate(username string) (string, error) {
	newPassword := GeneratePassword()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.password = newPassword
	if err := r.savePasswordLocked(); err != nil {
		return "", err
	}
	normalized := Normalize(username)
	if sess, ok := r.sessions[normalized]; ok {
		// Replace rather than mutate: handed-out session pointers are
		// immutable snapshots, so readers never need this lock.
		updated := *sess
		updated.Password = newPassword
		r.sessions[normalized] = &updated
	}
	logging.Info("regenerated FTP password", zap.String("username", normalized))
	return newPassword, nil
}

// Reset drops every session. The password file is kept so the credential
// still survives a restart.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = make(map[string]*Session)
	logging.Info("session registry reset")
}

// Count returns the number of stored sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// GeneratePassword draws a random 5-character lowercase alphanumeric
// password containing at least one letter and one digit.
func GeneratePassword() string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	const digits = "0123456789"
	const all = letters + digits

	chars := make([]byte, 0, passwordLen)
	chars = append(chars, letters[randInt(len(letters))])
	chars = append(chars, digits[randInt(len(digits))])
	for i := 2; i < passwordLen; i++ {
		chars = append(chars, all[randInt(len(all))])
	}

	// Fisher-Yates so the mandatory letter/digit are not always first.
	for i := len(chars) - 1; i > 0; i-- {
		j := randInt(i + 1)
		chars[i], chars[j] = chars[j], chars[i]
	}
	return string(chars)
}

func randInt(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		// crypto/rand failing means the host entropy source is broken;
		// nothing sensible to do for a local FTP credential.
		panic(err)
	}
	return int(v.Int64())
}

type passwordRecord struct {
	Password string `json:"password"`
}

func (r *Registry) passwordPath() string {
	return filepath.Join(r.dataDir, passwordFile)
}

func (r *Registry) loadPassword() error {
	data, err := os.ReadFile(r.passwordPath())
	if err != nil {
		if os.IsNotExist(err) {
			logging.Info("password file not found, generating a new one")
			r.password = GeneratePassword()
			return r.savePasswordLocked()
		}
		return fmt.Errorf("load FTP password: %w", err)
	}

	var rec passwordRecord
	if err := json.Unmarshal(data, &rec); err != nil || !passwordShape.MatchString(rec.Password) {
		logging.Warn("invalid password file, regenerating")
		r.password = GeneratePassword()
		return r.savePasswordLocked()
	}
	r.password = rec.Password
	logging.Info("loaded FTP password from file")
	return nil
}

func (r *Registry) savePasswordLocked() error {
	data, err := json.MarshalIndent(passwordRecord{Password: r.password}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode FTP password: %w", err)
	}
	if err := os.WriteFile(r.passwordPath(), data, 0o600); err != nil {
		return fmt.Errorf("save FTP password: %w", err)
	}
	return nil
}
