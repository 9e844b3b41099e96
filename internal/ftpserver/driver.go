// Package ftpserver embeds an FTP endpoint that cameras upload to. Each
// login is jailed to its session's target directory; file completeness
// detection is the watcher's job, not the protocol layer's.
package ftpserver

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"

	serverlib "github.com/fclairamb/ftpserverlib"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/shutterlink/shutterlink/internal/logging"
	"github.com/shutterlink/shutterlink/internal/metrics"
	"github.com/shutterlink/shutterlink/internal/session"
)

const banner = "Welcome to FTP server"

// driver adapts the session registry to ftpserverlib's MainDriver.
type driver struct {
	registry   *session.Registry
	listenPort int
	publicHost string
	pasvStart  int
	pasvEnd    int
}

func (d *driver) GetSettings() (*serverlib.Settings, error) {
	return &serverlib.Settings{
		ListenAddr: fmt.Sprintf("0.0.0.0:%d", d.listenPort),
		PublicHost: d.publicHost,
		PassiveTransferPortRange: &serverlib.PortRange{
			Start: d.pasvStart,
			End:   d.pasvEnd,
		},
	}, nil
}

func (d *driver) ClientConnected(cc serverlib.ClientContext) (string, error) {
	logging.Info("FTP client connected",
		zap.Uint32("clientId", cc.ID()),
		zap.String("remoteAddr", cc.RemoteAddr().String()))
	return banner, nil
}

func (d *driver) ClientDisconnected(cc serverlib.ClientContext) {
	logging.Info("FTP client disconnected", zap.Uint32("clientId", cc.ID()))
}

// AuthUser checks the credential pair against the registry and jails the
// login to the session's target directory.
func (d *driver) AuthUser(cc serverlib.ClientContext, user, pass string) (serverlib.ClientDriver, error) {
	fs, err := d.authenticate(user, pass)
	if err != nil {
		logging.Warn("FTP login rejected",
			zap.String("username", session.Normalize(user)),
			zap.String("remoteAddr", cc.RemoteAddr().String()))
		return nil, err
	}
	return fs, nil
}

func (d *driver) authenticate(user, pass string) (afero.Fs, error) {
	if !d.registry.TestCredentials(user, pass) {
		metrics.RecordFTPLogin("failure")
		return nil, errors.New("invalid username or password")
	}

	sess, ok := d.registry.Get(user)
	if !ok {
		metrics.RecordFTPLogin("failure")
		return nil, errors.New("invalid username or password")
	}

	metrics.RecordFTPLogin("success")
	logging.Info("FTP login accepted",
		zap.String("username", sess.Username),
		zap.String("root", sess.Root))
	return newSessionFs(sess.Username, sess.Root), nil
}

func (d *driver) GetTLSConfig() (*tls.Config, error) {
	return nil, errors.New("TLS is not enabled")
}

// sessionFs jails a login to its root and logs incoming stores. Reads are
// allowed so cameras can verify their own uploads.
type sessionFs struct {
	afero.Fs
	username string
}

func newSessionFs(username, root string) afero.Fs {
	return &sessionFs{
		Fs:       afero.NewBasePathFs(afero.NewOsFs(), root),
		username: username,
	}
}

func (s *sessionFs) Create(name string) (afero.File, error) {
	logging.Info("FTP store started",
		zap.String("username", s.username), zap.String("path", name))
	return s.Fs.Create(name)
}

func (s *sessionFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR) != 0 {
		logging.Info("FTP store started",
			zap.String("username", s.username), zap.String("path", name))
	}
	return s.Fs.OpenFile(name, flag, perm)
}
