package ftpserver

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/shutterlink/shutterlink/internal/session"
)

func TestParsePasvRange(t *testing.T) {
	tests := []struct {
		in         string
		start, end int
		wantErr    bool
	}{
		{in: "8000-9000", start: 8000, end: 9000},
		{in: " 8000 - 9000 ", start: 8000, end: 9000},
		{in: "1-65535", start: 1, end: 65535},
		{in: "9000-8000", wantErr: true},
		{in: "8000", wantErr: true},
		{in: "a-b", wantErr: true},
		{in: "0-100", wantErr: true},
		{in: "8000-70000", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range tests {
		start, end, err := ParsePasvRange(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParsePasvRange(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePasvRange(%q): %v", tc.in, err)
			continue
		}
		if start != tc.start || end != tc.end {
			t.Errorf("ParsePasvRange(%q) = %d-%d, want %d-%d", tc.in, start, end, tc.start, tc.end)
		}
	}
}

func TestPublicHostNeverEmpty(t *testing.T) {
	host := PublicHost()
	if host == "" {
		t.Fatal("PublicHost returned empty string")
	}
	if host != "localhost" {
		ip := net.ParseIP(host)
		if ip == nil || ip.To4() == nil {
			t.Fatalf("expected an IPv4 address or localhost, got %q", host)
		}
	}
}

func newTestRegistry(t *testing.T) (*session.Registry, string) {
	t.Helper()
	reg, err := session.NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	root := t.TempDir()
	if _, err := reg.Put("camera one", root, "album-1", "Holiday", "tok"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	return reg, root
}

func TestAuthenticate(t *testing.T) {
	reg, _ := newTestRegistry(t)
	d := &driver{registry: reg, listenPort: 2121, publicHost: "localhost", pasvStart: 8000, pasvEnd: 9000}

	if _, err := d.authenticate("cameraone", "wrong"); err == nil {
		t.Fatal("wrong password accepted")
	}
	if _, err := d.authenticate("stranger", reg.Password()); err == nil {
		t.Fatal("unknown user accepted")
	}

	fs, err := d.authenticate("cameraone", reg.Password())
	if err != nil {
		t.Fatalf("valid credentials rejected: %v", err)
	}
	if fs == nil {
		t.Fatal("nil filesystem for valid login")
	}

	// The raw username with spaces must authenticate the same account.
	if _, err := d.authenticate("camera one", reg.Password()); err != nil {
		t.Fatalf("raw username rejected: %v", err)
	}
}

func TestSessionFsIsJailedToRoot(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	fs := newSessionFs("cam", root)

	f, err := fs.Create("/upload.jpg")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.Write([]byte{0xff, 0xd8}); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	// The write must land inside the jail root.
	if _, err := os.Stat(filepath.Join(root, "upload.jpg")); err != nil {
		t.Fatalf("upload not visible under root: %v", err)
	}

	// Escaping the jail must fail.
	if _, err := fs.Open("/../" + filepath.Base(outside) + "/secret.txt"); err == nil {
		t.Fatal("path traversal escaped the jail")
	}
}

func TestDriverSettings(t *testing.T) {
	reg, _ := newTestRegistry(t)
	d := &driver{registry: reg, listenPort: 2121, publicHost: "192.168.1.50", pasvStart: 8000, pasvEnd: 9000}

	settings, err := d.GetSettings()
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if settings.ListenAddr != "0.0.0.0:2121" {
		t.Fatalf("ListenAddr = %q", settings.ListenAddr)
	}
	if settings.PublicHost != "192.168.1.50" {
		t.Fatalf("PublicHost = %q", settings.PublicHost)
	}
	if settings.PassiveTransferPortRange == nil ||
		settings.PassiveTransferPortRange.Start != 8000 ||
		settings.PassiveTransferPortRange.End != 9000 {
		t.Fatalf("passive range = %+v", settings.PassiveTransferPortRange)
	}
}

func TestStartStopReleasesPort(t *testing.T) {
	reg, _ := newTestRegistry(t)

	probe, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := probe.Addr().(*net.TCPAddr).Port
	probe.Close()

	srv, err := Start(reg, port, "8000-9000")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if srv.Port() != port {
		t.Fatalf("Port() = %d, want %d", srv.Port(), port)
	}

	// A second server on the same port must fail while the first runs.
	if _, err := Start(reg, port, "8000-9000"); err == nil {
		t.Fatal("expected bind conflict")
	}

	srv.Stop()

	// After Stop the port is free again.
	srv2, err := Start(reg, port, "8000-9000")
	if err != nil {
		t.Fatalf("restart on same port: %v", err)
	}
	srv2.Stop()
}
