package relay

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shutterlink/shutterlink/internal/events"
	"github.com/shutterlink/shutterlink/internal/retry"
)

func fastRetry() retry.Config {
	return retry.Config{
		MaxAttempts: 3,
		InitialWait: 2 * time.Millisecond,
		MaxWait:     50 * time.Millisecond,
		Multiplier:  2.0,
	}
}

// fakeStore counts uploads and can fail the first N attempts or reject a
// key pattern outright.
type fakeStore struct {
	failFirst int
	rejectAll bool
	uploads   []string
	attempts  int
}

func (f *fakeStore) Upload(_ context.Context, key string, body io.Reader, _ int64, _ string) (string, error) {
	f.attempts++
	if f.rejectAll && !strings.Contains(key, "-fallback") {
		return "", errors.New("unsupported format")
	}
	if f.attempts <= f.failFirst {
		return "", errors.New("store unavailable")
	}
	_, _ = io.Copy(io.Discard, body)
	f.uploads = append(f.uploads, key)
	return "https://cdn.example.com/" + key, nil
}

func (f *fakeStore) Delete(context.Context, string) error { return nil }
func (f *fakeStore) Type() string                         { return "fake" }
func (f *fakeStore) Close() error                         { return nil }

type fakeRegistrar struct {
	calls     int
	failFirst int
	gotAlbum  string
	gotURL    string
}

func (f *fakeRegistrar) AddPhoto(_ context.Context, albumID, imageURL, _ string) error {
	f.calls++
	if f.calls <= f.failFirst {
		return retry.Retryable(errors.New("catalog down"))
	}
	f.gotAlbum = albumID
	f.gotURL = imageURL
	return nil
}

func drain(ch chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func pngPayload(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.RGBA{uint8(40 * x), uint8(40 * y), 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDoRejectsEmptyInputs(t *testing.T) {
	r := New(&fakeStore{}, &fakeRegistrar{}, nil, nil, "albums", fastRetry())
	ctx := context.Background()

	if _, err := r.Do(ctx, Source{}, "album", "", "tok"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty source: %v", err)
	}
	if _, err := r.Do(ctx, Source{Bytes: []byte{1}}, "", "", "tok"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty album: %v", err)
	}
	if _, err := r.Do(ctx, Source{Bytes: []byte{1}}, "album", "", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty token: %v", err)
	}
	if _, err := r.Do(ctx, Source{Base64: "!!! not base64 !!!"}, "album", "", "tok"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad base64: %v", err)
	}
}

func TestDoFileSourceHappyPath(t *testing.T) {
	payload := pngPayload(t)
	path := filepath.Join(t.TempDir(), "DSC_0001.png")
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		t.Fatal(err)
	}

	store := &fakeStore{}
	reg := &fakeRegistrar{}
	b := events.NewBroadcaster()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	r := New(store, reg, b, nil, "albums", fastRetry())
	if _, err := r.Do(context.Background(), Source{Path: path}, "album-1", "Holiday", "tok"); err != nil {
		t.Fatalf("Do: %v", err)
	}

	if len(store.uploads) != 1 || !strings.HasPrefix(store.uploads[0], "albums/image-") {
		t.Fatalf("uploads %v", store.uploads)
	}
	if !strings.HasSuffix(store.uploads[0], ".png") {
		t.Fatalf("expected sniffed .png key, got %s", store.uploads[0])
	}
	if reg.gotAlbum != "album-1" || !strings.HasPrefix(reg.gotURL, "https://cdn.example.com/") {
		t.Fatalf("registrar got %s %s", reg.gotAlbum, reg.gotURL)
	}

	got := drain(ch)
	var actions []string
	for _, e := range got {
		actions = append(actions, e.Action)
	}
	want := []string{events.ActionAdd, events.ActionUpload}
	if fmt.Sprint(actions) != fmt.Sprint(want) {
		t.Fatalf("actions %v, want %v", actions, want)
	}
	if !strings.HasPrefix(got[0].ImageURL, "file://") {
		t.Fatalf("add event should carry the local reference, got %s", got[0].ImageURL)
	}
}

func TestDoRetriesTransientUploadFailures(t *testing.T) {
	store := &fakeStore{failFirst: 2}
	reg := &fakeRegistrar{}
	r := New(store, reg, nil, nil, "albums", fastRetry())

	start := time.Now()
	if _, err := r.Do(context.Background(), Source{Bytes: pngPayload(t)}, "a", "", "tok"); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if store.attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", store.attempts)
	}
	// Two backoff waits: base + 2*base.
	if elapsed := time.Since(start); elapsed < 6*time.Millisecond {
		t.Fatalf("backoff too short: %v", elapsed)
	}
	if reg.calls != 1 {
		t.Fatalf("expected exactly one catalog registration, got %d", reg.calls)
	}
}

func TestDoFallbackEmitsSingleSuccessCycle(t *testing.T) {
	store := &fakeStore{rejectAll: true}
	reg := &fakeRegistrar{}
	b := events.NewBroadcaster()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	r := New(store, reg, b, nil, "albums", fastRetry())
	if _, err := r.Do(context.Background(), Source{Bytes: pngPayload(t)}, "a", "", "tok"); err != nil {
		t.Fatalf("Do: %v", err)
	}

	if len(store.uploads) != 1 || !strings.HasSuffix(store.uploads[0], "-fallback.jpg") {
		t.Fatalf("expected one fallback upload, got %v", store.uploads)
	}
	var uploads int
	for _, e := range drain(ch) {
		if e.Action == events.ActionUpload {
			uploads++
		}
	}
	if uploads != 1 {
		t.Fatalf("expected exactly one upload event, got %d", uploads)
	}
	if reg.calls != 1 {
		t.Fatalf("expected exactly one registration, got %d", reg.calls)
	}
}

func TestDoFallbackImpossibleForUndecodablePayload(t *testing.T) {
	store := &fakeStore{rejectAll: true}
	b := events.NewBroadcaster()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	r := New(store, &fakeRegistrar{}, b, nil, "albums", fastRetry())
	// A TIFF-prefixed payload the stdlib cannot decode.
	payload := []byte{0x49, 0x49, 0x2a, 0x00, 1, 2, 3, 4}
	if _, err := r.Do(context.Background(), Source{Bytes: payload}, "a", "", "tok"); err == nil {
		t.Fatal("expected terminal error")
	}

	sawError := false
	for _, e := range drain(ch) {
		if e.Action == events.ActionError {
			sawError = true
		}
	}
	if !sawError {
		t.Fatal("expected an error event")
	}
}

func TestDoRegistrationFailureEmitsFilenameOnly(t *testing.T) {
	payload := pngPayload(t)
	path := filepath.Join(t.TempDir(), "secret-dir-name", "IMG_9.png")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		t.Fatal(err)
	}

	reg := &fakeRegistrar{failFirst: 99}
	b := events.NewBroadcaster()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	r := New(&fakeStore{}, reg, b, nil, "albums", fastRetry())
	if _, err := r.Do(context.Background(), Source{Path: path}, "a", "", "tok"); err == nil {
		t.Fatal("expected registration failure")
	}
	if reg.calls != 3 {
		t.Fatalf("expected 3 registration attempts, got %d", reg.calls)
	}

	for _, e := range drain(ch) {
		if e.Action == events.ActionError {
			if !strings.Contains(e.Error, "IMG_9.png") {
				t.Fatalf("error should name the file: %q", e.Error)
			}
			if strings.Contains(e.Error, "secret-dir-name") {
				t.Fatalf("error must not leak the full path: %q", e.Error)
			}
			return
		}
	}
	t.Fatal("no error event seen")
}

func TestDoBase64Source(t *testing.T) {
	payload := pngPayload(t)
	encoded := "data:image/png;base64," + base64.StdEncoding.EncodeToString(payload)

	store := &fakeStore{}
	r := New(store, &fakeRegistrar{}, nil, nil, "albums", fastRetry())
	if _, err := r.Do(context.Background(), Source{Base64: encoded}, "a", "", "tok"); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if len(store.uploads) != 1 {
		t.Fatalf("uploads %v", store.uploads)
	}
}

func TestReencodeJPEG(t *testing.T) {
	out, err := reencodeJPEG(pngPayload(t))
	if err != nil {
		t.Fatalf("reencodeJPEG: %v", err)
	}
	// JPEG SOI marker.
	if len(out) < 3 || out[0] != 0xff || out[1] != 0xd8 {
		t.Fatalf("output is not JPEG: % x", out[:3])
	}

	if _, err := reencodeJPEG([]byte("definitely not an image")); err == nil {
		t.Fatal("expected decode failure")
	}
}
