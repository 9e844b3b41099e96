// Package relay pushes validated media to the cloud object store and
// registers the resulting URL with the remote catalog.
//
// A relay run is idempotent from the caller's perspective: repeating it
// for the same file after a partial failure is safe, with duplicate
// suppression left to the remote API.
package relay

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shutterlink/shutterlink/internal/events"
	"github.com/shutterlink/shutterlink/internal/imagesig"
	"github.com/shutterlink/shutterlink/internal/library"
	"github.com/shutterlink/shutterlink/internal/logging"
	"github.com/shutterlink/shutterlink/internal/metrics"
	"github.com/shutterlink/shutterlink/internal/retry"
	"github.com/shutterlink/shutterlink/internal/storage"
)

// ErrInvalidInput is returned when a source or its target album is empty.
var ErrInvalidInput = errors.New("invalid image data, album ID, or token")

var base64Shape = regexp.MustCompile(`^[A-Za-z0-9+/=]+$`)

// Source is one media payload. Exactly one field is set: a filesystem
// path, a base64 string (optionally a data: URI), or raw bytes.
type Source struct {
	Path   string
	Base64 string
	Bytes  []byte
}

// Registrar records an uploaded image URL against a catalog album.
type Registrar interface {
	AddPhoto(ctx context.Context, albumID, imageURL, token string) error
}

// Relay uploads media and registers it with the catalog.
type Relay struct {
	store       storage.ObjectStore
	registrar   Registrar
	broadcaster *events.Broadcaster
	library     *library.Store // optional
	folder      string
	retryCfg    retry.Config
}

// New creates a relay. library may be nil when no local record keeping is
// wanted.
func New(store storage.ObjectStore, registrar Registrar, broadcaster *events.Broadcaster, lib *library.Store, folder string, retryCfg retry.Config) *Relay {
	if folder == "" {
		folder = "albums"
	}
	if retryCfg.MaxAttempts == 0 {
		retryCfg = retry.DefaultConfig()
	}
	return &Relay{
		store:       store,
		registrar:   registrar,
		broadcaster: broadcaster,
		library:     lib,
		folder:      folder,
		retryCfg:    retryCfg,
	}
}

// Do runs the full pipeline for one source: normalize, upload with retry
// and fallback, register with the catalog, and emit milestone events.
// Terminal failures are reported as error events carrying only the file's
// base name, never a full path.
func (r *Relay) Do(ctx context.Context, src Source, albumID, albumLabel, token string) (*library.MediaRecord, error) {
	start := time.Now()

	payload, displayName, fromFile, err := r.normalize(src)
	if err != nil {
		return nil, err
	}
	if albumID == "" || token == "" {
		return nil, ErrInvalidInput
	}

	var rec *library.MediaRecord
	if fromFile {
		// The UI sees the local reference before cloud confirmation.
		localURL := "file://" + filepath.ToSlash(src.Path)
		r.publish(events.Event{
			Action:   events.ActionAdd,
			ImageURL: localURL,
			FilePath: src.Path,
			AlbumID:  albumID,
		})
		rec = r.record(ctx, albumLabel, localURL)
	}

	cloudURL, err := r.upload(ctx, payload, displayName)
	if err != nil {
		r.fail(displayName, albumID, "upload failed: %s")
		metrics.RecordFileIngested("error")
		return nil, err
	}

	if err := r.register(ctx, albumID, cloudURL, token); err != nil {
		r.fail(displayName, albumID, "Database save failed: %s")
		metrics.RecordFileIngested("error")
		return nil, err
	}

	if rec != nil {
		if err := r.library.Promote(ctx, rec.ID, cloudURL); err != nil {
			logging.Error("failed to promote media record",
				zap.String("id", rec.ID), zap.Error(err))
		} else {
			rec.SourceURL = cloudURL
		}
	} else {
		rec = r.record(ctx, albumLabel, cloudURL)
	}

	r.publish(events.Event{
		Action:   events.ActionUpload,
		ImageURL: cloudURL,
		AlbumID:  albumID,
	})
	metrics.RecordFileIngested("uploaded")
	metrics.ObserveUploadDuration(time.Since(start).Seconds())
	logging.Info("media relayed",
		zap.String("file", displayName),
		zap.String("albumId", albumID),
		zap.String("url", cloudURL))
	return rec, nil
}

// normalize turns any source variant into a payload buffer.
func (r *Relay) normalize(src Source) (payload []byte, displayName string, fromFile bool, err error) {
	switch {
	case src.Path != "":
		data, err := os.ReadFile(src.Path)
		if err != nil {
			return nil, "", false, fmt.Errorf("read source file: %w", err)
		}
		return data, filepath.Base(src.Path), true, nil

	case src.Base64 != "":
		s := src.Base64
		if strings.HasPrefix(s, "data:image/") {
			if _, rest, ok := strings.Cut(s, ","); ok {
				s = rest
			}
		}
		if !base64Shape.MatchString(s) {
			return nil, "", false, ErrInvalidInput
		}
		data, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, "", false, ErrInvalidInput
		}
		return data, "pasted image", false, nil

	case len(src.Bytes) > 0:
		return src.Bytes, "buffered image", false, nil

	default:
		return nil, "", false, ErrInvalidInput
	}
}

// upload pushes the payload in its native encoding, retrying transient
// failures. A permanent store rejection falls back once to a JPEG
// re-encode under a distinguishing identifier, so a single bad camera
// format does not block ingestion.
func (r *Relay) upload(ctx context.Context, payload []byte, displayName string) (string, error) {
	publicID := "image-" + uuid.NewString()
	format, _ := imagesig.Sniff(payload)
	key := r.folder + "/" + publicID + extensionFor(format)

	cloudURL, err := retry.DoWithResult(ctx, r.retryCfg, func() (string, error) {
		url, err := r.store.Upload(ctx, key, bytes.NewReader(payload), int64(len(payload)), contentTypeFor(format))
		if err != nil {
			metrics.RecordUploadRetry()
			// Store failures are transient unless proven otherwise below.
			return "", retry.Retryable(err)
		}
		return url, nil
	})
	if err == nil {
		metrics.RecordUpload("success")
		return cloudURL, nil
	}

	logging.Warn("native upload rejected, attempting JPEG fallback",
		zap.String("file", displayName), zap.Error(err))
	reencoded, fallbackErr := reencodeJPEG(payload)
	if fallbackErr != nil {
		metrics.RecordUpload("failure")
		return "", fmt.Errorf("upload %s: %w (fallback: %v)", displayName, err, fallbackErr)
	}

	fallbackKey := r.folder + "/" + publicID + "-fallback.jpg"
	cloudURL, fallbackErr = r.store.Upload(ctx, fallbackKey, bytes.NewReader(reencoded), int64(len(reencoded)), "image/jpeg")
	if fallbackErr != nil {
		metrics.RecordUpload("failure")
		return "", fmt.Errorf("upload %s: %w (fallback: %v)", displayName, err, fallbackErr)
	}
	metrics.RecordUpload("fallback")
	return cloudURL, nil
}

func (r *Relay) register(ctx context.Context, albumID, cloudURL, token string) error {
	return retry.DoNotify(ctx, r.retryCfg, func() error {
		return r.registrar.AddPhoto(ctx, albumID, cloudURL, token)
	}, func(attempt int, err error) {
		metrics.RecordUploadRetry()
		logging.Warn("catalog registration attempt failed",
			zap.Int("attempt", attempt), zap.Error(err))
	})
}

func (r *Relay) record(ctx context.Context, albumLabel, sourceURL string) *library.MediaRecord {
	if r.library == nil {
		return nil
	}
	rec := &library.MediaRecord{AlbumLabel: albumLabel, SourceURL: sourceURL}
	if err := r.library.Create(ctx, rec); err != nil {
		logging.Error("failed to store media record", zap.Error(err))
		return nil
	}
	return rec
}

func (r *Relay) publish(e events.Event) {
	if r.broadcaster != nil {
		r.broadcaster.Publish(e)
	}
}

func (r *Relay) fail(displayName, albumID, format string) {
	r.publish(events.Event{
		Action:  events.ActionError,
		AlbumID: albumID,
		Error:   fmt.Sprintf(format, displayName),
	})
}

func extensionFor(format string) string {
	switch format {
	case "jpeg":
		return ".jpg"
	case "png":
		return ".png"
	case "gif":
		return ".gif"
	case "riff":
		return ".webp"
	case "bmp":
		return ".bmp"
	case "tiff", "cr3":
		return ".tif"
	default:
		return ""
	}
}

func contentTypeFor(format string) string {
	switch format {
	case "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "riff":
		return "image/webp"
	case "bmp":
		return "image/bmp"
	case "tiff", "cr3":
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}
