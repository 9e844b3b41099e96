// Package syncqueue is the durable queue of album mutations performed
// while offline. Entries are appended to a JSON file and replayed against
// the catalog API once connectivity is confirmed.
//
// Delivery is at-least-once: a crash between a successful remote call and
// queue truncation can replay an entry, which the remote API de-duplicates
// by natural key.
package syncqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shutterlink/shutterlink/internal/catalog"
	"github.com/shutterlink/shutterlink/internal/logging"
	"github.com/shutterlink/shutterlink/internal/metrics"
)

const queueFile = "syncQueue.json"

// Mutation actions.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Entry is one queued album mutation.
type Entry struct {
	Action     string        `json:"action"`
	AlbumID    string        `json:"albumId,omitempty"` // update/delete target
	Album      catalog.Album `json:"album,omitempty"`   // create/update payload
	EnqueuedAt time.Time     `json:"enqueuedAt"`
}

// Checker reports whether the remote side is reachable right now.
type Checker interface {
	Online(ctx context.Context) bool
}

// Remote is the subset of the catalog client the queue replays against.
type Remote interface {
	CreateAlbum(ctx context.Context, album catalog.Album, token string) error
	UpdateAlbum(ctx context.Context, id string, album catalog.Album, token string) error
	DeleteAlbum(ctx context.Context, id, token string) error
}

// Queue is a file-backed FIFO of album mutations.
type Queue struct {
	mu      sync.Mutex
	path    string
	entries []Entry
}

// Open loads (or initializes) the queue file under dataDir.
func Open(dataDir string) (*Queue, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	q := &Queue{path: filepath.Join(dataDir, queueFile)}

	data, err := os.ReadFile(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			metrics.SetSyncQueueDepth(0)
			return q, nil
		}
		return nil, fmt.Errorf("load sync queue: %w", err)
	}
	if err := json.Unmarshal(data, &q.entries); err != nil {
		// A corrupt queue file is not worth crashing over; the edits it
		// held are lost either way. Start fresh and keep the engine up.
		logging.Error("corrupt sync queue file, starting empty", zap.Error(err))
		q.entries = nil
	}
	metrics.SetSyncQueueDepth(len(q.entries))
	return q, nil
}

// Enqueue appends an entry and persists the whole queue.
func (q *Queue) Enqueue(entry Entry) error {
	if entry.EnqueuedAt.IsZero() {
		entry.EnqueuedAt = time.Now().UTC()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, entry)
	if err := q.saveLocked(); err != nil {
		// Roll back the in-memory append so state matches disk.
		q.entries = q.entries[:len(q.entries)-1]
		return err
	}
	logging.Info("queued offline mutation",
		zap.String("action", entry.Action), zap.String("albumId", entry.AlbumID))
	metrics.SetSyncQueueDepth(len(q.entries))
	return nil
}

// Len returns the number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Entries returns a snapshot of the pending entries in FIFO order.
func (q *Queue) Entries() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Flush replays pending entries against the remote in FIFO order. It is a
// no-op when the checker reports offline. Individual entry failures are
// logged and skipped; failed entries stay queued for the next flush while
// everything that succeeded is removed. Returns the number flushed.
func (q *Queue) Flush(ctx context.Context, checker Checker, remote Remote, token string) (int, error) {
	// Probe at call time, never from a cached result.
	if !checker.Online(ctx) {
		logging.Debug("sync flush skipped: offline")
		return 0, nil
	}

	q.mu.Lock()
	pending := make([]Entry, len(q.entries))
	copy(pending, q.entries)
	q.mu.Unlock()

	if len(pending) == 0 {
		return 0, nil
	}
	logging.Info("flushing sync queue", zap.Int("entries", len(pending)))

	var failed []Entry
	flushed := 0
	for _, entry := range pending {
		if err := replay(ctx, remote, entry, token); err != nil {
			logging.Error("sync entry failed, skipping",
				zap.String("action", entry.Action),
				zap.String("albumId", entry.AlbumID),
				zap.Error(err))
			metrics.RecordSyncFlush("failure")
			failed = append(failed, entry)
			continue
		}
		metrics.RecordSyncFlush("success")
		flushed++
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	// Keep entries enqueued during the flush in addition to the failures.
	newer := q.entries[len(pending):]
	q.entries = append(failed, newer...)
	if err := q.saveLocked(); err != nil {
		return flushed, err
	}
	metrics.SetSyncQueueDepth(len(q.entries))
	return flushed, nil
}

func replay(ctx context.Context, remote Remote, entry Entry, token string) error {
	switch entry.Action {
	case ActionCreate:
		return remote.CreateAlbum(ctx, entry.Album, token)
	case ActionUpdate:
		return remote.UpdateAlbum(ctx, entry.AlbumID, entry.Album, token)
	case ActionDelete:
		return remote.DeleteAlbum(ctx, entry.AlbumID, token)
	default:
		return fmt.Errorf("unknown sync action %q", entry.Action)
	}
}

func (q *Queue) saveLocked() error {
	data, err := json.MarshalIndent(q.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sync queue: %w", err)
	}
	if q.entries == nil {
		data = []byte("[]")
	}
	if err := os.WriteFile(q.path, data, 0o600); err != nil {
		return fmt.Errorf("save sync queue: %w", err)
	}
	return nil
}
