package syncqueue

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shutterlink/shutterlink/internal/catalog"
)

type fakeChecker struct{ online bool }

func (f fakeChecker) Online(context.Context) bool { return f.online }

type fakeRemote struct {
	calls   []string
	failIDs map[string]error
}

func (f *fakeRemote) record(call, id string) error {
	f.calls = append(f.calls, call+":"+id)
	if err, ok := f.failIDs[id]; ok {
		return err
	}
	return nil
}

func (f *fakeRemote) CreateAlbum(_ context.Context, album catalog.Album, _ string) error {
	return f.record("create", album.Name)
}

func (f *fakeRemote) UpdateAlbum(_ context.Context, id string, _ catalog.Album, _ string) error {
	return f.record("update", id)
}

func (f *fakeRemote) DeleteAlbum(_ context.Context, id, _ string) error {
	return f.record("delete", id)
}

func TestEnqueuePersistsAcrossRestart(t *testing.T) {
	dataDir := t.TempDir()

	q1, err := Open(dataDir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := q1.Enqueue(Entry{Action: ActionCreate, Album: catalog.Album{Name: "Holiday"}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q1.Enqueue(Entry{Action: ActionDelete, AlbumID: "old"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Simulate a process restart.
	q2, err := Open(dataDir)
	if err != nil {
		t.Fatalf("Open (restart): %v", err)
	}
	if q2.Len() != 2 {
		t.Fatalf("expected 2 entries after restart, got %d", q2.Len())
	}
	entries := q2.Entries()
	if entries[0].Action != ActionCreate || entries[1].Action != ActionDelete {
		t.Fatalf("FIFO order lost: %+v", entries)
	}
	if entries[0].EnqueuedAt.IsZero() {
		t.Fatal("expected enqueuedAt to be set")
	}
}

func TestFlushNoOpWhenOffline(t *testing.T) {
	q, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = q.Enqueue(Entry{Action: ActionDelete, AlbumID: "a"})

	remote := &fakeRemote{}
	n, err := q.Flush(context.Background(), fakeChecker{online: false}, remote, "tok")
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if n != 0 || len(remote.calls) != 0 {
		t.Fatal("offline flush must not touch the remote")
	}
	if q.Len() != 1 {
		t.Fatal("offline flush must not drop entries")
	}
}

func TestFlushReplaysFIFOAndClears(t *testing.T) {
	dataDir := t.TempDir()
	q, err := Open(dataDir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = q.Enqueue(Entry{Action: ActionCreate, Album: catalog.Album{Name: "A"}})
	_ = q.Enqueue(Entry{Action: ActionUpdate, AlbumID: "1", Album: catalog.Album{Name: "B"}})
	_ = q.Enqueue(Entry{Action: ActionDelete, AlbumID: "2"})

	remote := &fakeRemote{}
	n, err := q.Flush(context.Background(), fakeChecker{online: true}, remote, "tok")
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 flushed, got %d", n)
	}
	want := []string{"create:A", "update:1", "delete:2"}
	for i := range want {
		if remote.calls[i] != want[i] {
			t.Fatalf("calls %v, want %v", remote.calls, want)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("queue not cleared, %d left", q.Len())
	}

	// The cleared state must be durable.
	q2, _ := Open(dataDir)
	if q2.Len() != 0 {
		t.Fatal("cleared queue reappeared after restart")
	}
}

func TestFlushSkipsFailedEntriesAndKeepsThem(t *testing.T) {
	q, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = q.Enqueue(Entry{Action: ActionDelete, AlbumID: "ok-1"})
	_ = q.Enqueue(Entry{Action: ActionDelete, AlbumID: "bad"})
	_ = q.Enqueue(Entry{Action: ActionDelete, AlbumID: "ok-2"})

	remote := &fakeRemote{failIDs: map[string]error{"bad": errors.New("boom")}}
	n, err := q.Flush(context.Background(), fakeChecker{online: true}, remote, "tok")
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 flushed, got %d", n)
	}
	// The failure must not abort the batch: ok-2 was still attempted.
	if len(remote.calls) != 3 {
		t.Fatalf("expected 3 attempts, got %v", remote.calls)
	}
	// The failed entry stays for the next flush.
	if q.Len() != 1 || q.Entries()[0].AlbumID != "bad" {
		t.Fatalf("expected only the failed entry queued, got %+v", q.Entries())
	}
}

func TestOpenToleratesCorruptFile(t *testing.T) {
	dataDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dataDir, "syncQueue.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	q, err := Open(dataDir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if q.Len() != 0 {
		t.Fatal("corrupt file should yield an empty queue")
	}
}
