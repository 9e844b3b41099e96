package main

import (
	"context"
	"testing"

	"github.com/shutterlink/shutterlink/internal/catalog"
	"github.com/shutterlink/shutterlink/internal/session"
	"github.com/shutterlink/shutterlink/internal/syncqueue"
)

type fakeChecker struct{ online bool }

func (f fakeChecker) Online(context.Context) bool { return f.online }

type fakeRemote struct {
	calls  []string
	tokens []string
}

func (f *fakeRemote) CreateAlbum(_ context.Context, album catalog.Album, token string) error {
	f.calls = append(f.calls, "create:"+album.Name)
	f.tokens = append(f.tokens, token)
	return nil
}

func (f *fakeRemote) UpdateAlbum(_ context.Context, id string, _ catalog.Album, token string) error {
	f.calls = append(f.calls, "update:"+id)
	f.tokens = append(f.tokens, token)
	return nil
}

func (f *fakeRemote) DeleteAlbum(_ context.Context, id, token string) error {
	f.calls = append(f.calls, "delete:"+id)
	f.tokens = append(f.tokens, token)
	return nil
}

func newFlushFixture(t *testing.T, withSession bool) (*syncqueue.Queue, *session.Registry) {
	t.Helper()
	queue, err := syncqueue.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open queue: %v", err)
	}
	registry, err := session.NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if withSession {
		if _, err := registry.Put("cam", t.TempDir(), "album-1", "", "tok"); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	return queue, registry
}

func TestFinalFlushReplaysQueue(t *testing.T) {
	queue, registry := newFlushFixture(t, true)
	if err := queue.Enqueue(syncqueue.Entry{Action: syncqueue.ActionCreate, Album: catalog.Album{Name: "Holiday"}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := queue.Enqueue(syncqueue.Entry{Action: syncqueue.ActionDelete, AlbumID: "old"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	remote := &fakeRemote{}
	finalFlush(queue, registry, fakeChecker{online: true}, remote)

	if len(remote.calls) != 2 || remote.calls[0] != "create:Holiday" || remote.calls[1] != "delete:old" {
		t.Fatalf("calls %v", remote.calls)
	}
	for _, token := range remote.tokens {
		if token != "tok" {
			t.Fatalf("flushed with token %q", token)
		}
	}
	if queue.Len() != 0 {
		t.Fatalf("queue depth %d after flush", queue.Len())
	}
}

func TestFinalFlushNoTokenLeavesQueue(t *testing.T) {
	queue, registry := newFlushFixture(t, false)
	if err := queue.Enqueue(syncqueue.Entry{Action: syncqueue.ActionDelete, AlbumID: "a"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	remote := &fakeRemote{}
	finalFlush(queue, registry, fakeChecker{online: true}, remote)

	if len(remote.calls) != 0 {
		t.Fatalf("flushed without a token: %v", remote.calls)
	}
	if queue.Len() != 1 {
		t.Fatal("entries must survive a skipped flush")
	}
}

func TestFinalFlushOfflineLeavesQueue(t *testing.T) {
	queue, registry := newFlushFixture(t, true)
	if err := queue.Enqueue(syncqueue.Entry{Action: syncqueue.ActionDelete, AlbumID: "a"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	remote := &fakeRemote{}
	finalFlush(queue, registry, fakeChecker{online: false}, remote)

	if len(remote.calls) != 0 {
		t.Fatalf("offline flush hit the remote: %v", remote.calls)
	}
	if queue.Len() != 1 {
		t.Fatal("entries must survive an offline flush")
	}
}
