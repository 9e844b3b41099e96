// Package api exposes the engine's control plane: session lifecycle,
// credential management, direct uploads, album mutations with offline
// queueing, and the live event stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/shutterlink/shutterlink/internal/catalog"
	"github.com/shutterlink/shutterlink/internal/events"
	"github.com/shutterlink/shutterlink/internal/ingest"
	"github.com/shutterlink/shutterlink/internal/logging"
	"github.com/shutterlink/shutterlink/internal/relay"
	"github.com/shutterlink/shutterlink/internal/session"
	"github.com/shutterlink/shutterlink/internal/syncqueue"
)

// IngestControl is the session lifecycle surface the handlers drive.
type IngestControl interface {
	StartSession(username, directory, albumID, albumLabel, token string) (*ingest.ConnectionDescriptor, error)
	Descriptor() (*ingest.ConnectionDescriptor, bool)
	Status() ingest.Status
	CloseServer()
	ResetAll()
}

// AlbumService is the remote catalog surface for album mutations plus the
// reachability probe that decides between direct calls and queueing.
type AlbumService interface {
	Online(ctx context.Context) bool
	ListAlbums(ctx context.Context, token string) ([]catalog.Album, error)
	CreateAlbum(ctx context.Context, album catalog.Album, token string) error
	UpdateAlbum(ctx context.Context, id string, album catalog.Album, token string) error
	DeleteAlbum(ctx context.Context, id, token string) error
}

// Server holds the control plane's dependencies.
type Server struct {
	ingest      IngestControl
	registry    *session.Registry
	relayer     ingest.Relayer
	broadcaster *events.Broadcaster
	albums      AlbumService
	queue       *syncqueue.Queue
}

// New creates the control plane server.
func New(ing IngestControl, registry *session.Registry, relayer ingest.Relayer, broadcaster *events.Broadcaster, albums AlbumService, queue *syncqueue.Queue) *Server {
	return &Server{
		ingest:      ing,
		registry:    registry,
		relayer:     relayer,
		broadcaster: broadcaster,
		albums:      albums,
		queue:       queue,
	}
}

// Routes returns the HTTP handler for all control plane endpoints.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /api/v1/ftp/start", s.handleFTPStart)
	mux.HandleFunc("GET /api/v1/ftp/status", s.handleFTPStatus)
	mux.HandleFunc("GET /api/v1/ftp/credentials", s.handleFTPCredentials)
	mux.HandleFunc("POST /api/v1/ftp/close", s.handleFTPClose)
	mux.HandleFunc("POST /api/v1/ftp/reset", s.handleFTPReset)
	mux.HandleFunc("POST /api/v1/ftp/regenerate-password", s.handleRegeneratePassword)
	mux.HandleFunc("POST /api/v1/ftp/test-credentials", s.handleTestCredentials)

	mux.HandleFunc("POST /api/v1/upload", s.handleUpload)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)

	mux.HandleFunc("GET /api/v1/albums", s.handleListAlbums)
	mux.HandleFunc("POST /api/v1/albums", s.handleCreateAlbum)
	mux.HandleFunc("PUT /api/v1/albums/{id}", s.handleUpdateAlbum)
	mux.HandleFunc("DELETE /api/v1/albums/{id}", s.handleDeleteAlbum)
	mux.HandleFunc("POST /api/v1/sync/flush", s.handleSyncFlush)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startRequest struct {
	Username  string `json:"username"`
	Directory string `json:"directory"`
	AlbumID   string `json:"albumId"`
	AlbumName string `json:"albumName"`
	Token     string `json:"token"`
}

func (s *Server) handleFTPStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Token == "" {
		req.Token = bearerToken(r)
	}

	desc, err := s.ingest.StartSession(req.Username, req.Directory, req.AlbumID, req.AlbumName, req.Token)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrMissingField), errors.Is(err, session.ErrBadDirectory):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			logging.Error("session start failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not start FTP session")
		}
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

func (s *Server) handleFTPStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ingest.Status())
}

func (s *Server) handleFTPCredentials(w http.ResponseWriter, r *http.Request) {
	desc, ok := s.ingest.Descriptor()
	if !ok {
		writeError(w, http.StatusNotFound, "no FTP session is running")
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

func (s *Server) handleFTPClose(w http.ResponseWriter, r *http.Request) {
	s.ingest.CloseServer()
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (s *Server) handleFTPReset(w http.ResponseWriter, r *http.Request) {
	s.ingest.ResetAll()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleRegeneratePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	password, err := s.registry.Regenerate(req.Username)
	if err != nil {
		logging.Error("password regeneration failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not persist new password")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"password": password})
}

func (s *Server) handleTestCredentials(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{
		"valid": s.registry.TestCredentials(req.Username, req.Password),
	})
}

type uploadRequest struct {
	ImageData string `json:"imageData"`
	AlbumID   string `json:"albumId"`
	AlbumName string `json:"albumName"`
	Token     string `json:"token"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Token == "" {
		req.Token = bearerToken(r)
	}

	rec, err := s.relayer.Do(r.Context(), relay.Source{Base64: req.ImageData}, req.AlbumID, req.AlbumName, req.Token)
	if err != nil {
		if errors.Is(err, relay.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logging.Error("direct upload failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "upload failed")
		return
	}

	resp := map[string]string{"status": "uploaded"}
	if rec != nil {
		resp["imageUrl"] = rec.SourceURL
		resp["id"] = rec.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleEvents streams ingest events as server-sent events until the
// client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				logging.Error("failed to marshal event", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (s *Server) handleListAlbums(w http.ResponseWriter, r *http.Request) {
	albums, err := s.albums.ListAlbums(r.Context(), bearerToken(r))
	if err != nil {
		writeCatalogError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, albums)
}

func (s *Server) handleCreateAlbum(w http.ResponseWriter, r *http.Request) {
	var album catalog.Album
	if err := json.NewDecoder(r.Body).Decode(&album); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if album.Name == "" {
		writeError(w, http.StatusBadRequest, "album name is required")
		return
	}

	if !s.albums.Online(r.Context()) {
		s.enqueue(w, syncqueue.Entry{Action: syncqueue.ActionCreate, Album: album})
		return
	}
	if err := s.albums.CreateAlbum(r.Context(), album, bearerToken(r)); err != nil {
		writeCatalogError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

func (s *Server) handleUpdateAlbum(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var album catalog.Album
	if err := json.NewDecoder(r.Body).Decode(&album); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if !s.albums.Online(r.Context()) {
		s.enqueue(w, syncqueue.Entry{Action: syncqueue.ActionUpdate, AlbumID: id, Album: album})
		return
	}
	if err := s.albums.UpdateAlbum(r.Context(), id, album, bearerToken(r)); err != nil {
		writeCatalogError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleDeleteAlbum(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if !s.albums.Online(r.Context()) {
		s.enqueue(w, syncqueue.Entry{Action: syncqueue.ActionDelete, AlbumID: id})
		return
	}
	if err := s.albums.DeleteAlbum(r.Context(), id, bearerToken(r)); err != nil {
		writeCatalogError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleSyncFlush(w http.ResponseWriter, r *http.Request) {
	flushed, err := s.queue.Flush(r.Context(), s.albums, s.albums, bearerToken(r))
	if err != nil {
		logging.Error("sync flush failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not persist queue state")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"flushed": flushed,
		"pending": s.queue.Len(),
	})
}

// enqueue stores an offline album mutation and acknowledges it as accepted.
func (s *Server) enqueue(w http.ResponseWriter, entry syncqueue.Entry) {
	if err := s.queue.Enqueue(entry); err != nil {
		logging.Error("failed to queue offline mutation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not queue mutation")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"queued":  true,
		"pending": s.queue.Len(),
	})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return token
	}
	return ""
}

func writeCatalogError(w http.ResponseWriter, err error) {
	var statusErr *catalog.StatusError
	if errors.As(err, &statusErr) {
		writeError(w, statusErr.StatusCode, statusErr.Message)
		return
	}
	writeError(w, http.StatusBadGateway, "catalog request failed")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
