package http

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"sync"

	"okolitsa/internal/filestore"
	"okolitsa/internal/models"
	"okolitsa/internal/ws"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAPIServer(hub *ws.Hub, blobs filestore.BlobStore, addr string) *APIServer {
	server := ws.NewServer(hub)

	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/api/ws", server.HandleConnections)

	// Attachment download
	mux.HandleFunc("GET /api/files/{id}", NewFileHandler(blobs))

	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *APIServer) Start() error {
	log.Printf("Server started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}

// NewFileHandler serves stored attachment blobs by id. Blobs are
// content-addressed and immutable, so clients may cache them forever.
func NewFileHandler(blobs filestore.BlobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if id == "" {
			http.Error(w, "Missing file id", http.StatusBadRequest)
			return
		}

		rc, err := blobs.Get(id)
		if errors.Is(err, models.ErrNotFound) {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		if err != nil {
			log.Printf("error opening blob %s: %v", id, err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		defer func() { _ = rc.Close() }()

		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		if _, err := io.Copy(w, rc); err != nil {
			log.Printf("error serving blob %s: %v", id, err)
		}
	}
}
