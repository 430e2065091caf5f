// Package gateway exposes the HTTP surface for file uploads, downloads,
// publishing, and metadata, enforcing one authorization policy per
// operation before revealing or mutating any restricted record.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/altrentals/deedgate/internal/auth"
	"github.com/altrentals/deedgate/internal/config"
	"github.com/altrentals/deedgate/internal/model"
	"github.com/altrentals/deedgate/internal/queue"
	"github.com/altrentals/deedgate/internal/signing"
)

// RecordStore persists file metadata records. Implemented by the SQL
// repository in production and by the in-memory store in tests.
type RecordStore interface {
	Create(ctx context.Context, rec *model.FileRecord) error
	Get(ctx context.Context, fileID string) (*model.FileRecord, error)
	Publish(ctx context.Context, fileID, newFileID string) error
	SetExtractResult(ctx context.Context, fileID string, status model.ExtractStatus, text string) error
}

// PrivateStore holds restricted file bytes keyed by a gateway-assigned id.
type PrivateStore interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// PublicStore holds published file bytes keyed by content address.
type PublicStore interface {
	Add(ctx context.Context, reader io.ReadSeeker, size int64, contentType string) (string, error)
	AddBytes(ctx context.Context, data []byte, contentType string) (string, error)
	Get(ctx context.Context, addr string) (io.ReadCloser, error)
}

// TaskQueue schedules background work. May be nil, in which case no jobs
// are enqueued; the request path never depends on a job having run.
type TaskQueue interface {
	EnqueueExtract(ctx context.Context, payload queue.ExtractPayload) error
	EnqueueCleanup(ctx context.Context, payload queue.CleanupPayload) error
}

// Server exposes the file gateway HTTP endpoints.
type Server struct {
	cfg      *config.Config
	verifier *auth.Verifier
	signer   *signing.Signer
	records  RecordStore
	private  PrivateStore
	public   PublicStore
	tasks    TaskQueue
	server   *http.Server
	once     sync.Once
}

// New constructs a Server.
func New(cfg *config.Config, verifier *auth.Verifier, signer *signing.Signer, records RecordStore, private PrivateStore, public PublicStore, tasks TaskQueue) *Server {
	return &Server{
		cfg:      cfg,
		verifier: verifier,
		signer:   signer,
		records:  records,
		private:  private,
		public:   public,
		tasks:    tasks,
	}
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:    s.cfg.Address,
			Handler: s.Handler(),
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	log.Printf("gateway listening on %s", s.cfg.Address)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/files", s.handleFiles)
	return corsMiddleware(loggingMiddleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleFiles dispatches on method plus query selectors: POST with
// publish=true publishes, isJson=true stores a JSON document, otherwise a
// multipart upload; GET with download=true streams bytes, signedUrl=true
// mints a signed link, otherwise returns record info.
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		q := r.URL.Query()
		switch {
		case q.Get("publish") == "true":
			s.handlePublish(w, r)
		case q.Get("isJson") != "":
			s.handleUploadJSON(w, r)
		default:
			s.handleUpload(w, r)
		}
	case http.MethodGet:
		q := r.URL.Query()
		switch {
		case q.Get("download") == "true":
			s.handleDownload(w, r)
		case q.Get("signedUrl") == "true":
			s.handleSignedURL(w, r)
		default:
			s.handleGetInfo(w, r)
		}
	default:
		http.Error(w, "method not supported", http.StatusMethodNotAllowed)
	}
}

// identity resolves the caller from the authorization header. An absent
// header is the anonymous identity; a present but invalid token is an error.
func (s *Server) identity(r *http.Request) (auth.Identity, error) {
	return s.verifier.Verify(r.Header.Get("Authorization"))
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func respondText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s (%s)", r.Method, r.URL.Path, time.Since(start))
	})
}
