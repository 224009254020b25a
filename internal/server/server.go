package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"dealfiles/internal/blobstore"
	"dealfiles/internal/store"
)

const (
	allowRemoteEnvKey = "DEALFILES_ALLOW_REMOTE"
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 5 * time.Minute
	writeTimeout      = 5 * time.Minute
	idleTimeout       = 60 * time.Second

	DefaultMaxUploadBytes     int64 = 100 << 20 // 100 MiB
	DefaultMultipartMaxMemory int64 = 8 << 20   // 8 MiB
	DefaultOrphanGrace              = 24 * time.Hour
	// MinOrphanGrace outlasts the longest request that can sit between a
	// blob write and its catalog insert.
	MinOrphanGrace = 2 * readTimeout
)

// Options tunes upload limits, the orphan sweep and authentication.
// Zero values select the defaults.
type Options struct {
	MaxUploadBytes     int64
	MultipartMaxMemory int64
	OrphanGrace        time.Duration
	// APIToken, when set, is required as a bearer token on every route
	// except /health.
	APIToken string
	Logger   *slog.Logger
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Server wraps HTTP handlers for the dealfiles API.
type Server struct {
	addr            string
	attachments     *AttachmentService
	deals           store.DealRegistry
	pinger          pinger
	logger          *slog.Logger
	apiToken        string
	maxUploadBytes  int64
	multipartMemory int64
	orphanGrace     time.Duration
}

// New creates a new server instance. The catalog is also used for health
// checks when it can be pinged.
func New(addr string, catalog store.AttachmentCatalog, deals store.DealRegistry, blobs blobstore.BlobStore, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		addr:            addr,
		attachments:     NewAttachmentService(catalog, deals, blobs, logger),
		deals:           deals,
		logger:          logger,
		apiToken:        strings.TrimSpace(opts.APIToken),
		maxUploadBytes:  opts.MaxUploadBytes,
		multipartMemory: opts.MultipartMaxMemory,
		orphanGrace:     opts.OrphanGrace,
	}
	if p, ok := catalog.(pinger); ok {
		s.pinger = p
	}
	if s.maxUploadBytes <= 0 {
		s.maxUploadBytes = DefaultMaxUploadBytes
	}
	if s.multipartMemory <= 0 {
		s.multipartMemory = DefaultMultipartMaxMemory
	}
	switch {
	case s.orphanGrace <= 0:
		s.orphanGrace = DefaultOrphanGrace
	case s.orphanGrace < MinOrphanGrace:
		logger.Warn("orphan grace below minimum; using minimum", "configured", s.orphanGrace, "minimum", MinOrphanGrace)
		s.orphanGrace = MinOrphanGrace
	}
	return s
}

// Handler returns the routed, logged HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

// ListenAndServe starts the HTTP server and shuts it down when ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.log().Info("starting server", "addr", s.addr)
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.log().Info("shutting down server", "addr", s.addr)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

// ListenAddr converts a base API URL into a listen address.
func ListenAddr(apiURL string) (string, error) {
	if apiURL == "" {
		return "", fmt.Errorf("api url is required")
	}
	if u, err := url.Parse(apiURL); err == nil && u.Host != "" {
		host := u.Hostname()
		if !isAllowedListenHost(host) {
			return "", fmt.Errorf("remote listen host %q requires %s=true", host, allowRemoteEnvKey)
		}
		return u.Host, nil
	}

	host, _, err := net.SplitHostPort(apiURL)
	if err == nil && !isAllowedListenHost(host) {
		return "", fmt.Errorf("remote listen host %q requires %s=true", host, allowRemoteEnvKey)
	}

	return apiURL, nil
}

func isAllowedListenHost(host string) bool {
	if host == "" {
		return true
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv(allowRemoteEnvKey)), "true") {
		return true
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Server) withAPIToken(next http.Handler) http.Handler {
	if s.apiToken == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.apiToken)) != 1 {
			err := makeAPIError(http.StatusUnauthorized, "unauthorized", ErrCodeUnauthorized, fmt.Errorf("missing or invalid bearer token"))
			s.writeErrorReq(w, r, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return slog.Default()
}
