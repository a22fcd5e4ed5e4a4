package service

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/docstore"
	_ "gocloud.dev/docstore/gcpfirestore"
	"gocloud.dev/docstore/memdocstore"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/conancrates/conancrates/internal/catalog"
	"github.com/conancrates/conancrates/internal/config"
	"github.com/conancrates/conancrates/internal/registry"
	"github.com/conancrates/conancrates/internal/storage"
)

var tracer = otel.Tracer("conancrates/internal/service")

type contextKey string

const userContextKey contextKey = "user"

func contextWithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

func userFromContext(ctx context.Context) string {
	if user, ok := ctx.Value(userContextKey).(string); ok {
		return user
	}
	return ""
}

// tokenInfo holds information about an authentication token.
type tokenInfo struct {
	Username  string
	ExpiresAt time.Time // Zero value means never expires (for static tokens)
}

// IsExpired returns true if the token has expired.
func (t *tokenInfo) IsExpired() bool {
	if t.ExpiresAt.IsZero() {
		return false // Never expires
	}
	return time.Now().After(t.ExpiresAt)
}

// Service is the HTTP front of the registry: the Conan-compatible API,
// the bundle endpoints and the admin surface.
type Service struct {
	conf   *config.Config
	server *http.Server
	cert   *tls.Certificate
	mu     sync.RWMutex // protects tokens and users
	tokens map[string]*tokenInfo
	users  map[string]string
	reg    *registry.Registry
}

func New(c *config.Config) (*Service, error) {
	svc := &Service{
		conf:   c,
		tokens: map[string]*tokenInfo{},
		users:  map[string]string{},
	}

	if svc.conf.Address == "" {
		svc.conf.Address = ":8080"
	}

	for k, v := range c.Users {
		svc.users[k] = v
	}

	if svc.conf.AdminToken != "" {
		svc.users["admin"] = svc.conf.AdminToken
		// Admin token never expires
		svc.tokens[svc.conf.AdminToken] = &tokenInfo{Username: "admin"}
	}

	for k, v := range svc.users {
		// Static user tokens never expire
		svc.tokens[v] = &tokenInfo{Username: k}
	}

	// Load TLS certificate if configured (from files or PEM strings)
	if c.TLS != nil {
		cert, err := loadTLSCert(c.TLS)
		if err != nil {
			return nil, err
		}
		if cert != nil {
			svc.cert = cert
		}
	}

	blobURL := c.Storage.Blob
	if blobURL == "" {
		blobURL = "mem://"
	}
	bucket, err := blob.OpenBucket(context.Background(), blobURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob bucket: %w", err)
	}
	blobStore := storage.NewBlobStore(bucket)
	slog.Info("Blob storage initialized", "url", blobURL)

	cat, err := openCatalog(c.Storage.Catalog)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	slog.Info("Catalog storage initialized")

	svc.reg = registry.New(cat, blobStore, c.Host)

	var handler http.Handler = svc.routes()
	// Debug middleware - enable with CONANCRATES_DEBUG_HTTP=1
	if os.Getenv("CONANCRATES_DEBUG_HTTP") == "1" {
		handler = debugMiddleware(handler)
		slog.Info("Debug HTTP logging enabled")
	}

	svc.server = &http.Server{
		Addr:    svc.conf.Address,
		Handler: handler,
	}

	if svc.cert != nil {
		svc.server.TLSConfig = &tls.Config{Certificates: []tls.Certificate{*svc.cert}}
	}

	return svc, nil
}

func (svc *Service) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)

	r.Get("/v1/ping", svc.handlePing)
	r.Get("/v1/users/authenticate", svc.handleAuthenticate)
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ready")
	})
	r.Get("/livez", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "live")
	})

	r.Group(func(r chi.Router) {
		if !svc.conf.NoLogin {
			r.Use(svc.requireAuth)
		}

		r.Get("/v1/users/check_credentials", svc.handleCheckCredentials)

		r.Get("/v2/conans/search", svc.handleSearch)
		r.Get("/topics", svc.handleListTopics)
		r.Get("/topics/{slug}", svc.handleGetTopic)
		r.Post("/v2/upload", svc.handleUpload)
		r.Post("/v2/conans/{name}/{version}/recipe", svc.handleUploadRecipe)
		r.Post("/v2/conans/{name}/{version}/packages/{packageID}", svc.handleUploadBinary)
		r.Get("/v2/conans/{name}/{version}/recipe/manifest", svc.handleRecipeManifest)

		r.Route("/packages/{name}/{version}", func(r chi.Router) {
			r.Get("/manifest", svc.handleManifest)
			r.Get("/binaries", svc.handleListBinaries)
			r.Get("/binaries/{packageID}/download", svc.handleDownloadBinary)
			r.Get("/recipe/download", svc.handleDownloadRecipe)
			r.Post("/binaries/{packageID}/crate", svc.handleUploadCrate)
			r.Get("/binaries/{packageID}/crate", svc.handleDownloadCrate)
			r.Get("/bundle/preview", svc.handleBundlePreview)
			r.Get("/bundle", svc.handleBundle)
		})

		r.Group(func(r chi.Router) {
			r.Use(svc.requireAdmin)
			r.Delete("/packages/{name}", svc.handleDeletePackage)
			r.Delete("/packages/{name}/{version}", svc.handleDeleteVersion)
			r.Delete("/packages/{name}/{version}/binaries/{packageID}", svc.handleDeleteBinary)
		})
	})

	return r
}

func (svc *Service) Serve(ctx context.Context) error {
	if svc.cert != nil {
		svc.server.TLSConfig = &tls.Config{Certificates: []tls.Certificate{*svc.cert}}
		if err := http2.ConfigureServer(svc.server, nil); err != nil {
			return err
		}
		return svc.server.ListenAndServeTLS("", "")
	}
	h2s := &http2.Server{}
	handler := h2c.NewHandler(svc.server.Handler, h2s)
	svc.server.Handler = handler
	svc.server.BaseContext = func(listener net.Listener) context.Context {
		return ctx
	}
	return svc.server.ListenAndServe()
}

func (svc *Service) Shutdown(ctx context.Context) error {
	return svc.server.Shutdown(ctx)
}

// Registry exposes the orchestration core, mainly for tests.
func (svc *Service) Registry() *registry.Registry {
	return svc.reg
}

func loadTLSCert(tlsConf *config.TLS) (*tls.Certificate, error) {
	switch {
	case tlsConf.CertFile != "" && tlsConf.KeyFile != "":
		// Load from files
		cert, err := tls.LoadX509KeyPair(tlsConf.CertFile, tlsConf.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS certificate from files: %w", err)
		}
		slog.Info("TLS enabled", "cert", tlsConf.CertFile)
		return &cert, nil
	case tlsConf.CertPEM != "" && tlsConf.KeyPEM != "":
		// Load from PEM strings (e.g., from env vars via ${TLS_CERT})
		cert, err := tls.X509KeyPair([]byte(tlsConf.CertPEM), []byte(tlsConf.KeyPEM))
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS certificate from PEM: %w", err)
		}
		slog.Info("TLS enabled from PEM")
		return &cert, nil
	default:
		// Incomplete TLS config
		return nil, nil
	}
}

// openCatalog opens the five catalog collections. Unset URLs fall back to
// in-memory collections, which suits development and tests; production
// deployments point each collection at a docstore provider URL.
func openCatalog(c config.Catalog) (catalog.Store, error) {
	open := func(url, keyField string) (*docstore.Collection, error) {
		if url == "" {
			return memdocstore.OpenCollection(keyField, nil)
		}
		return docstore.OpenCollection(context.Background(), url)
	}

	packages, err := open(c.Packages, "name")
	if err != nil {
		return nil, fmt.Errorf("packages collection: %w", err)
	}
	versions, err := open(c.Versions, "id")
	if err != nil {
		return nil, fmt.Errorf("versions collection: %w", err)
	}
	binaries, err := open(c.Binaries, "package_id")
	if err != nil {
		return nil, fmt.Errorf("binaries collection: %w", err)
	}
	dependencies, err := open(c.Dependencies, "id")
	if err != nil {
		return nil, fmt.Errorf("dependencies collection: %w", err)
	}
	topics, err := open(c.Topics, "slug")
	if err != nil {
		return nil, fmt.Errorf("topics collection: %w", err)
	}
	return catalog.NewDocStore(packages, versions, binaries, dependencies, topics), nil
}

const (
	authenticationHeader      = "Authorization"
	authenticationTokenPrefix = "Bearer "

	// TTL for tokens issued by the authenticate endpoint.
	issuedTokenTTL = 24 * time.Hour
)

func (svc *Service) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := r.Header.Get(authenticationHeader)
		if hdr == "" {
			writeErrorStatus(w, http.StatusUnauthorized, "no token provided")
			return
		}

		if !strings.HasPrefix(hdr, authenticationTokenPrefix) {
			writeErrorStatus(w, http.StatusUnauthorized, "invalid auth header")
			return
		}

		tokenString := strings.TrimSpace(strings.TrimPrefix(hdr, authenticationTokenPrefix))
		if tokenString == "" {
			writeErrorStatus(w, http.StatusUnauthorized, "token missing")
			return
		}

		// Token lookup is mutex-guarded: tokens are added dynamically by
		// the authenticate endpoint.
		svc.mu.RLock()
		info, ok := svc.tokens[tokenString]
		svc.mu.RUnlock()
		if !ok {
			writeErrorStatus(w, http.StatusUnauthorized, "invalid token")
			return
		}

		if info.IsExpired() {
			svc.mu.Lock()
			delete(svc.tokens, tokenString)
			svc.mu.Unlock()
			writeErrorStatus(w, http.StatusUnauthorized, "token expired")
			return
		}

		// Slide expiration for issued tokens (those with non-zero ExpiresAt)
		if !info.ExpiresAt.IsZero() {
			svc.mu.Lock()
			info.ExpiresAt = time.Now().Add(issuedTokenTTL)
			svc.mu.Unlock()
		}

		next.ServeHTTP(w, r.WithContext(contextWithUser(r.Context(), info.Username)))
	})
}

func (svc *Service) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if svc.conf.NoLogin {
			next.ServeHTTP(w, r)
			return
		}
		if userFromContext(r.Context()) != "admin" {
			writeErrorStatus(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// debugMiddleware logs all HTTP requests for debugging.
func debugMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Read body for logging (if small enough)
		var bodyPreview string
		if r.Body != nil && r.ContentLength > 0 && r.ContentLength < 4096 {
			body, err := io.ReadAll(r.Body)
			if err == nil {
				bodyPreview = string(body)
				// Restore body for handler
				r.Body = io.NopCloser(strings.NewReader(string(body)))
			}
		}

		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"query", r.URL.RawQuery,
			"content-length", r.ContentLength,
			"body", bodyPreview,
		)

		// Wrap response writer to capture status
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)

		slog.Debug("HTTP response",
			"path", r.URL.Path,
			"status", wrapped.status,
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
