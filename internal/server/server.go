package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/pavel-fokin/static-assets/internal/assets"
	"github.com/pavel-fokin/static-assets/internal/fs"
	"github.com/pavel-fokin/static-assets/internal/sqlite"
)

// multipartOverhead is the room left in the body limit for multipart
// boundaries and part headers around a file of MaxSize bytes.
const multipartOverhead = 64 << 10

// multipartMemory is how much of a form ParseMultipartForm keeps in memory
// when no maximum size is configured, the same as net/http's default.
const multipartMemory = 32 << 20

// Config is read from the environment. A MaxSize of zero or less turns
// off every upload size limit.
type Config struct {
	AdminToken string `env:"STATIC_ASSETS_ADMIN_TOKEN,required"`
	Root       string `env:"STATIC_ASSETS_ROOT,required"`
	MaxSize    int64  `env:"STATIC_ASSETS_MAX_SIZE" envDefault:"10485760"`
	Addr       string `env:"STATIC_ASSETS_ADDR" envDefault:":8080"`
	DBPath     string `env:"STATIC_ASSETS_DB_PATH"`
}

// route is one entry of the routing table. Routes that are not public
// require the admin bearer token.
type route struct {
	pattern string
	public  bool
	handler http.HandlerFunc
}

// New builds the server. The returned close function releases the ledger
// and must be called once the server has shut down.
func New(cfg *Config) (*http.Server, func() error, error) {
	// Initialize structured logger with JSON handler
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Initialize storage and the optional ledger
	storage, err := fs.NewStorage(cfg.Root)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	var ledger assets.Ledger
	closeFn := func() error { return nil }
	if cfg.DBPath != "" {
		repo, err := sqlite.NewRepository(cfg.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize ledger: %w", err)
		}
		ledger = repo
		closeFn = repo.Close
	}

	// Initialize asset service
	assetService := assets.NewService(storage, ledger, cfg.MaxSize)

	// Fetch and health checks are public, everything else needs the admin token
	routes := []route{
		{"GET /healthz", true, healthz},
		{"GET /assets", false, listAssets(assetService)},
		{"POST /assets/upload", false, uploadAsset(cfg, assetService)},
		{"GET /assets/{filename}", true, fetchAsset(assetService)},
		{"DELETE /assets/{filename}", false, deleteAsset(assetService)},
	}

	mux := http.NewServeMux()
	for _, rt := range routes {
		h := rt.handler
		if !rt.public {
			h = auth(cfg.AdminToken, h)
		}
		mux.HandleFunc(rt.pattern, h)
	}

	// Wrap the handler with the body limit, logging and request IDs
	var handler http.Handler = mux
	if cfg.MaxSize > 0 {
		handler = limitBody(handler, cfg.MaxSize+multipartOverhead)
	}
	handler = requestID(loggingMiddleware(handler))

	slog.Info("Asset store ready", "max_size", cfg.MaxSize, "ledger", ledger != nil)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}, closeFn, nil
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func listAssets(assetService *assets.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Get list of assets
		listings, err := assetService.List()
		if err != nil {
			slog.Error("List assets failed", "error", err)
			http.Error(w, "Error retrieving assets", http.StatusInternalServerError)
			return
		}

		writeJSON(w, listings)
	}
}

func uploadAsset(cfg *Config, assetService *assets.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Parse multipart form
		memory := cfg.MaxSize
		if memory <= 0 {
			memory = multipartMemory
		}
		if err := r.ParseMultipartForm(memory); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				http.Error(w, "Request entity too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "No file uploaded", http.StatusBadRequest)
			return
		}
		defer r.MultipartForm.RemoveAll()

		// Get file from form
		file, header, err := r.FormFile("file")
		if err != nil {
			slog.Warn("Upload failed: no file")
			http.Error(w, "No file uploaded", http.StatusBadRequest)
			return
		}
		defer file.Close()

		slog.Info("Uploading asset", "filename", header.Filename, "size", header.Size)

		// Upload file
		result, err := assetService.Upload(&assets.UploadRequest{
			Name:    header.Filename,
			Size:    header.Size,
			Content: file,
		})
		if err != nil {
			slog.Error("Upload failed", "error", err, "filename", header.Filename)
			switch {
			case errors.Is(err, assets.ErrInvalidRequest):
				http.Error(w, "No file uploaded", http.StatusBadRequest)
			case errors.Is(err, assets.ErrUnsupportedType):
				http.Error(w, "File type not allowed", http.StatusBadRequest)
			case errors.Is(err, assets.ErrTooLarge):
				http.Error(w, "Request entity too large", http.StatusRequestEntityTooLarge)
			default:
				http.Error(w, "Error uploading file: "+err.Error(), http.StatusInternalServerError)
			}
			return
		}

		// Return success response
		writeJSON(w, result)
	}
}

func fetchAsset(assetService *assets.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename := r.PathValue("filename")

		asset, content, err := assetService.Fetch(filename)
		if err != nil {
			if errors.Is(err, assets.ErrNotFound) {
				http.Error(w, "Not found", http.StatusNotFound)
				return
			}
			slog.Error("Fetch failed", "error", err, "filename", filename)
			http.Error(w, "Error reading file", http.StatusInternalServerError)
			return
		}
		defer content.Close()

		// Set response headers
		w.Header().Set("Content-Type", asset.ContentType)
		w.Header().Set("Content-Length", fmt.Sprintf("%d", asset.Size))
		w.Header().Set("X-Content-Type-Options", "nosniff")
		if asset.Checksum != "" {
			w.Header().Set("ETag", `"`+asset.Checksum+`"`)
		}

		// Stream file content
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, content); err != nil {
			slog.Error("Failed to stream asset", "error", err, "filename", asset.Name)
		}
	}
}

func deleteAsset(assetService *assets.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename := r.PathValue("filename")
		slog.Info("Deleting asset", "filename", filename)

		// Delete asset
		if err := assetService.Delete(filename); err != nil {
			if errors.Is(err, assets.ErrNotFound) {
				http.Error(w, "Not found", http.StatusNotFound)
				return
			}
			slog.Error("Delete failed", "error", err, "filename", filename)
			http.Error(w, "Error deleting file", http.StatusInternalServerError)
			return
		}

		writeJSON(w, map[string]string{"message": "File deleted successfully"})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func auth(token string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	}
}

// limitBody caps every request body. Handlers see *http.MaxBytesError
// once a read goes past maxSize.
func limitBody(next http.Handler, maxSize int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > maxSize {
			http.Error(w, "Request entity too large", http.StatusRequestEntityTooLarge)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxSize)
		next.ServeHTTP(w, r)
	})
}

// requestID tags each request and response with an X-Request-Id
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.New().String()
			r.Header.Set("X-Request-Id", id)
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests with structured logging
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		slog.Info("HTTP request",
			"request_id", r.Header.Get("X-Request-Id"),
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
