package assets

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// sniffLen matches the default read limit of mimetype.DetectReader
const sniffLen = 3072

// Service provides application-level asset operations
type Service struct {
	storage Storage
	ledger  Ledger
	maxSize int64
}

// NewService creates a new asset service. ledger may be nil.
// A maxSize of zero or less disables the size check.
func NewService(storage Storage, ledger Ledger, maxSize int64) *Service {
	return &Service{
		storage: storage,
		ledger:  ledger,
		maxSize: maxSize,
	}
}

// UploadRequest represents an incoming file
type UploadRequest struct {
	Name    string
	Size    int64
	Content io.Reader
}

// UploadResult represents the result of a successful upload
type UploadResult struct {
	Message string `json:"message"`
	URL     string `json:"url"`
}

// Listing is a single entry of the asset list
type Listing struct {
	Filename     string    `json:"filename"`
	Size         int64     `json:"size"`
	DateUploaded time.Time `json:"dateUploaded"`
	URL          string    `json:"url"`
}

// List returns every asset currently in storage
func (s *Service) List() ([]*Listing, error) {
	stored, err := s.storage.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}

	uploaded := s.uploadTimes()

	listings := make([]*Listing, 0, len(stored))
	for _, a := range stored {
		date := a.CreatedAt
		if t, ok := uploaded[a.Name]; ok {
			date = t
		}
		listings = append(listings, &Listing{
			Filename:     a.Name,
			Size:         a.Size,
			DateUploaded: date,
			URL:          URL(a.Name),
		})
	}

	return listings, nil
}

// Upload validates and stores an incoming file
func (s *Service) Upload(req *UploadRequest) (*UploadResult, error) {
	if req == nil || req.Content == nil || req.Size == 0 {
		return nil, fmt.Errorf("no file uploaded: %w", ErrInvalidRequest)
	}

	name := SanitizeName(req.Name)
	if name == "" {
		return nil, fmt.Errorf("no file name: %w", ErrInvalidRequest)
	}
	if !Allowed(name) {
		return nil, fmt.Errorf("extension %q: %w", Extension(name), ErrUnsupportedType)
	}
	if s.maxSize > 0 && req.Size > s.maxSize {
		return nil, fmt.Errorf("%d bytes exceeds %d: %w", req.Size, s.maxSize, ErrTooLarge)
	}

	var body io.Reader = req.Content
	if s.maxSize > 0 {
		body = &limitedReader{r: req.Content, n: s.maxSize}
	}

	// Sniff the head of the stream and hash everything on the way to disk
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(body, head)
	if errors.Is(err, ErrTooLarge) {
		return nil, err
	}
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("failed to read upload: %w: %w", ErrStorageUnavailable, err)
	}
	head = head[:n]
	detected := mimetype.Detect(head)

	hasher := sha256.New()
	content := io.TeeReader(io.MultiReader(bytes.NewReader(head), body), hasher)

	saved, err := s.storage.Write(name, content)
	if err != nil {
		return nil, fmt.Errorf("failed to save asset: %w", err)
	}

	expected := ContentType(name)
	if !matches(detected, expected) {
		slog.Warn("Content does not match extension",
			"filename", name,
			"expected", expected,
			"detected", detected.String(),
		)
	}

	if s.ledger != nil {
		upload := &Upload{
			Name:         name,
			Size:         saved.Size,
			SHA256:       hex.EncodeToString(hasher.Sum(nil)),
			DetectedType: detected.String(),
			UploadedAt:   time.Now().UTC(),
		}
		if err := s.ledger.Record(upload); err != nil {
			slog.Warn("Failed to record upload", "error", err, "filename", name)
		}
	}

	return &UploadResult{
		Message: "File uploaded successfully",
		URL:     URL(name),
	}, nil
}

// Fetch opens an asset for reading. The caller closes the returned reader.
func (s *Service) Fetch(name string) (*Asset, io.ReadCloser, error) {
	name = SanitizeName(name)
	if name == "" {
		return nil, nil, ErrNotFound
	}

	asset, content, err := s.storage.Read(name)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read asset: %w", err)
	}
	asset.ContentType = ContentType(name)
	asset.Checksum = s.checksum(asset)

	return asset, content, nil
}

// Delete removes an asset
func (s *Service) Delete(name string) error {
	name = SanitizeName(name)
	if name == "" {
		return ErrNotFound
	}

	if err := s.storage.Delete(name); err != nil {
		return fmt.Errorf("failed to delete asset: %w", err)
	}

	if s.ledger != nil {
		if err := s.ledger.Forget(name); err != nil {
			slog.Warn("Failed to forget upload", "error", err, "filename", name)
		}
	}

	return nil
}

func (s *Service) uploadTimes() map[string]time.Time {
	if s.ledger == nil {
		return nil
	}
	times, err := s.ledger.UploadTimes()
	if err != nil {
		slog.Warn("Failed to read upload times", "error", err)
		return nil
	}
	return times
}

// checksum returns the recorded SHA-256 of an asset. A size mismatch means
// the file was replaced outside the service, so the record is ignored.
func (s *Service) checksum(asset *Asset) string {
	if s.ledger == nil {
		return ""
	}
	upload, err := s.ledger.Find(asset.Name)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			slog.Warn("Failed to find upload", "error", err, "filename", asset.Name)
		}
		return ""
	}
	if upload.Size != asset.Size {
		return ""
	}
	return upload.SHA256
}

// matches reports whether detected or one of its parents is expected
func matches(detected *mimetype.MIME, expected string) bool {
	for m := detected; m != nil; m = m.Parent() {
		if m.Is(expected) {
			return true
		}
	}
	return false
}

// limitedReader fails with ErrTooLarge once more than n bytes are read.
// Declared sizes can lie, so the stream itself is bounded.
type limitedReader struct {
	r io.Reader
	n int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.n < 0 {
		return 0, ErrTooLarge
	}
	if int64(len(p)) > l.n+1 {
		p = p[:l.n+1]
	}
	n, err := l.r.Read(p)
	l.n -= int64(n)
	if l.n < 0 {
		return n, ErrTooLarge
	}
	return n, err
}
