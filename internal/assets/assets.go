package assets

import (
	"errors"
	"io"
	"time"
)

var (
	// ErrInvalidRequest is returned for a missing or empty upload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnsupportedType is returned when the extension is not allow-listed.
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrTooLarge is returned when an upload exceeds the configured maximum size.
	ErrTooLarge = errors.New("file too large")
	// ErrNotFound is returned when no asset exists under the requested name.
	ErrNotFound = errors.New("asset not found")
	// ErrStorageUnavailable wraps any I/O failure of the underlying store.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Asset is a stored file addressed by its sanitized name
type Asset struct {
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
	ContentType string    `json:"content_type,omitempty"`
	// Checksum is the recorded SHA-256 of the upload, empty without a ledger
	Checksum    string    `json:"-"`
}

// Upload is the metadata recorded by a Ledger after a successful upload
type Upload struct {
	Name         string
	Size         int64
	SHA256       string
	DetectedType string
	UploadedAt   time.Time
}

// Storage defines the interface for the flat asset directory
type Storage interface {
	// List enumerates all assets in directory order
	List() ([]*Asset, error)

	// Write creates or replaces the asset with the given name
	Write(name string, content io.Reader) (*Asset, error)

	// Read opens the asset for reading
	Read(name string) (*Asset, io.ReadCloser, error)

	// Delete removes the asset
	Delete(name string) error
}

// Ledger records upload metadata that the filesystem does not keep
type Ledger interface {
	Record(upload *Upload) error
	Find(name string) (*Upload, error)
	Forget(name string) error
	UploadTimes() (map[string]time.Time, error)
}
