package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/pavel-fokin/static-assets/internal/assets"
	_ "modernc.org/sqlite"
)

// Repository implements assets.Ledger using SQLite
type Repository struct {
	db *sql.DB
}

// NewRepository opens the ledger database and creates its schema
func NewRepository(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	repo := &Repository{db: db}

	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return repo, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS uploads (
		name TEXT PRIMARY KEY,
		size INTEGER NOT NULL,
		sha256 TEXT NOT NULL,
		detected_type TEXT NOT NULL,
		uploaded_at DATETIME NOT NULL
	);`
	if _, err := r.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create uploads table: %w", err)
	}

	return nil
}

// Record stores upload metadata, replacing any earlier upload of the same name
func (r *Repository) Record(upload *assets.Upload) error {
	query := `
	INSERT INTO uploads (name, size, sha256, detected_type, uploaded_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET
		size = excluded.size,
		sha256 = excluded.sha256,
		detected_type = excluded.detected_type,
		uploaded_at = excluded.uploaded_at
	`

	_, err := r.db.Exec(query,
		upload.Name,
		upload.Size,
		upload.SHA256,
		upload.DetectedType,
		upload.UploadedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record upload: %w", err)
	}

	return nil
}

// Find retrieves the upload metadata of one asset
func (r *Repository) Find(name string) (*assets.Upload, error) {
	query := `
	SELECT name, size, sha256, detected_type, uploaded_at
	FROM uploads
	WHERE name = ?
	`

	var upload assets.Upload
	err := r.db.QueryRow(query, name).Scan(
		&upload.Name,
		&upload.Size,
		&upload.SHA256,
		&upload.DetectedType,
		&upload.UploadedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("upload %q: %w", name, assets.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find upload: %w", err)
	}

	return &upload, nil
}

// UploadTimes returns the recorded upload time of every asset
func (r *Repository) UploadTimes() (map[string]time.Time, error) {
	rows, err := r.db.Query(`SELECT name, uploaded_at FROM uploads`)
	if err != nil {
		return nil, fmt.Errorf("failed to query uploads: %w", err)
	}
	defer rows.Close()

	times := make(map[string]time.Time)
	for rows.Next() {
		var name string
		var uploadedAt time.Time
		if err := rows.Scan(&name, &uploadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan upload row: %w", err)
		}
		times[name] = uploadedAt
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating upload rows: %w", err)
	}

	return times, nil
}

// Forget removes the upload metadata of an asset. Forgetting an unknown
// name is not an error.
func (r *Repository) Forget(name string) error {
	if _, err := r.db.Exec(`DELETE FROM uploads WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete upload record: %w", err)
	}
	return nil
}
