package reports

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when no report exists for the requested file.
var ErrNotFound = errors.New("report not found")

// Report is the metadata filed alongside a gallery photo.
type Report struct {
	ID               int       `json:"id"`
	FileName         string    `json:"file_name"`
	PersonName       string    `json:"person_name"`
	Age              *int      `json:"age,omitempty"`
	LastSeenLocation *string   `json:"last_seen_location,omitempty"`
	ContactPhone     *string   `json:"contact_phone,omitempty"`
	Description      *string   `json:"description,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Repository provides PostgreSQL-backed report storage.
type Repository struct {
	pool *Pool
}

// NewRepository creates a new report repository.
func NewRepository(pool *Pool) *Repository {
	return &Repository{pool: pool}
}

// FindByFileName looks up the report filed with the given gallery photo.
// Reports are filed by the upstream case-management system; this service
// only reads them.
func (r *Repository) FindByFileName(ctx context.Context, fileName string) (*Report, error) {
	query := `
		SELECT id, file_name, person_name, age, last_seen_location, contact_phone, description, created_at
		FROM reports
		WHERE file_name = $1
	`

	var report Report
	err := r.pool.db.QueryRowContext(ctx, query, fileName).Scan(
		&report.ID, &report.FileName, &report.PersonName, &report.Age,
		&report.LastSeenLocation, &report.ContactPhone, &report.Description,
		&report.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query report: %w", err)
	}
	return &report, nil
}
