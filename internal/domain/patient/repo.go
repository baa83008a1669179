package patient

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no record matches the lookup.
var ErrNotFound = errors.New("patient record not found")

// StoredRecord is the persisted form of a record: the encoded document plus
// the columns that stay outside the encryption boundary.
type StoredRecord struct {
	ID             uuid.UUID
	EmailIndex     string
	PasswordHash   string
	Doc            map[string]any
	AnalysisStatus string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Repository persists encoded patient records. Implementations never see
// plaintext patient content except when falling back to a decrypt-then-scan
// email lookup.
type Repository interface {
	Insert(ctx context.Context, rec *StoredRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*StoredRecord, error)
	FindByEmail(ctx context.Context, email string) (*StoredRecord, error)
	Update(ctx context.Context, rec *StoredRecord) error
	UpdateAnalysis(ctx context.Context, id uuid.UUID, summary, insights, status string) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	List(ctx context.Context, limit, offset int) ([]*StoredRecord, int, error)
}
