package patient

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/intake/intake/internal/platform/phi"
)

type repoPG struct {
	pool    *pgxpool.Pool
	codec   *phi.Codec
	indexer *phi.BlindIndexer
}

// NewRepoPG returns a PostgreSQL-backed repository. indexer may be nil, in
// which case email lookup falls back to decrypting every candidate record
// and scanning — an O(n) operation per lookup.
func NewRepoPG(pool *pgxpool.Pool, codec *phi.Codec, indexer *phi.BlindIndexer) Repository {
	return &repoPG{pool: pool, codec: codec, indexer: indexer}
}

const recordCols = `id, email_idx, password_hash, doc, analysis_status, created_at, updated_at`

func scanRecord(row pgx.Row) (*StoredRecord, error) {
	var rec StoredRecord
	err := row.Scan(&rec.ID, &rec.EmailIndex, &rec.PasswordHash, &rec.Doc,
		&rec.AnalysisStatus, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *repoPG) Insert(ctx context.Context, rec *StoredRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO patient_records (id, email_idx, password_hash, doc, analysis_status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		rec.ID, rec.EmailIndex, rec.PasswordHash, rec.Doc, rec.AnalysisStatus).
		Scan(&rec.CreatedAt, &rec.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*StoredRecord, error) {
	return scanRecord(r.pool.QueryRow(ctx,
		`SELECT `+recordCols+` FROM patient_records WHERE id = $1`, id))
}

func (r *repoPG) FindByEmail(ctx context.Context, email string) (*StoredRecord, error) {
	if r.indexer != nil {
		return scanRecord(r.pool.QueryRow(ctx,
			`SELECT `+recordCols+` FROM patient_records WHERE email_idx = $1`,
			r.indexer.Index(email)))
	}
	return r.scanForEmail(ctx, email)
}

// scanForEmail decrypts the demographic block of every record and compares
// emails case-insensitively. Kept only for deployments without a blind
// index key; cost grows linearly with the table.
func (r *repoPG) scanForEmail(ctx context.Context, email string) (*StoredRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+recordCols+` FROM patient_records ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	want := strings.ToLower(strings.TrimSpace(email))
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		demo, ok := rec.Doc["demographic"].(map[string]any)
		if !ok {
			continue
		}
		decoded, _ := r.codec.DecodeStructure(demo)
		plain, ok := decoded.(map[string]any)
		if !ok {
			continue
		}
		if got, _ := plain["email"].(string); strings.ToLower(strings.TrimSpace(got)) == want {
			return rec, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return nil, ErrNotFound
}

func (r *repoPG) Update(ctx context.Context, rec *StoredRecord) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE patient_records
		SET email_idx = $2, doc = $3, updated_at = NOW()
		WHERE id = $1`,
		rec.ID, rec.EmailIndex, rec.Doc)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) UpdateAnalysis(ctx context.Context, id uuid.UUID, summary, insights, status string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE patient_records
		SET doc = jsonb_set(jsonb_set(doc, '{summary}', to_jsonb($2::text)), '{insights}', to_jsonb($3::text)),
		    analysis_status = $4, updated_at = NOW()
		WHERE id = $1`,
		id, summary, insights, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE patient_records SET analysis_status = $2, updated_at = NOW() WHERE id = $1`,
		id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*StoredRecord, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM patient_records`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+recordCols+` FROM patient_records ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*StoredRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
