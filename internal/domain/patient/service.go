package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/intake/intake/internal/platform/analysis"
	"github.com/intake/intake/internal/platform/phi"
	"github.com/intake/intake/internal/platform/worker"
)

var (
	// ErrEmailTaken is returned when registering with an email that
	// already belongs to a record.
	ErrEmailTaken = errors.New("patient with this email already exists")
	// ErrBadCredentials is returned on failed login.
	ErrBadCredentials = errors.New("invalid email or password")
)

// Background summarization gets its own deadline; the registering request
// has already returned by the time it runs.
const analysisTimeout = 2 * time.Minute

// Service orchestrates intake: analysis, encryption, persistence and
// asynchronous summarization.
type Service struct {
	repo    Repository
	codec   *phi.Codec
	indexer *phi.BlindIndexer
	engine  *analysis.Engine
	pool    *worker.Pool
	logger  zerolog.Logger
}

// NewService wires the intake service. indexer may be nil; pool may be nil,
// in which case summaries are computed synchronously.
func NewService(repo Repository, codec *phi.Codec, indexer *phi.BlindIndexer, engine *analysis.Engine, pool *worker.Pool, logger zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		codec:   codec,
		indexer: indexer,
		engine:  engine,
		pool:    pool,
		logger:  logger.With().Str("component", "patient").Logger(),
	}
}

// RegisterInput is the payload for a new intake record.
type RegisterInput struct {
	Demographic      Demographic              `json:"demographic"`
	Symptoms         map[string]SymptomDetail `json:"symptoms"`
	GeneralQuestions map[string]string        `json:"general_questions"`
	Password         string                   `json:"password"`
}

func (in *RegisterInput) validate() error {
	if len(strings.TrimSpace(in.Demographic.Name)) < 2 {
		return fmt.Errorf("name must be at least 2 characters")
	}
	if in.Demographic.Age < 0 || in.Demographic.Age > 150 {
		return fmt.Errorf("age must be between 0 and 150")
	}
	if in.Demographic.Gender == "" {
		return fmt.Errorf("gender is required")
	}
	if !strings.Contains(in.Demographic.Email, "@") {
		return fmt.Errorf("invalid email address")
	}
	if len(in.Password) < 6 {
		return fmt.Errorf("password must be at least 6 characters")
	}
	return nil
}

// Register creates a new encrypted intake record. The record is persisted
// with a pending analysis status before the request returns; summary and
// insights are computed on a background worker keyed by record ID, and the
// status is written exactly once per request (completed or failed).
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Record, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	if _, err := s.repo.FindByEmail(ctx, in.Demographic.Email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("check existing email: %w", err)
	}

	rec := &Record{
		ID:               uuid.New(),
		Demographic:      in.Demographic,
		Symptoms:         normalizeSymptoms(in.Symptoms),
		GeneralQuestions: in.GeneralQuestions,
		AnalysisStatus:   StatusPending,
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	stored := &StoredRecord{
		ID:             rec.ID,
		EmailIndex:     s.emailIndex(in.Demographic.Email),
		PasswordHash:   string(hash),
		Doc:            s.encode(rec.ToDocument()),
		AnalysisStatus: StatusPending,
	}
	if err := s.repo.Insert(ctx, stored); err != nil {
		return nil, fmt.Errorf("insert record: %w", err)
	}
	rec.CreatedAt = stored.CreatedAt
	rec.UpdatedAt = stored.UpdatedAt

	s.scheduleAnalysis(rec)
	return rec, nil
}

// Authenticate checks credentials and returns the decrypted record.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Record, error) {
	stored, err := s.repo.FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("find by email: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte(password)) != nil {
		return nil, ErrBadCredentials
	}
	return s.decode(stored), nil
}

// Get returns the decrypted record by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	stored, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.decode(stored), nil
}

// UpdateInput replaces whole sub-objects of a record. Nil fields are left
// untouched; there is no field-level merge below this granularity.
type UpdateInput struct {
	Demographic      *Demographic             `json:"demographic"`
	Symptoms         map[string]SymptomDetail `json:"symptoms"`
	GeneralQuestions map[string]string        `json:"general_questions"`
}

// UpdateProfile applies a whole-sub-object swap and re-encrypts the record.
func (s *Service) UpdateProfile(ctx context.Context, id uuid.UUID, in UpdateInput) (*Record, error) {
	stored, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	rec := s.decode(stored)

	if in.Demographic != nil {
		if !strings.Contains(in.Demographic.Email, "@") {
			return nil, fmt.Errorf("invalid email address")
		}
		rec.Demographic = *in.Demographic
		stored.EmailIndex = s.emailIndex(in.Demographic.Email)
	}
	if in.Symptoms != nil {
		rec.Symptoms = normalizeSymptoms(in.Symptoms)
	}
	if in.GeneralQuestions != nil {
		rec.GeneralQuestions = in.GeneralQuestions
	}

	stored.Doc = s.encode(rec.ToDocument())
	if err := s.repo.Update(ctx, stored); err != nil {
		return nil, fmt.Errorf("update record: %w", err)
	}
	return rec, nil
}

// Analyze runs the text analysis engine over a free-text narrative without
// touching storage.
func (s *Service) Analyze(ctx context.Context, text string) analysis.Result {
	return s.engine.Analyze(ctx, text)
}

// RegenerateSummary marks the record pending and recomputes summary and
// insights in the background. Concurrent calls for the same record are
// serialized by the worker pool's key hashing.
func (s *Service) RegenerateSummary(ctx context.Context, id uuid.UUID) error {
	stored, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateStatus(ctx, id, StatusPending); err != nil {
		return fmt.Errorf("mark pending: %w", err)
	}
	s.scheduleAnalysis(s.decode(stored))
	return nil
}

// List returns clinician listings, newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Listing, int, error) {
	stored, total, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	listings := make([]Listing, 0, len(stored))
	for _, sr := range stored {
		listings = append(listings, s.decode(sr).Listing())
	}
	return listings, total, nil
}

// scheduleAnalysis computes summary and insights for rec and writes the
// result back with a completed status, or marks the record failed if the
// work cannot be queued or persisted.
func (s *Service) scheduleAnalysis(rec *Record) {
	id := rec.ID
	arec := rec.AnalysisRecord()

	task := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, analysisTimeout)
		defer cancel()

		summary := s.engine.Summarize(ctx, arec)
		insights := s.engine.ClinicalInsights(ctx, arec)

		err := s.repo.UpdateAnalysis(ctx, id,
			s.codec.EncodeString(summary), s.codec.EncodeString(insights), StatusCompleted)
		if err != nil {
			s.logger.Error().Err(err).Stringer("record_id", id).Msg("write analysis result")
			if err := s.repo.UpdateStatus(ctx, id, StatusFailed); err != nil {
				s.logger.Error().Err(err).Stringer("record_id", id).Msg("mark analysis failed")
			}
		}
	}

	if s.pool == nil {
		task(context.Background())
		return
	}
	if err := s.pool.Submit(id.String(), task); err != nil {
		s.logger.Warn().Err(err).Stringer("record_id", id).Msg("analysis queue rejected task")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.repo.UpdateStatus(ctx, id, StatusFailed); err != nil {
			s.logger.Error().Err(err).Stringer("record_id", id).Msg("mark analysis failed")
		}
	}
}

// decode walks the stored document through the codec and logs when any
// leaf passed through undecrypted, which signals corruption or a key
// mismatch rather than breaking the read path.
func (s *Service) decode(stored *StoredRecord) *Record {
	plain, passthrough := s.codec.DecodeStructure(stored.Doc)
	if passthrough > 0 {
		s.logger.Warn().
			Stringer("record_id", stored.ID).
			Int("passthrough_leaves", passthrough).
			Msg("record decoded with unreadable fields")
	}
	doc, _ := plain.(map[string]any)
	return RecordFromDocument(stored.ID, doc, stored.AnalysisStatus, stored.CreatedAt, stored.UpdatedAt)
}

func (s *Service) encode(doc map[string]any) map[string]any {
	encoded, _ := s.codec.EncodeStructure(doc).(map[string]any)
	return encoded
}

func (s *Service) emailIndex(email string) string {
	if s.indexer == nil {
		return ""
	}
	return s.indexer.Index(email)
}

// normalizeSymptoms lower-cases and trims symptom names, deduplicating
// collisions (the last entry wins).
func normalizeSymptoms(in map[string]SymptomDetail) map[string]SymptomDetail {
	out := make(map[string]SymptomDetail, len(in))
	for name, d := range in {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		out[key] = d
	}
	return out
}
