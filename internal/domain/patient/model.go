package patient

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/intake/intake/internal/platform/analysis"
)

// Analysis status values for a stored record.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Demographic holds the patient-supplied identity fields. The core treats
// them as opaque; they are encrypted together with the rest of the record.
type Demographic struct {
	Name   string `json:"name"`
	Age    int    `json:"age"`
	Gender string `json:"gender"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
}

// SymptomDetail is the structured description of one reported symptom.
type SymptomDetail struct {
	Duration  string `json:"duration,omitempty"`
	Severity  string `json:"severity,omitempty"`
	Frequency string `json:"frequency,omitempty"`
	Factors   string `json:"factors,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// Record is the decrypted view of one patient intake record. Symptom names
// are lower-cased and unique within a record.
type Record struct {
	ID               uuid.UUID                `json:"id"`
	Demographic      Demographic              `json:"demographic"`
	Symptoms         map[string]SymptomDetail `json:"symptoms"`
	GeneralQuestions map[string]string        `json:"general_questions,omitempty"`
	Summary          string                   `json:"summary,omitempty"`
	Insights         string                   `json:"insights,omitempty"`
	AnalysisStatus   string                   `json:"analysis_status"`
	CreatedAt        time.Time                `json:"created_at"`
	UpdatedAt        time.Time                `json:"updated_at"`
}

// Listing is the projection returned to clinicians browsing records.
type Listing struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Age            int       `json:"age"`
	Email          string    `json:"email"`
	AnalysisStatus string    `json:"analysis_status"`
	CreatedAt      time.Time `json:"created_at"`
}

// ToDocument converts the record's patient content into the generic nested
// structure the encryption codec walks. Status and timestamps live in their
// own columns and are not part of the document.
func (r *Record) ToDocument() map[string]any {
	symptoms := make(map[string]any, len(r.Symptoms))
	for name, d := range r.Symptoms {
		symptoms[name] = map[string]any{
			"duration":  d.Duration,
			"severity":  d.Severity,
			"frequency": d.Frequency,
			"factors":   d.Factors,
			"notes":     d.Notes,
		}
	}
	questions := make(map[string]any, len(r.GeneralQuestions))
	for q, a := range r.GeneralQuestions {
		questions[q] = a
	}
	return map[string]any{
		"demographic": map[string]any{
			"name":   r.Demographic.Name,
			"age":    r.Demographic.Age,
			"gender": r.Demographic.Gender,
			"email":  r.Demographic.Email,
			"phone":  r.Demographic.Phone,
		},
		"symptoms":          symptoms,
		"general_questions": questions,
		"summary":           r.Summary,
		"insights":          r.Insights,
	}
}

// RecordFromDocument rebuilds a Record from a decoded document. Values that
// round-tripped through JSONB arrive as float64 for numbers; both int and
// float64 are accepted.
func RecordFromDocument(id uuid.UUID, doc map[string]any, status string, createdAt, updatedAt time.Time) *Record {
	rec := &Record{
		ID:               id,
		Symptoms:         map[string]SymptomDetail{},
		GeneralQuestions: map[string]string{},
		AnalysisStatus:   status,
		CreatedAt:        createdAt,
		UpdatedAt:        updatedAt,
	}
	if demo, ok := doc["demographic"].(map[string]any); ok {
		rec.Demographic = Demographic{
			Name:   strField(demo, "name"),
			Age:    intField(demo, "age"),
			Gender: strField(demo, "gender"),
			Email:  strField(demo, "email"),
			Phone:  strField(demo, "phone"),
		}
	}
	if symptoms, ok := doc["symptoms"].(map[string]any); ok {
		for name, v := range symptoms {
			d, ok := v.(map[string]any)
			if !ok {
				continue
			}
			rec.Symptoms[name] = SymptomDetail{
				Duration:  strField(d, "duration"),
				Severity:  strField(d, "severity"),
				Frequency: strField(d, "frequency"),
				Factors:   strField(d, "factors"),
				Notes:     strField(d, "notes"),
			}
		}
	}
	if questions, ok := doc["general_questions"].(map[string]any); ok {
		for q, v := range questions {
			if a, ok := v.(string); ok {
				rec.GeneralQuestions[q] = a
			}
		}
	}
	rec.Summary = strField(doc, "summary")
	rec.Insights = strField(doc, "insights")
	return rec
}

// AnalysisRecord condenses the record for the text analysis engine. Symptom
// names are sorted so the "first symptom" feeding summaries is stable.
func (r *Record) AnalysisRecord() analysis.Record {
	names := make([]string, 0, len(r.Symptoms))
	for name := range r.Symptoms {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]analysis.SymptomEntry, 0, len(names))
	for _, name := range names {
		d := r.Symptoms[name]
		entries = append(entries, analysis.SymptomEntry{
			Name: name,
			Details: analysis.Details{
				Duration:  d.Duration,
				Severity:  d.Severity,
				Frequency: d.Frequency,
				Factors:   d.Factors,
				Notes:     d.Notes,
			},
		})
	}
	return analysis.Record{
		Age:      r.Demographic.Age,
		Gender:   r.Demographic.Gender,
		Symptoms: entries,
	}
}

// Listing projects the record for clinician browsing.
func (r *Record) Listing() Listing {
	return Listing{
		ID:             r.ID,
		Name:           r.Demographic.Name,
		Age:            r.Demographic.Age,
		Email:          r.Demographic.Email,
		AnalysisStatus: r.AnalysisStatus,
		CreatedAt:      r.CreatedAt,
	}
}

func strField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
