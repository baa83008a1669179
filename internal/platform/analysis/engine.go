package analysis

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/rs/zerolog"
)

// Details holds the structured description of one symptom. Empty fields
// mean "not reported", never a placeholder string.
type Details struct {
	Duration  string `json:"duration,omitempty"`
	Severity  string `json:"severity,omitempty"`
	Frequency string `json:"frequency,omitempty"`
	Factors   string `json:"factors,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// Empty reports whether no field is populated.
func (d Details) Empty() bool {
	return d.Duration == "" && d.Severity == "" && d.Frequency == "" && d.Factors == "" && d.Notes == ""
}

// SymptomEntry pairs a symptom name with its details.
type SymptomEntry struct {
	Name    string
	Details Details
}

// Record is the condensed view of a patient record used for summarization:
// demographics plus an ordered symptom list. Callers decide the ordering;
// the first entry is the one whose details feed the summary.
type Record struct {
	Age      int
	Gender   string
	Symptoms []SymptomEntry
}

// Result is the outcome of one analysis call over a narrative: identified
// symptoms (most confident first), details for the narrative as a whole,
// and follow-up questions for the leading symptom.
type Result struct {
	Symptoms  []string `json:"symptoms"`
	Details   Details  `json:"details"`
	Questions []string `json:"questions"`
}

// Mode selects the analysis strategy. It is fixed at construction for the
// process lifetime: the engine falls back per call when the backend fails,
// but the mode itself never changes.
type Mode int

const (
	// RuleOnly uses the deterministic rule engine exclusively.
	RuleOnly Mode = iota
	// ModelBacked tries the generative backend first on every operation.
	ModelBacked
)

func (m Mode) String() string {
	if m == ModelBacked {
		return "model-backed"
	}
	return "rule-only"
}

const (
	// maxInputChars bounds narrative length before any processing. The
	// prefix is kept and the cut is silent.
	maxInputChars = 1500

	maxSymptoms  = 5
	maxQuestions = 3

	minSummaryLen  = 30
	minInsightsLen = 50
)

// Engine orchestrates symptom identification, detail extraction, question
// generation and summarization. Every operation is total: backend errors
// and unusable completions degrade to the rule engine and never propagate.
// The engine holds no mutable state and is safe for concurrent use.
type Engine struct {
	mode    Mode
	backend Backend
	rules   *RuleEngine
	logger  zerolog.Logger
}

// NewEngine creates an analysis engine. A ModelBacked mode without a
// backend is downgraded to RuleOnly at construction.
func NewEngine(mode Mode, backend Backend, rules *RuleEngine, logger zerolog.Logger) *Engine {
	if backend == nil {
		mode = RuleOnly
	}
	if rules == nil {
		rules = NewRuleEngine()
	}
	logger.Info().Str("mode", mode.String()).Msg("text analysis engine ready")
	return &Engine{mode: mode, backend: backend, rules: rules, logger: logger}
}

// Mode returns the operating mode selected at construction.
func (e *Engine) Mode() Mode {
	return e.mode
}

// IdentifySymptoms extracts up to five symptom names from a narrative,
// most confident first. Never returns an empty slice.
func (e *Engine) IdentifySymptoms(ctx context.Context, text string) []string {
	text = truncateInput(text)
	if e.mode == ModelBacked {
		out, err := e.backend.Complete(ctx, symptomPrompt(text), 128)
		if err != nil {
			e.logger.Debug().Err(err).Msg("symptom identification fell back to rules")
		} else if symptoms := parseSymptomList(out); len(symptoms) > 0 {
			return symptoms
		}
	}
	return e.rules.IdentifySymptoms(text, maxSymptoms)
}

// ExtractDetails pulls duration, severity, frequency and factors out of a
// narrative. Fields the text does not mention stay empty.
func (e *Engine) ExtractDetails(ctx context.Context, text string) Details {
	text = truncateInput(text)
	if e.mode == ModelBacked {
		out, err := e.backend.Complete(ctx, detailPrompt(text), 192)
		if err != nil {
			e.logger.Debug().Err(err).Msg("detail extraction fell back to rules")
		} else if d := parseDetailLines(out); !d.Empty() {
			return d
		}
	}
	return e.rules.ExtractDetails(text)
}

// GenerateQuestions produces up to three follow-up questions about a
// symptom, skipping anything the known details already answer.
func (e *Engine) GenerateQuestions(ctx context.Context, symptom string, known Details) []string {
	if e.mode == ModelBacked {
		out, err := e.backend.Complete(ctx, questionPrompt(symptom, known), 192)
		if err != nil {
			e.logger.Debug().Err(err).Msg("question generation fell back to templates")
		} else if questions := parseQuestions(out); len(questions) > 0 {
			return questions
		}
	}
	return e.rules.GenerateQuestions(symptom, known)
}

// Summarize produces a short clinical summary of a record. Records with no
// symptoms get a fixed generic sentence.
func (e *Engine) Summarize(ctx context.Context, rec Record) string {
	if len(rec.Symptoms) == 0 {
		return NoSymptomSummary
	}
	if e.mode == ModelBacked {
		out, err := e.backend.Complete(ctx, summaryPrompt(rec), 256)
		if err != nil {
			e.logger.Debug().Err(err).Msg("summarization fell back to template")
		} else if s := cleanSummary(out); len(s) > minSummaryLen {
			return s
		}
	}
	return e.rules.Summarize(rec)
}

// ClinicalInsights produces differential considerations, suggested
// investigations and red flags for clinician review. Never empty.
func (e *Engine) ClinicalInsights(ctx context.Context, rec Record) string {
	if e.mode == ModelBacked {
		out, err := e.backend.Complete(ctx, insightsPrompt(rec), 384)
		if err != nil {
			e.logger.Debug().Err(err).Msg("insights fell back to checklist")
		} else if s := strings.TrimSpace(out); len(s) > minInsightsLen {
			return s
		}
	}
	return e.rules.ClinicalInsights(rec)
}

// Analyze runs one full intake pass over a narrative: symptoms, details,
// and follow-up questions for the leading symptom.
func (e *Engine) Analyze(ctx context.Context, text string) Result {
	symptoms := e.IdentifySymptoms(ctx, text)
	details := e.ExtractDetails(ctx, text)
	questions := e.GenerateQuestions(ctx, symptoms[0], details)
	return Result{Symptoms: symptoms, Details: details, Questions: questions}
}

// ---------------------------------------------------------------------------
// Prompts
// ---------------------------------------------------------------------------

func symptomPrompt(text string) string {
	return "You are a clinical intake assistant. List the distinct symptoms mentioned in the " +
		"patient description below as a single comma-separated line of short symptom names, " +
		"most significant first. Do not include severity, frequency or duration words.\n\n" +
		"Patient description: " + text + "\n\nSymptoms:"
}

func detailPrompt(text string) string {
	return "Extract the following fields from the patient description. Answer with one " +
		"'Field: value' line per field and write 'not mentioned' when the text does not say.\n" +
		"Fields: Duration, Severity, Frequency, Factors.\n\n" +
		"Patient description: " + text + "\n\nAnswers:"
}

func questionPrompt(symptom string, known Details) string {
	var b strings.Builder
	b.WriteString("A patient reports: " + symptom + ".\n")
	if !known.Empty() {
		b.WriteString("Already known: " + knownSummary(known) + ".\n")
	}
	b.WriteString("Write 2-3 short follow-up questions a nurse would ask next, one per line. " +
		"Do not ask about anything already known.\n\nQuestions:")
	return b.String()
}

func summaryPrompt(rec Record) string {
	return "Write a 2-3 sentence clinical summary of this intake record for a physician.\n\n" +
		recordContext(rec, maxSymptoms) + "\n\nSummary:"
}

func insightsPrompt(rec Record) string {
	return "For the intake record below, list differential considerations, suggested " +
		"investigations, and red flags to watch for. Be concise.\n\n" +
		recordContext(rec, 3) + "\n\nNotes:"
}

// recordContext renders the condensed representation that bounds prompt
// size: age, gender, a capped symptom list, and the first symptom's
// duration and severity only.
func recordContext(rec Record, limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Age: %d\nGender: %s\n", rec.Age, rec.Gender)
	b.WriteString("Symptoms: " + strings.Join(symptomNames(rec, limit), ", "))
	if len(rec.Symptoms) > 0 {
		first := rec.Symptoms[0]
		if first.Details.Duration != "" {
			b.WriteString("\nDuration of " + first.Name + ": " + first.Details.Duration)
		}
		if first.Details.Severity != "" {
			b.WriteString("\nSeverity of " + first.Name + ": " + first.Details.Severity)
		}
	}
	return b.String()
}

func knownSummary(d Details) string {
	var parts []string
	if d.Duration != "" {
		parts = append(parts, "duration "+d.Duration)
	}
	if d.Severity != "" {
		parts = append(parts, "severity "+d.Severity)
	}
	if d.Frequency != "" {
		parts = append(parts, "frequency "+d.Frequency)
	}
	if d.Factors != "" {
		parts = append(parts, "factors "+d.Factors)
	}
	return strings.Join(parts, ", ")
}

// ---------------------------------------------------------------------------
// Completion parsing
// ---------------------------------------------------------------------------

// stopWords disqualify a candidate symptom token: severity, frequency and
// temporal words indicate the model echoed detail text instead of a name.
var stopWords = []string{
	"severe", "mild", "moderate", "extreme", "intense", "slight",
	"daily", "weekly", "hourly", "nightly", "everyday",
	"constant", "always", "frequently", "occasionally", "rarely",
	"/10", "out of 10", "days", "weeks", "months", "years", "since",
}

var enumMarker = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*•])\s*`)

func truncateInput(text string) string {
	if len(text) > maxInputChars {
		return text[:maxInputChars]
	}
	return text
}

// parseSymptomList parses a completion as a comma-separated symptom list,
// filtering tokens that look like detail text rather than symptom names.
// Returns nil when nothing usable remains.
func parseSymptomList(completion string) []string {
	completion = strings.ReplaceAll(completion, "\n", ",")
	var symptoms []string
	seen := make(map[string]bool)
	for _, token := range strings.Split(completion, ",") {
		token = strings.ToLower(strings.Trim(strings.TrimSpace(token), `."'`))
		token = enumMarker.ReplaceAllString(token, "")
		if !validSymptomToken(token) || seen[token] {
			continue
		}
		seen[token] = true
		symptoms = append(symptoms, token)
		if len(symptoms) == maxSymptoms {
			break
		}
	}
	return symptoms
}

func validSymptomToken(token string) bool {
	if len(token) < 3 || len(token) > 40 {
		return false
	}
	hasAlpha := false
	for _, r := range token {
		if unicode.IsLetter(r) {
			hasAlpha = true
			break
		}
	}
	if !hasAlpha {
		return false
	}
	for _, stop := range stopWords {
		if strings.Contains(token, stop) {
			return false
		}
	}
	return true
}

// absentValues are completions that mean "the text does not say".
var absentValues = map[string]bool{
	"not mentioned": true,
	"not specified": true,
	"n/a":           true,
	"none":          true,
	"unknown":       true,
}

// parseDetailLines parses 'Field: value' completion lines into Details.
func parseDetailLines(completion string) Details {
	var d Details
	for _, line := range strings.Split(completion, "\n") {
		line = enumMarker.ReplaceAllString(strings.TrimSpace(line), "")
		label, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" || absentValues[strings.ToLower(value)] {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(label)) {
		case "duration":
			d.Duration = value
		case "severity":
			d.Severity = value
		case "frequency":
			d.Frequency = value
		case "factors":
			d.Factors = value
		}
	}
	return d
}

// parseQuestions keeps completion lines that look like real questions:
// they contain a question mark and are strictly between 10 and 100
// characters after stripping enumeration markers.
func parseQuestions(completion string) []string {
	var questions []string
	for _, line := range strings.Split(completion, "\n") {
		line = enumMarker.ReplaceAllString(strings.TrimSpace(line), "")
		if !strings.Contains(line, "?") {
			continue
		}
		if len(line) <= 10 || len(line) >= 100 {
			continue
		}
		questions = append(questions, line)
		if len(questions) == maxQuestions {
			break
		}
	}
	return questions
}

// cleanSummary strips a leading "Summary:" label the model tends to echo.
func cleanSummary(completion string) string {
	s := strings.TrimSpace(completion)
	for _, label := range []string{"Summary:", "summary:"} {
		s = strings.TrimSpace(strings.TrimPrefix(s, label))
	}
	return s
}
