package analysis

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// SentinelSymptom is returned when no vocabulary term matches, so symptom
// identification never yields an empty result.
const SentinelSymptom = "general health concern"

// defaultVocabulary lists the symptom terms the rule engine recognizes, in
// priority order. Matching is word-boundary and case-insensitive.
var defaultVocabulary = []string{
	"headache", "migraine", "fever", "cough", "sore throat", "runny nose",
	"congestion", "sneezing", "shortness of breath", "wheezing",
	"chest pain", "palpitations", "dizziness", "fainting", "fatigue",
	"weakness", "nausea", "vomiting", "diarrhea", "constipation",
	"abdominal pain", "stomach ache", "heartburn", "bloating",
	"back pain", "neck pain", "joint pain", "muscle pain", "stiffness",
	"swelling", "rash", "itching", "bruising", "numbness", "tingling",
	"blurred vision", "ear pain", "hearing loss", "insomnia", "anxiety",
	"depression", "loss of appetite", "weight loss", "night sweats",
	"chills", "pain",
}

type vocabTerm struct {
	name    string
	pattern *regexp.Regexp
}

// RuleEngine is the deterministic fallback analyzer: word-boundary keyword
// matching over an immutable vocabulary plus independent regex scans for
// symptom details. It has no external dependencies and is always available.
type RuleEngine struct {
	vocabulary []vocabTerm
}

// NewRuleEngine builds a rule engine over the default symptom vocabulary.
func NewRuleEngine() *RuleEngine {
	return newRuleEngine(defaultVocabulary)
}

// NewRuleEngineWithVocabulary builds a rule engine over a custom term list.
// Empty terms are dropped; order is preserved and determines match priority.
func NewRuleEngineWithVocabulary(terms []string) *RuleEngine {
	return newRuleEngine(terms)
}

// LoadVocabularyFile reads a JSON file of the form {"symptoms": [...]}.
func LoadVocabularyFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vocabulary file: %w", err)
	}
	var doc struct {
		Symptoms []string `json:"symptoms"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("vocabulary file %s: %w", path, err)
	}
	if len(doc.Symptoms) == 0 {
		return nil, fmt.Errorf("vocabulary file %s: no symptoms listed", path)
	}
	return doc.Symptoms, nil
}

func newRuleEngine(terms []string) *RuleEngine {
	vocab := make([]vocabTerm, 0, len(terms))
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		// \b works here because vocabulary terms start and end with word chars.
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`)
		vocab = append(vocab, vocabTerm{name: term, pattern: re})
	}
	return &RuleEngine{vocabulary: vocab}
}

// IdentifySymptoms scans text against the vocabulary and returns up to
// limit distinct matches in vocabulary order. When nothing matches it
// returns the sentinel entry, never an empty slice.
func (r *RuleEngine) IdentifySymptoms(text string, limit int) []string {
	var matches []string
	for _, term := range r.vocabulary {
		if term.pattern.MatchString(text) {
			matches = append(matches, term.name)
			if len(matches) == limit {
				break
			}
		}
	}
	if len(matches) == 0 {
		return []string{SentinelSymptom}
	}
	return matches
}

var (
	durationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(\d+\s*(?:day|week|month|year|hour)s?)`),
		regexp.MustCompile(`(?i)(since\s+\w+)`),
		regexp.MustCompile(`(?i)(for\s+(?:the\s+)?(?:past\s+)?(?:last\s+)?\d+\s+\w+)`),
		regexp.MustCompile(`(?i)(about\s+\d+\s+\w+)`),
	}
	severityPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(\d+)\s*(?:out\s+of|/)\s*10`),
		regexp.MustCompile(`(?i)severity\s*:?\s*(\d+)`),
		regexp.MustCompile(`(?i)pain\s*:?\s*(\d+)`),
		regexp.MustCompile(`(?i)\b(severe|mild|moderate|extreme|intense|slight|excruciating|unbearable)\b`),
	}
	frequencyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(daily|everyday|every\s+day)\b`),
		regexp.MustCompile(`(?i)\b(every\s+morning|in\s+the\s+morning)\b`),
		regexp.MustCompile(`(?i)\b(every\s+evening|in\s+the\s+evening)\b`),
		regexp.MustCompile(`(?i)\b(every\s+night|at\s+night)\b`),
		regexp.MustCompile(`(?i)\b(hourly|every\s+hour)\b`),
		regexp.MustCompile(`(?i)\b(weekly|every\s+week)\b`),
		regexp.MustCompile(`(?i)\b(constantly|always|frequently|occasionally|rarely)\b`),
		regexp.MustCompile(`(?i)\b(\d+\s+times?\s+(?:a|per)\s+\w+)\b`),
		regexp.MustCompile(`(?i)\b((?:once|twice|thrice)\s+(?:a|per|an)\s+\w+)\b`),
	}
	factorPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:worse|triggered|caused|worsens|aggravated)\s+(?:by|when|after|with)\s+([^.!?,]+)`),
		regexp.MustCompile(`(?i)(?:better|improves|relieved)\s+(?:by|when|after|with)\s+([^.!?,]+)`),
	}
)

// ExtractDetails runs the independent regex scans for duration, severity,
// frequency and aggravating factors. Each field is filled independently
// from the first matching pattern; unmatched fields stay empty.
func (r *RuleEngine) ExtractDetails(text string) Details {
	var d Details
	d.Duration = firstMatch(durationPatterns, text)
	d.Severity = firstMatch(severityPatterns, text)
	d.Frequency = firstMatch(frequencyPatterns, text)
	d.Factors = firstMatch(factorPatterns, text)
	return d
}

func firstMatch(patterns []*regexp.Regexp, text string) string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return strings.ToLower(strings.TrimSpace(m[1]))
		}
	}
	return ""
}

// GenerateQuestions emits the fixed template questions, one each for
// Duration, Severity and Frequency, skipping fields already known.
func (r *RuleEngine) GenerateQuestions(symptom string, known Details) []string {
	var questions []string
	if known.Duration == "" {
		questions = append(questions, fmt.Sprintf("How long have you been experiencing %s?", symptom))
	}
	if known.Severity == "" {
		questions = append(questions, fmt.Sprintf("On a scale of 1-10, how would you rate the severity of your %s?", symptom))
	}
	if known.Frequency == "" {
		questions = append(questions, fmt.Sprintf("How frequently do you experience %s?", symptom))
	}
	return questions
}

// Summarize renders the deterministic fallback summary.
func (r *RuleEngine) Summarize(rec Record) string {
	if len(rec.Symptoms) == 0 {
		return NoSymptomSummary
	}

	names := symptomNames(rec, 3)
	summary := fmt.Sprintf("%dyo %s with %d symptom(s): %s.",
		rec.Age, rec.Gender, len(rec.Symptoms), strings.Join(names, ", "))

	if d := rec.Symptoms[0].Details.Duration; d != "" {
		summary += fmt.Sprintf(" Duration: %s.", d)
	}
	return summary
}

// ClinicalInsights renders the deterministic fallback checklist.
func (r *RuleEngine) ClinicalInsights(rec Record) string {
	names := symptomNames(rec, 3)
	var b strings.Builder
	b.WriteString("Clinical review notes:\n")
	fmt.Fprintf(&b, "- Patient presents with %d reported symptom(s): %s\n", len(rec.Symptoms), strings.Join(names, ", "))
	b.WriteString("- Perform a focused physical examination for each reported symptom\n")
	b.WriteString("- Review symptom progression, medical history and current medications\n")
	b.WriteString("- Order baseline diagnostics as indicated by the presentation\n")
	b.WriteString("- Monitor for red-flag features and escalate if they appear")
	return b.String()
}

// NoSymptomSummary is returned for records with no reported symptoms.
const NoSymptomSummary = "Patient record contains no reported symptoms; general health information has been recorded for clinical review."

func symptomNames(rec Record, limit int) []string {
	names := make([]string, 0, limit)
	for _, s := range rec.Symptoms {
		names = append(names, s.Name)
		if len(names) == limit {
			break
		}
	}
	if len(names) == 0 {
		names = append(names, "none reported")
	}
	return names
}
