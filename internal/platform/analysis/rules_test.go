package analysis

import (
	"reflect"
	"strings"
	"testing"
)

func TestRuleIdentifySymptoms(t *testing.T) {
	r := NewRuleEngine()

	t.Run("single match", func(t *testing.T) {
		got := r.IdentifySymptoms("I woke up with a terrible headache this morning", maxSymptoms)
		if !reflect.DeepEqual(got, []string{"headache"}) {
			t.Errorf("got %v, want [headache]", got)
		}
	})

	t.Run("multiple matches in vocabulary order", func(t *testing.T) {
		got := r.IdentifySymptoms("fever and a dry cough, plus a headache", maxSymptoms)
		want := []string{"headache", "fever", "cough"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("case insensitive", func(t *testing.T) {
		got := r.IdentifySymptoms("NAUSEA and Dizziness", maxSymptoms)
		want := []string{"dizziness", "nausea"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("word boundary", func(t *testing.T) {
		// "coughing" should not match the "cough" term... it does match on
		// the word boundary after "cough"? No: \bcough\b requires a
		// non-word char after "cough", and "coughing" continues with "i".
		got := r.IdentifySymptoms("feverish but no real complaints", maxSymptoms)
		if !reflect.DeepEqual(got, []string{SentinelSymptom}) {
			t.Errorf("substring match leaked through: %v", got)
		}
	})

	t.Run("sentinel when nothing matches", func(t *testing.T) {
		got := r.IdentifySymptoms("xyz", maxSymptoms)
		if !reflect.DeepEqual(got, []string{SentinelSymptom}) {
			t.Errorf("got %v, want sentinel", got)
		}
	})

	t.Run("never empty for short inputs", func(t *testing.T) {
		for _, text := range []string{"", "a", "ok", "zzz", "12345", "!?", "hi doc"} {
			if got := r.IdentifySymptoms(text, maxSymptoms); len(got) == 0 {
				t.Errorf("IdentifySymptoms(%q) returned an empty result", text)
			}
		}
	})

	t.Run("capped at limit", func(t *testing.T) {
		text := "headache fever cough dizziness fatigue nausea rash"
		if got := r.IdentifySymptoms(text, maxSymptoms); len(got) > maxSymptoms {
			t.Errorf("got %d symptoms, want at most %d", len(got), maxSymptoms)
		}
	})
}

func TestRuleEngineCustomVocabulary(t *testing.T) {
	r := NewRuleEngineWithVocabulary([]string{"Tinnitus", "", "  vertigo  "})
	got := r.IdentifySymptoms("persistent vertigo and tinnitus", maxSymptoms)
	want := []string{"tinnitus", "vertigo"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestRuleExtractDetails(t *testing.T) {
	r := NewRuleEngine()

	t.Run("golden intake sentence", func(t *testing.T) {
		d := r.ExtractDetails("I have had a severe headache for 3 days, daily")
		if d.Duration != "3 days" {
			t.Errorf("Duration = %q, want %q", d.Duration, "3 days")
		}
		if d.Severity != "severe" {
			t.Errorf("Severity = %q, want %q", d.Severity, "severe")
		}
		if d.Frequency != "daily" {
			t.Errorf("Frequency = %q, want %q", d.Frequency, "daily")
		}
	})

	t.Run("numeric severity", func(t *testing.T) {
		d := r.ExtractDetails("the pain is about 8/10 every morning")
		if d.Severity != "8" {
			t.Errorf("Severity = %q, want %q", d.Severity, "8")
		}
		if d.Frequency != "every morning" {
			t.Errorf("Frequency = %q, want %q", d.Frequency, "every morning")
		}
	})

	t.Run("duration with prefix", func(t *testing.T) {
		d := r.ExtractDetails("it started about two months ago, for the past 2 weeks it got worse")
		if d.Duration != "2 weeks" {
			t.Errorf("Duration = %q, want %q", d.Duration, "2 weeks")
		}
	})

	t.Run("factors", func(t *testing.T) {
		d := r.ExtractDetails("it gets worse after eating spicy food, better with rest")
		if d.Factors != "eating spicy food" {
			t.Errorf("Factors = %q, want %q", d.Factors, "eating spicy food")
		}
	})

	t.Run("unmatched fields stay empty", func(t *testing.T) {
		d := r.ExtractDetails("just not feeling great")
		if !d.Empty() {
			t.Errorf("expected all fields empty, got %+v", d)
		}
	})
}

func TestRuleGenerateQuestions(t *testing.T) {
	r := NewRuleEngine()

	t.Run("nothing known asks all three", func(t *testing.T) {
		qs := r.GenerateQuestions("headache", Details{})
		if len(qs) != 3 {
			t.Fatalf("got %d questions, want 3", len(qs))
		}
		for _, q := range qs {
			if !strings.Contains(q, "?") {
				t.Errorf("question %q has no question mark", q)
			}
			if !strings.Contains(q, "headache") {
				t.Errorf("question %q does not mention the symptom", q)
			}
		}
	})

	t.Run("known duration is never asked", func(t *testing.T) {
		qs := r.GenerateQuestions("headache", Details{Duration: "3 days"})
		if len(qs) != 2 {
			t.Fatalf("got %d questions, want 2", len(qs))
		}
		for _, q := range qs {
			if strings.Contains(q, "How long") {
				t.Errorf("duration question asked despite known duration: %q", q)
			}
		}
	})

	t.Run("everything known asks nothing", func(t *testing.T) {
		qs := r.GenerateQuestions("headache", Details{Duration: "3 days", Severity: "severe", Frequency: "daily"})
		if len(qs) != 0 {
			t.Errorf("got %v, want no questions", qs)
		}
	})
}

func TestRuleSummarize(t *testing.T) {
	r := NewRuleEngine()

	t.Run("template with duration clause", func(t *testing.T) {
		rec := Record{
			Age:    34,
			Gender: "female",
			Symptoms: []SymptomEntry{
				{Name: "headache", Details: Details{Duration: "3 days", Severity: "severe"}},
			},
		}
		got := r.Summarize(rec)
		want := "34yo female with 1 symptom(s): headache. Duration: 3 days."
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("no duration clause when absent", func(t *testing.T) {
		rec := Record{Age: 52, Gender: "male", Symptoms: []SymptomEntry{{Name: "fatigue"}}}
		got := r.Summarize(rec)
		want := "52yo male with 1 symptom(s): fatigue."
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("at most three names listed", func(t *testing.T) {
		rec := Record{Age: 40, Gender: "male", Symptoms: []SymptomEntry{
			{Name: "headache"}, {Name: "fever"}, {Name: "cough"}, {Name: "nausea"},
		}}
		got := r.Summarize(rec)
		if !strings.Contains(got, "4 symptom(s)") {
			t.Errorf("summary should count all symptoms: %q", got)
		}
		if strings.Contains(got, "nausea") {
			t.Errorf("summary should list at most 3 names: %q", got)
		}
	})

	t.Run("no symptoms yields generic sentence", func(t *testing.T) {
		if got := r.Summarize(Record{Age: 30, Gender: "female"}); got != NoSymptomSummary {
			t.Errorf("got %q, want the fixed generic sentence", got)
		}
	})
}

func TestRuleClinicalInsights(t *testing.T) {
	r := NewRuleEngine()
	rec := Record{Age: 61, Gender: "male", Symptoms: []SymptomEntry{{Name: "chest pain"}}}

	got := r.ClinicalInsights(rec)
	if got == "" {
		t.Fatal("insights must never be empty")
	}
	if !strings.Contains(got, "chest pain") {
		t.Errorf("insights should mention the symptom: %q", got)
	}
	if !strings.Contains(got, "red-flag") {
		t.Errorf("insights should include the red-flag item: %q", got)
	}
}
