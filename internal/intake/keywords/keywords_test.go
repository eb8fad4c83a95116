package keywords_test

import (
	"testing"

	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/intake/keywords"
)

func TestPolarity(t *testing.T) {
	t.Parallel()

	m := keywords.Default()
	tests := []struct {
		text string
		want keywords.Polarity
	}{
		{"Yes, that's right.", keywords.Yes},
		{"haan ji", keywords.Yes},
		{"theek hai", keywords.Yes},
		{"bilkul", keywords.Yes},
		{"no", keywords.No},
		{"nahi galat hai", keywords.No},
		{"bilkul nahi", keywords.No},
		{"sahi nahi hai", keywords.No},
		{"That's not right", keywords.No}, // "not right" is one negative phrase
		{"yes no", keywords.Mixed},
		{"hai", keywords.Neither},
		{"what time do you open", keywords.Neither},
		{"", keywords.Neither},
		{"corect", keywords.Yes},       // fuzzy
		{"absolutly", keywords.Yes},    // fuzzy
		{"note", keywords.Neither},     // too far from "nope"
		{"yess", keywords.Neither},     // short tokens never match fuzzily
		{"no correct", keywords.Mixed}, // exact matches suppress the fuzzy stage
	}
	for _, tc := range tests {
		t.Run(tc.text, func(t *testing.T) {
			t.Parallel()
			if got := m.Polarity(tc.text); got != tc.want {
				t.Errorf("Polarity(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}

func TestUpload(t *testing.T) {
	t.Parallel()

	m := keywords.Default()
	tests := []struct {
		text string
		want keywords.UploadIntent
	}{
		{"skip", keywords.UploadSkip},
		{"baad mein", keywords.UploadSkip},
		{"I don't have any", keywords.UploadSkip},
		{"done", keywords.UploadDone},
		{"upload kar diya", keywords.UploadDone},
		{"I have uploaded it", keywords.UploadDone},
		{"hmm wait a second", keywords.UploadUnknown},
		{"skip, it's done anyway", keywords.UploadSkip},
	}
	for _, tc := range tests {
		t.Run(tc.text, func(t *testing.T) {
			t.Parallel()
			if got := m.Upload(tc.text); got != tc.want {
				t.Errorf("Upload(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}

func TestMentions(t *testing.T) {
	t.Parallel()

	m := keywords.Default()
	tests := []struct {
		text string
		want keywords.Target
	}{
		{"my name", keywords.TargetName},
		{"naam galat hai", keywords.TargetName},
		{"the phone number", keywords.TargetPhone},
		{"number", keywords.TargetPhone},
		{"both", keywords.TargetBoth},
		{"dono", keywords.TargetBoth},
		{"name and phone", keywords.TargetBoth},
		{"name nahi, phone", keywords.TargetPhone},
		{"not the name, the phone", keywords.TargetPhone},
		{"name nahi", keywords.TargetPhone},
		{"phone nahi", keywords.TargetName},
		{"name is right", keywords.TargetPhone},
		{"naam sahi nahi hai", keywords.TargetName},
		{"naam theek hai, phone galat", keywords.TargetPhone},
		{"nmae", keywords.TargetName}, // fuzzy
		{"I am not sure", keywords.TargetNone},
		{"", keywords.TargetNone},
	}
	for _, tc := range tests {
		t.Run(tc.text, func(t *testing.T) {
			t.Parallel()
			if got := m.Mentions(tc.text); got != tc.want {
				t.Errorf("Mentions(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}

func TestHas(t *testing.T) {
	t.Parallel()

	m := keywords.Default()
	if !m.Has("ji haan, bilkul", keywords.Affirmative) {
		t.Error("expected affirmative")
	}
	if m.Has("haan", keywords.Negative) {
		t.Error("haan is not negative")
	}
}

func TestCustomTables(t *testing.T) {
	t.Parallel()

	m := keywords.New(
		keywords.WithTables(map[keywords.Class]map[keywords.Lang][]string{
			keywords.Affirmative: {keywords.English: {"affirmative"}},
		}),
		keywords.WithFuzzyThreshold(0.99),
	)
	if m.Polarity("yes") != keywords.Neither {
		t.Error("built-in tables should be replaced")
	}
	if m.Polarity("affirmative") != keywords.Yes {
		t.Error("custom entry should match")
	}
	if m.Polarity("afirmative") != keywords.Neither {
		t.Error("threshold 0.99 should reject the misspelling")
	}
}
