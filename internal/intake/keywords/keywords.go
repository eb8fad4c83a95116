// Package keywords holds the enumerable token tables the intake dialogue uses
// to read yes/no answers, upload progress and correction targets from
// transcribed speech.
//
// Tables are kept per language: English and Roman Urdu, the mix callers
// code-switch between. Matching runs on every language at once.
//
// Matching proceeds in two stages:
//
//  1. Exact: the utterance is lowercased, punctuation becomes whitespace and
//     table entries are matched as whole-token sequences, longest entry
//     first. A token consumed by one entry is not reused by a shorter one,
//     so "bilkul nahi" reads as a single negative rather than as affirmative
//     "bilkul" plus negative "nahi".
//
//  2. Fuzzy: only when the exact stage found nothing, single-word entries of
//     at least four letters are compared against the remaining tokens with
//     Jaro-Winkler similarity, which absorbs STT misspellings like "corect".
package keywords

import (
	"slices"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// Class is a keyword category.
type Class int

const (
	Affirmative Class = iota
	Negative
	Skip
	Done
	NameField
	PhoneField
	Both

	// negation holds bare negation particles used to read "name nahi, phone"
	// style corrections. Unlike Negative it excludes words like "wrong".
	negation
)

func (c Class) String() string {
	switch c {
	case Affirmative:
		return "affirmative"
	case Negative:
		return "negative"
	case Skip:
		return "skip"
	case Done:
		return "done"
	case NameField:
		return "name_field"
	case PhoneField:
		return "phone_field"
	case Both:
		return "both"
	case negation:
		return "negation"
	}
	return "unknown"
}

// Lang tags a table entry with the language it came from.
type Lang string

const (
	English Lang = "en"
	Urdu    Lang = "ur"
)

// Tables maps each class to its per-language entries. Multi-word entries are
// phrases.
var Tables = map[Class]map[Lang][]string{
	Affirmative: {
		English: {"yes", "yeah", "yep", "yup", "yes please", "correct", "right", "that's right", "that is right",
			"that's correct", "sure", "ok", "okay", "absolutely", "exactly", "of course", "perfect", "fine"},
		Urdu: {"haan", "han", "haa", "ji", "jee", "ji haan", "theek", "thik", "theek hai", "thik hai",
			"sahi", "sahi hai", "bilkul", "durust"},
	},
	Negative: {
		English: {"no", "nope", "nah", "not", "wrong", "incorrect", "that's wrong", "not right", "not correct", "mistake"},
		Urdu:    {"nahi", "nahin", "nai", "na", "galat", "ghalat", "bilkul nahi", "sahi nahi", "theek nahi"},
	},
	Skip: {
		English: {"skip", "skip it", "later", "not now", "no document", "no documents", "no file", "no report",
			"don't have", "do not have", "nothing", "no", "nope", "move on", "continue"},
		Urdu: {"baad mein", "baad me", "chhodo", "chodo", "nahi hai", "nahi", "koi nahi", "rehne do"},
	},
	Done: {
		English: {"done", "uploaded", "finished", "i've uploaded", "i have uploaded", "completed", "complete",
			"sent", "submitted", "it's up"},
		Urdu: {"ho gaya", "hogaya", "ho gya", "kar diya", "kardiya", "bhej diya", "upload kar diya", "upload ho gaya"},
	},
	NameField: {
		English: {"name", "my name", "first name", "last name", "spelling"},
		Urdu:    {"naam", "mera naam"},
	},
	PhoneField: {
		English: {"phone", "number", "phone number", "mobile", "mobile number", "cell", "contact", "digits"},
		Urdu:    {"fone", "numbar", "nambar"},
	},
	Both: {
		English: {"both", "both of them", "everything", "all of it", "all"},
		Urdu:    {"dono", "sab", "sab kuch"},
	},
	negation: {
		English: {"not", "isn't", "don't"},
		Urdu:    {"nahi", "nahin", "nai", "na"},
	},
}

const (
	defaultFuzzyThreshold = 0.92
	minFuzzyLen           = 4
)

// Option configures a [Matcher].
type Option func(*Matcher)

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for the fuzzy
// stage. Default: 0.92.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) { m.threshold = threshold }
}

// WithTables replaces the built-in tables.
func WithTables(t map[Class]map[Lang][]string) Option {
	return func(m *Matcher) { m.tables = t }
}

type entry struct {
	class  Class
	lang   Lang
	tokens []string
}

// Matcher matches utterances against the keyword tables. It is read-only
// after construction and safe for concurrent use.
type Matcher struct {
	threshold float64
	tables    map[Class]map[Lang][]string
	entries   map[Class][]entry
}

// New returns a [Matcher] over [Tables] unless overridden by options.
func New(opts ...Option) *Matcher {
	m := &Matcher{threshold: defaultFuzzyThreshold, tables: Tables}
	for _, o := range opts {
		o(m)
	}
	m.entries = make(map[Class][]entry, len(m.tables))
	for class, langs := range m.tables {
		for lang, words := range langs {
			for _, w := range words {
				if toks := tokenize(w); len(toks) > 0 {
					m.entries[class] = append(m.entries[class], entry{class: class, lang: lang, tokens: toks})
				}
			}
		}
	}
	return m
}

var defaultMatcher = New()

// Default returns a shared [Matcher] over the built-in tables.
func Default() *Matcher { return defaultMatcher }

// hit is one matched entry covering tokens [start, end).
type hit struct {
	entry
	start, end int
}

// tokenize lowercases s and splits it on anything that is not a letter or
// digit. Apostrophes are dropped so "don't" and "dont" coincide.
func tokenize(s string) []string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\'' || r == '’':
			return -1
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Fields(s)
}

// find matches classes against toks. See the package documentation for the
// two stages.
func (m *Matcher) find(toks []string, classes ...Class) []hit {
	var cands []entry
	for _, c := range classes {
		cands = append(cands, m.entries[c]...)
	}
	// Longest first; ties keep class order so earlier classes win.
	slices.SortStableFunc(cands, func(a, b entry) int { return len(b.tokens) - len(a.tokens) })

	covered := make([]bool, len(toks))
	var hits []hit
	for _, e := range cands {
		n := len(e.tokens)
	scan:
		for i := 0; i+n <= len(toks); i++ {
			for j := range n {
				if covered[i+j] || toks[i+j] != e.tokens[j] {
					continue scan
				}
			}
			for j := range n {
				covered[i+j] = true
			}
			hits = append(hits, hit{entry: e, start: i, end: i + n})
		}
	}
	if len(hits) > 0 {
		return sortHits(hits)
	}

	for i, tok := range toks {
		if len([]rune(tok)) < minFuzzyLen {
			continue
		}
		best, bestScore := entry{}, 0.0
		for _, e := range cands {
			if len(e.tokens) != 1 || len([]rune(e.tokens[0])) < minFuzzyLen {
				continue
			}
			if s := matchr.JaroWinkler(tok, e.tokens[0], false); s >= m.threshold && s > bestScore {
				best, bestScore = e, s
			}
		}
		if bestScore > 0 {
			hits = append(hits, hit{entry: best, start: i, end: i + 1})
		}
	}
	return sortHits(hits)
}

func sortHits(h []hit) []hit {
	slices.SortFunc(h, func(a, b hit) int { return a.start - b.start })
	return h
}

// Has reports whether text contains an entry of class c.
func (m *Matcher) Has(text string, c Class) bool {
	return len(m.find(tokenize(text), c)) > 0
}

// Polarity is the yes/no reading of an utterance.
type Polarity int

const (
	// Neither means no affirmative or negative token was found.
	Neither Polarity = iota
	Yes
	No
	// Mixed means both affirmative and negative tokens were found.
	Mixed
)

func (p Polarity) String() string {
	switch p {
	case Yes:
		return "yes"
	case No:
		return "no"
	case Mixed:
		return "mixed"
	}
	return "neither"
}

// Polarity classifies text as a yes, a no, both or neither.
func (m *Matcher) Polarity(text string) Polarity {
	var yes, no bool
	for _, h := range m.find(tokenize(text), Affirmative, Negative) {
		switch h.class {
		case Affirmative:
			yes = true
		case Negative:
			no = true
		}
	}
	switch {
	case yes && no:
		return Mixed
	case yes:
		return Yes
	case no:
		return No
	}
	return Neither
}

// UploadIntent is the reading of a reply while waiting for documents.
type UploadIntent int

const (
	UploadUnknown UploadIntent = iota
	UploadSkip
	UploadDone
)

// Upload reports whether text asks to skip the upload or says it finished.
// Skip wins when both appear.
func (m *Matcher) Upload(text string) UploadIntent {
	var skip, done bool
	for _, h := range m.find(tokenize(text), Skip, Done) {
		switch h.class {
		case Skip:
			skip = true
		case Done:
			done = true
		}
	}
	switch {
	case skip:
		return UploadSkip
	case done:
		return UploadDone
	}
	return UploadUnknown
}

// Target is the field a caller asks to correct.
type Target int

const (
	TargetNone Target = iota
	TargetName
	TargetPhone
	TargetBoth
)

func (t Target) String() string {
	switch t {
	case TargetName:
		return "name"
	case TargetPhone:
		return "phone"
	case TargetBoth:
		return "both"
	}
	return "none"
}

// Mentions reports which field text names as needing correction.
//
// A field mention is excluded when a negation particle binds to it ("name
// nahi", "not the name") or when it is called right ("naam sahi hai"); a
// mention both called right and negated ("naam sahi nahi") stays in. When
// exactly one field is left it is the target; when the only mentions were
// excluded and they cover a single field, the other field is the target.
func (m *Matcher) Mentions(text string) Target {
	toks := tokenize(text)
	hits := m.find(toks, NameField, PhoneField, Both, Affirmative, negation)

	var fields []hit
	for _, h := range hits {
		if h.class == Both {
			return TargetBoth
		}
		if h.class == NameField || h.class == PhoneField {
			fields = append(fields, h)
		}
	}

	included := map[Class]bool{}
	excluded := map[Class]bool{}
	for _, f := range fields {
		if isExcluded(f, hits) {
			excluded[f.class] = true
		} else {
			included[f.class] = true
		}
	}

	switch {
	case included[NameField] && included[PhoneField]:
		return TargetBoth
	case included[NameField]:
		return TargetName
	case included[PhoneField]:
		return TargetPhone
	case excluded[NameField] && !excluded[PhoneField]:
		return TargetPhone
	case excluded[PhoneField] && !excluded[NameField]:
		return TargetName
	}
	return TargetNone
}

// isExcluded inspects the hits around field f. Urdu particles follow the
// word they negate, English ones precede it; affirmations follow.
func isExcluded(f hit, hits []hit) bool {
	var negated, affirmed bool
	for _, h := range hits {
		if h.class == NameField || h.class == PhoneField {
			continue
		}
		if between(f, h, hits) {
			continue
		}
		after := h.start >= f.end && h.start-f.end <= 1
		before := h.end <= f.start && f.start-h.end <= 1
		switch h.class {
		case negation:
			if (h.lang == Urdu && after) || (h.lang == English && before) {
				negated = true
			}
		case Affirmative:
			if after {
				affirmed = true
			}
		}
	}
	return negated != affirmed
}

// between reports whether another field mention sits between f and h.
func between(f, h hit, hits []hit) bool {
	lo, hi := f.end, h.start
	if h.end <= f.start {
		lo, hi = h.end, f.start
	}
	for _, o := range hits {
		if (o.class == NameField || o.class == PhoneField) && o.start >= lo && o.end <= hi {
			return true
		}
	}
	return false
}
