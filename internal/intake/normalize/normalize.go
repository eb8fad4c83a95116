// Package normalize screens raw transcripts for noise before any dialogue
// logic sees them. It is pure and deterministic; it runs on every utterance.
package normalize

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Field narrows the checks applied by [Classify].
type Field string

const (
	FieldNone  Field = ""
	FieldName  Field = "name"
	FieldPhone Field = "phone"
)

// Reason explains a [Verdict].
type Reason string

const (
	ReasonOK              Reason = "ok"
	ReasonEmpty           Reason = "empty"
	ReasonOnlyPunctuation Reason = "only_punctuation"
	ReasonGarbagePattern  Reason = "garbage_pattern"
	ReasonTooShortForName Reason = "too_short_for_name"
	ReasonRepeatedChar    Reason = "repeated_char"
	ReasonMostlySymbols   Reason = "mostly_symbols"
)

// Verdict is the outcome of [Classify].
type Verdict struct {
	Unclear bool
	Reason  Reason
}

// symbolRatio is the share of non-alphanumeric characters above which an
// utterance counts as noise.
const symbolRatio = 0.7

// hallucinations are strings speech recognisers emit on silence or noise.
// Compared after lowercasing and trimming trailing punctuation.
var hallucinations = map[string]struct{}{
	"uh": {}, "um": {}, "umm": {}, "uhh": {}, "uhm": {}, "hmm": {}, "hm": {}, "mm": {}, "mhm": {},
	"ah": {}, "er": {}, "erm": {}, "eh": {}, "uh huh": {}, "you": {},
	"[inaudible]": {}, "(inaudible)": {}, "[music]": {}, "(music)": {}, "[silence]": {},
	"[blank_audio]": {}, "[noise]": {}, "[laughter]": {}, "[applause]": {},
	"thank you for watching": {}, "thanks for watching": {}, "thank you so much for watching": {},
	"please subscribe": {}, "like and subscribe": {}, "see you next time": {}, "bye bye": {},
}

// hallucinationPrefixes catch credit lines with a variable tail.
var hallucinationPrefixes = []string{
	"subtitles by", "subtitled by", "captions by", "transcribed by", "translated by",
}

// Classify reports whether text is too noisy to act on. For [FieldName] a
// single character is also unclear.
func Classify(text string, field Field) Verdict {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return Verdict{Unclear: true, Reason: ReasonEmpty}
	}

	var alnum, symbols, nonSpace int
	for _, r := range t {
		switch {
		case unicode.IsSpace(r):
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			alnum++
		default:
			symbols++
		}
		nonSpace++
	}
	if alnum == 0 {
		return Verdict{Unclear: true, Reason: ReasonOnlyPunctuation}
	}

	if isHallucination(t) {
		return Verdict{Unclear: true, Reason: ReasonGarbagePattern}
	}
	if isRepeatedChar(t) {
		return Verdict{Unclear: true, Reason: ReasonRepeatedChar}
	}
	if float64(symbols)/float64(nonSpace) > symbolRatio {
		return Verdict{Unclear: true, Reason: ReasonMostlySymbols}
	}
	if field == FieldName && utf8.RuneCountInString(t) < 2 {
		return Verdict{Unclear: true, Reason: ReasonTooShortForName}
	}
	return Verdict{Reason: ReasonOK}
}

func isHallucination(t string) bool {
	if strings.HasPrefix(t, "[") && strings.HasSuffix(t, "]") {
		return true
	}
	bare := strings.TrimRightFunc(t, func(r rune) bool { return unicode.IsPunct(r) && r != ']' && r != ')' })
	if _, ok := hallucinations[bare]; ok {
		return true
	}
	for _, p := range hallucinationPrefixes {
		if strings.HasPrefix(bare, p) {
			return true
		}
	}
	return false
}

// isRepeatedChar reports whether t, ignoring spaces, is one character
// repeated more than twice ("aaa", "k k k k").
func isRepeatedChar(t string) bool {
	var first rune
	n := 0
	for _, r := range t {
		if unicode.IsSpace(r) {
			continue
		}
		if n == 0 {
			first = r
		} else if r != first {
			return false
		}
		n++
	}
	return n > 2
}
