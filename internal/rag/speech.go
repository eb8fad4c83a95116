package rag

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode"
)

// Reply is the structured record the model is asked to produce.
type Reply struct {
	Action        string `json:"action"`
	Say           string `json:"say"`
	Intent        string `json:"intent"`
	NeedsFollowup bool   `json:"needs_followup"`
}

// ActionRAG is the action assigned to replies that were not valid JSON.
const ActionRAG = "rag"

// ParseReply decodes raw model output. Markdown fences are stripped and a
// JSON object embedded in surrounding prose is still found. Output that is
// not a JSON object becomes Say verbatim with Action "rag". ok is false in
// that case.
func ParseReply(raw string) (r Reply, ok bool) {
	s := stripFences(raw)
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		start, end := strings.Index(s, "{"), strings.LastIndex(s, "}")
		if start < 0 || end <= start || json.Unmarshal([]byte(s[start:end+1]), &r) != nil {
			return Reply{Action: ActionRAG, Say: s}, false
		}
	}
	r.Say = strings.TrimSpace(r.Say)
	if r.Action == "" {
		r.Action = ActionRAG
	}
	return r, true
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```JSON", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}

// abbreviations never end a sentence.
var abbreviations = map[string]bool{
	"dr": true, "mr": true, "mrs": true, "ms": true, "st": true,
	"vs": true, "etc": true, "e.g": true, "i.e": true, "approx": true,
}

// Sentences splits text after '.', '!' or '?' followed by whitespace or the
// end of the text.
func Sentences(text string) []string {
	text = strings.TrimSpace(text)
	var out []string
	start := 0
	runes := []rune(text)
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if r == '.' && isAbbreviation(runes[start:i]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func isAbbreviation(before []rune) bool {
	fields := strings.Fields(string(before))
	if len(fields) == 0 {
		return false
	}
	return abbreviations[strings.ToLower(fields[len(fields)-1])]
}

// Clamp keeps at most n sentences and makes sure the result ends with
// terminal punctuation.
func Clamp(text string, n int) string {
	sents := Sentences(text)
	if n > 0 && len(sents) > n {
		sents = sents[:n]
	}
	out := strings.Join(sents, " ")
	if out == "" {
		return ""
	}
	switch out[len(out)-1] {
	case '.', '!', '?':
		return out
	}
	return strings.TrimRight(out, ",;: ") + "."
}

var leadingAck = regexp.MustCompile(`(?i)^(okay|ok|sure|alright|all right|great)\b[,.!]?\s*`)

// Personalize inserts name after a leading "Okay", "Sure", "Alright" or
// "Great". An empty name leaves text unchanged.
func Personalize(text, name string) string {
	if name == "" {
		return text
	}
	loc := leadingAck.FindStringSubmatchIndex(text)
	if loc == nil {
		return text
	}
	word := text[loc[2]:loc[3]]
	rest := strings.TrimSpace(text[loc[1]:])
	if rest == "" {
		return word + ", " + name + "."
	}
	return word + ", " + name + ", " + lowerFirst(rest)
}

// lowerFirst lowercases the first letter unless the first word is "I", a
// title like "Dr." or an acronym.
func lowerFirst(s string) string {
	word, _, _ := strings.Cut(s, " ")
	if word == "I" || strings.HasPrefix(word, "I'") || abbreviations[strings.ToLower(strings.TrimSuffix(word, "."))] {
		return s
	}
	r := []rune(s)
	if len(r) > 1 && unicode.IsUpper(r[1]) {
		return s
	}
	r[0] = unicode.ToLower(r[0])
	return string(r)
}

var offerMarkers = []string{
	"anything else", "can i help", "may i help", "help you with", "would you like", "let me know",
}

// HasOffer reports whether text already ends in an offer: its last sentence
// is a question or carries a follow-up marker.
func HasOffer(text string) bool {
	sentences := Sentences(text)
	if len(sentences) == 0 {
		return false
	}
	last := strings.ToLower(sentences[len(sentences)-1])
	if strings.HasSuffix(last, "?") {
		return true
	}
	for _, m := range offerMarkers {
		if strings.Contains(last, m) {
			return true
		}
	}
	return false
}

// FollowUp returns the follow-up offer, addressed to name when known.
func FollowUp(name string) string {
	if name == "" {
		return "Is there anything else I can help you with?"
	}
	return "Is there anything else I can help you with, " + name + "?"
}
