// Package validate holds the deterministic plausibility rules for the
// collected intake fields.
package validate

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Reason explains a [Verdict].
type Reason string

const (
	ReasonOK             Reason = "ok"
	ReasonTooShort       Reason = "too_short"
	ReasonOnlyNumbers    Reason = "only_numbers"
	ReasonNoLetters      Reason = "no_letters"
	ReasonTooManyNumbers Reason = "too_many_numbers"
	ReasonTooLong        Reason = "too_long"
)

// Verdict is the outcome of a field validator.
type Verdict struct {
	Valid  bool
	Reason Reason
}

var ok = Verdict{Valid: true, Reason: ReasonOK}

func invalid(r Reason) Verdict { return Verdict{Reason: r} }

// Phone digit bounds cover local and E.164 numbers.
const (
	MinPhoneDigits = 7
	MaxPhoneDigits = 15
)

// Name rejects values shorter than two characters, made only of digits, with
// no letter at all, or whose digits outnumber half their letters.
func Name(text string) Verdict {
	t := strings.TrimSpace(text)
	if utf8.RuneCountInString(t) < 2 {
		return invalid(ReasonTooShort)
	}

	var letters, digits, other int
	for _, r := range t {
		switch {
		case unicode.IsLetter(r):
			letters++
		case unicode.IsDigit(r):
			digits++
		case !unicode.IsSpace(r):
			other++
		}
	}
	switch {
	case digits > 0 && letters == 0 && other == 0:
		return invalid(ReasonOnlyNumbers)
	case letters == 0:
		return invalid(ReasonNoLetters)
	case digits*2 > letters:
		return invalid(ReasonTooManyNumbers)
	}
	return ok
}

// Phone counts the digits in text, spoken digit words included, and rejects
// fewer than [MinPhoneDigits] or more than [MaxPhoneDigits].
func Phone(text string) Verdict {
	n := len(PhoneDigits(text))
	switch {
	case n < MinPhoneDigits:
		return invalid(ReasonTooShort)
	case n > MaxPhoneDigits:
		return invalid(ReasonTooLong)
	}
	return ok
}

var digitWords = map[string]string{
	"zero": "0", "oh": "0", "o": "0", "one": "1", "two": "2", "three": "3", "four": "4",
	"five": "5", "six": "6", "seven": "7", "eight": "8", "nine": "9",
	// Roman Urdu
	"sifar": "0", "ek": "1", "do": "2", "teen": "3", "char": "4", "chaar": "4",
	"paanch": "5", "panch": "5", "chay": "6", "chhe": "6", "saat": "7", "aath": "8", "nau": "9",
}

// PhoneDigits extracts the digits of a phone number from a transcript.
// Numerals are kept as is; digit words ("three", "teen") become digits and
// "double"/"triple" repeat the following digit.
func PhoneDigits(text string) string {
	var b strings.Builder
	repeat := 1
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		switch tok {
		case "double":
			repeat = 2
			continue
		case "triple":
			repeat = 3
			continue
		}
		var d string
		if w, ok := digitWords[tok]; ok {
			d = w
		} else {
			for _, r := range tok {
				if unicode.IsDigit(r) {
					d += string(r)
				}
			}
		}
		if d == "" {
			repeat = 1
			continue
		}
		// A repeat word applies to the next single digit only.
		b.WriteString(strings.Repeat(d[:1], repeat))
		b.WriteString(d[1:])
		repeat = 1
	}
	return b.String()
}
