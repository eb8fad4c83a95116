// Package repair picks escalating prompts for fields whose answers keep
// arriving as noise.
package repair

// Ceiling is the number of repair prompts after which the caller's literal
// input is accepted.
const Ceiling = 3

// Tiers holds the tier 1, 2 and 3 prompts for one field.
type Tiers [Ceiling]string

// Catalogue maps language to field key to tiers. The empty field key holds
// the prompts for fields without their own entry.
type Catalogue map[string]map[string]Tiers

// DefaultCatalogue is used for anything a custom catalogue leaves out.
var DefaultCatalogue = Catalogue{
	"en": {
		"full_name": {
			"Sorry, I didn't catch that. Could you please tell me your full name again?",
			"Could you please spell your name for me, letter by letter?",
			"I'm sorry, I'm having trouble hearing you. Please say your full name once more, slowly.",
		},
		"phone": {
			"Sorry, I didn't catch that. Could you repeat your phone number?",
			"Please say your phone number one digit at a time.",
			"I apologize, the line isn't very clear. Please say your phone number once more.",
		},
		"": {
			"Sorry, I didn't catch that. Could you say that again?",
			"Could you say that a little more slowly?",
			"I'm sorry, I'm having trouble hearing you. Please try once more.",
		},
	},
	"ur": {
		"full_name": {
			"معاف کیجیے، میں سن نہیں سکی۔ کیا آپ اپنا پورا نام دوبارہ بتا سکتے ہیں؟",
			"براہِ کرم اپنا نام ایک ایک حرف کر کے بتائیں۔",
			"معذرت، آواز صاف نہیں آ رہی۔ براہِ کرم ایک بار پھر آہستہ سے اپنا پورا نام بتائیں۔",
		},
		"phone": {
			"معاف کیجیے، میں سن نہیں سکی۔ کیا آپ اپنا فون نمبر دوبارہ بتا سکتے ہیں؟",
			"براہِ کرم اپنا فون نمبر ایک ایک ہندسہ کر کے بتائیں۔",
			"معذرت، آواز صاف نہیں آ رہی۔ براہِ کرم ایک بار پھر اپنا فون نمبر بتائیں۔",
		},
		"": {
			"معاف کیجیے، میں سن نہیں سکی۔ کیا آپ دوبارہ کہہ سکتے ہیں؟",
			"براہِ کرم تھوڑا آہستہ بولیں۔",
			"معذرت، آواز صاف نہیں آ رہی۔ براہِ کرم ایک بار پھر کوشش کریں۔",
		},
	},
}

// Strategy selects repair prompts. The zero value uses [DefaultCatalogue].
type Strategy struct {
	cat Catalogue
}

// New returns a Strategy that prefers entries from cat and falls back to
// [DefaultCatalogue] per language and field. Empty tier strings in cat are
// filled from the default too.
func New(cat Catalogue) *Strategy {
	return &Strategy{cat: cat}
}

// Tier maps an attempt number to its tier: 1, 2, or 3 for anything above.
func Tier(attempt int) int {
	switch {
	case attempt <= 1:
		return 1
	case attempt >= Ceiling:
		return Ceiling
	}
	return attempt
}

// NextPrompt returns the prompt for the given attempt at field in lang.
// Unknown languages fall back to English.
func (s *Strategy) NextPrompt(field string, attempt int, lang string) string {
	i := Tier(attempt) - 1
	for _, l := range []string{lang, "en"} {
		for _, f := range []string{field, ""} {
			for _, c := range []Catalogue{s.catalogue(), DefaultCatalogue} {
				if tiers, ok := c[l][f]; ok && tiers[i] != "" {
					return tiers[i]
				}
			}
		}
	}
	return DefaultCatalogue["en"][""][i]
}

func (s *Strategy) catalogue() Catalogue {
	if s == nil {
		return nil
	}
	return s.cat
}
