// Package script loads the spoken prompt catalogue for the intake dialogue.
//
// A script is a YAML document keyed by language. Each language holds the
// phase prompts, the retry prompts keyed by field and validation reason, and
// optional repair tiers that override the built-in ones:
//
//	languages:
//	  en:
//	    prompts:
//	      ask_name: "May I have your full name, please?"
//	    retry:
//	      phone:
//	        too_short: "That number seems too short."
//	    repair:
//	      phone: ["Sorry?", "Digit by digit, please.", "One last time?"]
//
// The default script is embedded in the binary. A script loaded from disk is
// layered over the default, so a custom file only needs the lines it changes.
package script

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/intake/repair"
)

// Key names one phase prompt.
type Key string

const (
	Greeting               Key = "greeting"
	AskName                Key = "ask_name"
	AskPhone               Key = "ask_phone"
	Confirm                Key = "confirm"
	ConfirmReprompt        Key = "confirm_reprompt"
	AskCorrection          Key = "ask_correction"
	CorrectionReprompt     Key = "correction_reprompt"
	AskNameAgain           Key = "ask_name_again"
	AskPhoneAgain          Key = "ask_phone_again"
	AskMedicalHistory      Key = "ask_medical_history"
	MedicalHistoryReprompt Key = "medical_history_reprompt"
	AskUpload              Key = "ask_upload"
	UploadReminder         Key = "upload_reminder"
	AskDocumentType        Key = "ask_document_type"
	AskDocumentDate        Key = "ask_document_date"
	AskDocumentFindings    Key = "ask_document_findings"
	RagIntro               Key = "rag_intro"
	Reprompt               Key = "reprompt"
)

// Keys lists every phase prompt the dialogue speaks.
var Keys = []Key{
	Greeting, AskName, AskPhone, Confirm, ConfirmReprompt, AskCorrection,
	CorrectionReprompt, AskNameAgain, AskPhoneAgain, AskMedicalHistory,
	MedicalHistoryReprompt, AskUpload, UploadReminder, AskDocumentType,
	AskDocumentDate, AskDocumentFindings, RagIntro, Reprompt,
}

// DefaultLanguage is used when a requested language has no prompt.
const DefaultLanguage = "en"

// FallbackConfirmation is spoken when the confirm template is missing.
const FallbackConfirmation = "Please confirm your details."

// Language is the catalogue for one language.
type Language struct {
	Prompts map[Key]string `yaml:"prompts"`

	// Retry maps field key, then validation reason, to a retry prompt.
	Retry map[string]map[string]string `yaml:"retry"`

	// Repair maps field key to up to three tiered repair prompts. The empty
	// key "generic" applies to fields without their own tiers.
	Repair map[string][]string `yaml:"repair"`
}

// Script is a loaded prompt catalogue. It is read-only once returned.
type Script struct {
	Languages map[string]Language `yaml:"languages"`
}

//go:embed default.yaml
var defaultYAML []byte

var defaultScript = sync.OnceValue(func() *Script {
	s, err := decode(bytes.NewReader(defaultYAML))
	if err != nil {
		panic(fmt.Sprintf("script: embedded default: %v", err))
	}
	return s
})

// Default returns the embedded script.
func Default() *Script { return defaultScript() }

// Load reads a script from path and layers it over [Default]. An empty path
// returns the default.
func Load(path string) (*Script, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("script: open %q: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a script from r and layers it over [Default].
func Parse(r io.Reader) (*Script, error) {
	custom, err := decode(r)
	if err != nil {
		return nil, err
	}
	return merge(Default(), custom), nil
}

func decode(r io.Reader) (*Script, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var s Script
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("script: decode: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Script) validate() error {
	known := make(map[Key]bool, len(Keys))
	for _, k := range Keys {
		known[k] = true
	}
	var errs []error
	for lang, l := range s.Languages {
		for k := range l.Prompts {
			if !known[k] {
				errs = append(errs, fmt.Errorf("script: languages.%s.prompts.%s is not a known prompt", lang, k))
			}
		}
		for field, tiers := range l.Repair {
			if len(tiers) > repair.Ceiling {
				errs = append(errs, fmt.Errorf("script: languages.%s.repair.%s has %d tiers, at most %d allowed",
					lang, field, len(tiers), repair.Ceiling))
			}
		}
	}
	return errors.Join(errs...)
}

// merge returns base with every non-empty entry of over applied on top.
func merge(base, over *Script) *Script {
	out := &Script{Languages: make(map[string]Language)}
	for _, src := range []*Script{base, over} {
		for lang, l := range src.Languages {
			dst := out.Languages[lang]
			if dst.Prompts == nil {
				dst.Prompts = make(map[Key]string)
				dst.Retry = make(map[string]map[string]string)
				dst.Repair = make(map[string][]string)
			}
			for k, v := range l.Prompts {
				if v != "" {
					dst.Prompts[k] = v
				}
			}
			for field, reasons := range l.Retry {
				if dst.Retry[field] == nil {
					dst.Retry[field] = make(map[string]string)
				}
				for reason, v := range reasons {
					if v != "" {
						dst.Retry[field][reason] = v
					}
				}
			}
			for field, tiers := range l.Repair {
				dst.Repair[field] = tiers
			}
			out.Languages[lang] = dst
		}
	}
	return out
}

// Text returns prompt key in lang, falling back to [DefaultLanguage], with
// placeholders filled from data.
func (s *Script) Text(lang string, key Key, data map[string]any) string {
	for _, l := range []string{lang, DefaultLanguage} {
		if t := s.Languages[l].Prompts[key]; t != "" {
			return Format(t, data)
		}
	}
	if key == Confirm || key == ConfirmReprompt {
		return FallbackConfirmation
	}
	return ""
}

// Retry returns the retry prompt for a field rejected with reason. When no
// reason-specific prompt exists the field's repair tier 1 stands in.
func (s *Script) Retry(lang, field, reason string) string {
	for _, l := range []string{lang, DefaultLanguage} {
		if t := s.Languages[l].Retry[field][reason]; t != "" {
			return t
		}
	}
	return s.Repair().NextPrompt(field, 1, lang)
}

// Repair returns a repair strategy whose catalogue holds this script's
// repair tiers. Fields without tiers fall back to the built-in catalogue.
func (s *Script) Repair() *repair.Strategy {
	cat := repair.Catalogue{}
	for lang, l := range s.Languages {
		for field, tiers := range l.Repair {
			var t repair.Tiers
			copy(t[:], tiers)
			if field == "generic" {
				field = ""
			}
			if cat[lang] == nil {
				cat[lang] = map[string]repair.Tiers{}
			}
			cat[lang][field] = t
		}
	}
	return repair.New(cat)
}

var placeholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Format substitutes {name} placeholders from data. Placeholders with no
// entry in data are left exactly as written.
func Format(template string, data map[string]any) string {
	if !strings.Contains(template, "{") {
		return template
	}
	return placeholder.ReplaceAllStringFunc(template, func(m string) string {
		v, ok := data[m[1:len(m)-1]]
		if !ok || v == nil {
			return m
		}
		return fmt.Sprint(v)
	})
}
