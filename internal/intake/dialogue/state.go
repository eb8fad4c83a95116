package dialogue

import "maps"

// Phase is a dialogue state.
type Phase string

const (
	Greeting          Phase = "greeting"
	Collecting        Phase = "collecting"
	ConfirmInfo       Phase = "confirm_info"
	AskCorrection     Phase = "ask_correction"
	MedicalHistory    Phase = "medical_history"
	WaitingUpload     Phase = "waiting_upload"
	DocumentQuestions Phase = "document_questions"
	Rag               Phase = "rag"
)

// Field keys saved to the session store.
const (
	KeyFullName         = "full_name"
	KeyPhone            = "phone"
	KeyMedicalHistory   = "has_medical_history"
	KeyDocumentType     = "document_type"
	KeyDocumentDate     = "document_date"
	KeyDocumentFindings = "document_findings"
)

const defaultLanguage = "en"

// State is one caller's conversation state. It is owned by a single session
// and never shared; [Machine.Handle] receives it by value and returns the
// successor, leaving the input untouched.
type State struct {
	Phase Phase

	// CurrentKey is the field being collected in Collecting and
	// DocumentQuestions, "" elsewhere.
	CurrentKey string

	// Retries counts validation retry prompts per field, capped at 2.
	Retries map[string]int

	// Repairs counts repair prompts per field, capped at 3.
	Repairs map[string]int

	// TurnNumber counts questions answered in Rag.
	TurnNumber int

	// RagContext is the knowledge text fetched on entry to Rag and refreshed
	// on every question.
	RagContext string

	// LastBackchannelTurn is the Rag turn that last opened with a
	// backchannel, 0 for none.
	LastBackchannelTurn int

	// Language selects the prompt language ("en" or "ur").
	Language string

	// Collected holds the values this session saved, used when the store
	// read-back fails.
	Collected map[string]any
}

// NewState returns the initial state for a call in lang.
func NewState(lang string) State {
	if lang == "" {
		lang = defaultLanguage
	}
	return State{
		Phase:     Greeting,
		Retries:   map[string]int{},
		Repairs:   map[string]int{},
		Language:  lang,
		Collected: map[string]any{},
	}
}

func (s State) clone() State {
	c := s
	c.Retries = cloneOrNew(s.Retries)
	c.Repairs = cloneOrNew(s.Repairs)
	c.Collected = cloneOrNew(s.Collected)
	if c.Phase == "" {
		c.Phase = Greeting
	}
	if c.Language == "" {
		c.Language = defaultLanguage
	}
	return c
}

func cloneOrNew[V any](m map[string]V) map[string]V {
	if m == nil {
		return map[string]V{}
	}
	return maps.Clone(m)
}

// resetCounters clears both counters for key.
func (s *State) resetCounters(key string) {
	delete(s.Retries, key)
	delete(s.Repairs, key)
}
