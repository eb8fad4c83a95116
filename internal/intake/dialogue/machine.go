// Package dialogue implements the clinic intake conversation as an explicit
// state machine.
//
// The machine collects the caller's name and phone number, reads them back
// for confirmation, offers a correction loop, asks about medical history and
// uploaded documents, and then hands every further utterance to the RAG
// responder for the rest of the call:
//
//	Greeting → Collecting(full_name) → Collecting(phone) → ConfirmInfo
//	ConfirmInfo ─yes→ MedicalHistory ─yes→ WaitingUpload ─done→ DocumentQuestions → Rag
//	ConfirmInfo ─no→ AskCorrection → Collecting(full_name | phone)
//	MedicalHistory ─no→ Rag     WaitingUpload ─skip→ Rag
//
// Noisy transcripts are handled by tiered repair prompts and implausible
// values by retry prompts; each has its own per-field ceiling after which the
// caller's literal words are accepted, so no input can trap a caller.
//
// [Machine.Handle] always yields something to say. Store and knowledge
// calls are described as [Effect] values and dispatched through the session's
// [Executor]; their failures are logged and leave the prompt unchanged.
package dialogue

import (
	"context"
	"log/slog"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/intake/keywords"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/intake/normalize"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/intake/repair"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/intake/script"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/intake/validate"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/observe"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/rag"
)

// RetryCeiling is the number of validation retry prompts per field before
// the value is accepted as given.
const RetryCeiling = 2

// Outcome summarises what a turn did.
type Outcome string

const (
	OutcomeAdvanced Outcome = "advanced"
	OutcomeSaved    Outcome = "saved"
	OutcomeForced   Outcome = "forced_accept"
	OutcomeRepair   Outcome = "repair"
	OutcomeRetry    Outcome = "retry"
	OutcomeReprompt Outcome = "reprompt"
	OutcomeAnswered Outcome = "answered"
)

// Forced-accept causes.
const (
	CauseRepairCeiling = "repair_ceiling"
	CauseRetryCeiling  = "retry_ceiling"
)

// Result is what one turn produced.
type Result struct {
	Speak   string
	Effects []Effect
	From    Phase
	To      Phase
	Outcome Outcome
}

// Machine runs the dialogue for one session. It holds no conversation state
// of its own; that lives in [State].
type Machine struct {
	exec       Executor
	responder  Responder
	script     *script.Script
	repair     *repair.Strategy
	keywords   *keywords.Matcher
	checker    Checker
	metrics    *observe.Metrics
	clinicName string
	log        *slog.Logger
}

// Option configures a [Machine].
type Option func(*Machine)

// WithScript sets the prompt script. Default: [script.Default].
func WithScript(s *script.Script) Option {
	return func(m *Machine) {
		if s != nil {
			m.script = s
		}
	}
}

// WithKeywords sets the keyword matcher. Default: [keywords.Default].
func WithKeywords(k *keywords.Matcher) Option {
	return func(m *Machine) {
		if k != nil {
			m.keywords = k
		}
	}
}

// WithChecker enables the model second opinion on rejected values. A nil
// checker disables it.
func WithChecker(c Checker) Option { return func(m *Machine) { m.checker = c } }

// WithMetrics records turns, transitions, repairs, retries and forced
// accepts on met.
func WithMetrics(met *observe.Metrics) Option { return func(m *Machine) { m.metrics = met } }

// WithClinicName fills {clinic_name} in prompts.
func WithClinicName(name string) Option { return func(m *Machine) { m.clinicName = name } }

// WithLogger sets the logger, typically carrying a session_id attribute.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.log = l
		}
	}
}

// New returns a Machine dispatching effects through exec. responder may be
// nil, in which case Rag turns apologise.
func New(exec Executor, responder Responder, opts ...Option) *Machine {
	m := &Machine{
		exec:      exec,
		responder: responder,
		script:    script.Default(),
		keywords:  keywords.Default(),
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	m.repair = m.script.Repair()
	return m
}

// turn is the scratch space for one Handle call.
type turn struct {
	next    State
	res     Result
	confirm script.Key
}

func (t *turn) speak(s string, o Outcome) {
	t.res.Speak = s
	t.res.Outcome = o
}

func (t *turn) effect(e Effect) { t.res.Effects = append(t.res.Effects, e) }

// Greet returns the session-start greeting. The state is not changed.
func (m *Machine) Greet(st State) Result {
	st = st.clone()
	return Result{
		Speak: m.text(st, script.Greeting),
		From:  st.Phase,
		To:    st.Phase,
	}
}

// Handle consumes one finalized utterance and returns the next state and
// what to say. If ctx is cancelled while Handle runs the caller should
// discard the returned state.
func (m *Machine) Handle(ctx context.Context, st State, utterance string) (State, Result) {
	start := time.Now()
	t := &turn{next: st.clone()}
	t.res.From = t.next.Phase
	text := strings.TrimSpace(utterance)

	switch t.next.Phase {
	case Collecting, DocumentQuestions:
		m.collect(ctx, t, text)
	case ConfirmInfo:
		m.confirmInfo(t, text)
	case AskCorrection:
		m.askCorrection(t, text)
	case MedicalHistory:
		m.medicalHistory(t, text)
	case WaitingUpload:
		m.waitingUpload(t, text)
	case Rag:
		m.answer(ctx, t, text)
	default: // Greeting: whatever the caller said, start collecting.
		t.next.Phase = Collecting
		t.next.CurrentKey = KeyFullName
		t.speak(m.text(t.next, script.AskName), OutcomeAdvanced)
	}

	m.dispatch(ctx, t)
	if t.confirm != "" {
		t.res.Speak = m.confirmation(ctx, t.next, t.confirm)
	}
	t.res.To = t.next.Phase

	if m.metrics != nil {
		m.metrics.RecordTurn(ctx, string(t.res.From), time.Since(start).Seconds())
		m.metrics.RecordTransition(ctx, string(t.res.From), string(t.res.To))
	}
	m.log.DebugContext(ctx, "dialogue: turn",
		"from", t.res.From, "to", t.res.To, "key", t.next.CurrentKey,
		"outcome", t.res.Outcome, "effects", len(t.res.Effects))
	return t.next, t.res
}

// collect handles Collecting and DocumentQuestions: screen for noise, then
// validate, then save.
func (m *Machine) collect(ctx context.Context, t *turn, text string) {
	key := t.next.CurrentKey
	if key == "" {
		key = KeyFullName
		t.next.CurrentKey = key
	}

	if v := normalize.Classify(text, normalizeField(key)); v.Unclear {
		n := min(t.next.Repairs[key]+1, repair.Ceiling)
		t.next.Repairs[key] = n
		if n < repair.Ceiling || text == "" {
			if n == repair.Ceiling {
				m.log.WarnContext(ctx, "dialogue: caller silent at repair ceiling", "key", key)
				if m.metrics != nil {
					m.metrics.RecordStall(ctx, key)
				}
			} else {
				m.log.DebugContext(ctx, "dialogue: unclear input", "key", key, "reason", v.Reason, "attempt", n)
			}
			if m.metrics != nil {
				m.metrics.RecordRepair(ctx, key, strconv.Itoa(repair.Tier(n)))
			}
			t.speak(m.repair.NextPrompt(key, n, t.next.Language), OutcomeRepair)
			return
		}
		m.accept(ctx, t, key, text, CauseRepairCeiling)
		return
	}

	verdict := validateField(key, text)
	if verdict.Valid {
		m.accept(ctx, t, key, text, "")
		return
	}
	if t.next.Retries[key] >= RetryCeiling {
		m.accept(ctx, t, key, text, CauseRetryCeiling)
		return
	}
	if m.checker != nil {
		plausible, why := m.checker.Check(ctx, text, key)
		m.log.DebugContext(ctx, "dialogue: model second opinion",
			"key", key, "reason", verdict.Reason, "plausible", plausible, "rationale", why)
		if plausible {
			m.accept(ctx, t, key, text, "")
			return
		}
	}
	t.next.Retries[key]++
	if m.metrics != nil {
		m.metrics.RecordRetry(ctx, key, string(verdict.Reason))
	}
	t.speak(m.script.Retry(t.next.Language, key, string(verdict.Reason)), OutcomeRetry)
}

// accept saves value for key and moves to the next question. A non-empty
// cause marks a value accepted at a ceiling.
func (m *Machine) accept(ctx context.Context, t *turn, key, value, cause string) {
	outcome := OutcomeSaved
	if cause != "" {
		outcome = OutcomeForced
		m.log.InfoContext(ctx, "dialogue: accepting value at ceiling", "key", key, "cause", cause)
		if m.metrics != nil {
			m.metrics.RecordForcedAccept(ctx, key, cause)
		}
	}
	m.save(t, key, value)

	switch key {
	case KeyFullName:
		t.next.Phase, t.next.CurrentKey = Collecting, KeyPhone
		t.speak(m.text(t.next, script.AskPhone), outcome)
	case KeyPhone:
		t.next.Phase, t.next.CurrentKey = ConfirmInfo, ""
		t.res.Outcome = outcome
		t.confirm = script.Confirm
	case KeyDocumentType:
		t.next.CurrentKey = KeyDocumentDate
		t.speak(m.text(t.next, script.AskDocumentDate), outcome)
	case KeyDocumentDate:
		t.next.CurrentKey = KeyDocumentFindings
		t.speak(m.text(t.next, script.AskDocumentFindings), outcome)
	default:
		m.enterRag(t)
		t.res.Outcome = outcome
	}
}

func (m *Machine) save(t *turn, key string, value any) {
	t.next.Collected[key] = value
	t.next.resetCounters(key)
	t.effect(Effect{Kind: EffectSave, Field: key, Value: value})
}

func (m *Machine) enterRag(t *turn) {
	t.next.Phase, t.next.CurrentKey = Rag, ""
	t.effect(Effect{Kind: EffectQueryContext})
	t.speak(m.text(t.next, script.RagIntro), OutcomeAdvanced)
}

func (m *Machine) confirmInfo(t *turn, text string) {
	switch m.keywords.Polarity(text) {
	case keywords.Yes:
		t.next.Phase = MedicalHistory
		t.speak(m.text(t.next, script.AskMedicalHistory), OutcomeAdvanced)
	case keywords.No:
		t.next.Phase = AskCorrection
		t.speak(m.text(t.next, script.AskCorrection), OutcomeAdvanced)
	default:
		t.res.Outcome = OutcomeReprompt
		t.confirm = script.ConfirmReprompt
	}
}

func (m *Machine) askCorrection(t *turn, text string) {
	switch m.keywords.Mentions(text) {
	case keywords.TargetName, keywords.TargetBoth:
		m.recollect(t, KeyFullName, script.AskNameAgain)
	case keywords.TargetPhone:
		m.recollect(t, KeyPhone, script.AskPhoneAgain)
	default:
		t.speak(m.text(t.next, script.CorrectionReprompt), OutcomeReprompt)
	}
}

func (m *Machine) recollect(t *turn, key string, prompt script.Key) {
	t.next.Phase, t.next.CurrentKey = Collecting, key
	t.next.resetCounters(key)
	t.speak(m.text(t.next, prompt), OutcomeAdvanced)
}

func (m *Machine) medicalHistory(t *turn, text string) {
	switch m.keywords.Polarity(text) {
	case keywords.Yes:
		m.save(t, KeyMedicalHistory, true)
		t.next.Phase = WaitingUpload
		t.speak(m.text(t.next, script.AskUpload), OutcomeSaved)
	case keywords.No:
		m.save(t, KeyMedicalHistory, false)
		m.enterRag(t)
		t.res.Outcome = OutcomeSaved
	default:
		t.speak(m.text(t.next, script.MedicalHistoryReprompt), OutcomeReprompt)
	}
}

func (m *Machine) waitingUpload(t *turn, text string) {
	switch m.keywords.Upload(text) {
	case keywords.UploadSkip:
		m.enterRag(t)
	case keywords.UploadDone:
		t.next.Phase, t.next.CurrentKey = DocumentQuestions, KeyDocumentType
		t.speak(m.text(t.next, script.AskDocumentType), OutcomeAdvanced)
	default:
		t.speak(m.text(t.next, script.UploadReminder), OutcomeReprompt)
	}
}

// answer handles a Rag turn. Noise is re-prompted without consuming a turn.
func (m *Machine) answer(ctx context.Context, t *turn, text string) {
	if normalize.Classify(text, normalize.FieldNone).Unclear {
		t.speak(m.text(t.next, script.Reprompt), OutcomeReprompt)
		return
	}
	t.next.TurnNumber++
	if m.responder == nil {
		t.speak(rag.Apology, OutcomeAnswered)
		return
	}
	p := rag.Pacing{Turn: t.next.TurnNumber, LastBackchannel: t.next.LastBackchannelTurn}
	ans := m.responder.Answer(ctx, text, m.exec, &p)
	t.next.LastBackchannelTurn = p.LastBackchannel
	t.next.RagContext = ans.Context
	t.speak(ans.Speak, OutcomeAnswered)
}

// dispatch runs the turn's effects in order.
func (m *Machine) dispatch(ctx context.Context, t *turn) {
	if m.exec == nil {
		return
	}
	for i := range t.res.Effects {
		e := &t.res.Effects[i]
		switch e.Kind {
		case EffectSave:
			e.Err = m.exec.Save(ctx, e.Field, e.Value)
		case EffectQueryContext:
			var kb string
			kb, e.Err = m.exec.QueryContext(ctx)
			if e.Err == nil {
				t.next.RagContext = kb
			}
		}
		if e.Err != nil {
			m.log.WarnContext(ctx, "dialogue: effect failed", "kind", e.Kind, "field", e.Field, "err", e.Err)
		}
	}
}

// confirmation renders the confirm prompt from the store read-back, filling
// gaps from the values this session saved.
func (m *Machine) confirmation(ctx context.Context, st State, key script.Key) string {
	data := maps.Clone(st.Collected)
	if m.exec != nil {
		stored, err := m.exec.CollectedData(ctx)
		if err != nil {
			m.log.WarnContext(ctx, "dialogue: read-back failed, confirming local values", "err", err)
		}
		maps.Copy(data, stored)
	}
	return m.render(st, key, data)
}

func (m *Machine) text(st State, key script.Key) string {
	return m.render(st, key, st.Collected)
}

func (m *Machine) render(st State, key script.Key, data map[string]any) string {
	vars := make(map[string]any, len(data)+1)
	maps.Copy(vars, data)
	if m.clinicName != "" {
		vars["clinic_name"] = m.clinicName
	} else {
		vars["clinic_name"] = "our clinic"
	}
	return m.script.Text(st.Language, key, vars)
}

func normalizeField(key string) normalize.Field {
	switch key {
	case KeyFullName:
		return normalize.FieldName
	case KeyPhone:
		return normalize.FieldPhone
	}
	return normalize.FieldNone
}

// validateField applies the deterministic validator for key. Fields without
// one are always valid.
func validateField(key, text string) validate.Verdict {
	switch key {
	case KeyFullName:
		return validate.Name(text)
	case KeyPhone:
		return validate.Phone(text)
	}
	return validate.Verdict{Valid: true, Reason: validate.ReasonOK}
}
