package dialogue_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"testing"

	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/intake/dialogue"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/intake/repair"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/intake/script"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/rag"
)

// fakeExec records effects and serves read-back from its own map unless
// readBack is set.
type fakeExec struct {
	mu        sync.Mutex
	saved     map[string]any
	saves     []string
	readBack  map[string]any
	readErr   error
	saveErr   error
	kbContext string
	kbErr     error
	queries   int
}

func newExec() *fakeExec { return &fakeExec{saved: map[string]any{}} }

func (f *fakeExec) Save(_ context.Context, field string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, field)
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved[field] = value
	return nil
}

func (f *fakeExec) QueryContext(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	return f.kbContext, f.kbErr
}

func (f *fakeExec) CollectedData(context.Context) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	if f.readBack != nil {
		return maps.Clone(f.readBack), nil
	}
	return maps.Clone(f.saved), nil
}

func (f *fakeExec) FirstName(context.Context) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, _ := f.saved["full_name"].(string)
	first, _, _ := strings.Cut(name, " ")
	return first
}

type fakeResponder struct {
	questions []string
	pacing    []rag.Pacing
	mark      bool
}

func (r *fakeResponder) Answer(_ context.Context, q string, mem rag.Memory, p *rag.Pacing) rag.Answer {
	r.questions = append(r.questions, q)
	r.pacing = append(r.pacing, *p)
	if r.mark {
		p.LastBackchannel = p.Turn
	}
	return rag.Answer{Speak: "answer to " + q, Context: "ctx for " + q}
}

type fakeChecker struct {
	plausible bool
	calls     int
}

func (c *fakeChecker) Check(context.Context, string, string) (bool, string) {
	c.calls++
	return c.plausible, "fake"
}

var prompts = script.Default()

func text(key script.Key) string {
	return prompts.Text("en", key, map[string]any{"clinic_name": "our clinic"})
}

// run feeds utterances in order and returns the final state and results.
func run(t *testing.T, m *dialogue.Machine, st dialogue.State, utterances ...string) (dialogue.State, []dialogue.Result) {
	t.Helper()
	var results []dialogue.Result
	for _, u := range utterances {
		var res dialogue.Result
		st, res = m.Handle(context.Background(), st, u)
		results = append(results, res)
	}
	return st, results
}

func collecting(key string) dialogue.State {
	st := dialogue.NewState("en")
	st.Phase = dialogue.Collecting
	st.CurrentKey = key
	return st
}

func TestHappyPath(t *testing.T) {
	t.Parallel()

	exec := newExec()
	exec.kbContext = "[Timings]\nOpen 9 to 7."
	resp := &fakeResponder{}
	m := dialogue.New(exec, resp, dialogue.WithClinicName("Smile Dental"))

	st := dialogue.NewState("en")
	if g := m.Greet(st); !strings.Contains(g.Speak, "Smile Dental") {
		t.Errorf("greeting = %q, want clinic name", g.Speak)
	}

	st, res := run(t, m, st, "hello", "Ali Khan", "0300 1234567", "yes that's right", "no", "what are your timings")

	wantPhases := []dialogue.Phase{
		dialogue.Collecting, dialogue.Collecting, dialogue.ConfirmInfo,
		dialogue.MedicalHistory, dialogue.Rag, dialogue.Rag,
	}
	for i, r := range res {
		if r.To != wantPhases[i] {
			t.Errorf("turn %d: To = %s, want %s", i, r.To, wantPhases[i])
		}
	}
	if res[0].Speak != text(script.AskName) {
		t.Errorf("turn 0 speak = %q", res[0].Speak)
	}
	if res[1].Speak != text(script.AskPhone) {
		t.Errorf("turn 1 speak = %q", res[1].Speak)
	}
	if !strings.Contains(res[2].Speak, "Ali Khan") || !strings.Contains(res[2].Speak, "0300 1234567") {
		t.Errorf("confirmation = %q, want read-back values", res[2].Speak)
	}
	if res[4].Speak != text(script.RagIntro) {
		t.Errorf("turn 4 speak = %q", res[4].Speak)
	}
	if res[5].Speak != "answer to what are your timings" {
		t.Errorf("turn 5 speak = %q", res[5].Speak)
	}

	if got := strings.Join(exec.saves, ","); got != "full_name,phone,has_medical_history" {
		t.Errorf("saves = %s", got)
	}
	if exec.saved["has_medical_history"] != false {
		t.Errorf("has_medical_history = %v, want false", exec.saved["has_medical_history"])
	}
	if exec.queries != 1 {
		t.Errorf("query_context calls = %d, want 1", exec.queries)
	}
	kinds := res[4].Effects
	if len(kinds) != 2 || kinds[0].Kind != dialogue.EffectSave || kinds[1].Kind != dialogue.EffectQueryContext {
		t.Errorf("turn 4 effects = %+v, want save then query_context", kinds)
	}
	if st.TurnNumber != 1 || st.RagContext != "ctx for what are your timings" {
		t.Errorf("state = %+v", st)
	}
	if resp.pacing[0].Turn != 1 {
		t.Errorf("pacing = %+v", resp.pacing[0])
	}
}

// "asdf123" passes the noise screen but fails name validation: a retry
// prompt, not a repair prompt.
func TestScenarioA_RetryNotRepair(t *testing.T) {
	t.Parallel()

	for _, checker := range []*fakeChecker{nil, {plausible: false}} {
		t.Run(fmt.Sprintf("checker=%v", checker != nil), func(t *testing.T) {
			t.Parallel()
			var opts []dialogue.Option
			if checker != nil {
				opts = append(opts, dialogue.WithChecker(checker))
			}
			exec := newExec()
			m := dialogue.New(exec, nil, opts...)

			st, res := m.Handle(context.Background(), collecting(dialogue.KeyFullName), "asdf123")

			if res.Outcome != dialogue.OutcomeRetry {
				t.Fatalf("Outcome = %s, want retry", res.Outcome)
			}
			if want := prompts.Retry("en", "full_name", "too_many_numbers"); res.Speak != want {
				t.Errorf("Speak = %q, want %q", res.Speak, want)
			}
			if st.Retries[dialogue.KeyFullName] != 1 || st.Repairs[dialogue.KeyFullName] != 0 {
				t.Errorf("counters retry=%d repair=%d", st.Retries[dialogue.KeyFullName], st.Repairs[dialogue.KeyFullName])
			}
			if len(res.Effects) != 0 || len(exec.saves) != 0 {
				t.Errorf("unexpected save: %+v", res.Effects)
			}
			if checker != nil && checker.calls != 1 {
				t.Errorf("checker calls = %d, want 1", checker.calls)
			}
		})
	}
}

func TestRetryCeiling(t *testing.T) {
	t.Parallel()

	exec := newExec()
	checker := &fakeChecker{plausible: false}
	m := dialogue.New(exec, nil, dialogue.WithChecker(checker))

	st, res := run(t, m, collecting(dialogue.KeyFullName), "asdf123", "x1 y2", "qq1234")

	if res[0].Outcome != dialogue.OutcomeRetry || res[1].Outcome != dialogue.OutcomeRetry {
		t.Fatalf("outcomes = %s, %s; want two retries", res[0].Outcome, res[1].Outcome)
	}
	if res[2].Outcome != dialogue.OutcomeForced {
		t.Fatalf("third outcome = %s, want forced accept", res[2].Outcome)
	}
	if checker.calls != dialogue.RetryCeiling {
		t.Errorf("checker calls = %d, want %d", checker.calls, dialogue.RetryCeiling)
	}
	if exec.saved["full_name"] != "qq1234" {
		t.Errorf("saved name = %v", exec.saved["full_name"])
	}
	if st.CurrentKey != dialogue.KeyPhone || st.Retries[dialogue.KeyFullName] != 0 {
		t.Errorf("state = %+v, want phone with counters reset", st)
	}
}

func TestModelSecondOpinionAccepts(t *testing.T) {
	t.Parallel()

	exec := newExec()
	checker := &fakeChecker{plausible: true}
	m := dialogue.New(exec, nil, dialogue.WithChecker(checker))

	st, res := m.Handle(context.Background(), collecting(dialogue.KeyPhone), "12345")
	if res.Outcome != dialogue.OutcomeSaved || st.Phase != dialogue.ConfirmInfo {
		t.Errorf("res = %+v, phase %s", res, st.Phase)
	}
	if exec.saved["phone"] != "12345" || checker.calls != 1 {
		t.Errorf("phone = %v, checker calls = %d", exec.saved["phone"], checker.calls)
	}
}

// Empty phone input: repair tier 1, counter becomes 1.
func TestScenarioB_EmptyPhone(t *testing.T) {
	t.Parallel()

	m := dialogue.New(newExec(), nil)
	st, res := m.Handle(context.Background(), collecting(dialogue.KeyPhone), "")

	if res.Outcome != dialogue.OutcomeRepair {
		t.Fatalf("Outcome = %s, want repair", res.Outcome)
	}
	if want := prompts.Repair().NextPrompt("phone", 1, "en"); res.Speak != want {
		t.Errorf("Speak = %q, want tier 1 %q", res.Speak, want)
	}
	if st.Repairs[dialogue.KeyPhone] != 1 {
		t.Errorf("repair counter = %d, want 1", st.Repairs[dialogue.KeyPhone])
	}
	if st.Phase != dialogue.Collecting || st.CurrentKey != dialogue.KeyPhone {
		t.Errorf("state moved: %+v", st)
	}
}

// Three unclear phone inputs: the third is accepted literally and the
// dialogue moves to confirmation.
func TestScenarioC_RepairCeiling(t *testing.T) {
	t.Parallel()

	exec := newExec()
	exec.saved["full_name"] = "Ali Khan"
	m := dialogue.New(exec, nil)
	st := collecting(dialogue.KeyPhone)
	st.Collected["full_name"] = "Ali Khan"

	st, res := run(t, m, st, "", "[music]", "uh")

	strat := prompts.Repair()
	if res[0].Speak != strat.NextPrompt("phone", 1, "en") || res[1].Speak != strat.NextPrompt("phone", 2, "en") {
		t.Errorf("repair prompts = %q, %q", res[0].Speak, res[1].Speak)
	}
	if res[2].Outcome != dialogue.OutcomeForced {
		t.Fatalf("third outcome = %s, want forced accept", res[2].Outcome)
	}
	if exec.saved["phone"] != "uh" {
		t.Errorf("saved phone = %v, want the literal third input", exec.saved["phone"])
	}
	if st.Phase != dialogue.ConfirmInfo {
		t.Errorf("phase = %s, want confirm_info", st.Phase)
	}
	if st.Repairs[dialogue.KeyPhone] != 0 {
		t.Errorf("repair counter = %d after save, want 0", st.Repairs[dialogue.KeyPhone])
	}
	if !strings.Contains(res[2].Speak, "Ali Khan") {
		t.Errorf("confirmation = %q", res[2].Speak)
	}
}

// Silence at the ceiling cannot be saved: the third tier is spoken, the stall
// is logged, and the next non-empty input is accepted.
func TestRepairCeiling_EmptyInput(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	exec := newExec()
	m := dialogue.New(exec, nil, dialogue.WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	st, res := run(t, m, collecting(dialogue.KeyFullName), "", "", "", "", "...")

	for i := range 4 {
		if res[i].Outcome != dialogue.OutcomeRepair {
			t.Fatalf("turn %d outcome = %s, want repair", i, res[i].Outcome)
		}
		if st.Repairs[dialogue.KeyFullName] > repair.Ceiling {
			t.Fatalf("repair counter exceeded ceiling")
		}
	}
	if want := prompts.Repair().NextPrompt("full_name", 3, "en"); res[2].Speak != want || res[3].Speak != want {
		t.Errorf("ceiling prompts = %q, %q; want tier 3", res[2].Speak, res[3].Speak)
	}
	if res[4].Outcome != dialogue.OutcomeForced || exec.saved["full_name"] != "..." {
		t.Errorf("final = %+v, saved %v", res[4], exec.saved["full_name"])
	}
	if n := strings.Count(logs.String(), "caller silent at repair ceiling"); n != 2 {
		t.Errorf("stall warnings = %d, want 2:\n%s", n, logs.String())
	}
}

func TestScenarioD_ConfirmNegative(t *testing.T) {
	t.Parallel()

	m := dialogue.New(newExec(), nil)
	st := dialogue.NewState("en")
	st.Phase = dialogue.ConfirmInfo

	st, res := m.Handle(context.Background(), st, "nahi galat hai")
	if st.Phase != dialogue.AskCorrection || res.Speak != text(script.AskCorrection) {
		t.Errorf("phase = %s, speak = %q", st.Phase, res.Speak)
	}
}

func TestConfirmInfo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text  string
		want  dialogue.Phase
		again bool
	}{
		{"haan ji", dialogue.MedicalHistory, false},
		{"correct", dialogue.MedicalHistory, false},
		{"no", dialogue.AskCorrection, false},
		{"hmm let me see", dialogue.ConfirmInfo, true},
		{"yes no", dialogue.ConfirmInfo, true},
		{"", dialogue.ConfirmInfo, true},
	}
	for _, tc := range tests {
		t.Run(tc.text, func(t *testing.T) {
			t.Parallel()
			exec := newExec()
			exec.saved = map[string]any{"full_name": "Sara Ahmed", "phone": "03001234567"}
			m := dialogue.New(exec, nil)
			st := dialogue.NewState("en")
			st.Phase = dialogue.ConfirmInfo

			st, res := m.Handle(context.Background(), st, tc.text)
			if st.Phase != tc.want {
				t.Errorf("phase = %s, want %s", st.Phase, tc.want)
			}
			if tc.again {
				if res.Outcome != dialogue.OutcomeReprompt || !strings.Contains(res.Speak, "Sara Ahmed") {
					t.Errorf("re-prompt = %+v", res)
				}
			}
		})
	}
}

// The confirmation reads back what the store holds, not what was heard.
func TestConfirmation_ReadBack(t *testing.T) {
	t.Parallel()

	exec := newExec()
	exec.readBack = map[string]any{"full_name": "Ali Khan", "phone": "+923001234567"}
	m := dialogue.New(exec, nil)
	st := collecting(dialogue.KeyPhone)
	st.Collected["full_name"] = "ali khan"

	_, res := m.Handle(context.Background(), st, "0300 1234567")
	want := prompts.Text("en", script.Confirm, exec.readBack)
	if res.Speak != want {
		t.Errorf("Speak = %q, want %q", res.Speak, want)
	}
}

func TestConfirmation_LocalFallback(t *testing.T) {
	t.Parallel()

	exec := newExec()
	exec.readErr = errors.New("store down")
	m := dialogue.New(exec, nil)
	st := collecting(dialogue.KeyPhone)
	st.Collected["full_name"] = "Zain"

	_, res := m.Handle(context.Background(), st, "03001234567")
	want := prompts.Text("en", script.Confirm, map[string]any{"full_name": "Zain", "phone": "03001234567"})
	if res.Speak != want {
		t.Errorf("Speak = %q, want %q", res.Speak, want)
	}
}

func TestAskCorrection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text    string
		wantKey string
		phase   dialogue.Phase
	}{
		{"my name", dialogue.KeyFullName, dialogue.Collecting},
		{"both", dialogue.KeyFullName, dialogue.Collecting},
		{"the phone number", dialogue.KeyPhone, dialogue.Collecting},
		{"name nahi, phone", dialogue.KeyPhone, dialogue.Collecting},
		{"not sure", "", dialogue.AskCorrection},
	}
	for _, tc := range tests {
		t.Run(tc.text, func(t *testing.T) {
			t.Parallel()
			m := dialogue.New(newExec(), nil)
			st := dialogue.NewState("en")
			st.Phase = dialogue.AskCorrection
			st.Repairs[dialogue.KeyPhone] = 2

			st, res := m.Handle(context.Background(), st, tc.text)
			if st.Phase != tc.phase || st.CurrentKey != tc.wantKey {
				t.Errorf("state = %s/%q, want %s/%q", st.Phase, st.CurrentKey, tc.phase, tc.wantKey)
			}
			if tc.phase == dialogue.AskCorrection && res.Speak != text(script.CorrectionReprompt) {
				t.Errorf("Speak = %q", res.Speak)
			}
			if tc.wantKey != "" && st.Repairs[tc.wantKey] != 0 {
				t.Errorf("counters not reset for %s", tc.wantKey)
			}
		})
	}
}

// A corrected name overwrites the saved one and the phone is asked again.
func TestCorrectionRoundTrip(t *testing.T) {
	t.Parallel()

	exec := newExec()
	m := dialogue.New(exec, nil)

	st, res := run(t, m, collecting(dialogue.KeyFullName),
		"Aly Kan", "03001234567", "no", "name", "Ali Khan", "03001234567", "yes")

	if exec.saved["full_name"] != "Ali Khan" {
		t.Errorf("full_name = %v", exec.saved["full_name"])
	}
	if !strings.Contains(res[5].Speak, "Ali Khan") {
		t.Errorf("second confirmation = %q", res[5].Speak)
	}
	if st.Phase != dialogue.MedicalHistory {
		t.Errorf("phase = %s", st.Phase)
	}
}

func TestMedicalHistoryAndDocuments(t *testing.T) {
	t.Parallel()

	exec := newExec()
	exec.kbContext = "clinic info"
	m := dialogue.New(exec, nil)
	st := dialogue.NewState("en")
	st.Phase = dialogue.MedicalHistory

	st, res := run(t, m, st, "umm", "ji haan", "wait", "done", "lab report", "last March", "sugar is high")

	want := []dialogue.Phase{
		dialogue.MedicalHistory, dialogue.WaitingUpload, dialogue.WaitingUpload,
		dialogue.DocumentQuestions, dialogue.DocumentQuestions, dialogue.DocumentQuestions, dialogue.Rag,
	}
	for i, r := range res {
		if r.To != want[i] {
			t.Errorf("turn %d: To = %s, want %s", i, r.To, want[i])
		}
	}
	if res[0].Speak != text(script.MedicalHistoryReprompt) || res[2].Speak != text(script.UploadReminder) {
		t.Errorf("re-prompts = %q, %q", res[0].Speak, res[2].Speak)
	}
	if exec.saved["has_medical_history"] != true {
		t.Errorf("has_medical_history = %v", exec.saved["has_medical_history"])
	}
	for k, v := range map[string]string{"document_type": "lab report", "document_date": "last March", "document_findings": "sugar is high"} {
		if exec.saved[k] != v {
			t.Errorf("%s = %v, want %q", k, exec.saved[k], v)
		}
	}
	if exec.queries != 1 || st.RagContext != "clinic info" {
		t.Errorf("queries = %d, RagContext = %q", exec.queries, st.RagContext)
	}
}

func TestWaitingUpload_Skip(t *testing.T) {
	t.Parallel()

	exec := newExec()
	m := dialogue.New(exec, nil)
	st := dialogue.NewState("en")
	st.Phase = dialogue.WaitingUpload

	st, res := m.Handle(context.Background(), st, "baad mein")
	if st.Phase != dialogue.Rag || exec.queries != 1 || res.Speak != text(script.RagIntro) {
		t.Errorf("phase = %s, queries = %d, speak = %q", st.Phase, exec.queries, res.Speak)
	}
}

func TestDocumentQuestions_NoiseIsRepaired(t *testing.T) {
	t.Parallel()

	exec := newExec()
	m := dialogue.New(exec, nil)
	st := dialogue.NewState("en")
	st.Phase, st.CurrentKey = dialogue.DocumentQuestions, dialogue.KeyDocumentType

	st, res := m.Handle(context.Background(), st, "[inaudible]")
	if res.Outcome != dialogue.OutcomeRepair || st.CurrentKey != dialogue.KeyDocumentType {
		t.Errorf("res = %+v, key = %s", res, st.CurrentKey)
	}
	if res.Speak != prompts.Repair().NextPrompt("document_type", 1, "en") {
		t.Errorf("Speak = %q, want generic tier 1", res.Speak)
	}
}

func TestEffectFailuresDoNotChangePrompt(t *testing.T) {
	t.Parallel()

	exec := newExec()
	exec.saveErr = errors.New("store down")
	exec.kbErr = errors.New("kb down")
	m := dialogue.New(exec, nil)

	st, res := m.Handle(context.Background(), collecting(dialogue.KeyFullName), "Ali Khan")
	if res.Speak != text(script.AskPhone) || st.CurrentKey != dialogue.KeyPhone {
		t.Errorf("res = %+v", res)
	}
	if res.Effects[0].Err == nil {
		t.Error("save error not recorded on the effect")
	}
	if st.Collected["full_name"] != "Ali Khan" {
		t.Error("value not held locally")
	}

	st.Phase = dialogue.MedicalHistory
	st, res = m.Handle(context.Background(), st, "no")
	if st.Phase != dialogue.Rag || res.Speak != text(script.RagIntro) || st.RagContext != "" {
		t.Errorf("phase = %s, speak = %q, ctx = %q", st.Phase, res.Speak, st.RagContext)
	}
}

func TestRag(t *testing.T) {
	t.Parallel()

	resp := &fakeResponder{mark: true}
	m := dialogue.New(newExec(), resp)
	st := dialogue.NewState("en")
	st.Phase = dialogue.Rag

	st, res := run(t, m, st, "what are the fees", "[music]", "do you do braces")
	if res[1].Outcome != dialogue.OutcomeReprompt || res[1].Speak != text(script.Reprompt) {
		t.Errorf("noise turn = %+v", res[1])
	}
	if st.TurnNumber != 2 {
		t.Errorf("TurnNumber = %d, want 2", st.TurnNumber)
	}
	if len(resp.pacing) != 2 || resp.pacing[1].Turn != 2 || resp.pacing[1].LastBackchannel != 1 {
		t.Errorf("pacing = %+v", resp.pacing)
	}
	if st.LastBackchannelTurn != 2 || st.RagContext != "ctx for do you do braces" {
		t.Errorf("state = %+v", st)
	}
	for _, r := range res {
		if r.From != dialogue.Rag || r.To != dialogue.Rag {
			t.Errorf("left Rag: %+v", r)
		}
	}
}

func TestRag_NilResponderApologises(t *testing.T) {
	t.Parallel()

	m := dialogue.New(newExec(), nil)
	st := dialogue.NewState("en")
	st.Phase = dialogue.Rag
	if _, res := m.Handle(context.Background(), st, "what are the fees"); res.Speak != rag.Apology {
		t.Errorf("Speak = %q", res.Speak)
	}
}

func TestHandle_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	m := dialogue.New(newExec(), nil)
	st := collecting(dialogue.KeyPhone)
	st.Repairs[dialogue.KeyPhone] = 1

	next, _ := m.Handle(context.Background(), st, "")
	if st.Repairs[dialogue.KeyPhone] != 1 || next.Repairs[dialogue.KeyPhone] != 2 {
		t.Errorf("input repairs = %d, next = %d", st.Repairs[dialogue.KeyPhone], next.Repairs[dialogue.KeyPhone])
	}
}

func TestUrduPrompts(t *testing.T) {
	t.Parallel()

	m := dialogue.New(newExec(), nil)
	_, res := m.Handle(context.Background(), dialogue.NewState("ur"), "salam")
	if want := prompts.Text("ur", script.AskName, nil); res.Speak != want {
		t.Errorf("Speak = %q, want %q", res.Speak, want)
	}
}

// allowed lists every phase edge the dialogue may take.
var allowed = map[dialogue.Phase][]dialogue.Phase{
	dialogue.Greeting:          {dialogue.Collecting},
	dialogue.Collecting:        {dialogue.Collecting, dialogue.ConfirmInfo},
	dialogue.ConfirmInfo:       {dialogue.ConfirmInfo, dialogue.MedicalHistory, dialogue.AskCorrection},
	dialogue.AskCorrection:     {dialogue.AskCorrection, dialogue.Collecting},
	dialogue.MedicalHistory:    {dialogue.MedicalHistory, dialogue.WaitingUpload, dialogue.Rag},
	dialogue.WaitingUpload:     {dialogue.WaitingUpload, dialogue.DocumentQuestions, dialogue.Rag},
	dialogue.DocumentQuestions: {dialogue.DocumentQuestions, dialogue.Rag},
	dialogue.Rag:               {dialogue.Rag},
}

// Whatever the caller says, the dialogue only moves along allowed edges,
// counters stay under their ceilings, and something is always spoken.
func TestPhaseEdges(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"", "yes", "no", "haan", "nahi galat hai", "asdf123", "Ali Khan", "0300 1234567",
		"[music]", "name", "phone", "both", "skip", "done", "uh", "12", "what are the fees",
		"theek hai", "hmm", "x", "lab report", "yes no",
	}
	m := dialogue.New(newExec(), &fakeResponder{}, dialogue.WithChecker(&fakeChecker{}))

	for seed := range len(inputs) {
		st := dialogue.NewState("en")
		for i := range 200 {
			in := inputs[(seed*7+i*13+i*i)%len(inputs)]
			next, res := m.Handle(context.Background(), st, in)
			if res.Speak == "" {
				t.Fatalf("empty prompt at %s for %q", st.Phase, in)
			}
			ok := false
			for _, p := range allowed[st.Phase] {
				ok = ok || p == next.Phase
			}
			if !ok {
				t.Fatalf("illegal edge %s → %s on %q", st.Phase, next.Phase, in)
			}
			for k, n := range next.Repairs {
				if n > repair.Ceiling {
					t.Fatalf("repair counter %s = %d", k, n)
				}
			}
			for k, n := range next.Retries {
				if n > dialogue.RetryCeiling {
					t.Fatalf("retry counter %s = %d", k, n)
				}
			}
			st = next
		}
	}
}
