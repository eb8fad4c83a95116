// Package rag answers free-form caller questions once intake is complete,
// grounding a generative model in the clinic's knowledge collaborator.
//
// One turn runs: retrieve (literal question, then a generic fallback query
// when nothing came back) → build the grounding prompt → complete → parse
// the JSON reply → clamp to a few sentences → personalise → maybe prepend a
// backchannel. Every collaborator failure degrades to a spoken sentence; an
// Answer never carries an error.
package rag

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/observe"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/knowledge"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/provider/llm"
)

// Apology is spoken when the model cannot be reached.
const Apology = "Sorry, I had trouble processing that. Could you please repeat?"

// Defaults applied by [New].
const (
	DefaultTopK          = 5
	DefaultFallbackTopK  = 10
	DefaultFallbackQuery = "clinic services timings doctors contact"
	DefaultMaxSentences  = 3
	DefaultTimeout       = 15 * time.Second
	DefaultBackchannelP  = 0.5
)

// Backchannels are the acknowledgements that may open an answer.
var Backchannels = []string{"Got it.", "I see.", "Right.", "Understood."}

// Pacing rules for backchannels.
const (
	minBackchannelTurn  = 2
	minBackchannelGap   = 2
	minBackchannelWords = 4
)

// Memory supplies what the responder knows about the caller.
type Memory interface {
	// FirstName returns the caller's first name, or "" when unknown.
	FirstName(ctx context.Context) string
}

// Pacing carries the per-session backchannel state. Turn is the 1-based RAG
// turn being answered; LastBackchannel is the turn that last received one,
// or 0 for none. Answer updates LastBackchannel.
type Pacing struct {
	Turn            int
	LastBackchannel int
}

// Answer is the outcome of one RAG turn.
type Answer struct {
	// Speak is the final text for the speech layer.
	Speak string

	// Reply is the parsed model output before post-processing.
	Reply Reply

	// Context is the knowledge text the prompt was grounded in, "" if none.
	Context string

	// Parsed is false when the model reply was not valid JSON.
	Parsed bool

	// Backchannel is the acknowledgement prepended to Speak, if any.
	Backchannel string

	// Failed is true when the model call failed and Speak is [Apology].
	Failed bool
}

// Responder is safe for concurrent use. Per-session state lives in the
// caller's [Pacing].
type Responder struct {
	kb            knowledge.Querier
	llm           llm.Provider
	tenantID      string
	topK          int
	fallbackTopK  int
	fallbackQuery string
	temperature   float64
	maxTokens     int
	timeout       time.Duration
	maxSentences  int
	backchannelP  float64
	rand          func() float64
	metrics       *observe.Metrics
}

// Option configures a [Responder].
type Option func(*Responder)

// WithTenant sets the tenant passed to knowledge queries.
func WithTenant(id string) Option { return func(r *Responder) { r.tenantID = id } }

// WithTopK sets the result counts for the literal and fallback queries.
func WithTopK(topK, fallbackTopK int) Option {
	return func(r *Responder) {
		if topK > 0 {
			r.topK = topK
		}
		if fallbackTopK > 0 {
			r.fallbackTopK = fallbackTopK
		}
	}
}

// WithFallbackQuery sets the generic query used when the question retrieved
// nothing.
func WithFallbackQuery(q string) Option {
	return func(r *Responder) {
		if q != "" {
			r.fallbackQuery = q
		}
	}
}

// WithGeneration sets the model temperature and token cap.
func WithGeneration(temperature float64, maxTokens int) Option {
	return func(r *Responder) {
		r.temperature = temperature
		r.maxTokens = maxTokens
	}
}

// WithTimeout bounds one whole turn, retrieval included.
func WithTimeout(d time.Duration) Option {
	return func(r *Responder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithMaxSentences sets the sentence clamp.
func WithMaxSentences(n int) Option {
	return func(r *Responder) {
		if n > 0 {
			r.maxSentences = n
		}
	}
}

// WithBackchannelProbability sets the coin-flip weight applied once the
// pacing rules allow a backchannel. 0 disables them.
func WithBackchannelProbability(p float64) Option {
	return func(r *Responder) { r.backchannelP = p }
}

// WithRand replaces the random source, a function returning values in
// [0, 1). It is called once for the coin flip and once to pick the phrase.
func WithRand(fn func() float64) Option { return func(r *Responder) { r.rand = fn } }

// WithMetrics records collaborator latency and backchannels on m.
func WithMetrics(m *observe.Metrics) Option { return func(r *Responder) { r.metrics = m } }

// New returns a Responder. kb may be nil, in which case every answer uses
// the ungrounded prompt.
func New(kb knowledge.Querier, provider llm.Provider, opts ...Option) *Responder {
	r := &Responder{
		kb:            kb,
		llm:           provider,
		topK:          DefaultTopK,
		fallbackTopK:  DefaultFallbackTopK,
		fallbackQuery: DefaultFallbackQuery,
		timeout:       DefaultTimeout,
		maxSentences:  DefaultMaxSentences,
		backchannelP:  DefaultBackchannelP,
		rand:          rand.Float64,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ForTenant returns a copy of r that queries knowledge for tenantID.
func (r *Responder) ForTenant(tenantID string) *Responder {
	c := *r
	c.tenantID = tenantID
	return &c
}

// Prefetch runs the generic fallback query and returns its context. The
// dialogue calls it when the conversation enters RAG mode.
func (r *Responder) Prefetch(ctx context.Context) (string, error) {
	resp, err := r.query(ctx, r.fallbackQuery, r.fallbackTopK)
	if err != nil {
		return "", err
	}
	return resp.Context, nil
}

// Retrieve returns grounding context for question: the literal query first,
// the fallback query when that returned nothing or failed. Failures of both
// yield "".
func (r *Responder) Retrieve(ctx context.Context, question string) string {
	log := observe.Logger(ctx)
	resp, err := r.query(ctx, question, r.topK)
	switch {
	case err != nil:
		log.Warn("rag: knowledge query failed, trying fallback", "err", err)
	case resp.Count > 0 && resp.Context != "":
		return resp.Context
	}
	if ctx.Err() != nil {
		return ""
	}
	resp, err = r.query(ctx, r.fallbackQuery, r.fallbackTopK)
	if err != nil {
		log.Warn("rag: fallback knowledge query failed", "err", err)
		return ""
	}
	return resp.Context
}

func (r *Responder) query(ctx context.Context, text string, topK int) (*knowledge.Response, error) {
	if r.kb == nil {
		return knowledge.NewResponse(text, nil), nil
	}
	var resp *knowledge.Response
	err := observe.TimeCollaborator(ctx, r.metrics, observe.CollaboratorKnowledge, "query", func(ctx context.Context) error {
		var err error
		resp, err = r.kb.Query(ctx, r.tenantID, text, topK)
		return err
	})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		resp = knowledge.NewResponse(text, nil)
	}
	return resp, nil
}

// Answer produces the spoken reply to question. mem may be nil. p may be nil,
// which disables backchannels.
func (r *Responder) Answer(ctx context.Context, question string, mem Memory, p *Pacing) Answer {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// Retrieval and the name lookup are independent; run them together.
	var (
		kbContext string
		name      string
	)
	var g errgroup.Group
	g.Go(func() error {
		kbContext = r.Retrieve(ctx, question)
		return nil
	})
	if mem != nil {
		g.Go(func() error {
			name = mem.FirstName(ctx)
			return nil
		})
	}
	_ = g.Wait()

	ans := Answer{Context: kbContext}

	var raw string
	err := observe.TimeCollaborator(ctx, r.metrics, observe.CollaboratorLLM, "complete", func(ctx context.Context) error {
		var err error
		raw, err = llm.Chat(ctx, r.llm, SystemPrompt(kbContext), question,
			llm.WithTemperature(r.temperature), llm.WithMaxTokens(r.maxTokens))
		return err
	})
	if err != nil {
		observe.Logger(ctx).Warn("rag: model call failed", "err", err)
		ans.Failed, ans.Speak = true, Apology
		return ans
	}

	ans.Reply, ans.Parsed = ParseReply(raw)
	say := Clamp(ans.Reply.Say, r.maxSentences)
	if say == "" {
		ans.Failed, ans.Speak = true, Apology
		return ans
	}
	say = Personalize(say, name)
	if !HasOffer(say) {
		say += " " + FollowUp(name)
	}

	if bc := r.backchannel(ctx, question, say, p); bc != "" {
		ans.Backchannel = bc
		say = bc + " " + say
	}
	ans.Speak = say
	return ans
}

// backchannel applies the pacing rules and, when they pass, the coin flip.
// Answers that already open with an acknowledgement get none.
func (r *Responder) backchannel(ctx context.Context, question, say string, p *Pacing) string {
	if p == nil || r.backchannelP <= 0 || len(Backchannels) == 0 {
		return ""
	}
	if leadingAck.MatchString(say) {
		return ""
	}
	if p.Turn < minBackchannelTurn {
		return ""
	}
	if p.LastBackchannel > 0 && p.Turn-p.LastBackchannel < minBackchannelGap {
		return ""
	}
	if len(strings.Fields(question)) < minBackchannelWords {
		return ""
	}
	if r.rand() >= r.backchannelP {
		return ""
	}
	i := int(r.rand() * float64(len(Backchannels)))
	i = min(max(i, 0), len(Backchannels)-1)
	p.LastBackchannel = p.Turn
	if r.metrics != nil {
		r.metrics.Backchannels.Add(ctx, 1, metric.WithAttributes(observe.Attr("phrase", Backchannels[i])))
	}
	return Backchannels[i]
}
