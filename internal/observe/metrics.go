// Package observe provides the agent's observability primitives:
// OpenTelemetry metrics, tracing helpers, trace-aware structured logging, and
// the HTTP middleware that ties them together.
//
// Metrics go through the OpenTelemetry Metrics API and are scraped from
// /metrics via the Prometheus exporter set up by [InitProvider]. Tests should
// build their own [Metrics] with [NewMetrics] and a ManualReader.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/faryalgulzar-sudo/livekit-real-time-agents"

// Collaborator names used as the "collaborator" attribute.
const (
	CollaboratorSessionStore = "session_store"
	CollaboratorKnowledge    = "knowledge"
	CollaboratorLLM          = "llm"
)

// Metrics holds all metric instruments for the agent. The OTel instruments
// handle their own synchronisation.
type Metrics struct {
	// TurnDuration is the time from a final transcript arriving to the next
	// prompt being chosen. Attribute: phase.
	TurnDuration metric.Float64Histogram

	// CollaboratorDuration is the latency of calls to remote collaborators.
	// Attributes: collaborator, op.
	CollaboratorDuration metric.Float64Histogram

	// Utterances counts processed utterances. Attribute: phase.
	Utterances metric.Int64Counter

	// PhaseTransitions counts dialogue phase changes. Attributes: from, to.
	PhaseTransitions metric.Int64Counter

	// RepairPrompts counts repair prompts spoken. Attributes: field, tier.
	RepairPrompts metric.Int64Counter

	// ValidationRetries counts retry prompts after a rejected value.
	// Attributes: field, reason.
	ValidationRetries metric.Int64Counter

	// ForcedAccepts counts values saved because a ceiling was reached or the
	// model validator was unavailable. Attributes: field, cause.
	ForcedAccepts metric.Int64Counter

	// RepairStalls counts empty utterances received at the repair ceiling,
	// where nothing can be accepted. Attributes: field.
	RepairStalls metric.Int64Counter

	// Backchannels counts acknowledgements prepended to RAG answers.
	Backchannels metric.Int64Counter

	// CollaboratorErrors counts failed collaborator calls.
	// Attributes: collaborator, op.
	CollaboratorErrors metric.Int64Counter

	// OutboxRecords counts writes parked in the outbox for reconciliation.
	// Attribute: op.
	OutboxRecords metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes.
	// Attributes: name, to.
	BreakerTransitions metric.Int64Counter

	// ActiveCalls tracks the number of live calls.
	ActiveCalls metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request time. Attributes: method, route.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, tuned for a voice turn
// where anything above ~2s is noticeable dead air.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TurnDuration, err = m.Float64Histogram("intake.turn.duration",
		metric.WithDescription("Time to choose the next prompt for one utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CollaboratorDuration, err = m.Float64Histogram("intake.collaborator.duration",
		metric.WithDescription("Latency of session store, knowledge and LLM calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.Utterances, "intake.utterances", "Utterances processed by phase."},
		{&met.PhaseTransitions, "intake.phase.transitions", "Dialogue phase transitions."},
		{&met.RepairPrompts, "intake.repair.prompts", "Repair prompts spoken by field and tier."},
		{&met.ValidationRetries, "intake.validation.retries", "Retry prompts by field and reason."},
		{&met.ForcedAccepts, "intake.forced_accepts", "Values accepted at a ceiling or on validator failure."},
		{&met.RepairStalls, "intake.repair.stalls", "Empty utterances at the repair ceiling."},
		{&met.Backchannels, "intake.rag.backchannels", "Backchannel acknowledgements spoken."},
		{&met.CollaboratorErrors, "intake.collaborator.errors", "Failed collaborator calls."},
		{&met.OutboxRecords, "intake.outbox.records", "Writes parked for later reconciliation."},
		{&met.BreakerTransitions, "intake.breaker.transitions", "Circuit breaker state changes."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.ActiveCalls, err = m.Int64UpDownCounter("intake.active_calls",
		metric.WithDescription("Number of live calls."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("intake.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] built on the global
// meter provider. Panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordCollaborator records latency and, when err is non-nil, an error for
// one collaborator call.
func (m *Metrics) RecordCollaborator(ctx context.Context, collaborator, op string, seconds float64, err error) {
	attrs := metric.WithAttributes(Attr("collaborator", collaborator), Attr("op", op))
	m.CollaboratorDuration.Record(ctx, seconds, attrs)
	if err != nil {
		m.CollaboratorErrors.Add(ctx, 1, attrs)
	}
}

// RecordTransition counts a phase change. Self-transitions are not counted.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	if from == to {
		return
	}
	m.PhaseTransitions.Add(ctx, 1, metric.WithAttributes(Attr("from", from), Attr("to", to)))
}

// RecordRepair counts a repair prompt at tier.
func (m *Metrics) RecordRepair(ctx context.Context, field, tier string) {
	m.RepairPrompts.Add(ctx, 1, metric.WithAttributes(Attr("field", field), Attr("tier", tier)))
}

// RecordRetry counts a validation retry prompt.
func (m *Metrics) RecordRetry(ctx context.Context, field, reason string) {
	m.ValidationRetries.Add(ctx, 1, metric.WithAttributes(Attr("field", field), Attr("reason", reason)))
}

// RecordForcedAccept counts a value saved without passing validation.
func (m *Metrics) RecordForcedAccept(ctx context.Context, field, cause string) {
	m.ForcedAccepts.Add(ctx, 1, metric.WithAttributes(Attr("field", field), Attr("cause", cause)))
}

// RecordStall counts an empty utterance at the repair ceiling.
func (m *Metrics) RecordStall(ctx context.Context, field string) {
	m.RepairStalls.Add(ctx, 1, metric.WithAttributes(Attr("field", field)))
}

// RecordTurn counts one processed utterance in phase and its handling time.
func (m *Metrics) RecordTurn(ctx context.Context, phase string, seconds float64) {
	attrs := metric.WithAttributes(Attr("phase", phase))
	m.Utterances.Add(ctx, 1, attrs)
	m.TurnDuration.Record(ctx, seconds, attrs)
}
