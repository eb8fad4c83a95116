// Package llmcheck asks the generative model for a second opinion on a field
// value the deterministic validators rejected.
//
// The checker fails open: a model error, a timeout or an answer that is
// neither yes nor no all count as plausible, so an unreachable model never
// traps a caller in a retry loop.
package llmcheck

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/observe"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/provider/llm"
)

// DefaultTimeout bounds one plausibility question.
const DefaultTimeout = 3 * time.Second

const systemPrompt = `You check caller answers for a clinic's phone intake.
Reply on a single line starting with YES if the value is plausible for the field, or NO if it is not, followed by a short reason.
Speech recognition may have altered spelling; judge plausibility, not spelling.`

var fieldDescriptions = map[string]string{
	"full_name": "a person's full name",
	"phone":     "a phone number",
}

// Checker implements the model second opinion.
type Checker struct {
	provider llm.Provider
	timeout  time.Duration
}

// Option configures a [Checker].
type Option func(*Checker)

// WithTimeout overrides [DefaultTimeout].
func WithTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New returns a Checker backed by p. A nil p yields a checker that accepts
// everything.
func New(p llm.Provider, opts ...Option) *Checker {
	c := &Checker{provider: p, timeout: DefaultTimeout}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Check asks whether value is plausible for field. rationale is the model's
// one-line reason, or a description of why the check was skipped.
func (c *Checker) Check(ctx context.Context, value, field string) (plausible bool, rationale string) {
	if c == nil || c.provider == nil {
		return true, "validator unavailable"
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	desc, ok := fieldDescriptions[field]
	if !ok {
		desc = strings.ReplaceAll(field, "_", " ")
	}
	prompt := fmt.Sprintf("Field: %s\nValue: %q\nIs this plausible?", desc, value)

	reply, err := llm.Chat(ctx, c.provider, systemPrompt, prompt, llm.WithTemperature(0), llm.WithMaxTokens(40))
	if err != nil {
		observe.Logger(ctx).WarnContext(ctx, "llmcheck: model unavailable, accepting value", "field", field, "err", err)
		return true, "validator error: " + err.Error()
	}
	return parse(reply)
}

// parse reads a YES/NO reply. Anything else is accepted.
func parse(reply string) (bool, string) {
	line, _, _ := strings.Cut(strings.TrimSpace(reply), "\n")
	line = strings.TrimSpace(line)
	head, rest, _ := strings.Cut(line, " ")
	word := strings.ToLower(strings.TrimRight(head, ".,:;!-"))
	reason := strings.TrimLeft(strings.TrimSpace(rest), "-:,. ")
	switch word {
	case "yes":
		return true, reason
	case "no":
		return false, reason
	}
	return true, "unparseable reply: " + line
}
