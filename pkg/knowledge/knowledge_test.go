package knowledge_test

import (
	"testing"

	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/knowledge"
)

func TestFormatContext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		results []knowledge.Result
		want    string
	}{
		{"empty", nil, ""},
		{"single", []knowledge.Result{{Title: "Timings", Content: "Mon-Sat 9am-7pm."}}, "[Timings]\nMon-Sat 9am-7pm."},
		{
			"joined",
			[]knowledge.Result{{Title: "A", Content: "one"}, {Title: "B", Content: " two "}},
			"[A]\none\n\n---\n\n[B]\ntwo",
		},
		{"untitled", []knowledge.Result{{Content: "bare"}}, "bare"},
		{"blank content skipped", []knowledge.Result{{Title: "X", Content: "  "}, {Title: "Y", Content: "y"}}, "[Y]\ny"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := knowledge.FormatContext(tc.results); got != tc.want {
				t.Errorf("FormatContext = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewResponse(t *testing.T) {
	t.Parallel()

	r := knowledge.NewResponse("q", nil)
	if r.Count != 0 || r.Results == nil || r.Context != "" {
		t.Errorf("NewResponse(nil) = %+v", r)
	}
	r = knowledge.NewResponse("q", []knowledge.Result{{Title: "T", Content: "c"}})
	if r.Count != 1 || r.Query != "q" || r.Context != "[T]\nc" {
		t.Errorf("NewResponse = %+v", r)
	}
}
