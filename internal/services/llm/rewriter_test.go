package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/huangang/trackersync/internal/config"
)

type fakeCompleter struct {
	reply  string
	err    error
	calls  int
	system string
}

func (f *fakeCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	f.calls++
	f.system = system
	return f.reply, f.err
}

func TestQueryRewriter_Rewrite(t *testing.T) {
	tests := []struct {
		name      string
		enabled   bool
		query     string
		reply     string
		err       error
		expected  string
		wantCalls int
	}{
		{"disabled", false, "ci flaky", "rewritten", nil, "ci flaky", 0},
		{"blank query", true, "   ", "rewritten", nil, "", 0},
		{"rewrites", true, "ci flaky", "  flaky continuous integration pipeline  ", nil, "flaky continuous integration pipeline", 1},
		{"empty reply", true, "ci flaky", "  ", nil, "ci flaky", 1},
		{"provider error", true, "ci flaky", "", errors.New("timeout"), "ci flaky", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeCompleter{reply: tt.reply, err: tt.err}
			r := NewQueryRewriterWith(fake, tt.enabled)

			if got := r.Rewrite(context.Background(), tt.query); got != tt.expected {
				t.Errorf("Rewrite(%q) = %q, expected %q", tt.query, got, tt.expected)
			}
			if fake.calls != tt.wantCalls {
				t.Errorf("calls = %d, expected %d", fake.calls, tt.wantCalls)
			}
			if fake.calls > 0 && fake.system != rewriteSystemPrompt {
				t.Error("rewrite should send the rewrite system prompt")
			}
		})
	}
}

func TestNewQueryRewriter_RequiresModel(t *testing.T) {
	r := NewQueryRewriter(&config.LLMConfig{Provider: "ollama", RewriteEnabled: true})
	if r.enabled {
		t.Error("rewriter without a model should be disabled")
	}

	var nilRewriter *QueryRewriter
	if got := nilRewriter.Rewrite(context.Background(), "q"); got != "q" {
		t.Errorf("nil rewriter = %q", got)
	}
}
