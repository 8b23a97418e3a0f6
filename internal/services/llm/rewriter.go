package llm

import (
	"context"
	"strings"

	"github.com/huangang/trackersync/internal/config"
	"github.com/huangang/trackersync/pkg/logger"
)

const rewriteSystemPrompt = `You rewrite short search queries to maximize semantic retrieval accuracy across a knowledge base of commit diffs, issues, and wiki pages.
Keep the wording concise. Expand abbreviations and add context when obviously missing.
Return only the rewritten query text. If the original query is already clear, return it unchanged.`

// QueryRewriter expands search queries before embedding. It never fails:
// any problem yields the original query.
type QueryRewriter struct {
	completer Completer
	enabled   bool
}

func NewQueryRewriter(cfg *config.LLMConfig) *QueryRewriter {
	return &QueryRewriter{
		completer: NewClient(cfg),
		enabled:   cfg.RewriteEnabled && cfg.Model != "",
	}
}

// NewQueryRewriterWith wires a custom completer.
func NewQueryRewriterWith(completer Completer, enabled bool) *QueryRewriter {
	return &QueryRewriter{completer: completer, enabled: enabled}
}

func (r *QueryRewriter) Rewrite(ctx context.Context, query string) string {
	query = strings.TrimSpace(query)
	if query == "" || r == nil || !r.enabled || r.completer == nil {
		return query
	}

	rewritten, err := r.completer.Complete(ctx, rewriteSystemPrompt, query)
	if err != nil {
		logger.Warn().Err(err).Msg("[Search] Query rewrite failed")
		return query
	}

	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" {
		return query
	}
	return rewritten
}
