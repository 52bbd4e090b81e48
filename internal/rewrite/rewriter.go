// Package rewrite turns a context-dependent follow-up into a standalone
// game query using the conversation so far.
package rewrite

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/gamerec/internal/session"
)

// Generator produces text for a single prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

const promptTemplate = `You are a system designed to reformulate user messages into standalone game queries. Be friendly and concise. Your task is to determine if the latest user message depends on prior context.

Given the following chat history and the latest user message, determine if the latest message depends on prior context. If it does, rewrite it into a standalone game query. If it is already standalone or the chat history is empty, return the original message without any additional text.

Chat History:
%s
New prompt:
%s
Return only the rewritten message or the original message. Do not include any explanations, recommendations, or additional text.`

// Rewriter resolves references like "something cheaper" against history.
type Rewriter struct {
	llm Generator
}

func New(llm Generator) *Rewriter {
	return &Rewriter{llm: llm}
}

// Rewrite returns a standalone version of utterance. With no history the
// utterance is returned as is and the model is not called.
func (r *Rewriter) Rewrite(ctx context.Context, history []session.Turn, utterance string) (string, error) {
	if len(history) == 0 {
		return utterance, nil
	}
	out, err := r.llm.Generate(ctx, BuildPrompt(history, utterance))
	if err != nil {
		return "", fmt.Errorf("rewriting query: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// BuildPrompt renders history as "role: content" lines inside the rewrite
// instruction.
func BuildPrompt(history []session.Turn, utterance string) string {
	return fmt.Sprintf(promptTemplate, FormatHistory(history), utterance)
}

// FormatHistory renders one "role: content" line per turn.
func FormatHistory(history []session.Turn) string {
	var sb strings.Builder
	for _, t := range history {
		role := t.Role
		if role == "" {
			role = session.RoleUser
		}
		fmt.Fprintf(&sb, "%s: %s\n", role, t.Content)
	}
	return sb.String()
}
