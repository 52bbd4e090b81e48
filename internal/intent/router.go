package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/kalambet/gamerec/internal/proxy"
)

// Variant selects which operation catalog the router offers the model.
type Variant string

const (
	// VariantFiltered offers filtered search, chit-chat and end-chat.
	VariantFiltered Variant = "filtered"
	// VariantSplit offers separate name and description searches.
	VariantSplit Variant = "split"
)

// ParseVariant validates a configured variant name.
func ParseVariant(s string) (Variant, error) {
	switch v := Variant(s); v {
	case VariantFiltered, VariantSplit:
		return v, nil
	case "":
		return VariantFiltered, nil
	}
	return "", fmt.Errorf("unknown router variant %q (want %q or %q)", s, VariantFiltered, VariantSplit)
}

// Completer is the slice of the model client the router needs.
type Completer interface {
	Complete(ctx context.Context, messages []proxy.Message, tools []proxy.Tool) (proxy.Completion, error)
}

// Router asks the model to pick one declared operation for a query.
type Router struct {
	llm     Completer
	variant Variant
	tools   []proxy.Tool
	allowed map[string]bool
}

func NewRouter(llm Completer, variant Variant) *Router {
	tools := Declarations(variant)
	allowed := make(map[string]bool, len(tools))
	for _, t := range tools {
		allowed[t.Function.Name] = true
	}
	return &Router{llm: llm, variant: variant, tools: tools, allowed: allowed}
}

func (r *Router) Variant() Variant { return r.variant }

// Route sends query as the sole user message along with the operation
// catalog. Model errors are returned; malformed or undeclared calls come
// back as UnknownCall.
func (r *Router) Route(ctx context.Context, query string) (RoutedCall, error) {
	out, err := r.llm.Complete(ctx, []proxy.Message{{Role: "user", Content: query}}, r.tools)
	if err != nil {
		return nil, fmt.Errorf("routing query: %w", err)
	}

	if out.ToolCall == nil {
		slog.Debug("router returned no function call", "variant", r.variant)
		if r.variant == VariantSplit {
			return DirectAnswer{Text: out.Text}, nil
		}
		return UnknownCall{Reason: "model returned no function call"}, nil
	}

	slog.Debug("function to call", "name", out.ToolCall.Name, "arguments", string(out.ToolCall.Arguments))
	call := decodeCall(out.ToolCall.Name, out.ToolCall.Arguments, r.allowed)
	if u, ok := call.(UnknownCall); ok {
		slog.Warn("rejected routed call", "name", u.Name, "reason", u.Reason)
	}
	return call, nil
}

// Declarations returns the function tools offered for a variant.
func Declarations(v Variant) []proxy.Tool {
	if v == VariantSplit {
		return []proxy.Tool{
			proxy.NewTool(proxy.FunctionDecl{
				Name:        OpNameSearch,
				Description: "Find a specific game when the user mentions its title or part of it.",
				Parameters:  queryOnlySchema("The game title as the user wrote it"),
			}),
			proxy.NewTool(proxy.FunctionDecl{
				Name:        OpDescriptionSearch,
				Description: "Search games by what they are about: genre, gameplay, setting or mood.",
				Parameters:  queryOnlySchema("User's game preferences (e.g., co-op survival crafting game)"),
			}),
		}
	}
	return []proxy.Tool{
		proxy.NewTool(proxy.FunctionDecl{
			Name:        OpFilteredSearch,
			Description: "Search games based on description and apply filters like year range, price, review sentiment, developer, or publisher.",
			Parameters:  filteredSearchSchema,
		}),
		proxy.NewTool(proxy.FunctionDecl{
			Name:        OpChitChat,
			Description: "Chit chat message of users",
			Parameters:  queryOnlySchema("User input message that is common chit-chat"),
		}),
		proxy.NewTool(proxy.FunctionDecl{
			Name:        OpEndChat,
			Description: "End chat session",
			Parameters:  queryOnlySchema("End the chat session and further information if needed"),
		}),
	}
}

var filteredSearchSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"query": {"type": "string", "description": "User's game preferences (e.g., football tactical game)"},
		"year_range": {"type": "array", "items": {"type": "integer"}, "description": "Optional release year range (e.g., [2020, 2024])"},
		"price_limit": {"type": "number", "description": "Maximum price (e.g., 10 for under $10)"},
		"review_sentiment": {"type": "string", "enum": ["Positive", "Mixed", "Negative"], "description": "Preferred review sentiment"},
		"developer": {"type": "string", "description": "Specific developer or studio name (e.g., 'Ubisoft')"},
		"publisher": {"type": "string", "description": "Specific publisher name (e.g., 'SEGA')"}
	},
	"required": ["query"]
}`)

func queryOnlySchema(description string) json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": description},
		},
		"required": []string{"query"},
	}
	b, _ := json.Marshal(schema)
	return b
}
