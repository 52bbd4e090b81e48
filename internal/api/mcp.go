package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/gamerec/internal/intent"
	"github.com/kalambet/gamerec/internal/pipeline"
	"github.com/kalambet/gamerec/internal/retrieval"
)

// MCPAsker answers a one-shot recommendation request.
type MCPAsker interface {
	Ask(ctx context.Context, query string) (string, error)
}

// MCPSearcher runs a filtered catalog search without synthesis.
type MCPSearcher interface {
	SearchFiltered(ctx context.Context, query string, c retrieval.Criteria) (retrieval.Result, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Asker    MCPAsker
	Searcher MCPSearcher
	Version  string
}

// NewMCPServer creates an MCP server with the recommendation tools registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"gamerec",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithInstructions("gamerec recommends Steam games from a local catalog."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("recommend_games",
			mcp.WithDescription("Recommend games for a free-form request and explain why they fit."),
			mcp.WithString("query", mcp.Description("What the user is looking for"), mcp.Required()),
		),
		mcpRecommend(deps),
	)

	s.AddTool(
		mcp.NewTool("search_games",
			mcp.WithDescription("Search the catalog by description with optional filters. Returns matching games as JSON."),
			mcp.WithString("query", mcp.Description("Game preferences (e.g., football tactical game)"), mcp.Required()),
			mcp.WithNumber("year_from", mcp.Description("Earliest release year, inclusive")),
			mcp.WithNumber("year_to", mcp.Description("Latest release year, inclusive")),
			mcp.WithNumber("price_limit", mcp.Description("Maximum price")),
			mcp.WithString("review_sentiment", mcp.Description("Preferred review sentiment"), mcp.Enum(intent.Sentiments...)),
			mcp.WithString("developer", mcp.Description("Developer or studio name")),
			mcp.WithString("publisher", mcp.Description("Publisher name")),
		),
		mcpSearch(deps),
	)

	return s
}

func mcpRecommend(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		reply, err := deps.Asker.Ask(ctx, query)
		if err != nil {
			return mcpError(fmt.Sprintf("recommendation failed: %v", err)), nil
		}
		return mcpText(reply), nil
	}
}

type gameResult struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	AllReviews  string  `json:"all_reviews"`
	ReleaseDate string  `json:"release_date,omitempty"`
	Developer   string  `json:"developer"`
	Publisher   string  `json:"publisher"`
	Price       string  `json:"price"`
	Score       float32 `json:"score"`
}

type searchResult struct {
	Games    []gameResult `json:"games"`
	FellBack bool         `json:"fell_back"`
}

func mcpSearch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		c, err := searchCriteria(req)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		res, err := deps.Searcher.SearchFiltered(ctx, query, c)
		if errors.Is(err, retrieval.ErrInvalidQuery) {
			return mcpError(pipeline.InvalidQueryMessage), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		out := searchResult{Games: make([]gameResult, len(res.Games)), FellBack: res.FellBack}
		for i, g := range res.Games {
			out.Games[i] = gameResult{
				Name:        g.Name,
				Description: g.Description,
				AllReviews:  g.AllReviews,
				Developer:   g.Developer,
				Publisher:   g.Publisher,
				Price:       g.Price,
				Score:       g.Score,
			}
			if g.ReleaseDate != nil {
				out.Games[i].ReleaseDate = g.ReleaseDate.Format("2006-01-02")
			}
		}
		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

// searchCriteria maps tool arguments to post-filter criteria. A single year
// bound leaves the other side open.
func searchCriteria(req mcp.CallToolRequest) (retrieval.Criteria, error) {
	args := req.GetArguments()
	var c retrieval.Criteria

	_, hasFrom := args["year_from"]
	_, hasTo := args["year_to"]
	if hasFrom || hasTo {
		from, to := req.GetInt("year_from", 0), req.GetInt("year_to", 9999)
		if from > to {
			from, to = to, from
		}
		c.YearRange = &[2]int{from, to}
	}
	if _, ok := args["price_limit"]; ok {
		limit := req.GetFloat("price_limit", 0)
		if limit < 0 {
			return c, fmt.Errorf("price_limit must not be negative")
		}
		c.PriceLimit = &limit
	}
	if s := req.GetString("review_sentiment", ""); s != "" {
		canon, err := intent.CanonicalSentiment(s)
		if err != nil {
			return c, err
		}
		c.ReviewSentiment = canon
	}
	c.Developer = req.GetString("developer", "")
	c.Publisher = req.GetString("publisher", "")
	return c, nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
