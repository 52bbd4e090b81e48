// Package synth writes the user-facing recommendation from retrieved games.
package synth

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/gamerec/internal/retrieval"
)

// NoResults is returned, without a model call, when there is nothing to
// recommend.
const NoResults = "Sorry, I couldn't find any games matching your query."

// Generator produces text for a single prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

const promptTemplate = `You are a game recommendation agent. Your task is to provide engaging and convincing recommendations to users based on their queries and the following retrieved game information.

User Query: %s

Relevant Games:
%s

Provide a detailed recommendation that:
- Highlights the most appealing aspects of the games.
- Connects the games to the user's query.
- Uses persuasive language and your own knowledge to captivate the user.
- Includes relevant information such as gameplay, reviews, release date, publisher and price.
- Make the user want to play the game.`

type Synthesizer struct {
	llm Generator
}

func New(llm Generator) *Synthesizer {
	return &Synthesizer{llm: llm}
}

// Recommend asks the model for a persuasive pitch of games in answer to
// query and returns its text unmodified.
func (s *Synthesizer) Recommend(ctx context.Context, query string, games []retrieval.ScoredGame) (string, error) {
	if len(games) == 0 {
		return NoResults, nil
	}
	out, err := s.llm.Generate(ctx, BuildPrompt(query, games))
	if err != nil {
		return "", fmt.Errorf("generating recommendation: %w", err)
	}
	return out, nil
}

// BuildPrompt grounds the instruction in one context line per game.
func BuildPrompt(query string, games []retrieval.ScoredGame) string {
	return fmt.Sprintf(promptTemplate, query, FormatContext(games))
}

// FormatContext renders "name: description: all_reviews: release_date:
// publisher: price" per game.
func FormatContext(games []retrieval.ScoredGame) string {
	lines := make([]string, len(games))
	for i, g := range games {
		released := "unknown"
		if g.ReleaseDate != nil {
			released = g.ReleaseDate.Format("2006-01-02")
		}
		lines[i] = strings.Join([]string{g.Name, g.Description, g.AllReviews, released, g.Publisher, g.Price}, ": ")
	}
	return strings.Join(lines, "\n")
}
