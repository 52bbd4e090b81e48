// Package pipeline runs one conversation turn: rewrite, route, retrieve and
// synthesize.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/gamerec/internal/intent"
	"github.com/kalambet/gamerec/internal/metrics"
	"github.com/kalambet/gamerec/internal/retrieval"
	"github.com/kalambet/gamerec/internal/session"
)

// Messages returned as answers rather than errors.
const (
	InvalidQueryMessage     = "Invalid query: please describe the kind of game you are looking for."
	UnknownOperationMessage = "Sorry, I don't know how to handle that request (unknown operation %q)."
)

// Greeting is shown by chat front ends before the first turn.
const Greeting = "Ask me for any Steam game!"

// QueryRewriter turns a context-dependent utterance into a standalone query.
type QueryRewriter interface {
	Rewrite(ctx context.Context, history []session.Turn, utterance string) (string, error)
}

// IntentRouter picks the operation for a standalone query.
type IntentRouter interface {
	Route(ctx context.Context, query string) (intent.RoutedCall, error)
}

// Searcher executes the retrieval strategies.
type Searcher interface {
	SearchFiltered(ctx context.Context, query string, c retrieval.Criteria) (retrieval.Result, error)
	SearchByName(ctx context.Context, query string) (retrieval.Result, error)
	SearchByDescription(ctx context.Context, query string, c retrieval.Criteria) (retrieval.Result, error)
}

// Generator answers a free-form prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Synthesizer writes the recommendation for a result set.
type Synthesizer interface {
	Recommend(ctx context.Context, query string, games []retrieval.ScoredGame) (string, error)
}

// Recommender wires the turn stages together. It holds no per-conversation
// state; history lives in the session passed to Turn.
type Recommender struct {
	rewriter QueryRewriter
	router   IntentRouter
	search   Searcher
	llm      Generator
	synth    Synthesizer
}

func NewRecommender(rw QueryRewriter, router IntentRouter, search Searcher, llm Generator, synth Synthesizer) *Recommender {
	return &Recommender{
		rewriter: rw,
		router:   router,
		search:   search,
		llm:      llm,
		synth:    synth,
	}
}

// Turn answers utterance in the context of sess. On success the user and
// assistant turns are appended; on error only the user turn is, so the
// failed message stays visible in history.
func (r *Recommender) Turn(ctx context.Context, sess *session.Session, utterance string) (string, error) {
	history := sess.History()
	reply, err := r.answer(ctx, history, utterance)
	if err != nil {
		sess.Append(session.Turn{Role: session.RoleUser, Content: utterance})
		return "", err
	}
	sess.Append(
		session.Turn{Role: session.RoleUser, Content: utterance},
		session.Turn{Role: session.RoleAssistant, Content: reply},
	)
	return reply, nil
}

// Ask answers a single query with no conversation history.
func (r *Recommender) Ask(ctx context.Context, query string) (string, error) {
	return r.answer(ctx, nil, query)
}

func (r *Recommender) answer(ctx context.Context, history []session.Turn, utterance string) (reply string, err error) {
	start := time.Now()
	outcome := metrics.OutcomeAnswered
	defer func() {
		if err != nil {
			outcome = metrics.OutcomeFailed
		}
		metrics.TurnsTotal.WithLabelValues(outcome).Inc()
		metrics.TurnDuration.Observe(time.Since(start).Seconds())
		slog.Info("turn completed",
			"outcome", outcome,
			"history", len(history),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	standalone, err := r.rewriter.Rewrite(ctx, history, utterance)
	if err != nil {
		return "", err
	}
	if standalone != utterance {
		slog.Debug("query rewritten", "original", utterance, "standalone", standalone)
	}

	call, err := r.router.Route(ctx, standalone)
	if err != nil {
		return "", err
	}
	metrics.RoutedOperations.WithLabelValues(call.Operation()).Inc()
	slog.Debug("routed call", "operation", call.Operation(), "call", fmt.Sprintf("%+v", call))

	reply, err = r.dispatch(ctx, standalone, call)
	switch {
	case errors.Is(err, retrieval.ErrInvalidQuery):
		outcome = metrics.OutcomeInvalid
		return InvalidQueryMessage, nil
	case err != nil:
		return "", err
	}
	if _, ok := call.(intent.UnknownCall); ok {
		outcome = metrics.OutcomeUnknown
	}
	return reply, nil
}

// dispatch executes call. Retrieval calls end in synthesis over the
// standalone query; the others answer directly.
func (r *Recommender) dispatch(ctx context.Context, standalone string, call intent.RoutedCall) (string, error) {
	var (
		res retrieval.Result
		err error
	)
	switch c := call.(type) {
	case intent.FilteredSearch:
		res, err = r.search.SearchFiltered(ctx, standalone, c.Criteria())
	case intent.NameSearch:
		res, err = r.search.SearchByName(ctx, c.Query)
	case intent.DescriptionSearch:
		res, err = r.search.SearchByDescription(ctx, c.Query, intent.ExtractMetadata(standalone).Criteria())
	case intent.ChitChat:
		return r.generate(ctx, c.Query)
	case intent.EndChat:
		return r.generate(ctx, c.Query)
	case intent.DirectAnswer:
		return c.Text, nil
	case intent.UnknownCall:
		return fmt.Sprintf(UnknownOperationMessage, c.Name), nil
	default:
		return fmt.Sprintf(UnknownOperationMessage, call.Operation()), nil
	}
	if err != nil {
		return "", err
	}

	if res.FellBack {
		metrics.RetrievalFallbacks.WithLabelValues(res.Strategy).Inc()
	}
	return r.synth.Recommend(ctx, standalone, res.Games)
}

func (r *Recommender) generate(ctx context.Context, prompt string) (string, error) {
	out, err := r.llm.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generating follow-up: %w", err)
	}
	return out, nil
}
