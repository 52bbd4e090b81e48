package intent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/kalambet/gamerec/internal/retrieval"
)

// Operation names the model can pick.
const (
	OpFilteredSearch    = "vector_search_filtered"
	OpChitChat          = "chit_chat"
	OpEndChat           = "end_chat"
	OpNameSearch        = "vector_search_name"
	OpDescriptionSearch = "vector_search_description"

	// Pseudo-operations for replies that carry no usable call.
	OpDirectAnswer = "direct_answer"
	OpUnknown      = "unknown"
)

// RoutedCall is the router's decision. The concrete type is one of
// FilteredSearch, ChitChat, EndChat, NameSearch, DescriptionSearch,
// DirectAnswer or UnknownCall.
type RoutedCall interface {
	Operation() string
	routedCall()
}

// FilteredSearch asks for a general search narrowed by model-chosen filters.
type FilteredSearch struct {
	Query           string
	YearRange       *[2]int
	PriceLimit      *float64
	ReviewSentiment string
	Developer       string
	Publisher       string
}

// ChitChat is small talk answered directly by the model.
type ChitChat struct{ Query string }

// EndChat closes the conversation with a model-written goodbye.
type EndChat struct{ Query string }

// NameSearch looks a game up by title.
type NameSearch struct{ Query string }

// DescriptionSearch matches games on what they are about.
type DescriptionSearch struct{ Query string }

// DirectAnswer is a text reply with no function call.
type DirectAnswer struct{ Text string }

// UnknownCall is a call the router could not accept: an undeclared name or
// arguments that violate the declared schema.
type UnknownCall struct {
	Name   string
	Reason string
}

func (FilteredSearch) Operation() string    { return OpFilteredSearch }
func (ChitChat) Operation() string          { return OpChitChat }
func (EndChat) Operation() string           { return OpEndChat }
func (NameSearch) Operation() string        { return OpNameSearch }
func (DescriptionSearch) Operation() string { return OpDescriptionSearch }
func (DirectAnswer) Operation() string      { return OpDirectAnswer }
func (UnknownCall) Operation() string       { return OpUnknown }

func (FilteredSearch) routedCall()    {}
func (ChitChat) routedCall()          {}
func (EndChat) routedCall()           {}
func (NameSearch) routedCall()        {}
func (DescriptionSearch) routedCall() {}
func (DirectAnswer) routedCall()      {}
func (UnknownCall) routedCall()       {}

// Criteria converts the call's filters for the post-filter.
func (f FilteredSearch) Criteria() retrieval.Criteria {
	return retrieval.Criteria{
		YearRange:       f.YearRange,
		PriceLimit:      f.PriceLimit,
		ReviewSentiment: f.ReviewSentiment,
		Developer:       f.Developer,
		Publisher:       f.Publisher,
	}
}

// decodeCall validates raw arguments against the declaration of name and
// builds the matching RoutedCall. Only operations in allowed are accepted.
func decodeCall(name string, raw json.RawMessage, allowed map[string]bool) RoutedCall {
	if !allowed[name] {
		return UnknownCall{Name: name, Reason: "operation not declared"}
	}

	args, err := decodeObject(raw)
	if err != nil {
		return UnknownCall{Name: name, Reason: err.Error()}
	}
	query, err := args.requiredString("query")
	if err != nil {
		return UnknownCall{Name: name, Reason: err.Error()}
	}

	switch name {
	case OpChitChat:
		return ChitChat{Query: query}
	case OpEndChat:
		return EndChat{Query: query}
	case OpNameSearch:
		return NameSearch{Query: query}
	case OpDescriptionSearch:
		return DescriptionSearch{Query: query}
	case OpFilteredSearch:
		call, err := decodeFiltered(query, args)
		if err != nil {
			return UnknownCall{Name: name, Reason: err.Error()}
		}
		return call
	}
	return UnknownCall{Name: name, Reason: "operation not declared"}
}

func decodeFiltered(query string, args object) (FilteredSearch, error) {
	call := FilteredSearch{Query: query}
	var err error

	if call.YearRange, err = args.yearRange("year_range"); err != nil {
		return call, err
	}
	if call.PriceLimit, err = args.optionalNumber("price_limit"); err != nil {
		return call, err
	}
	if call.PriceLimit != nil && *call.PriceLimit < 0 {
		return call, fmt.Errorf("price_limit must not be negative")
	}
	if call.ReviewSentiment, err = args.optionalString("review_sentiment"); err != nil {
		return call, err
	}
	if call.ReviewSentiment != "" {
		if call.ReviewSentiment, err = CanonicalSentiment(call.ReviewSentiment); err != nil {
			return call, err
		}
	}
	if call.Developer, err = args.optionalString("developer"); err != nil {
		return call, err
	}
	if call.Publisher, err = args.optionalString("publisher"); err != nil {
		return call, err
	}
	return call, nil
}

// CanonicalSentiment matches s case-insensitively against Sentiments.
func CanonicalSentiment(s string) (string, error) {
	for _, want := range Sentiments {
		if strings.EqualFold(s, want) {
			return want, nil
		}
	}
	return "", fmt.Errorf("review_sentiment %q is not one of %s", s, strings.Join(Sentiments, ", "))
}

// object is a decoded JSON arguments object.
type object map[string]json.RawMessage

func decodeObject(raw json.RawMessage) (object, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return object{}, nil
	}
	var o object
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("arguments are not a JSON object: %w", err)
	}
	if o == nil {
		o = object{}
	}
	return o, nil
}

// present reports whether key is set to something other than null.
func (o object) present(key string) bool {
	v, ok := o[key]
	return ok && !bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

func (o object) requiredString(key string) (string, error) {
	if !o.present(key) {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, err := o.optionalString(key)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("argument %q is empty", key)
	}
	return s, nil
}

func (o object) optionalString(key string) (string, error) {
	if !o.present(key) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(o[key], &s); err != nil {
		return "", fmt.Errorf("argument %q must be a string", key)
	}
	return strings.TrimSpace(s), nil
}

func (o object) optionalNumber(key string) (*float64, error) {
	if !o.present(key) {
		return nil, nil
	}
	var f float64
	if err := json.Unmarshal(o[key], &f); err != nil {
		return nil, fmt.Errorf("argument %q must be a number", key)
	}
	return &f, nil
}

// yearRange reads a [from, to] pair of integers. A reversed pair is
// reordered.
func (o object) yearRange(key string) (*[2]int, error) {
	if !o.present(key) {
		return nil, nil
	}
	var nums []float64
	if err := json.Unmarshal(o[key], &nums); err != nil {
		return nil, fmt.Errorf("argument %q must be an array of integers", key)
	}
	if len(nums) != 2 {
		return nil, fmt.Errorf("argument %q must have exactly 2 elements, got %d", key, len(nums))
	}
	var r [2]int
	for i, n := range nums {
		if n != math.Trunc(n) {
			return nil, fmt.Errorf("argument %q must contain integers", key)
		}
		r[i] = int(n)
	}
	if r[0] > r[1] {
		r[0], r[1] = r[1], r[0]
	}
	return &r, nil
}
