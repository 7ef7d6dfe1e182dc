package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Routes a turn can take after query understanding.
const (
	RouteRetrieve = "retrieve"
	RouteCanned   = "canned"
)

// Decision is the routing outcome for one turn.
type Decision struct {
	Route  string `json:"route"`
	Reason string `json:"reason,omitempty"`
}

// Input is the document the turn policy is evaluated against.
type Input struct {
	Intent     string `json:"intent"`
	Query      string `json:"query"`
	QueryTerms int    `json:"query_terms"`
	HasPause   bool   `json:"has_pause"`
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.turn_policy.decision"),
		rego.Module("turn_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate routes a turn. A policy without a matching rule retrieves.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Route: RouteRetrieve, Reason: "default"}, nil
	}

	switch val := results[0].Expressions[0].Value.(type) {
	case string:
		return Decision{Route: val}, nil
	case map[string]interface{}:
		d := Decision{}
		d.Route, _ = val["route"].(string)
		d.Reason, _ = val["reason"].(string)
		if d.Route == "" {
			d.Route = RouteRetrieve
		}
		return d, nil
	}
	return Decision{Route: RouteRetrieve, Reason: "unexpected return type"}, nil
}

// DefaultPolicy is the default policy content.
const DefaultPolicy = `
package turn_policy

import rego.v1

default decision := {"route": "retrieve", "reason": "default"}

# Chit-chat and unrelated requests never reach retrieval.
decision := {"route": "canned", "reason": "off_topic"} if {
	input.intent == "off_topic"
}

# Nothing left to search for once fillers are stripped.
decision := {"route": "canned", "reason": "empty_query"} if {
	input.intent != "off_topic"
	input.query_terms == 0
	not input.has_pause
}
`
