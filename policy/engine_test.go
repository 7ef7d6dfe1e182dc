package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicyRoutes(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, DefaultPolicy)
	require.NoError(t, err)

	tests := []struct {
		name   string
		input  Input
		route  string
		reason string
	}{
		{"question", Input{Intent: "question", Query: "derivative", QueryTerms: 1}, RouteRetrieve, "default"},
		{"off topic", Input{Intent: "off_topic", Query: "weather", QueryTerms: 1}, RouteCanned, "off_topic"},
		{"empty query", Input{Intent: "explanation", QueryTerms: 0}, RouteCanned, "empty_query"},
		{"empty query at pause", Input{Intent: "explanation", QueryTerms: 0, HasPause: true}, RouteRetrieve, "default"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d, err := engine.Evaluate(ctx, tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.route, d.Route)
			assert.Equal(t, tc.reason, d.Reason)
		})
	}
}

func TestStringDecision(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, `
package turn_policy

import rego.v1

default decision := "canned"
`)
	require.NoError(t, err)

	d, err := engine.Evaluate(ctx, Input{Intent: "question"})
	require.NoError(t, err)
	assert.Equal(t, RouteCanned, d.Route)
}

func TestInvalidPolicy(t *testing.T) {
	_, err := NewEngine(context.Background(), "package turn_policy\n\ndecision := {")
	assert.Error(t, err)
}
