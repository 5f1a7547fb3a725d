package nats_exchange_flow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectorKeyValueMap(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		values := map[string]string{"operation": "greet", "id": "42", "lang": "en"}
		expression := FromKeyValueMap(values)
		assert.Equal(t, "id = '42' AND lang = 'en' AND operation = 'greet'", expression)

		parsed, err := ToKeyValueMap(expression)
		require.NoError(t, err)
		assert.Equal(t, values, parsed)
	})

	t.Run("SingleClause", func(t *testing.T) {
		parsed, err := ToKeyValueMap("operation = 'greet'")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"operation": "greet"}, parsed)
	})

	t.Run("EqualsInsideXPathBrackets", func(t *testing.T) {
		parsed, err := ToKeyValueMap("items[@id='5'] = 'x'")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"items[@id='5']": "x"}, parsed)

		parsed, err = ToKeyValueMap("xpath://a[@k='1']/b[@v='2'] = 'y' AND operation = 'greet'")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{
			"xpath://a[@k='1']/b[@v='2']": "y",
			"operation":                   "greet",
		}, parsed)
	})

	t.Run("MalformedClause", func(t *testing.T) {
		_, err := ToKeyValueMap("operation")
		assert.ErrorIs(t, err, ErrInvalidSelector)

		_, err = ToKeyValueMap("a = '1' AND = '2'")
		assert.ErrorIs(t, err, ErrInvalidSelector)
	})
}

func TestBuildSelector(t *testing.T) {
	tctx := NewTestContext(context.Background())
	tctx.SetVariable("op", "greet")

	t.Run("LiteralWins", func(t *testing.T) {
		out, err := BuildSelector("operation = '${op}'", map[string]string{"ignored": "x"}, tctx)
		require.NoError(t, err)
		assert.Equal(t, "operation = 'greet'", out)
	})

	t.Run("FromMap", func(t *testing.T) {
		out, err := BuildSelector("", map[string]string{"operation": "${op}", "id": "1"}, tctx)
		require.NoError(t, err)
		assert.Equal(t, "id = '1' AND operation = 'greet'", out)
	})

	t.Run("Empty", func(t *testing.T) {
		out, err := BuildSelector("", nil, tctx)
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("UnknownVariable", func(t *testing.T) {
		_, err := BuildSelector("", map[string]string{"operation": "${nope}"}, tctx)
		assert.ErrorIs(t, err, ErrVariableNotFound)
	})
}

func TestExpressionSelector(t *testing.T) {
	msg := mustMessage(t, `<order><items id="5">x</items><items id="6">y</items></order>`,
		WithHeader("operation", "greet"), WithHeader("count", 3))

	tests := []struct {
		name       string
		expression string
		want       bool
	}{
		{"empty accepts all", "", true},
		{"header match", "operation = 'greet'", true},
		{"header mismatch", "operation = 'bye'", false},
		{"missing header", "missing = 'x'", false},
		{"non string header", "count = '3'", true},
		{"all clauses must match", "operation = 'greet' AND count = '4'", false},
		{"xpath match", "xpath://items[@id='6'] = 'y'", true},
		{"xpath mismatch", "xpath://items[@id='5'] = 'y'", false},
		{"xpath and header", "xpath://items[@id='5'] = 'x' AND operation = 'greet'", true},
		{"id header", IDHeader + " = '" + msg.ID() + "'", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := NewSelector(tt.expression)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sel.Accept(msg))
		})
	}

	t.Run("XPathOnNonXMLPayload", func(t *testing.T) {
		sel, err := NewSelector("xpath://items = 'x'")
		require.NoError(t, err)
		assert.False(t, sel.Accept(mustMessage(t, "plain")))
	})

	t.Run("FromMap", func(t *testing.T) {
		sel, err := NewSelectorFromMap(map[string]string{"operation": "greet"})
		require.NoError(t, err)
		assert.True(t, sel.Accept(msg))
		assert.Equal(t, "operation = 'greet'", sel.Expression())
	})

	t.Run("SelectorFor", func(t *testing.T) {
		tctx := NewTestContext(context.Background())
		tctx.SetVariable("op", "greet")
		sel, err := SelectorFor(tctx, "", map[string]string{"operation": "${op}"})
		require.NoError(t, err)
		assert.True(t, sel.Accept(msg))
	})
}
