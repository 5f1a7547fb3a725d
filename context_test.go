package nats_exchange_flow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestContext(t *testing.T) {
	tctx := NewTestContext(context.Background())
	tctx.SetVariable("operation", "greet")
	tctx.SetVariable("count", 3)

	t.Run("Variables", func(t *testing.T) {
		v, ok := tctx.Variable("operation")
		require.True(t, ok)
		assert.Equal(t, "greet", v)

		s, err := tctx.VariableString("count")
		require.NoError(t, err)
		assert.Equal(t, "3", s)

		_, err = tctx.VariableString("missing")
		assert.ErrorIs(t, err, ErrVariableNotFound)
	})

	t.Run("ReplaceDynamicContent", func(t *testing.T) {
		out, err := tctx.ReplaceDynamicContent("op=${operation}, n=${count}")
		require.NoError(t, err)
		assert.Equal(t, "op=greet, n=3", out)

		out, err = tctx.ReplaceDynamicContent("no variables")
		require.NoError(t, err)
		assert.Equal(t, "no variables", out)

		_, err = tctx.ReplaceDynamicContent("${operation} ${missing}")
		assert.ErrorIs(t, err, ErrVariableNotFound)
	})

	t.Run("ResolveDynamicValue", func(t *testing.T) {
		out, err := tctx.ResolveDynamicValue("${operation}")
		require.NoError(t, err)
		assert.Equal(t, "greet", out)

		out, err = tctx.ResolveDynamicValue("literal")
		require.NoError(t, err)
		assert.Equal(t, "literal", out)
	})

	t.Run("RemoveVariable", func(t *testing.T) {
		tctx.SetVariable("tmp", "x")
		assert.True(t, tctx.HasVariable("tmp"))
		tctx.RemoveVariable("tmp")
		assert.False(t, tctx.HasVariable("tmp"))
	})

	t.Run("NilContext", func(t *testing.T) {
		assert.NotNil(t, NewTestContext(nil).Context())
	})
}
