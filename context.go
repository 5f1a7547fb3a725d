package nats_exchange_flow

import (
	"context"
	"fmt"
	"regexp"
	"sync"
)

var variablePattern = regexp.MustCompile(`\$\{([^${}]+)\}`)

// TestContext carries the state of one test execution: a context for the
// transport calls and a variables table. Correlation keys saved by producers
// live here so parallel tests never share them.
type TestContext struct {
	ctx context.Context

	mu        sync.RWMutex
	variables map[string]any
}

func NewTestContext(ctx context.Context) *TestContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &TestContext{
		ctx:       ctx,
		variables: make(map[string]any),
	}
}

func (tc *TestContext) Context() context.Context {
	return tc.ctx
}

func (tc *TestContext) SetVariable(name string, value any) {
	tc.mu.Lock()
	tc.variables[name] = value
	tc.mu.Unlock()
}

func (tc *TestContext) Variable(name string) (any, bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	v, ok := tc.variables[name]
	return v, ok
}

func (tc *TestContext) VariableString(name string) (string, error) {
	v, ok := tc.Variable(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrVariableNotFound, name)
	}
	return headerString(v), nil
}

func (tc *TestContext) HasVariable(name string) bool {
	_, ok := tc.Variable(name)
	return ok
}

func (tc *TestContext) RemoveVariable(name string) {
	tc.mu.Lock()
	delete(tc.variables, name)
	tc.mu.Unlock()
}

// ReplaceDynamicContent replaces every ${name} in text with the variable value.
func (tc *TestContext) ReplaceDynamicContent(text string) (string, error) {
	var missing error
	out := variablePattern.ReplaceAllStringFunc(text, func(match string) string {
		name := variablePattern.FindStringSubmatch(match)[1]
		value, err := tc.VariableString(name)
		if err != nil {
			if missing == nil {
				missing = err
			}
			return match
		}
		return value
	})
	if missing != nil {
		return "", missing
	}
	return out, nil
}

// ResolveDynamicValue resolves a value that is exactly one ${name} reference to
// the variable itself, anything else goes through ReplaceDynamicContent.
func (tc *TestContext) ResolveDynamicValue(value string) (string, error) {
	if m := variablePattern.FindStringSubmatch(value); m != nil && m[0] == value {
		return tc.VariableString(m[1])
	}
	return tc.ReplaceDynamicContent(value)
}
