package es

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// === Helpers ===

type TestingEnv struct {
	*Env
	t *testing.T
}

func (e *TestingEnv) Assert() *TestingEnvAssert {
	return &TestingEnvAssert{env: e}
}

// StartTestEnv creates an in-memory Env that is shut down with the test.
// Options override the in-memory defaults.
func StartTestEnv(
	t *testing.T,
	opts ...EnvOption,
) *TestingEnv {
	t.Helper()
	e, err := NewEnv(
		WithInMemory(),
		WithEnvOpts(opts...),
	)
	require.NoError(t, err)
	t.Cleanup(e.Shutdown)
	return &TestingEnv{
		t:   t,
		Env: e,
	}
}

type TestingEnvAssert struct {
	env *TestingEnv
}

func (t *TestingEnvAssert) Append(
	ctx context.Context,
	expect Version,
	aggType string,
	aggID string,
	events ...any,
) {
	t.env.t.Helper()
	_, err := t.env.Append(ctx, expect, aggType, aggID, events...)
	require.NoError(t.env.t, err)
}

func (t *TestingEnvAssert) CaughtUp(ctx context.Context) {
	t.env.t.Helper()
	require.NoError(t.env.t, t.env.CatchUp(ctx))
}

// StreamVersion asserts the stored version of a stream.
func (t *TestingEnvAssert) StreamVersion(ctx context.Context, aggType, aggID string, want Version) {
	t.env.t.Helper()
	got, err := t.env.Store().Version(ctx, aggType, aggID)
	require.NoError(t.env.t, err)
	require.Equal(t.env.t, want, got)
}
