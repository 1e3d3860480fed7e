package assert

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAssert(t *testing.T) {
	mustBeTrue := True(true, "must be true")
	require.True(t, mustBeTrue.Eval())
	require.NoError(t, mustBeTrue.Check())
	require.Equal(t, "must be true", mustBeTrue.String())

	mustBeFalse := False(false, "must be false")
	require.True(t, mustBeFalse.Eval())
	require.NoError(t, mustBeFalse.Check())

	require.NoError(t, All(mustBeTrue, mustBeFalse).Check())
	require.True(t, All(mustBeTrue, mustBeFalse).Eval())

	err := All(mustBeTrue, New("foo", func() bool { return false })).Check()
	var fe *FailedError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, "foo", fe.Name)
}

func TestNot(t *testing.T) {
	c := Not(True(true, "x"))
	require.False(t, c.Eval())
	require.Equal(t, "not(x)", c.String())
}

func TestFailing(t *testing.T) {
	_, failed := Failing(True(true, "a"), NotEmpty("x", "b"))
	require.False(t, failed)

	c, failed := Failing(True(true, "a"), Equal(1, 2, "one is two"), False(true, "c"))
	require.True(t, failed)
	require.Equal(t, "one is two", c.String())
}
