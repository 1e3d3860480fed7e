package kv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Memory(t *testing.T) {
	type Foo struct {
		Name string
		Age  int
	}
	s := NewMemStore()

	_, err := GetJSON[Foo](t.Context(), s, "foobar")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, PutJSON(t.Context(), s, "p1", Foo{Name: "P1", Age: 10}))
	require.NoError(t, PutJSON(t.Context(), s, "p2", Foo{Name: "P2", Age: 20}))

	loaded, err := GetJSON[Foo](t.Context(), s, "p1")
	require.NoError(t, err)
	require.Equal(t, Foo{Name: "P1", Age: 10}, loaded)

	require.NoError(t, s.Delete(t.Context(), "p1"))
	_, err = GetJSON[Foo](t.Context(), s, "p1")
	require.ErrorIs(t, err, ErrNotFound)
}

func Test_MemoryRevisions(t *testing.T) {
	s := NewMemStore()
	r1, err := s.Put(t.Context(), "a", []byte("1"))
	require.NoError(t, err)
	r2, err := s.Put(t.Context(), "a", []byte("2"))
	require.NoError(t, err)
	require.Greater(t, r2, r1)

	e, err := s.Get(t.Context(), "a")
	require.NoError(t, err)
	require.Equal(t, r2, e.Revision)
	require.Equal(t, []byte("2"), e.Data)
}

func TestKey(t *testing.T) {
	require.Equal(t, "snapshot.page.abc_def", Key("snapshot", "page", "abc.def"))
	require.Equal(t, "cp.page_list", Key("cp", "page list"))
}
