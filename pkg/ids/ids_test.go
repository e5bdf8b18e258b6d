package ids

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashBytesDeterministic(t *testing.T) {
	a := HashBytes([]byte("hello"))
	b := HashBytes([]byte("hello"))
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestHashCanonicalSortsMapKeys(t *testing.T) {
	m1 := map[string]int{"b": 2, "a": 1}
	m2 := map[string]int{"a": 1, "b": 2}

	h1, err := HashCanonical(m1)
	require.NoError(t, err)
	h2, err := HashCanonical(m2)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestNewRunIDSortableByTime(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Second)

	id1 := NewRunID("analytics", t1)
	id2 := NewRunID("analytics", t2)

	assert.Less(t, id1, id2)
}

func TestBlobPath(t *testing.T) {
	assert.Equal(t, "ab/abcdef", BlobPath("abcdef"))
	assert.Equal(t, "x", BlobPath("x"))
}
