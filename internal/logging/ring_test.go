package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineRingKeepsNewestLines(t *testing.T) {
	r := newLineRing(3)
	for _, line := range []string{"a\n", "b\n", "c\n", "d\n"} {
		_, err := r.Write([]byte(line))
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"b", "c", "d"}, r.Recent(10))
}

func TestLineRingPartialWrites(t *testing.T) {
	r := newLineRing(5)
	_, _ = r.Write([]byte(`{"msg":"sp`))
	assert.Empty(t, r.Recent(5), "fragment without newline is not a line yet")

	_, _ = r.Write([]byte("lit\"}\n"))
	got := r.Recent(5)
	require.Len(t, got, 1)
	assert.Equal(t, `{"msg":"split"}`, got[0])
}

func TestLineRingMultipleLinesInOneWrite(t *testing.T) {
	r := newLineRing(5)
	_, _ = r.Write([]byte("one\ntwo\nthree\n"))
	assert.Equal(t, []string{"one", "two", "three"}, r.Recent(5))
	assert.Equal(t, []string{"three"}, r.Recent(1), "Recent(1) is the newest line")
}

func TestLineRingEmpty(t *testing.T) {
	r := newLineRing(4)
	assert.Nil(t, r.Recent(3))
}
