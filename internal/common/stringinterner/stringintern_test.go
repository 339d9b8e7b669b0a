package stringinterner

import (
	"strings"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dataPointer(s string) uintptr {
	return uintptr(unsafe.Pointer(unsafe.StringData(s)))
}

func TestIntern_ReturnsCachedCopy(t *testing.T) {
	interner, err := New(10)
	require.NoError(t, err)

	first := strings.Clone("Quote")
	second := strings.Clone("Quote")
	require.NotEqual(t, dataPointer(first), dataPointer(second))

	assert.Equal(t, dataPointer(first), dataPointer(interner.Intern(first)))
	assert.Equal(t, dataPointer(first), dataPointer(interner.Intern(second)))
	assert.Equal(t, 1, interner.Len())
}

func TestInternAll(t *testing.T) {
	interner, err := New(10)
	require.NoError(t, err)
	fields := []string{strings.Clone("AAPL"), strings.Clone("AAPL"), "101.5"}
	interner.InternAll(fields)
	assert.Equal(t, dataPointer(fields[0]), dataPointer(fields[1]))
	assert.Equal(t, 2, interner.Len())
}

func TestNew_InvalidSize(t *testing.T) {
	_, err := New(0)
	assert.Error(t, err)
}

func TestIntern_EvictsLeastRecentlyUsed(t *testing.T) {
	interner, err := New(2)
	require.NoError(t, err)
	interner.Intern("a")
	interner.Intern("b")
	interner.Intern("c")
	assert.Equal(t, 2, interner.Len())
}
