package sym

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeHash_Deterministic(t *testing.T) {
	tokens := []string{"return", "a", "+", "b"}
	h1 := ComputeHash(KindFunction, "add", "func add(a, b int) int", tokens)
	h2 := ComputeHash(KindFunction, "add", "func add(a, b int) int", tokens)
	assert.Equal(t, h1, h2)
}

func TestComputeHash_Format(t *testing.T) {
	h := ComputeHash(KindFunction, "f", "func f()", nil)
	require.Len(t, h, prefixLen+1+suffixLen)
	assert.Equal(t, byte(':'), h[prefixLen])
}

func TestComputeHash_WhitespaceInsensitive(t *testing.T) {
	tokens := []string{"return", "x"}
	h1 := ComputeHash(KindFunction, "f", "func f(x  int)   int", tokens)
	h2 := ComputeHash(KindFunction, "f", "func f(x int) int", tokens)
	assert.Equal(t, h1, h2)
}

func TestComputeHash_SensitiveToInputs(t *testing.T) {
	base := ComputeHash(KindFunction, "f", "func f()", []string{"return", "1"})

	assert.NotEqual(t, base, ComputeHash(KindMethod, "f", "func f()", []string{"return", "1"}))
	assert.NotEqual(t, base, ComputeHash(KindFunction, "g", "func f()", []string{"return", "1"}))
	assert.NotEqual(t, base, ComputeHash(KindFunction, "f", "func f() int", []string{"return", "1"}))
	assert.NotEqual(t, base, ComputeHash(KindFunction, "f", "func f()", []string{"return", "2"}))
}

func TestComputeHash_RenameChangesHash(t *testing.T) {
	tokens := []string{"return", "nil"}
	h1 := ComputeHash(KindFunction, "fetchUser", "func fetchUser()", tokens)
	h2 := ComputeHash(KindFunction, "loadUser", "func loadUser()", tokens)
	assert.NotEqual(t, h1, h2)
}

func TestComputeClusterKey_RenameInsensitive(t *testing.T) {
	// Same body shape, the only difference is the symbol's own name.
	k1 := ComputeClusterKey(KindFunction, "fetchUser",
		"func fetchUser(id int)", []string{"fetchUser", "id", "return"})
	k2 := ComputeClusterKey(KindFunction, "loadUser",
		"func loadUser(id int)", []string{"loadUser", "id", "return"})
	assert.Equal(t, k1, k2)
}

func TestComputeClusterKey_DifferentBodiesDiffer(t *testing.T) {
	k1 := ComputeClusterKey(KindFunction, "f", "func f()", []string{"return", "1"})
	k2 := ComputeClusterKey(KindFunction, "f", "func f()", []string{"return", "2"})
	assert.NotEqual(t, k1, k2)
}

func TestShortHash(t *testing.T) {
	h := ComputeHash(KindFunction, "f", "func f()", nil)
	short := ShortHash(h)
	assert.Len(t, short, prefixLen)
	assert.Equal(t, short, ShortHash(short))
}

func TestMatchesHash(t *testing.T) {
	h := ComputeHash(KindFunction, "f", "func f()", nil)
	assert.True(t, MatchesHash(h, h))
	assert.True(t, MatchesHash(ShortHash(h), h))
	assert.False(t, MatchesHash("deadbeef", h))
	assert.False(t, MatchesHash("", h))
}

func TestKindDurable(t *testing.T) {
	assert.True(t, KindFunction.Durable())
	assert.True(t, KindMethod.Durable())
	assert.True(t, KindType.Durable())
	assert.True(t, KindNamespace.Durable())
	assert.False(t, KindParameter.Durable())
	assert.False(t, KindImport.Durable())
}

func TestKindCallable(t *testing.T) {
	assert.True(t, KindFunction.Callable())
	assert.True(t, KindType.Callable())
	assert.True(t, KindImport.Callable())
	assert.False(t, KindField.Callable())
}
