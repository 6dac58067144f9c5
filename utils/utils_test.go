package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContains(t *testing.T) {
	assert.True(t, ContainsString([]string{"a", "b"}, "a"))
	assert.False(t, ContainsString([]string{"a", "b"}, "c"))
	assert.False(t, ContainsString(nil, "a"))

	assert.True(t, ContainsInt([]int{1, 2}, 2))
	assert.False(t, ContainsInt([]int{1, 2}, 3))
}

func TestMinMax(t *testing.T) {
	assert.Equal(t, 1, Min(1, 2))
	assert.Equal(t, 2, Max(1, 2))
	assert.Equal(t, 3, Min(3, 3))
}

func TestRandomAlphabetString(t *testing.T) {
	s := RandomAlphabetString(12)
	assert.Len(t, s, 12)
	for _, r := range s {
		assert.True(t, r >= 'a' && r <= 'z')
	}

	// Two draws colliding would mean a broken generator.
	assert.NotEqual(t, RandomAlphabetString(20), RandomAlphabetString(20))
}
