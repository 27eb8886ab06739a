package game

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewJoinCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code := NewJoinCode()
		assert.Len(t, code, CodeLength)
		assert.True(t, ValidJoinCode(code), "generated code %q must validate", code)
		seen[code] = true
	}
	// 200 draws from 31^6 should essentially never collide.
	assert.Greater(t, len(seen), 195)
}

func TestValidJoinCode(t *testing.T) {
	assert.True(t, ValidJoinCode("ABC234"))
	assert.False(t, ValidJoinCode("abc234"), "lowercase is rejected")
	assert.False(t, ValidJoinCode("ABC23"), "too short")
	assert.False(t, ValidJoinCode("ABC2345"), "too long")
	assert.False(t, ValidJoinCode(""))

	// Ambiguous characters are excluded from the alphabet.
	for _, c := range []string{"O", "0", "I", "1", "L"} {
		code := c + "BC234"
		assert.False(t, ValidJoinCode(code), "code with %q should be invalid", c)
		assert.False(t, strings.Contains(codeAlphabet, c))
	}
}
