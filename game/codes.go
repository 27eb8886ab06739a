// game/codes.go - Join code generation
package game

import "crypto/rand"

// codeAlphabet is uppercase alphanumerics minus {O,0,I,1,L} to reduce
// transcription errors.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// CodeLength is the join code length.
const CodeLength = 6

// NewJoinCode returns a random six-character join code.
func NewJoinCode() string {
	b := make([]byte, CodeLength)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b)
}

// ValidJoinCode reports whether s is a well-formed join code.
func ValidJoinCode(s string) bool {
	if len(s) != CodeLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		found := false
		for j := 0; j < len(codeAlphabet); j++ {
			if s[i] == codeAlphabet[j] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
