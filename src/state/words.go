package state

import (
	"crypto/sha256"
	"encoding/hex"
	"unicode"
)

// ContentHash is the hex sha256 of content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// CountWords counts runs of letters and digits as words. Han, Hiragana,
// Katakana and Hangul characters count as one word each.
func CountWords(content string) int {
	words := 0
	inWord := false
	for _, r := range content {
		switch {
		case unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul):
			words++
			inWord = false
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' && inWord:
			if !inWord {
				words++
				inWord = true
			}
		default:
			inWord = false
		}
	}
	return words
}
