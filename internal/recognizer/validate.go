package recognizer

import (
	"strings"
	"unicode"
)

// ValidateTranscript applies the gibberish heuristics to text coming back
// from the secondary backend, which transcribes noise into plausible-looking
// strings instead of returning an empty result. A transcript is rejected
// when it is shorter than two characters, when less than half of its
// alphabetic runes are Persian despite the Persian language hint, or when a
// short result is built from almost a single repeated character.
// Returns ErrUnintelligible for rejected text, nil otherwise.
func ValidateTranscript(text string) error {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) < 2 {
		return ErrUnintelligible
	}

	var persian, alphabetic int
	for _, r := range runes {
		if r >= 0x0600 && r <= 0x06FF {
			persian++
		}
		if unicode.IsLetter(r) {
			alphabetic++
		}
	}
	if alphabetic > 0 && float64(persian)/float64(alphabetic) < 0.5 {
		return ErrUnintelligible
	}

	if len(runes) <= 10 {
		distinct := make(map[rune]struct{}, len(runes))
		for _, r := range runes {
			if r == ' ' {
				continue
			}
			distinct[r] = struct{}{}
		}
		if len(distinct) <= 3 {
			return ErrUnintelligible
		}
	}
	return nil
}
