package orchestrator

import "strings"

const defaultChunkChars = 2000

// splitChunks breaks text into pieces of at most maxChars characters,
// preferring to cut at whitespace so the synthesis engine never receives a
// word split in half. Cuts land on rune boundaries, so multi-byte text
// stays valid UTF-8 in every chunk.
func splitChunks(text string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = defaultChunkChars
	}

	runes := []rune(text)
	if len(runes) <= maxChars {
		return []string{text}
	}

	var chunks []string

	for len(runes) > maxChars {
		cut := maxChars

		// Walk back to the nearest whitespace; give up at half the chunk
		// size and cut mid-word rather than emit a tiny chunk.
		if idx := lastSpaceIndex(runes[:cut]); idx > maxChars/2 {
			cut = idx
		}

		chunks = append(chunks, strings.TrimSpace(string(runes[:cut])))
		runes = []rune(strings.TrimSpace(string(runes[cut:])))
	}

	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}

	return chunks
}

func lastSpaceIndex(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		switch runes[i] {
		case ' ', '\t', '\n':
			return i
		}
	}

	return -1
}
