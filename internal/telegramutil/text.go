package telegramutil

import (
	"strings"
	"unicode/utf8"
)

// MaxMessageRunes is the Bot API limit for one text message.
const MaxMessageRunes = 4096

// SplitText cuts text into chunks of at most limit runes, preferring to break
// after a newline, then after a space. Empty text yields no chunks.
func SplitText(text string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageRunes
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var out []string
	for utf8.RuneCountInString(text) > limit {
		cut := byteOffset(text, limit)
		head := text[:cut]
		if i := strings.LastIndexByte(head, '\n'); i > 0 {
			cut = i + 1
		} else if i := strings.LastIndexByte(head, ' '); i > 0 {
			cut = i + 1
		}
		out = append(out, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}

// byteOffset returns the byte index just past the first n runes of s.
func byteOffset(s string, n int) int {
	i := 0
	for idx := range s {
		if i == n {
			return idx
		}
		i++
	}
	return len(s)
}
