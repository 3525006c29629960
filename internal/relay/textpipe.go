package relay

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Terminal escape sequence patterns, applied in order. OSC must run before
// the generic two-byte ESC pattern so its ESC-backslash terminator is
// consumed as part of the sequence.
var (
	// OSC sequences (title set etc.), terminated by BEL or ESC-backslash
	oscRe = regexp.MustCompile(`\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)`)

	// CSI sequences: cursor movement, SGR colors, erase, scroll regions
	csiRe = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

	// Character set selection, e.g. ESC ( B
	charsetRe = regexp.MustCompile(`\x1b[()][0-9A-Za-z]`)

	// Remaining two-byte escapes (RIS, keypad modes, ...)
	escRe = regexp.MustCompile(`\x1b[@-Z\\-_=><]`)
)

// StripEscapes removes terminal escape sequences from captured text.
// Bytes that are not part of an escape sequence pass through untouched.
func StripEscapes(text string) string {
	if !strings.ContainsRune(text, 0x1b) {
		return text
	}
	text = oscRe.ReplaceAllString(text, "")
	text = csiRe.ReplaceAllString(text, "")
	text = charsetRe.ReplaceAllString(text, "")
	text = escRe.ReplaceAllString(text, "")
	return text
}

// CleanCapture strips escape sequences and drops trailing blank lines.
// Interior blank lines are preserved so transcript structure survives.
func CleanCapture(text string) string {
	text = StripEscapes(text)
	lines := strings.Split(text, "\n")
	end := len(lines)
	for end > 0 && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return strings.Join(lines[:end], "\n")
}

// Chunk splits text into pieces no longer than maxLen, breaking on line
// boundaries wherever possible. A single line longer than maxLen is
// hard-truncated to maxLen and placed in its own chunk. Joining the chunks
// with "\n" reconstructs the input whenever no line exceeded the limit.
func Chunk(text string, maxLen int) []string {
	if maxLen <= 0 || len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	var cur []string
	curLen := 0
	flush := func() {
		if len(cur) > 0 {
			chunks = append(chunks, strings.Join(cur, "\n"))
			cur = nil
			curLen = 0
		}
	}

	for _, line := range strings.Split(text, "\n") {
		if len(line) > maxLen {
			flush()
			chunks = append(chunks, truncate(line, maxLen))
			continue
		}
		joined := curLen + len(line)
		if len(cur) > 0 {
			joined++ // the newline separator
		}
		if joined > maxLen {
			flush()
			joined = len(line)
		}
		cur = append(cur, line)
		curLen = joined
	}
	flush()
	if len(chunks) == 0 {
		chunks = []string{""}
	}
	return chunks
}

// truncate cuts s to at most maxLen bytes without splitting a UTF-8 rune.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
