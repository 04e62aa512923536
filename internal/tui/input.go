package tui

import (
	"strings"
	"unicode/utf8"

	tea "github.com/charmbracelet/bubbletea"
)

// maxInputLen is the maximum number of runes allowed in form inputs.
const maxInputLen = 256

// editText applies a keystroke to an inline text field. Backspace removes
// one rune, typed or pasted runes are appended up to maxInputLen, and every
// other key leaves text unchanged.
func editText(text string, msg tea.KeyMsg) string {
	switch msg.Type {
	case tea.KeyBackspace:
		if text == "" {
			return text
		}
		_, size := utf8.DecodeLastRuneInString(text)
		return text[:len(text)-size]
	case tea.KeySpace:
		return appendClamped(text, " ")
	case tea.KeyRunes:
		return appendClamped(text, strings.ReplaceAll(string(msg.Runes), "\n", " "))
	}
	return text
}

func appendClamped(text, add string) string {
	room := maxInputLen - utf8.RuneCountInString(text)
	if room <= 0 {
		return text
	}
	if utf8.RuneCountInString(add) > room {
		add = string([]rune(add)[:room])
	}
	return text + add
}

// mask hides a secret field's contents.
func mask(s string) string {
	return strings.Repeat("•", utf8.RuneCountInString(s))
}

// truncateToHeight limits output to maxLines newline-delimited lines.
// Returns the original string if it fits or maxLines is <= 0.
func truncateToHeight(s string, maxLines int) string {
	if maxLines <= 0 {
		return s
	}
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			n++
			if n >= maxLines {
				return s[:i+1]
			}
		}
	}
	return s
}
