package notify

import "strings"

// MaxMessageLen keeps messages under Telegram's 4096 character limit with
// room for the separator re-inserted between sections.
const MaxMessageLen = 4000

// SplitMessage breaks text into parts no longer than limit characters.
// It cuts at Separator lines first, then at newlines, and only as a last
// resort inside a line. Nothing is dropped.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageLen
	}
	if runeLen(text) <= limit {
		return []string{text}
	}

	sections := strings.Split(text, Separator)
	var (
		parts   []string
		current = strings.TrimRight(sections[0], "\n") + "\n"
	)
	flush := func() {
		if strings.TrimSpace(current) != "" {
			parts = append(parts, current)
		}
		current = ""
	}

	for _, sec := range sections[1:] {
		sec = strings.TrimSpace(sec)
		if sec == "" {
			continue
		}
		joined := current + Separator + "\n" + sec + "\n"
		if runeLen(joined) <= limit {
			current = joined
			continue
		}
		flush()
		current = sec + "\n"
	}
	flush()

	// Sections that alone exceed the limit are cut further.
	var out []string
	for _, p := range parts {
		if runeLen(p) <= limit {
			out = append(out, p)
			continue
		}
		out = append(out, splitLines(p, limit)...)
	}
	return out
}

func splitLines(text string, limit int) []string {
	var (
		out     []string
		current strings.Builder
	)
	for _, line := range strings.SplitAfter(text, "\n") {
		if runeLen(current.String())+runeLen(line) > limit && current.Len() > 0 {
			out = append(out, current.String())
			current.Reset()
		}
		for runeLen(line) > limit {
			r := []rune(line)
			out = append(out, string(r[:limit]))
			line = string(r[limit:])
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		out = append(out, current.String())
	}
	return out
}

func runeLen(s string) int {
	return len([]rune(s))
}
