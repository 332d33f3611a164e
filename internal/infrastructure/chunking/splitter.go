package chunking

import "strings"

// Splitter cuts outbound text into pieces no longer than Limit runes,
// preferring line breaks in the second half of each window. Concatenating
// the pieces gives back the input minus whitespace-only pieces.
type Splitter struct {
	Limit int
}

func NewSplitter(limit int) *Splitter {
	if limit <= 0 {
		limit = 4096
	}
	return &Splitter{Limit: limit}
}

func (s *Splitter) Split(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= s.Limit {
		return []string{text}
	}

	out := make([]string, 0, len(runes)/s.Limit+1)
	for start := 0; start < len(runes); {
		end := min(start+s.Limit, len(runes))
		if end < len(runes) {
			for i := end - 1; i > start+s.Limit/2; i-- {
				if runes[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		chunk := string(runes[start:end])
		if strings.TrimSpace(chunk) != "" {
			out = append(out, chunk)
		}
		start = end
	}
	return out
}
