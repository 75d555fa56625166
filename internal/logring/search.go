package logring

import "strings"

// Search scans the retained entries newest to oldest for payloads matching
// pattern, stopping once limit matches are found, and returns the matches
// in chronological order. Matching is case-insensitive; for hex-looking
// patterns whitespace is ignored on both sides, so "a1b2" finds "a1 b2".
func (b *Buffer) Search(pattern string, limit int) []Entry {
	if limit <= 0 {
		limit = 100
	}

	needle := strings.ToLower(pattern)
	hexNeedle, isHex := normalizeHex(needle)

	b.mu.Lock()
	defer b.mu.Unlock()

	var matches []Entry
	for i := b.count - 1; i >= 0 && len(matches) < limit; i-- {
		e := b.at(i)
		payload := strings.ToLower(e.Payload)
		ok := strings.Contains(payload, needle)
		if !ok && isHex {
			p, _ := normalizeHex(payload)
			ok = strings.Contains(p, hexNeedle)
		}
		if ok {
			matches = append(matches, e)
		}
	}

	// Reverse into chronological order.
	for i, j := 0, len(matches)-1; i < j; i, j = i+1, j-1 {
		matches[i], matches[j] = matches[j], matches[i]
	}
	return matches
}

// normalizeHex strips whitespace and reports whether the remainder is a
// plausible hex string.
func normalizeHex(s string) (string, bool) {
	var sb strings.Builder
	for _, r := range s {
		switch {
		case r == ' ' || r == '\t':
		case (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f'):
			sb.WriteRune(r)
		default:
			return "", false
		}
	}
	return sb.String(), sb.Len() > 0
}
