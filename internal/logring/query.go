package logring

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// CursorToken is the since value meaning "resume after this client's
// last-seen id". It requires a client id.
const CursorToken = "last"

var durationPattern = regexp.MustCompile(`^(\d+)(ms|s|m|h|d)$`)

// Query returns retained entries strictly after the cutoff resolved from
// since, oldest first, truncated to limit. since takes one of three forms:
//
//   - "last": resume after clientID's cursor (clientID required)
//   - a relative duration such as "30s" or "5m": entries newer than now-d
//   - an RFC 3339 timestamp: entries after that instant
//
// If nothing is strictly after the cutoff the result is empty, except for
// the cursor form, where a cursor pointing at an evicted id degrades to
// the oldest retained entry. When clientID is non-empty and the result is
// non-empty, the client's cursor advances to the last returned id.
func (b *Buffer) Query(since string, limit int, clientID string) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Entry
	switch {
	case since == CursorToken:
		if clientID == "" {
			return nil, fmt.Errorf("since=%q requires a client id", CursorToken)
		}
		out = b.afterID(b.cursors[clientID], limit)
	default:
		cutoff, err := b.resolveCutoff(since)
		if err != nil {
			return nil, err
		}
		out = b.afterTime(cutoff, limit)
	}

	if clientID != "" && len(out) > 0 {
		b.cursors[clientID] = out[len(out)-1].ID
	}
	return out, nil
}

// resolveCutoff parses the duration and absolute-timestamp forms of since.
// Caller holds b.mu.
func (b *Buffer) resolveCutoff(since string) (time.Time, error) {
	if m := durationPattern.FindStringSubmatch(since); m != nil {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse since %q: %w", since, err)
		}
		var unit time.Duration
		switch m[2] {
		case "ms":
			unit = time.Millisecond
		case "s":
			unit = time.Second
		case "m":
			unit = time.Minute
		case "h":
			unit = time.Hour
		case "d":
			unit = 24 * time.Hour
		}
		return b.now().Add(-time.Duration(n) * unit), nil
	}

	t, err := time.Parse(time.RFC3339, since)
	if err == nil {
		return t, nil
	}
	if t, err2 := time.Parse(time.RFC3339Nano, since); err2 == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("since %q is neither %q, a duration, nor RFC 3339: %w", since, CursorToken, err)
}

// afterID returns up to limit entries with id > id, oldest first. An id
// older than everything retained (including an evicted cursor target)
// yields the oldest retained entries. Caller holds b.mu.
func (b *Buffer) afterID(id int64, limit int) []Entry {
	var out []Entry
	for i := 0; i < b.count && len(out) < limit; i++ {
		if e := b.at(i); e.ID > id {
			out = append(out, e)
		}
	}
	return out
}

// afterTime returns up to limit entries recorded strictly after cutoff,
// oldest first. Caller holds b.mu.
func (b *Buffer) afterTime(cutoff time.Time, limit int) []Entry {
	var out []Entry
	for i := 0; i < b.count && len(out) < limit; i++ {
		if e := b.at(i); e.Timestamp.After(cutoff) {
			out = append(out, e)
		}
	}
	return out
}
