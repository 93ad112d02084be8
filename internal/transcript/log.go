// Package transcript holds the ordered user/bot conversation log and the
// sinks that present or persist it.
package transcript

import "encoding/json"

// Speaker identifies who produced an entry.
type Speaker int

const (
	User Speaker = iota
	Bot
)

func (s Speaker) String() string {
	switch s {
	case User:
		return "user"
	case Bot:
		return "bot"
	default:
		return "unknown"
	}
}

func (s Speaker) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Entry is one row of the transcript. Pending entries hold partial
// recognition text and may still be replaced.
type Entry struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
	Pending bool    `json:"pending,omitempty"`
}

// Log is an append-only ordered transcript. Only the trailing pending entry
// can be replaced through ReplaceTrailingIfPending, and an entry can only be
// rewritten by a caller that knows its index. Log is not safe for concurrent
// use; its owner serializes access.
type Log struct {
	entries []Entry
}

// Append adds an entry and returns its index.
func (l *Log) Append(speaker Speaker, text string, pending bool) int {
	l.entries = append(l.entries, Entry{Speaker: speaker, Text: text, Pending: pending})
	return len(l.entries) - 1
}

// ReplaceTrailingIfPending replaces the text of the last entry when it is a
// pending entry from speaker. Settled entries are never touched.
func (l *Log) ReplaceTrailingIfPending(speaker Speaker, text string) (int, bool) {
	if len(l.entries) == 0 {
		return -1, false
	}
	idx := len(l.entries) - 1
	last := &l.entries[idx]
	if last.Speaker != speaker || !last.Pending {
		return -1, false
	}
	last.Text = text
	return idx, true
}

// Settle marks the entry at index as no longer pending.
func (l *Log) Settle(index int) bool {
	if index < 0 || index >= len(l.entries) {
		return false
	}
	l.entries[index].Pending = false
	return true
}

// Rewrite replaces the text at index and settles it, provided the entry
// belongs to speaker.
func (l *Log) Rewrite(index int, speaker Speaker, text string) bool {
	if index < 0 || index >= len(l.entries) {
		return false
	}
	entry := &l.entries[index]
	if entry.Speaker != speaker {
		return false
	}
	entry.Text = text
	entry.Pending = false
	return true
}

// At returns the entry at index.
func (l *Log) At(index int) (Entry, bool) {
	if index < 0 || index >= len(l.entries) {
		return Entry{}, false
	}
	return l.entries[index], true
}

func (l *Log) Len() int { return len(l.entries) }

// Entries returns a copy of the log.
func (l *Log) Entries() []Entry {
	return append([]Entry(nil), l.entries...)
}
