package transcript

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Writer renders transcript entries as lines of text. When ANSI is set, a
// replacement of the most recently printed entry rewrites that line in place.
type Writer struct {
	mu       sync.Mutex
	out      io.Writer
	ansi     bool
	lastLine int
}

func NewWriter(out io.Writer, ansi bool) *Writer {
	return &Writer{out: out, ansi: ansi, lastLine: -1}
}

func (w *Writer) EntryAppended(index int, entry Entry) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ansi && w.lastLine >= 0 {
		fmt.Fprint(w.out, "\n")
	}
	w.write(index, entry)
}

func (w *Writer) EntryReplaced(index int, entry Entry) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ansi && index == w.lastLine {
		fmt.Fprint(w.out, "\r\x1b[K")
	} else if w.ansi && w.lastLine >= 0 {
		fmt.Fprint(w.out, "\n")
	}
	w.write(index, entry)
}

// Flush terminates the current line in ANSI mode.
func (w *Writer) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ansi && w.lastLine >= 0 {
		fmt.Fprint(w.out, "\n")
		w.lastLine = -1
	}
}

func (w *Writer) write(index int, entry Entry) {
	line := Format(entry)
	if w.ansi {
		// keep the cursor on the line so it can be rewritten
		fmt.Fprint(w.out, line)
		w.lastLine = index
		if strings.Contains(line, "\n") {
			fmt.Fprint(w.out, "\n")
			w.lastLine = -1
		}
		return
	}
	fmt.Fprintln(w.out, line)
	w.lastLine = index
}

// Format renders one entry with a speaker prompt.
func Format(entry Entry) string {
	prefix := "bot> "
	if entry.Speaker == User {
		prefix = "you> "
		if entry.Pending {
			prefix = "you~ "
		}
	}
	return prefix + entry.Text
}
