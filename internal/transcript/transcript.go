// Package transcript holds the ordered, append-only diagnostic log of a
// single run. A Transcript is created per run and passed to every stage; it
// is never shared between runs.
package transcript

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Entry is one recorded line together with the time it was appended.
type Entry struct {
	At   time.Time
	Text string
}

// Transcript is safe for concurrent use, although stages write to it
// sequentially.
type Transcript struct {
	mu      sync.Mutex
	entries []Entry
	subs    []func(Entry)
	now     func() time.Time
}

// New returns an empty transcript.
func New() *Transcript {
	return &Transcript{now: time.Now}
}

// Subscribe registers fn to be called synchronously, in order, for every
// line appended after the call. Used to stream a run while it executes.
func (t *Transcript) Subscribe(fn func(Entry)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs = append(t.subs, fn)
}

// Add appends a line.
func (t *Transcript) Add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := Entry{At: t.now(), Text: line}
	t.entries = append(t.entries, e)
	for _, fn := range t.subs {
		fn(e)
	}
}

// Addf appends a formatted line.
func (t *Transcript) Addf(format string, args ...any) {
	t.Add(fmt.Sprintf(format, args...))
}

// Blank appends an empty separator line.
func (t *Transcript) Blank() {
	t.Add("")
}

// Len returns the number of recorded lines.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Lines returns a copy of the recorded lines in order.
func (t *Transcript) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.Text
	}
	return out
}

// Entries returns a copy of the recorded entries in order.
func (t *Transcript) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Text joins all lines with newlines.
func (t *Transcript) Text() string {
	return strings.Join(t.Lines(), "\n")
}
