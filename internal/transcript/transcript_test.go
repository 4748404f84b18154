package transcript

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscriptOrderAndText(t *testing.T) {
	tr := New()
	tr.Add("first")
	tr.Addf("second %d", 2)
	tr.Blank()
	tr.Add("last")

	assert.Equal(t, []string{"first", "second 2", "", "last"}, tr.Lines())
	assert.Equal(t, "first\nsecond 2\n\nlast", tr.Text())
	assert.Equal(t, 4, tr.Len())

	entries := tr.Entries()
	require.Len(t, entries, 4)
	for i := 1; i < len(entries); i++ {
		assert.False(t, entries[i].At.Before(entries[i-1].At))
	}
}

func TestTranscriptLinesIsCopy(t *testing.T) {
	tr := New()
	tr.Add("a")

	lines := tr.Lines()
	lines[0] = "mutated"

	assert.Equal(t, []string{"a"}, tr.Lines())
}

func TestTranscriptSubscribe(t *testing.T) {
	tr := New()
	tr.Add("before")

	var seen []string
	tr.Subscribe(func(e Entry) { seen = append(seen, e.Text) })
	tr.Add("one")
	tr.Add("two")

	assert.Equal(t, []string{"one", "two"}, seen)
}

func TestTranscriptInstancesAreIndependent(t *testing.T) {
	a, b := New(), New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) { defer wg.Done(); a.Addf("a-%d", i) }(i)
		go func(i int) { defer wg.Done(); b.Addf("b-%d", i) }(i)
	}
	wg.Wait()

	require.Equal(t, 50, a.Len())
	require.Equal(t, 50, b.Len())
	for _, l := range a.Lines() {
		assert.Contains(t, l, "a-")
	}
	for _, l := range b.Lines() {
		assert.Contains(t, l, "b-")
	}
	assert.NotContains(t, a.Text(), fmt.Sprintf("b-%d", 0))
}
