package output

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jalho/rad/internal/process"
)

func line(text string) process.OutputLine {
	return process.OutputLine{Origin: process.Stdout, Text: text, ObservedAt: time.Now()}
}

type collector struct {
	mu    sync.Mutex
	lines []string
}

func (c *collector) Deliver(l process.OutputLine) {
	c.mu.Lock()
	c.lines = append(c.lines, l.Text)
	c.mu.Unlock()
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestRouterDeliversInOrderToEverySink(t *testing.T) {
	r := NewRouter()
	a, b := &collector{}, &collector{}
	r.Register(a, 16)
	r.Register(b, 16)
	require.Equal(t, 2, r.Len())

	for i := 0; i < 10; i++ {
		r.Publish(line(fmt.Sprint(i)))
	}
	r.Close()

	want := []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}
	assert.Equal(t, want, a.snapshot())
	assert.Equal(t, want, b.snapshot())
}

func TestRouterNoReplayForLateSubscribers(t *testing.T) {
	r := NewRouter()
	defer r.Close()
	r.Publish(line("before"))

	c := &collector{}
	sub := r.Register(c, 4)
	r.Publish(line("after"))
	sub.Close()

	assert.Equal(t, []string{"after"}, c.snapshot())
}

// blockingSink holds Deliver until released.
type blockingSink struct {
	release chan struct{}
	got     collector
}

func (b *blockingSink) Deliver(l process.OutputLine) {
	<-b.release
	b.got.Deliver(l)
}

func TestSlowSinkDropsOldestWithoutBlockingOthers(t *testing.T) {
	r := NewRouter()
	slow := &blockingSink{release: make(chan struct{})}
	fast := &collector{}
	slowSub := r.Register(slow, 3)
	r.Register(fast, 100)

	// The slow sink's goroutine takes "first" and blocks in Deliver.
	r.Publish(line("first"))
	waitUntil(t, time.Second, func() bool {
		slowSub.mu.Lock()
		defer slowSub.mu.Unlock()
		return slowSub.size == 0
	})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			r.Publish(line(fmt.Sprint(i)))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a stalled sink")
	}
	waitUntil(t, time.Second, func() bool { return len(fast.snapshot()) == 11 })

	assert.Equal(t, uint64(7), slowSub.Dropped())
	close(slow.release)
	r.Close()
	assert.Equal(t, []string{"first", "7", "8", "9"}, slow.got.snapshot())
}

func TestSubscriptionCloseUnregisters(t *testing.T) {
	r := NewRouter()
	defer r.Close()
	c := &collector{}
	sub := r.Register(c, 4)
	r.Publish(line("one"))
	sub.Close()
	select {
	case <-sub.Done():
	default:
		t.Fatal("Done not closed after Close")
	}
	r.Publish(line("two"))
	assert.Equal(t, []string{"one"}, c.snapshot())
	assert.Equal(t, 0, r.Len())
	// Second close is a no-op.
	sub.Close()
}

func TestRegisterAfterCloseIsInert(t *testing.T) {
	r := NewRouter()
	r.Close()
	c := &collector{}
	sub := r.Register(c, 0)
	r.Publish(line("x"))
	sub.Close()
	assert.Empty(t, c.snapshot())
}

type nopCloser struct{ *bytes.Buffer }

func (nopCloser) Close() error { return nil }

func TestWriterSinkFormat(t *testing.T) {
	var buf bytes.Buffer
	s := NewWriterSink(nopCloser{&buf}, nil)
	at := time.Date(2024, 5, 1, 12, 0, 0, 500, time.UTC)
	s.Deliver(process.OutputLine{Origin: process.Stderr, Text: "boom", ObservedAt: at})
	assert.Equal(t, "2024-05-01T12:00:00.0000005Z [stderr] boom\n", buf.String())
}

func TestFileSinkAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rds.log")
	require.NoError(t, os.WriteFile(path, []byte("existing\n"), 0o644))

	s, err := NewFileSink(FileConfig{Path: path}, nil)
	require.NoError(t, err)
	s.Deliver(line("hello"))
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "existing", lines[0])
	assert.True(t, strings.HasSuffix(lines[1], " [stdout] hello"), lines[1])

	_, err = NewFileSink(FileConfig{}, nil)
	assert.Error(t, err)
}

func TestRecent(t *testing.T) {
	r := NewRecent(3)
	assert.Empty(t, r.Lines(0))
	for _, s := range []string{"a", "b"} {
		r.Deliver(line(s))
	}
	assert.Equal(t, []string{"a", "b"}, texts(r.Lines(0)))
	for _, s := range []string{"c", "d", "e"} {
		r.Deliver(line(s))
	}
	assert.Equal(t, []string{"c", "d", "e"}, texts(r.Lines(0)))
	assert.Equal(t, []string{"d", "e"}, texts(r.Lines(2)))
}

func texts(ls []process.OutputLine) []string {
	out := make([]string, 0, len(ls))
	for _, l := range ls {
		out = append(out, l.Text)
	}
	return out
}

func TestSinkFunc(t *testing.T) {
	var got string
	SinkFunc(func(l process.OutputLine) { got = l.Text }).Deliver(line("x"))
	assert.Equal(t, "x", got)
}
