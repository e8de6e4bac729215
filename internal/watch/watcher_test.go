package watch

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// start runs a watcher on a fresh directory and returns the directory and
// the channel of batches.
func start(t *testing.T, opts ...Option) (string, <-chan []string) {
	t.Helper()
	dir := t.TempDir()
	batches := make(chan []string, 8)

	opts = append([]Option{
		WithLogger(log.New(io.Discard)),
		WithDebounce(50 * time.Millisecond),
		WithPatterns("*.pdf", "*.zip"),
	}, opts...)
	w, err := New(dir, func(_ context.Context, paths []string) error {
		batches <- paths
		return nil
	}, opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	// Let the watch register before the test writes files.
	time.Sleep(50 * time.Millisecond)
	return dir, batches
}

func next(t *testing.T, batches <-chan []string) []string {
	t.Helper()
	select {
	case b := <-batches:
		return b
	case <-time.After(3 * time.Second):
		t.Fatal("no batch delivered")
		return nil
	}
}

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestWatcher_BatchesMatchingFiles(t *testing.T) {
	dir, batches := start(t)

	a := write(t, dir, "hsbc.pdf", "one")
	b := write(t, dir, "DBS.ZIP", "two")
	write(t, dir, "notes.txt", "ignored")
	write(t, dir, ".hidden.pdf", "ignored")
	write(t, dir, "chase.pdf.crdownload", "ignored")

	assert.Equal(t, []string{b, a}, next(t, batches))

	select {
	case extra := <-batches:
		t.Fatalf("unexpected batch %v", extra)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_ResendsOnlyChangedFiles(t *testing.T) {
	dir, batches := start(t)

	p := write(t, dir, "hsbc.pdf", "one")
	assert.Equal(t, []string{p}, next(t, batches))

	write(t, dir, "hsbc.pdf", "one plus more")
	assert.Equal(t, []string{p}, next(t, batches))
}

func TestWatcher_InitialScan(t *testing.T) {
	dir := t.TempDir()
	existing := write(t, dir, "march.pdf", "x")

	batches := make(chan []string, 1)
	w, err := New(dir, func(_ context.Context, paths []string) error {
		batches <- paths
		return nil
	}, WithLogger(log.New(io.Discard)), WithDebounce(10*time.Millisecond), WithPatterns("*.pdf"), WithInitialScan())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	assert.Equal(t, []string{existing}, next(t, batches))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"), nil)
	assert.Error(t, err)

	file := write(t, t.TempDir(), "a.pdf", "x")
	_, err = New(file, nil)
	assert.ErrorContains(t, err, "not a directory")

	_, err = New(t.TempDir(), nil, WithPatterns("[bad"))
	assert.ErrorContains(t, err, "invalid watch pattern")
}

func TestWatcher_Matches(t *testing.T) {
	w := &Watcher{patterns: []string{"*.pdf", "statement-*.csv"}}
	tests := map[string]bool{
		"a.pdf":             true,
		"A.PDF":             true,
		"statement-03.csv":  true,
		"ledger.csv":        false,
		"~$book.pdf":        false,
		".a.pdf":            false,
		"download.pdf.part": false,
		"download.pdf.tmp":  false,
	}
	for name, want := range tests {
		assert.Equal(t, want, w.Matches(name), name)
	}
}
