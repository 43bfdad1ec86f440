package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/gramaudit/internal/ingest"
)

type fakeSink struct {
	mu       sync.Mutex
	ingested []string
	deleted  []string
}

func (s *fakeSink) IngestFile(_ context.Context, path string) (*ingest.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ingested = append(s.ingested, path)
	return &ingest.Report{Path: path}, nil
}

func (s *fakeSink) DeletePath(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, path)
	return nil
}

func (s *fakeSink) Accepts(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".csv") && !strings.HasPrefix(filepath.Base(path), "~$")
}

func (s *fakeSink) snapshot() (ingested, deleted []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ingested...), append([]string(nil), s.deleted...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func hasSuffix(paths []string, suffix string) bool {
	for _, p := range paths {
		if strings.HasSuffix(p, suffix) {
			return true
		}
	}
	return false
}

func TestWatcher_AddRemoveDirectories(t *testing.T) {
	dir := t.TempDir()
	w := NewWatcher(&fakeSink{}, nil, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := w.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	if err := w.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	dirs := w.Directories()
	if len(dirs) != 1 || filepath.Clean(dirs[0]) != filepath.Clean(dir) {
		t.Errorf("Directories() = %v", dirs)
	}

	if err := w.RemoveDirectory(dir); err != nil {
		t.Fatal(err)
	}
	if len(w.Directories()) != 0 {
		t.Errorf("after remove: %v", w.Directories())
	}
}

func TestWatcher_DebounceAndFilter(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}

	sink := &fakeSink{}
	w := NewWatcher(sink, []string{dir}, true, WithDebounce(100*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	path := filepath.Join(sub, "grammar.csv")
	for i := range 3 {
		if err := os.WriteFile(path, []byte(strings.Repeat("x", i+1)), 0600); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(sub, "notes.txt"), []byte("skip"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "~$grammar.csv"), []byte("lock"), 0600); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		ingested, _ := sink.snapshot()
		return len(ingested) > 0
	})
	time.Sleep(250 * time.Millisecond)
	ingested, _ := sink.snapshot()
	if len(ingested) != 1 || ingested[0] != path {
		t.Errorf("a burst of writes should ingest once: %v", ingested)
	}
}

func TestWatcher_RemoveForwardsDelete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grammar.csv")
	if err := os.WriteFile(path, []byte("a"), 0600); err != nil {
		t.Fatal(err)
	}

	sink := &fakeSink{}
	w := NewWatcher(sink, []string{dir}, false, WithDebounce(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		_, deleted := sink.snapshot()
		return hasSuffix(deleted, "grammar.csv")
	})
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir  string
		path string
		want bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.csv", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/a/../b", false},
	}
	for _, tt := range tests {
		if got := inDir(tt.dir, tt.path); got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}

func TestWatcher_SyncExistingFiles(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "nested")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{filepath.Join(dir, "a.csv"), filepath.Join(dir, "ignore.xyz"), filepath.Join(nested, "b.csv")} {
		if err := os.WriteFile(name, []byte("x"), 0600); err != nil {
			t.Fatal(err)
		}
	}

	for _, tt := range []struct {
		recursive bool
		want      int
	}{
		{true, 2},
		{false, 1},
	} {
		sink := &fakeSink{}
		w := NewWatcher(sink, []string{dir}, tt.recursive)
		if err := w.Start(context.Background()); err != nil {
			t.Fatal(err)
		}
		w.SyncExistingFiles()
		w.Stop()

		ingested, _ := sink.snapshot()
		if len(ingested) != tt.want || !hasSuffix(ingested, "a.csv") {
			t.Errorf("recursive=%v: ingested %v", tt.recursive, ingested)
		}
	}
}

func TestWatcher_StartCreatesMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "watch", "me")
	w := NewWatcher(&fakeSink{}, []string{root}, true)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if _, err := os.Stat(root); err != nil {
		t.Errorf("root directory should exist after Start: %v", err)
	}
}

func TestWatcher_NewDirectoryIsIngested(t *testing.T) {
	dir := t.TempDir()
	sink := &fakeSink{}
	w := NewWatcher(sink, []string{dir}, true, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	nested := filepath.Join(dir, "level1", "level2")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(nested, "deep.csv"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		ingested, _ := sink.snapshot()
		return hasSuffix(ingested, "deep.csv")
	})
}

type failingSink struct{ fakeSink }

func (s *failingSink) IngestFile(context.Context, string) (*ingest.Report, error) {
	return nil, errors.New("malformed")
}

func TestWatcher_IngestErrorIsLogged(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.csv"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	w := NewWatcher(&failingSink{}, []string{dir}, true)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	w.SyncExistingFiles()
}
