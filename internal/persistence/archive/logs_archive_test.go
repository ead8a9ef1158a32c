package archive

import (
	"bufio"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	"worldloom.ai/internal/persistence/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "world.db"), log.New(os.Stderr, "[archive-test] ", 0))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func fillLogs(t *testing.T, s *store.Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := s.AppendLog(store.LogEntry{Timestamp: "2026-01-01T00:00:00Z", Actor: "a", Action: "act", Result: "r"}); err != nil {
			t.Fatalf("append log %d: %v", i, err)
		}
	}
}

func readArchiveLines(t *testing.T, path string) []store.LogEntry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer f.Close()
	var sc *bufio.Scanner
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			t.Fatalf("gzip reader: %v", err)
		}
		defer gz.Close()
		sc = bufio.NewScanner(gz)
	} else {
		sc = bufio.NewScanner(f)
	}
	var out []store.LogEntry
	for sc.Scan() {
		var e store.LogEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad archive line %q: %v", sc.Text(), err)
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return out
}

func TestArchiveAndTrimLeavesExactlyKeepLast(t *testing.T) {
	s := openTestStore(t)
	dir := t.TempDir()
	const total, keep = 1005, 1000

	fillLogs(t, s, total)

	res, archived, err := ArchiveAndTrimLogs(s, dir, keep, false)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if !archived {
		t.Fatalf("expected rows to be archived")
	}
	if res.Archived != total-keep {
		t.Fatalf("archived = %d, want %d", res.Archived, total-keep)
	}
	if res.Kept != keep {
		t.Fatalf("kept = %d, want %d", res.Kept, keep)
	}
	if n, _ := s.CountLogs(); n != keep {
		t.Fatalf("store count = %d, want %d", n, keep)
	}

	// Archived rows and kept rows are disjoint and complete.
	lines := readArchiveLines(t, res.Path)
	if len(lines) != total-keep {
		t.Fatalf("archive lines = %d, want %d", len(lines), total-keep)
	}
	for i, e := range lines {
		if e.ID >= res.CutoffID {
			t.Fatalf("archived row %d has id %d >= cutoff %d", i, e.ID, res.CutoffID)
		}
	}
	kept, err := s.RecentLogs(total)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	for _, e := range kept {
		if e.ID < res.CutoffID {
			t.Fatalf("kept row id %d below cutoff %d", e.ID, res.CutoffID)
		}
	}

	// Immediate re-invocation is a no-op.
	res2, archived2, err := ArchiveAndTrimLogs(s, dir, keep, false)
	if err != nil {
		t.Fatalf("second archive: %v", err)
	}
	if archived2 {
		t.Fatalf("second archive should be a no-op, got %+v", res2)
	}
	if n, _ := s.CountLogs(); n != keep {
		t.Fatalf("store count after no-op = %d, want %d", n, keep)
	}
}

func TestArchiveNoOpWhenSmall(t *testing.T) {
	s := openTestStore(t)
	fillLogs(t, s, 10)

	res, archived, err := ArchiveAndTrimLogs(s, t.TempDir(), 10, false)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if archived {
		t.Fatalf("expected no-op, got %+v", res)
	}
	if n, _ := s.CountLogs(); n != 10 {
		t.Fatalf("count = %d, want 10", n)
	}
}

func TestArchiveGzipAndFilename(t *testing.T) {
	s := openTestStore(t)
	dir := t.TempDir()
	fillLogs(t, s, 20)

	res, archived, err := ArchiveAndTrimLogs(s, dir, 15, true)
	if err != nil || !archived {
		t.Fatalf("archive: archived=%v err=%v", archived, err)
	}
	base := filepath.Base(res.Path)
	if !strings.HasPrefix(base, "logs_") || !strings.HasSuffix(base, ".jsonl.gz") {
		t.Fatalf("unexpected archive name %q", base)
	}
	if !strings.Contains(base, "_1-5.") {
		t.Fatalf("expected id range 1-5 in name, got %q", base)
	}
	lines := readArchiveLines(t, res.Path)
	if len(lines) != 5 || lines[0].ID != 1 || lines[4].ID != 5 {
		t.Fatalf("unexpected archived rows: %+v", lines)
	}
}
