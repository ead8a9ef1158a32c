package world

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestAppendHistoryTruncatesResult(t *testing.T) {
	w := testWorld(t)
	long := strings.Repeat("x", w.Tuning().ResultTruncate+50)

	w.AppendHistory("Ava", "ramble", long)

	got := w.RecentHistory(1)
	if len(got) != 1 {
		t.Fatalf("entries = %d", len(got))
	}
	if len(got[0].Result) != w.Tuning().ResultTruncate {
		t.Fatalf("result length = %d, want %d", len(got[0].Result), w.Tuning().ResultTruncate)
	}

	// The durable row is truncated too.
	rows, err := w.Store().RecentLogs(1)
	if err != nil || len(rows) != 1 {
		t.Fatalf("stored rows: %d, err=%v", len(rows), err)
	}
	if len(rows[0].Result) != w.Tuning().ResultTruncate {
		t.Fatalf("stored result length = %d", len(rows[0].Result))
	}
}

func TestAppendHistoryTruncatesOnRuneBoundary(t *testing.T) {
	w := testWorld(t)
	max := w.Tuning().ResultTruncate
	long := strings.Repeat("界", max) // 3 bytes per rune

	w.AppendHistory("Ava", "chant", long)

	got := w.RecentHistory(1)
	if len(got) != 1 {
		t.Fatalf("entries = %d", len(got))
	}
	r := got[0].Result
	if len(r) > max {
		t.Fatalf("result length = %d, over %d", len(r), max)
	}
	if !utf8.ValidString(r) {
		t.Fatalf("truncation split a rune")
	}
	if len(r) < max-utf8.UTFMax {
		t.Fatalf("over-truncated: %d bytes", len(r))
	}
}

func TestHistoryWindowStaysBounded(t *testing.T) {
	w := testWorld(t)
	w.tune.HistoryCap = 50

	for i := 0; i < 75; i++ {
		w.AppendHistory("Ava", fmt.Sprintf("act %d", i), "ok")
	}

	all := w.RecentHistory(200)
	if len(all) != 50 {
		t.Fatalf("window = %d, want 50", len(all))
	}
	// Oldest surviving entry is the 26th appended.
	if all[0].Action != "act 25" {
		t.Fatalf("oldest = %q", all[0].Action)
	}
	if w.ActionsTotal() != 75 {
		t.Fatalf("actions total = %d", w.ActionsTotal())
	}
}
