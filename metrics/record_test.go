package metrics

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
)

func TestCSVLoggerLongFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.csv")
	l, err := NewCSVLogger(path)
	if err != nil {
		t.Fatal(err)
	}
	rec := NewRecord(10, map[string]float64{"bleu": 12.5, "generation_length": 31})
	if err := l.Append(rec); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	// header + one row per metric, names sorted
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	if rows[1][0] != "10" || rows[1][1] != "bleu" || rows[1][2] != "12.5" {
		t.Fatalf("unexpected first metric row: %v", rows[1])
	}
	if rows[2][1] != "generation_length" {
		t.Fatalf("unexpected second metric row: %v", rows[2])
	}
}

func TestRecordCopiesValues(t *testing.T) {
	src := map[string]float64{"bleu": 1}
	rec := NewRecord(1, src)
	src["bleu"] = 99
	if rec.Values["bleu"] != 1 {
		t.Fatalf("record mutated through source map: %v", rec.Values)
	}
}
