package metrics

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
)

// Record is one evaluation point: a step number and named numeric values.
// Records are never mutated after creation.
type Record struct {
	Step   int
	Values map[string]float64
}

// NewRecord copies values so later mutation of the source map cannot leak in.
func NewRecord(step int, values map[string]float64) Record {
	copied := make(map[string]float64, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return Record{Step: step, Values: copied}
}

// Names returns the metric names in deterministic order.
func (r Record) Names() []string {
	names := make([]string, 0, len(r.Values))
	for k := range r.Values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// CSVLogger appends metric records to a CSV file in long format
// (step,metric,value), one row per value.
type CSVLogger struct {
	f *os.File
	w *csv.Writer
}

func NewCSVLogger(path string) (*CSVLogger, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create metrics log: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write([]string{"step", "metric", "value"}); err != nil {
		f.Close()
		return nil, err
	}
	return &CSVLogger{f: f, w: w}, nil
}

func (l *CSVLogger) Append(rec Record) error {
	for _, name := range rec.Names() {
		row := []string{
			fmt.Sprintf("%d", rec.Step),
			name,
			fmt.Sprintf("%g", rec.Values[name]),
		}
		if err := l.w.Write(row); err != nil {
			return err
		}
	}
	l.w.Flush()
	return l.w.Error()
}

func (l *CSVLogger) Close() error {
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}
