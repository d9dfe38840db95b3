package export

import (
	"errors"
	"time"
)

// ErrNoColumns is returned when a dataset has nothing to lay out.
var ErrNoColumns = errors.New("export: dataset has no columns")

// Column describes one exported field. Numeric columns are right aligned and
// written as numbers where the format supports it.
type Column struct {
	Key     string
	Label   string
	Width   float64
	Numeric bool
}

func (c Column) label() string {
	if c.Label != "" {
		return c.Label
	}
	return c.Key
}

// Dataset is a titled table keyed by Column.Key. Totals, when set, is rendered
// as a trailing summary row.
type Dataset struct {
	Title       string
	Sheet       string
	Columns     []Column
	Rows        []map[string]string
	Totals      map[string]string
	GeneratedAt time.Time
}

func (d Dataset) validate() error {
	if len(d.Columns) == 0 {
		return ErrNoColumns
	}
	return nil
}

func (d Dataset) labels() []string {
	out := make([]string, len(d.Columns))
	for i, col := range d.Columns {
		out[i] = col.label()
	}
	return out
}

func (d Dataset) record(row map[string]string) []string {
	out := make([]string, len(d.Columns))
	for i, col := range d.Columns {
		out[i] = row[col.Key]
	}
	return out
}
