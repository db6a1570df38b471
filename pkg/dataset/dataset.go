package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// DateColumn is the observation date column every uploaded file must carry.
const DateColumn = "OBS_DATE"

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04:05"
)

var (
	ErrParse = errors.New("invalid tabular data")

	dateLayouts = []string{
		dateLayout,
		dateTimeLayout,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"01/02/2006",
	}
)

// ParseError describes where the input stopped being valid tabular text.
type ParseError struct {
	Line   int
	Column string
	Err    error
}

func (e *ParseError) Error() string {
	switch {
	case e.Line > 0 && e.Column != "":
		return fmt.Sprintf("line %d, column %s: %v", e.Line, e.Column, e.Err)
	case e.Line > 0:
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	default:
		return e.Err.Error()
	}
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// Row is one patient-day record. Cells keep the raw text of every column,
// ObsDate is the parsed value of the date column.
type Row struct {
	Cells   []string
	ObsDate time.Time
}

// Dataset is a parsed upload. It is never mutated after Parse returns.
type Dataset struct {
	Columns []string
	Rows    []Row

	index    map[string]int
	dateOnly bool
}

// Len returns the number of records.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// Column returns the position of the named column or -1.
func (d *Dataset) Column(name string) int {
	if i, ok := d.index[name]; ok {
		return i
	}
	return -1
}

// DateOnly reports whether every OBS_DATE value falls on midnight.
func (d *Dataset) DateOnly() bool {
	return d.dateOnly
}

// New builds a dataset from a header and raw cells, parsing the date column.
func New(columns []string, cells [][]string) (*Dataset, error) {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		if c == "" {
			return nil, &ParseError{Line: 1, Err: fmt.Errorf("empty column name at position %d", i+1)}
		}
		if _, ok := index[c]; ok {
			return nil, &ParseError{Line: 1, Column: c, Err: errors.New("duplicate column name")}
		}
		index[c] = i
	}

	dateIdx, ok := index[DateColumn]
	if !ok {
		return nil, &ParseError{Line: 1, Column: DateColumn, Err: errors.New("missing date column")}
	}

	d := &Dataset{
		Columns:  columns,
		Rows:     make([]Row, 0, len(cells)),
		index:    index,
		dateOnly: true,
	}

	for i, rec := range cells {
		line := i + 2
		if len(rec) != len(columns) {
			return nil, &ParseError{Line: line, Err: fmt.Errorf("expected %d fields, got %d", len(columns), len(rec))}
		}
		t, err := ParseDate(rec[dateIdx])
		if err != nil {
			return nil, &ParseError{Line: line, Column: DateColumn, Err: err}
		}
		if !isMidnight(t) {
			d.dateOnly = false
		}
		d.Rows = append(d.Rows, Row{Cells: rec, ObsDate: t})
	}

	// the date column is held in its canonical rendering so that writing
	// the table back out and re-parsing it is lossless
	for _, r := range d.Rows {
		r.Cells[dateIdx] = FormatDate(r.ObsDate, d.dateOnly)
	}

	return d, nil
}

// Parse reads CSV text with a header row into a Dataset.
func Parse(r io.Reader) (*Dataset, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &ParseError{Err: errors.New("empty input")}
		}
		return nil, &ParseError{Line: 1, Err: err}
	}
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	var cells [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return nil, &ParseError{Line: pe.Line, Err: pe.Err}
			}
			return nil, &ParseError{Err: err}
		}
		cells = append(cells, rec)
	}

	return New(columns, cells)
}

// ParseDate accepts the date renderings commonly produced by spreadsheet
// and dataframe exports.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}
	for _, l := range dateLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

// FormatDate renders t the way it is written back out: date only when the
// whole column is date only, date and time otherwise.
func FormatDate(t time.Time, dateOnly bool) string {
	if dateOnly {
		return t.Format(dateLayout)
	}
	return t.Format(dateTimeLayout)
}

func isMidnight(t time.Time) bool {
	h, m, s := t.Clock()
	return h == 0 && m == 0 && s == 0 && t.Nanosecond() == 0
}
