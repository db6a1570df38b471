package pipeline

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/mchmarny/riskdash/pkg/dataset"
)

const (
	// ExportFileName and ExportContentType describe the downloadable export.
	ExportFileName    = "risk_scores.csv"
	ExportContentType = "text/csv"

	boolTrue  = "True"
	boolFalse = "False"
)

// Encode renders t as CSV: header row, original columns, risk_score and
// High_Risk. No index column is written.
func Encode(t *Table) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, t); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write streams the CSV rendering of t to w.
func Write(w io.Writer, t *Table) error {
	if t == nil {
		return fmt.Errorf("table required")
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header()); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	rec := make([]string, len(t.Columns)+2)
	for i, r := range t.Records {
		copy(rec, r.Cells)
		rec[len(t.Columns)] = FormatScore(r.Score)
		rec[len(t.Columns)+1] = formatBool(r.HighRisk)
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("writing row %d: %w", i+1, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	return nil
}

// Decode parses CSV produced by Encode back into a Table. OBS_DATE is parsed
// with the same convention used for uploads.
func Decode(r io.Reader) (*Table, error) {
	ds, err := dataset.Parse(r)
	if err != nil {
		return nil, err
	}

	n := len(ds.Columns)
	if n < 2 || ds.Columns[n-2] != ScoreColumn || ds.Columns[n-1] != HighRiskColumn {
		return nil, &dataset.ParseError{Line: 1, Err: fmt.Errorf("expected trailing %s and %s columns", ScoreColumn, HighRiskColumn)}
	}

	t := &Table{
		Columns: ds.Columns[:n-2],
		Records: make([]Record, ds.Len()),
	}
	for i, row := range ds.Rows {
		line := i + 2
		s, err := parseScore(row.Cells[n-2])
		if err != nil {
			return nil, &dataset.ParseError{Line: line, Column: ScoreColumn, Err: err}
		}
		hr, err := parseBool(row.Cells[n-1])
		if err != nil {
			return nil, &dataset.ParseError{Line: line, Column: HighRiskColumn, Err: err}
		}
		t.Records[i] = Record{
			Row:      dataset.Row{Cells: row.Cells[:n-2 : n-2], ObsDate: row.ObsDate},
			Score:    s,
			HighRisk: hr,
		}
	}
	return t, nil
}

// FormatScore renders a score with the shortest representation that parses
// back to the same value.
func FormatScore(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func parseScore(s string) (float64, error) {
	if strings.TrimSpace(s) == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

func formatBool(b bool) string {
	if b {
		return boolTrue
	}
	return boolFalse
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}
