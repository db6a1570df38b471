// Package pipeline turns a parsed dataset and a model into a risk-annotated,
// sorted table and its CSV rendering.
package pipeline

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/mchmarny/riskdash/pkg/dataset"
	"github.com/mchmarny/riskdash/pkg/feature"
	"github.com/mchmarny/riskdash/pkg/model"
)

const (
	ScoreColumn    = "risk_score"
	HighRiskColumn = "High_Risk"
)

// Record is a patient-day record with its score and high-risk flag.
type Record struct {
	dataset.Row
	Score    float64
	HighRisk bool
}

// Table is an annotated dataset. Columns are the original columns only;
// the score and flag columns are appended on output.
type Table struct {
	Columns   []string
	Records   []Record
	Threshold float64
}

// Len returns the number of records.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Records)
}

// Header returns the output header: original columns then score and flag.
func (t *Table) Header() []string {
	h := make([]string, 0, len(t.Columns)+2)
	h = append(h, t.Columns...)
	return append(h, ScoreColumn, HighRiskColumn)
}

// Score applies p to every row of m. The result has one score per row in
// row order.
func Score(m *feature.Matrix, p model.Predictor) ([]float64, error) {
	if p == nil {
		return nil, errors.New("model required")
	}

	scores, err := p.Predict(m)
	if err != nil {
		return nil, fmt.Errorf("predicting risk scores: %w", err)
	}

	if len(scores) != m.Rows() {
		return nil, fmt.Errorf("model returned %d scores for %d rows", len(scores), m.Rows())
	}
	return scores, nil
}

// Annotate attaches scores to the records of ds and flags every record whose
// score is at or above threshold. Score and flag columns already present in
// ds (a re-uploaded export) are replaced. ds is not modified.
func Annotate(ds *dataset.Dataset, scores []float64, threshold float64) (*Table, error) {
	if ds == nil {
		return nil, errors.New("dataset required")
	}
	if len(scores) != ds.Len() {
		return nil, fmt.Errorf("got %d scores for %d rows", len(scores), ds.Len())
	}

	keep := passthrough(ds.Columns)

	t := &Table{
		Columns:   ds.Columns,
		Records:   make([]Record, ds.Len()),
		Threshold: threshold,
	}
	if keep != nil {
		t.Columns = pick(ds.Columns, keep)
	}

	for i, r := range ds.Rows {
		if keep != nil {
			r = dataset.Row{Cells: pick(r.Cells, keep), ObsDate: r.ObsDate}
		}
		t.Records[i] = Record{
			Row:      r,
			Score:    scores[i],
			HighRisk: scores[i] >= threshold,
		}
	}
	return t, nil
}

// passthrough returns the indexes of the columns that are neither the score
// nor the flag column, or nil when neither is present.
func passthrough(columns []string) []int {
	if !slices.Contains(columns, ScoreColumn) && !slices.Contains(columns, HighRiskColumn) {
		return nil
	}
	keep := make([]int, 0, len(columns))
	for i, c := range columns {
		if c != ScoreColumn && c != HighRiskColumn {
			keep = append(keep, i)
		}
	}
	return keep
}

func pick(s []string, idx []int) []string {
	out := make([]string, len(idx))
	for i, j := range idx {
		out[i] = s[j]
	}
	return out
}

// Sort returns a copy of t ordered by score, highest first. Records with
// equal scores keep their relative order; NaN scores go last.
func Sort(t *Table) *Table {
	out := *t
	out.Records = slices.Clone(t.Records)
	slices.SortStableFunc(out.Records, func(a, b Record) int {
		an, bn := math.IsNaN(a.Score), math.IsNaN(b.Score)
		switch {
		case an && bn:
			return 0
		case an:
			return 1
		case bn:
			return -1
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})
	return &out
}

// Filter returns a copy of t holding only the high-risk records.
func Filter(t *Table) *Table {
	out := *t
	out.Records = make([]Record, 0, len(t.Records))
	for _, r := range t.Records {
		if r.HighRisk {
			out.Records = append(out.Records, r)
		}
	}
	return &out
}

// Run validates ds, scores it with p and returns the annotated table sorted
// by risk. Nothing is scored when validation fails.
func Run(ds *dataset.Dataset, p model.Predictor, threshold float64) (*Table, error) {
	m, err := feature.Validate(ds)
	if err != nil {
		return nil, err
	}

	scores, err := Score(m, p)
	if err != nil {
		return nil, err
	}

	t, err := Annotate(ds, scores, threshold)
	if err != nil {
		return nil, err
	}
	return Sort(t), nil
}
