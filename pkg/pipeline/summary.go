package pipeline

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// Summary is the cohort-level view of a scored table.
type Summary struct {
	Rows      int     `json:"rows" yaml:"rows"`
	HighRisk  int     `json:"high_risk" yaml:"highRisk"`
	Threshold float64 `json:"threshold" yaml:"threshold"`
	Mean      float64 `json:"mean" yaml:"mean"`
	Median    float64 `json:"median" yaml:"median"`
	P90       float64 `json:"p90" yaml:"p90"`
	Max       float64 `json:"max" yaml:"max"`
}

// Summarize computes score statistics over t, ignoring NaN scores.
func Summarize(t *Table) Summary {
	s := Summary{
		Rows:      t.Len(),
		Threshold: t.Threshold,
	}

	scores := make([]float64, 0, t.Len())
	for _, r := range t.Records {
		if r.HighRisk {
			s.HighRisk++
		}
		if !math.IsNaN(r.Score) {
			scores = append(scores, r.Score)
		}
	}

	if len(scores) == 0 {
		return s
	}

	slices.Sort(scores)
	s.Mean = stat.Mean(scores, nil)
	s.Median = stat.Quantile(0.5, stat.Empirical, scores, nil)
	s.P90 = stat.Quantile(0.9, stat.Empirical, scores, nil)
	s.Max = scores[len(scores)-1]
	return s
}
