package feature

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mchmarny/riskdash/pkg/dataset"
	"gonum.org/v1/gonum/mat"
)

var ErrInvalidValue = errors.New("invalid feature value")

// ValueError is a feature cell that is neither numeric nor a missing marker.
type ValueError struct {
	Row    int
	Column string
	Value  string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("%v: row %d, column %s: %q", ErrInvalidValue, e.Row, e.Column, e.Value)
}

func (e *ValueError) Is(target error) bool {
	return target == ErrInvalidValue || target == dataset.ErrParse
}

// Matrix is the validated, row-major feature matrix in contract order.
type Matrix struct {
	dense *mat.Dense
	rows  int
}

// NewMatrix wraps row-major values with Count columns.
func NewMatrix(rows int, values []float64) (*Matrix, error) {
	if len(values) != rows*Count {
		return nil, fmt.Errorf("expected %d values for %d rows, got %d", rows*Count, rows, len(values))
	}
	m := &Matrix{rows: rows}
	if rows > 0 {
		m.dense = mat.NewDense(rows, Count, values)
	}
	return m, nil
}

// Rows returns the number of records.
func (m *Matrix) Rows() int {
	if m == nil {
		return 0
	}
	return m.rows
}

// Cols returns the number of features.
func (m *Matrix) Cols() int {
	return Count
}

// Row returns the features of record i. The slice aliases the matrix and
// must not be modified.
func (m *Matrix) Row(i int) []float64 {
	return m.dense.RawRowView(i)
}

// At returns the value of feature j on record i.
func (m *Matrix) At(i, j int) float64 {
	return m.dense.At(i, j)
}

// Validate checks ds against the contract and extracts its feature matrix.
// Missing markers become NaN, which the model treats as missing values.
func Validate(ds *dataset.Dataset) (*Matrix, error) {
	if ds == nil {
		return nil, errors.New("dataset required")
	}

	if missing := Missing(ds.Columns); len(missing) > 0 {
		return nil, &MissingColumnsError{Columns: missing}
	}

	idx := make([]int, Count)
	for j, n := range Names {
		idx[j] = ds.Column(n)
	}

	values := make([]float64, 0, ds.Len()*Count)
	for i, r := range ds.Rows {
		for j, c := range idx {
			v, err := parseValue(r.Cells[c])
			if err != nil {
				return nil, &ValueError{Row: i + 1, Column: Names[j], Value: r.Cells[c]}
			}
			values = append(values, v)
		}
	}

	return NewMatrix(ds.Len(), values)
}

func parseValue(s string) (float64, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "na", "nan", "null", "none":
		return math.NaN(), nil
	case "true":
		return 1, nil
	case "false":
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
