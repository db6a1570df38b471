// Package featuretest provides contract-conforming inputs and a
// deterministic predictor for tests.
package featuretest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/mchmarny/riskdash/pkg/dataset"
	"github.com/mchmarny/riskdash/pkg/feature"
)

const (
	IDColumn = "PATIENT_ID"
)

var startDate = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// CSV returns an upload with one row per value. The DALY feature of row i
// is values[i]; every other feature holds its column position. Columns
// listed in drop are left out.
func CSV(values []float64, drop ...string) []byte {
	skip := make(map[string]bool, len(drop))
	for _, d := range drop {
		skip[d] = true
	}

	header := []string{IDColumn, dataset.DateColumn}
	for _, n := range feature.Names {
		if !skip[n] {
			header = append(header, n)
		}
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(header)
	for i, v := range values {
		rec := []string{
			fmt.Sprintf("p%03d", i+1),
			startDate.AddDate(0, 0, i).Format("2006-01-02"),
		}
		for j, n := range feature.Names {
			if skip[n] {
				continue
			}
			if n == "DALY" {
				rec = append(rec, strconv.FormatFloat(v, 'g', -1, 64))
				continue
			}
			rec = append(rec, strconv.Itoa(j))
		}
		_ = w.Write(rec)
	}
	w.Flush()
	return buf.Bytes()
}

// Dataset parses CSV(values, drop...) and panics on failure.
func Dataset(values []float64, drop ...string) *dataset.Dataset {
	ds, err := dataset.Parse(bytes.NewReader(CSV(values, drop...)))
	if err != nil {
		panic(err)
	}
	return ds
}

// Predictor echoes the DALY feature as the risk score and counts calls.
type Predictor struct {
	calls atomic.Int64
}

func (p *Predictor) Predict(m *feature.Matrix) ([]float64, error) {
	p.calls.Add(1)
	out := make([]float64, m.Rows())
	for i := range out {
		out[i] = m.At(i, 0)
	}
	return out, nil
}

// Calls returns how many times Predict ran.
func (p *Predictor) Calls() int {
	return int(p.calls.Load())
}
