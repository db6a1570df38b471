package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mchmarny/riskdash/pkg/dataset"
	"github.com/mchmarny/riskdash/pkg/feature"
	"github.com/mchmarny/riskdash/pkg/feature/featuretest"
	"github.com/mchmarny/riskdash/pkg/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputNames(t *testing.T) {
	tests := []struct {
		name   string
		inputs []string
		want   []string
		err    bool
	}{
		{name: "single", inputs: []string{"cohort.csv"}, want: []string{"risk_scores.csv"}},
		{name: "many", inputs: []string{"data/cohort.csv", "ward-a"}, want: []string{"cohort_risk_scores.csv", "ward-a_risk_scores.csv"}},
		{name: "same base name", inputs: []string{"a/x.csv", "b/x.csv"}, err: true},
		{name: "same stem", inputs: []string{"x.csv", "x.txt"}, err: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := outputNames(tt.inputs)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScoreFile(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "cohort.csv")
	out := filepath.Join(dir, "out.csv")
	require.NoError(t, os.WriteFile(in, featuretest.CSV([]float64{0.1, 0.8, 0.3}), fileMode))

	p := &featuretest.Predictor{}
	res, err := scoreFile(p, in, out, 0.5)
	require.NoError(t, err)
	assert.Equal(t, in, res.Input)
	assert.Equal(t, out, res.Output)
	assert.Equal(t, 3, res.Summary.Rows)
	assert.Equal(t, 1, res.Summary.HighRisk)
	assert.InDelta(t, 0.8, res.Summary.Max, 1e-9)
	assert.Equal(t, 1, p.Calls())

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()

	tbl, err := pipeline.Decode(f)
	require.NoError(t, err)
	require.Equal(t, 3, tbl.Len())
	assert.Equal(t, "p002", tbl.Records[0].Cells[0])
	assert.Equal(t, "p001", tbl.Records[2].Cells[0])
}

func TestScoreFile_Errors(t *testing.T) {
	dir := t.TempDir()
	p := &featuretest.Predictor{}

	_, err := scoreFile(p, filepath.Join(dir, "missing.csv"), filepath.Join(dir, "out.csv"), 0.2)
	assert.ErrorIs(t, err, os.ErrNotExist)

	in := filepath.Join(dir, "short.csv")
	require.NoError(t, os.WriteFile(in, featuretest.CSV([]float64{0.1}, "QALY"), fileMode))
	_, err = scoreFile(p, in, filepath.Join(dir, "out.csv"), 0.2)
	assert.ErrorIs(t, err, feature.ErrMissingColumns)

	bad := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(bad, []byte("PATIENT_ID\np1\n"), fileMode))
	_, err = scoreFile(p, bad, filepath.Join(dir, "out.csv"), 0.2)
	assert.ErrorIs(t, err, dataset.ErrParse)

	_, err = os.Stat(filepath.Join(dir, "out.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Zero(t, p.Calls())
}
