package feature_test

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/mchmarny/riskdash/pkg/dataset"
	"github.com/mchmarny/riskdash/pkg/feature"
	"github.com/mchmarny/riskdash/pkg/feature/featuretest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNames(t *testing.T) {
	seen := make(map[string]bool, feature.Count)
	for _, n := range feature.Names {
		require.NotEmpty(t, n)
		assert.False(t, seen[n], "duplicate feature %s", n)
		seen[n] = true
	}
	assert.Equal(t, 52, feature.Count)
	assert.Len(t, feature.Names, 52)
	assert.Equal(t, "DALY", feature.Names[0])
	assert.Equal(t, "AGE_AT_OBS", feature.Names[7])
	assert.Equal(t, "59621000_rollmean_30", feature.Names[47])
	assert.Equal(t, []string{"day_of_week", "month", "day", "is_weekend"}, feature.List()[48:])
	assert.Len(t, feature.List(), feature.Count)
}

func TestValidate(t *testing.T) {
	ds := featuretest.Dataset([]float64{0.1, 0.8, 0.3})
	m, err := feature.Validate(ds)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Rows())
	assert.Equal(t, feature.Count, m.Cols())
	assert.Equal(t, 0.8, m.At(1, 0))
	// non-DALY features hold their contract position
	assert.Equal(t, float64(7), m.At(2, 7))
	assert.Len(t, m.Row(0), feature.Count)
}

func TestValidate_MissingColumn(t *testing.T) {
	ds := featuretest.Dataset([]float64{0.1}, "AGE_AT_OBS")
	m, err := feature.Validate(ds)
	require.Error(t, err)
	assert.Nil(t, m)
	assert.True(t, errors.Is(err, feature.ErrMissingColumns))

	var mce *feature.MissingColumnsError
	require.True(t, errors.As(err, &mce))
	assert.Equal(t, []string{"AGE_AT_OBS"}, mce.Columns)
	assert.Contains(t, err.Error(), "AGE_AT_OBS")
}

func TestValidate_MissingColumnsInContractOrder(t *testing.T) {
	ds := featuretest.Dataset([]float64{0.1}, "is_weekend", "DALY", "QALY_lag_7")
	_, err := feature.Validate(ds)
	var mce *feature.MissingColumnsError
	require.True(t, errors.As(err, &mce))
	assert.Equal(t, []string{"DALY", "QALY_lag_7", "is_weekend"}, mce.Columns)
}

func TestValidate_MissingMarkersBecomeNaN(t *testing.T) {
	in := string(featuretest.CSV([]float64{0.5}))
	in = strings.Replace(in, ",0.5,", ",NA,", 1)
	ds, err := dataset.Parse(strings.NewReader(in))
	require.NoError(t, err)

	m, err := feature.Validate(ds)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(m.At(0, 0)))
}

func TestValidate_BadValue(t *testing.T) {
	in := string(featuretest.CSV([]float64{0.5}))
	in = strings.Replace(in, ",0.5,", ",high,", 1)
	ds, err := dataset.Parse(strings.NewReader(in))
	require.NoError(t, err)

	_, err = feature.Validate(ds)
	require.Error(t, err)
	assert.True(t, errors.Is(err, feature.ErrInvalidValue))
	assert.True(t, errors.Is(err, dataset.ErrParse))

	var ve *feature.ValueError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, 1, ve.Row)
	assert.Equal(t, "DALY", ve.Column)
	assert.Equal(t, "high", ve.Value)
}

func TestValidate_NilDataset(t *testing.T) {
	_, err := feature.Validate(nil)
	assert.Error(t, err)
}

func TestValidate_Empty(t *testing.T) {
	ds := featuretest.Dataset(nil)
	m, err := feature.Validate(ds)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Rows())
}

func TestNewMatrix_WrongSize(t *testing.T) {
	_, err := feature.NewMatrix(2, make([]float64, feature.Count))
	assert.Error(t, err)
}
