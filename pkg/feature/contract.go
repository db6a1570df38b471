// Package feature holds the column contract the risk model was trained on
// and turns a parsed dataset into the numeric matrix the model consumes.
package feature

import (
	"errors"
	"fmt"
	"strings"
)

// Count is the number of features the model expects.
const Count = 52

var (
	ErrMissingColumns = errors.New("missing feature columns")

	// Names is the ordered feature contract. The order is the training order
	// and must not change without retraining the model.
	Names = [Count]string{
		"DALY", "QALY", "QOLS", "308136", "310798", "314076", "59621000",
		"AGE_AT_OBS",
		"DALY_lag_1", "DALY_lag_7", "DALY_lag_30",
		"QALY_lag_1", "QALY_lag_7", "QALY_lag_30",
		"QOLS_lag_1", "QOLS_lag_7", "QOLS_lag_30",
		"AGE_AT_OBS_lag_1", "AGE_AT_OBS_lag_7", "AGE_AT_OBS_lag_30",
		"308136_lag_1", "308136_lag_7", "308136_lag_30",
		"310798_lag_1", "310798_lag_7", "310798_lag_30",
		"314076_lag_1", "314076_lag_7", "314076_lag_30",
		"59621000_lag_1", "59621000_lag_7", "59621000_lag_30",
		"DALY_rollmean_7", "DALY_rollmean_30",
		"QALY_rollmean_7", "QALY_rollmean_30",
		"QOLS_rollmean_7", "QOLS_rollmean_30",
		"AGE_AT_OBS_rollmean_7", "AGE_AT_OBS_rollmean_30",
		"308136_rollmean_7", "308136_rollmean_30",
		"310798_rollmean_7", "310798_rollmean_30",
		"314076_rollmean_7", "314076_rollmean_30",
		"59621000_rollmean_7", "59621000_rollmean_30",
		"day_of_week", "month", "day", "is_weekend",
	}
)

// MissingColumnsError lists the contract columns absent from a dataset,
// in contract order.
type MissingColumnsError struct {
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("%v: %s", ErrMissingColumns, strings.Join(e.Columns, ", "))
}

func (e *MissingColumnsError) Is(target error) bool { return target == ErrMissingColumns }

// List returns a copy of the contract as a slice.
func List() []string {
	out := make([]string, Count)
	copy(out, Names[:])
	return out
}

// Missing returns the contract columns not present in columns.
func Missing(columns []string) []string {
	have := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		have[c] = struct{}{}
	}

	var missing []string
	for _, n := range Names {
		if _, ok := have[n]; !ok {
			missing = append(missing, n)
		}
	}
	return missing
}
