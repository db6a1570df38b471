// Package model loads the trained boosted-tree ensemble and applies it to
// validated feature matrices.
package model

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dmitryikh/leaves"
	"github.com/mchmarny/riskdash/pkg/feature"
)

var ErrModelLoad = errors.New("model load failed")

// Predictor produces one risk score per matrix row, in row order.
type Predictor interface {
	Predict(m *feature.Matrix) ([]float64, error)
}

// LoadError is returned when the model artifact is missing or unusable.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrModelLoad, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

func (e *LoadError) Is(target error) bool { return target == ErrModelLoad }

// Info describes a loaded model.
type Info struct {
	Path     string `json:"path" yaml:"path"`
	Name     string `json:"name" yaml:"name"`
	Trees    int    `json:"trees" yaml:"trees"`
	Features int    `json:"features" yaml:"features"`
}

// Booster is a LightGBM ensemble. It is immutable once loaded.
type Booster struct {
	path     string
	ensemble *leaves.Ensemble
}

// Load reads a LightGBM text model and applies the objective's output
// transformation, so binary models yield probabilities.
func Load(path string) (*Booster, error) {
	if path == "" {
		return nil, &LoadError{Err: errors.New("model path not specified")}
	}

	if _, err := os.Stat(path); err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	e, err := leaves.LGEnsembleFromFile(path, true)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	if e.NOutputGroups() != 1 {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("expected a single output model, got %d output groups", e.NOutputGroups())}
	}

	if e.NFeatures() != feature.Count {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("model expects %d features, contract has %d", e.NFeatures(), feature.Count)}
	}

	slog.Debug("model loaded", "path", path, "name", e.Name(), "trees", e.NEstimators())

	return &Booster{path: path, ensemble: e}, nil
}

// Info returns the model description.
func (b *Booster) Info() Info {
	return Info{
		Path:     b.path,
		Name:     b.ensemble.Name(),
		Trees:    b.ensemble.NEstimators(),
		Features: b.ensemble.NFeatures(),
	}
}

// Predict scores every row of m using all trees.
func (b *Booster) Predict(m *feature.Matrix) ([]float64, error) {
	if m == nil {
		return nil, errors.New("feature matrix required")
	}

	out := make([]float64, m.Rows())
	for i := range out {
		out[i] = b.ensemble.PredictSingle(m.Row(i), 0)
	}
	return out, nil
}
