package cli

import (
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/mchmarny/riskdash/pkg/model"
	"github.com/mchmarny/riskdash/pkg/pipeline"
	"github.com/mchmarny/riskdash/pkg/session"
)

const (
	thresholdMin  = 0.0
	thresholdMax  = 1.0
	thresholdStep = 0.01
)

var templateFuncs = template.FuncMap{
	"score": pipeline.FormatScore,
}

// dashboard serves the risk views for one session.
type dashboard struct {
	session   *session.Session
	model     model.Info
	threshold float64
	maxUpload int64
	tmpl      *template.Template
}

func faviconHandler(w http.ResponseWriter, r *http.Request) {
	file, err := embedFS.ReadFile("assets/img/favicon.svg")
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	if _, err = w.Write(file); err != nil {
		slog.Error("failed to write favicon", "error", err)
	}
}

func (d *dashboard) homeViewHandler(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{
		"version":        version,
		"commit":         commit,
		"build_date":     date,
		"err":            r.URL.Query().Get("err"),
		"model":          d.model,
		"threshold":      d.threshold,
		"threshold_min":  thresholdMin,
		"threshold_max":  thresholdMax,
		"threshold_step": thresholdStep,
		"export_name":    pipeline.ExportFileName,
	}

	u, err := d.session.Current()
	switch {
	case err == nil:
		data["upload"] = u
	case !errors.Is(err, session.ErrNoUpload):
		slog.Error("failed to get current upload", "error", err)
	}

	if err := d.tmpl.ExecuteTemplate(w, "home", data); err != nil {
		slog.Error("template render failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
