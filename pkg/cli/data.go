package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/mchmarny/riskdash/pkg/dataset"
	"github.com/mchmarny/riskdash/pkg/feature"
	"github.com/mchmarny/riskdash/pkg/pipeline"
	"github.com/mchmarny/riskdash/pkg/session"
	"github.com/mchmarny/riskdash/pkg/store"
)

const (
	uploadFormField  = "file"
	uploadNameHeader = "X-File-Name"
	csvContentType   = "text/csv"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDataError maps domain errors to responses. Every error is shown to
// the user as is; none are retried.
func writeDataError(w http.ResponseWriter, err error) {
	var (
		mce *feature.MissingColumnsError
		mbe *http.MaxBytesError
	)
	switch {
	case errors.As(err, &mce):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   err.Error(),
			"missing": mce.Columns,
		})
	case errors.Is(err, dataset.ErrParse):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &mbe):
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", mbe.Limit))
	case errors.Is(err, session.ErrNoUpload):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// parseThreshold reads the t query parameter. Any finite value is accepted.
func parseThreshold(r *http.Request, def float64) (float64, error) {
	v := r.URL.Query().Get("t")
	if v == "" {
		return def, nil
	}
	t, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(t) || math.IsInf(t, 0) {
		return 0, fmt.Errorf("invalid threshold: %q", v)
	}
	return t, nil
}

func queryParamInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}

	i, err := strconv.Atoi(v)
	if err != nil || i < 0 {
		slog.Debug("invalid int query parameter", "key", key, "value", v)
		return def
	}
	return i
}

func (d *dashboard) modelAPIHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, d.model)
}

func featuresAPIHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, &featureList{Count: feature.Count, Features: feature.List()})
}

func (d *dashboard) uploadAPIHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, d.maxUpload)

	name, content, err := readUpload(r)
	if err != nil {
		writeDataError(w, err)
		return
	}

	u, err := d.session.Load(r.Context(), name, content)
	if err != nil {
		slog.Debug("upload rejected", "name", name, "error", err)
		writeDataError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, u)
}

// readUpload accepts either a multipart form with a file field or a raw
// text/csv body.
func readUpload(r *http.Request) (string, []byte, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == csvContentType {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return "", nil, err
		}
		name := filepath.Base(r.Header.Get(uploadNameHeader))
		if name == "." || name == "/" {
			name = "upload.csv"
		}
		return name, b, nil
	}

	f, hdr, err := r.FormFile(uploadFormField)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return "", nil, err
		}
		return "", nil, &dataset.ParseError{Err: fmt.Errorf("reading %q form file: %w", uploadFormField, err)}
	}
	defer f.Close()

	b, err := io.ReadAll(f)
	if err != nil {
		return "", nil, err
	}
	return filepath.Base(hdr.Filename), b, nil
}

func (d *dashboard) currentUploadAPIHandler(w http.ResponseWriter, r *http.Request) {
	u, err := d.session.Current()
	if err != nil {
		writeDataError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (d *dashboard) uploadsAPIHandler(w http.ResponseWriter, r *http.Request) {
	list, err := d.session.Uploads(r.Context())
	if err != nil {
		writeDataError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func parseUploadID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid upload id")
		return uuid.Nil, false
	}
	return id, true
}

func (d *dashboard) selectUploadAPIHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUploadID(w, r)
	if !ok {
		return
	}
	u, err := d.session.Select(r.Context(), id)
	if err != nil {
		writeDataError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (d *dashboard) deleteUploadAPIHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUploadID(w, r)
	if !ok {
		return
	}
	if err := d.session.Delete(r.Context(), id); err != nil {
		writeDataError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ScoredRow is one table row as rendered by the dashboard. Score is nil when
// the model produced no value.
type ScoredRow struct {
	Cells    []string `json:"cells"`
	Score    *float64 `json:"risk_score"`
	HighRisk bool     `json:"high_risk"`
}

// ScoresResponse is the table view of the current upload.
type ScoresResponse struct {
	Upload  *store.Upload    `json:"upload"`
	Columns []string         `json:"columns"`
	Rows    []*ScoredRow     `json:"rows"`
	Total   int              `json:"total"`
	Summary pipeline.Summary `json:"summary"`
}

func (d *dashboard) scoresAPIHandler(w http.ResponseWriter, r *http.Request) {
	threshold, err := parseThreshold(r, d.threshold)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	u, err := d.session.Current()
	if err != nil {
		writeDataError(w, err)
		return
	}

	t, err := d.session.View(threshold)
	if err != nil {
		writeDataError(w, err)
		return
	}

	summary := pipeline.Summarize(t)
	if r.URL.Query().Get("hi") == "1" {
		t = pipeline.Filter(t)
	}

	total := t.Len()
	records := t.Records
	if limit := queryParamInt(r, "limit", 0); limit > 0 && limit < len(records) {
		records = records[:limit]
	}

	rows := make([]*ScoredRow, 0, len(records))
	for _, rec := range records {
		row := &ScoredRow{Cells: rec.Cells, HighRisk: rec.HighRisk}
		if !math.IsNaN(rec.Score) {
			s := rec.Score
			row.Score = &s
		}
		rows = append(rows, row)
	}

	writeJSON(w, http.StatusOK, &ScoresResponse{
		Upload:  u,
		Columns: t.Columns,
		Rows:    rows,
		Total:   total,
		Summary: summary,
	})
}

func (d *dashboard) downloadAPIHandler(w http.ResponseWriter, r *http.Request) {
	threshold, err := parseThreshold(r, d.threshold)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	b, err := d.session.Export(threshold)
	if err != nil {
		writeDataError(w, err)
		return
	}

	w.Header().Set("Content-Type", pipeline.ExportContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": pipeline.ExportFileName}))
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(b); err != nil {
		slog.Error("failed to write export", "error", err)
	}
}
