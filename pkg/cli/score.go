package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/mchmarny/riskdash/pkg/dataset"
	"github.com/mchmarny/riskdash/pkg/model"
	"github.com/mchmarny/riskdash/pkg/pipeline"
	urfave "github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

const (
	dirMode  = 0700
	fileMode = 0600
)

var (
	inputFlag = &urfave.StringSliceFlag{
		Name:     "input",
		Aliases:  []string{"i"},
		Usage:    "CSV file to score (can be specified multiple times)",
		Required: true,
	}

	outputDirFlag = &urfave.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "Directory to write scored CSV files to",
		Value:   ".",
	}

	thresholdFlag = &urfave.FloatFlag{
		Name:    "threshold",
		Aliases: []string{"t"},
		Usage:   "Risk score at or above which a record is flagged high risk (default: from config)",
	}

	scoreCmd = &urfave.Command{
		Name:  "score",
		Usage: "Score CSV files without starting the dashboard",
		UsageText: `riskdash score --model model.txt --input cohort.csv                # writes ./risk_scores.csv
   riskdash score -i a.csv -i b.csv -o out -t 0.3                        # writes out/a_risk_scores.csv, out/b_risk_scores.csv`,
		Action: cmdScore,
		Flags: []urfave.Flag{
			inputFlag,
			outputDirFlag,
			thresholdFlag,
		},
	}
)

// ScoreResult is the outcome of scoring one input file.
type ScoreResult struct {
	Input    string           `json:"input" yaml:"input"`
	Output   string           `json:"output" yaml:"output"`
	Summary  pipeline.Summary `json:"summary" yaml:"summary"`
	Duration string           `json:"duration" yaml:"duration"`
}

func cmdScore(ctx context.Context, cmd *urfave.Command) error {
	cfg, err := getConfig(ctx)
	if err != nil {
		return err
	}

	threshold := cfg.Threshold
	if cmd.IsSet(thresholdFlag.Name) {
		threshold = cmd.Float(thresholdFlag.Name)
	}

	b, err := model.Load(cfg.Model)
	if err != nil {
		return err
	}

	inputs := cmd.StringSlice(inputFlag.Name)
	outDir := cmd.String(outputDirFlag.Name)
	if err := os.MkdirAll(outDir, dirMode); err != nil {
		return fmt.Errorf("creating output directory %s: %w", outDir, err)
	}

	names, err := outputNames(inputs)
	if err != nil {
		return err
	}

	results := make([]*ScoreResult, len(inputs))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, in := range inputs {
		g.Go(func() error {
			out := filepath.Join(outDir, names[i])
			r, err := scoreFile(b, in, out, threshold)
			if err != nil {
				return fmt.Errorf("%s: %w", in, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return encode(os.Stdout, cmd.String(formatFlag.Name), results)
}

func scoreFile(p model.Predictor, in, out string, threshold float64) (*ScoreResult, error) {
	start := time.Now()

	f, err := os.Open(in)
	if err != nil {
		return nil, fmt.Errorf("opening input: %w", err)
	}
	defer f.Close()

	ds, err := dataset.Parse(f)
	if err != nil {
		return nil, err
	}

	t, err := pipeline.Run(ds, p, threshold)
	if err != nil {
		return nil, err
	}

	b, err := pipeline.Encode(t)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(out, b, fileMode); err != nil {
		return nil, fmt.Errorf("writing output: %w", err)
	}

	slog.Info("file scored", "input", in, "output", out, "rows", t.Len())

	return &ScoreResult{
		Input:    in,
		Output:   out,
		Summary:  pipeline.Summarize(t),
		Duration: time.Since(start).String(),
	}, nil
}

// outputNames maps each input to its export file name. Two inputs that
// would write the same file are an error.
func outputNames(inputs []string) ([]string, error) {
	if len(inputs) == 1 {
		return []string{pipeline.ExportFileName}, nil
	}

	names := make([]string, len(inputs))
	seen := make(map[string]string, len(inputs))
	for i, in := range inputs {
		base := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
		name := base + "_" + pipeline.ExportFileName
		if prev, ok := seen[name]; ok {
			return nil, fmt.Errorf("inputs %s and %s would both be written to %s", prev, in, name)
		}
		seen[name] = in
		names[i] = name
	}
	return names, nil
}
