package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mchmarny/riskdash/pkg/config"
	"github.com/mchmarny/riskdash/pkg/logging"
	urfave "github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const (
	appName = "riskdash"

	formatJSON = "json"
	formatYAML = "yaml"
)

var (
	version = "v0.0.1-default"
	commit  = ""
	date    = ""

	logLevel            = &slog.LevelVar{}
	logWriter io.Writer = os.Stderr

	debugFlag = &urfave.BoolFlag{
		Name:    "debug",
		Usage:   "Prints verbose logs (optional, default: false)",
		Sources: urfave.EnvVars("RISKDASH_DEBUG"),
	}

	logLevelFlag = &urfave.StringFlag{
		Name:    "log-level",
		Usage:   "Log level [debug, info, warn, error]",
		Value:   "info",
		Sources: urfave.EnvVars("RISKDASH_LOG_LEVEL"),
	}

	noColorFlag = &urfave.BoolFlag{
		Name:    "no-color",
		Usage:   "Disable colored log output",
		Sources: urfave.EnvVars("NO_COLOR"),
	}

	configDirFlag = &urfave.StringFlag{
		Name:  "config",
		Usage: fmt.Sprintf("Path to the config directory (default: $HOME/.%s)", appName),
	}

	modelFlag = &urfave.StringFlag{
		Name:    "model",
		Aliases: []string{"m"},
		Usage:   "Path to the LightGBM model file (overrides config and RISKDASH_MODEL)",
	}

	formatFlag = &urfave.StringFlag{
		Name:  "format",
		Usage: "Output format [json, yaml]",
		Value: formatJSON,
	}
)

type appConfigKey struct{}

// Execute creates and runs the CLI application.
func Execute() {
	initLogging(os.Stderr)

	app := newApp()
	if err := app.Run(context.Background(), os.Args); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func newApp() *urfave.Command {
	return &urfave.Command{
		Name:                  appName,
		Version:               fmt.Sprintf("%s (%s - %s)", version, commit, date),
		EnableShellCompletion: true,
		HideHelpCommand:       true,
		Usage:                 "Patient deterioration risk dashboard",
		Flags: []urfave.Flag{
			debugFlag,
			logLevelFlag,
			noColorFlag,
			configDirFlag,
			modelFlag,
			formatFlag,
		},
		Commands: []*urfave.Command{
			serverCmd,
			scoreCmd,
			featuresCmd,
		},
		Before: func(ctx context.Context, cmd *urfave.Command) (context.Context, error) {
			logLevel.Set(logging.ParseLogLevel(cmd.String(logLevelFlag.Name)))
			if cmd.Bool(debugFlag.Name) {
				logLevel.Set(slog.LevelDebug)
			}
			if cmd.Bool(noColorFlag.Name) {
				setLogger(logging.NewCLIHandler(logWriter, logLevel).WithoutColor())
			}

			dir := cmd.String(configDirFlag.Name)
			if dir == "" {
				var err error
				if dir, _, err = config.GetOrCreateHomeDir(appName); err != nil {
					return ctx, fmt.Errorf("resolving config directory: %w", err)
				}
			}

			cfg, err := config.Load(dir)
			if err != nil {
				return ctx, fmt.Errorf("loading config: %w", err)
			}

			if m := cmd.String(modelFlag.Name); m != "" {
				cfg.Model = m
			}

			slog.Debug("config loaded", "dir", dir, "model", cfg.Model, "threshold", cfg.Threshold)
			return context.WithValue(ctx, appConfigKey{}, cfg), nil
		},
	}
}

func getConfig(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(appConfigKey{}).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("config not initialized")
	}
	return cfg, nil
}

func initLogging(w io.Writer) {
	logWriter = w
	logLevel.Set(slog.LevelInfo)
	setLogger(logging.NewCLIHandler(w, logLevel))
}

func setLogger(h slog.Handler) {
	slog.SetDefault(slog.New(h))
}

func encode(w io.Writer, format string, v any) error {
	if format == formatYAML || format == "yml" {
		return yaml.NewEncoder(w).Encode(v)
	}
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	return e.Encode(v)
}
