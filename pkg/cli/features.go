package cli

import (
	"context"
	"os"

	"github.com/mchmarny/riskdash/pkg/feature"
	urfave "github.com/urfave/cli/v3"
)

var featuresCmd = &urfave.Command{
	Name:   "features",
	Usage:  "Print the ordered feature columns the model requires",
	Action: cmdFeatures,
}

type featureList struct {
	Count    int      `json:"count" yaml:"count"`
	Features []string `json:"features" yaml:"features"`
}

func cmdFeatures(_ context.Context, cmd *urfave.Command) error {
	return encode(os.Stdout, cmd.String(formatFlag.Name), &featureList{
		Count:    feature.Count,
		Features: feature.List(),
	})
}
