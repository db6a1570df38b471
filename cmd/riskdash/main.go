package main

import (
	"github.com/mchmarny/riskdash/pkg/cli"
)

func main() {
	cli.Execute()
}
