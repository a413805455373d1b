package main

import (
	"github.com/jianglan89/rtp-llm/internal/cli"
	"github.com/jianglan89/rtp-llm/internal/metrics"
)

func main() {
	metrics.EmitBuildInfo()
	cli.Execute()
}
