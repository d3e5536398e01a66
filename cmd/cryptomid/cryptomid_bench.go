package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"cryptomid-go/pkg/benchmark"
)

var benchCommand = &cli.Command{
	Name:      "bench",
	Usage:     "measure codec, stream and HTTP round trip latency with the configured pipeline",
	UsageText: "cryptomid bench [--component codec|stream|http|all] [--iterations N] [--size BYTES] [--output FILE]",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "component",
			Usage: "Component to benchmark `NAME` (codec, stream, http, all)",
			Value: "all",
		},
		&cli.IntFlag{
			Name:    "iterations",
			Aliases: []string{"n"},
			Usage:   "Number of iterations `N`",
			Value:   1000,
		},
		&cli.IntFlag{
			Name:  "size",
			Usage: "Plain payload size in `BYTES`",
			Value: 1024,
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Also write results to the CSV `FILE`",
		},
	},
	Action: benchCmd,
}

func benchCmd(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error loading configuration: %v", err), 1)
	}
	component, err := benchmark.ParseComponent(c.String("component"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	opts := benchmark.DefaultBenchmarkOptions(cfg)
	opts.Component = component
	opts.Iterations = c.Int("iterations")
	opts.PayloadSize = c.Int("size")

	fmt.Fprintf(c.App.Writer, "cryptomid benchmark %s, pipeline %v\n\n", c.App.Version, cfg.Pipeline)

	var results []*benchmark.LatencyResults
	if component == benchmark.ComponentAll {
		results, err = benchmark.RunAllBenchmarks(c.Context, opts, c.App.Writer)
	} else {
		var r *benchmark.LatencyResults
		r, err = benchmark.BenchmarkLatency(c.Context, opts)
		if err == nil {
			results = append(results, r)
			benchmark.PrintResults(c.App.Writer, r)
		}
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("Benchmark failed: %v", err), 1)
	}

	if path := c.String("output"); path != "" {
		if err := benchmark.SaveResultsToFile(results, path); err != nil {
			return cli.Exit(fmt.Sprintf("Error saving results: %v", err), 1)
		}
		fmt.Fprintf(c.App.Writer, "Results saved to %s\n", path)
	}
	return nil
}
