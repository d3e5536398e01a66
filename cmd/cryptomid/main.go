package main

import (
	"fmt"
	stdlog "log"
	"os"

	"github.com/urfave/cli/v2"

	"cryptomid-go/pkg/config"
	"cryptomid-go/pkg/log"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func newApp() *cli.App {
	return &cli.App{
		Name:    "cryptomid",
		Usage:   "transform HTTP bodies through a chained codec pipeline",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the configuration file `PATH` (default: search cryptomid.yaml)",
				EnvVars: []string{"CRYPTOMID_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level `LEVEL` (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "key",
				Usage: "Base64 cipher key `KEY`, overrides the configuration",
			},
			&cli.StringFlag{
				Name:  "iv",
				Usage: "Base64 initialization vector `IV`, overrides the configuration",
			},
			&cli.StringSliceFlag{
				Name:  "pipeline",
				Usage: "Codec `NAME` in encode order, repeatable (aes-cbc, base64, noop)",
			},
		},
		Before: func(c *cli.Context) error {
			log.SetStd()
			return log.SetLevel(c.String("log-level"))
		},
		Commands: []*cli.Command{
			serveCommand,
			encodeCommand,
			decodeCommand,
			logsCommand,
			keygenCommand,
			benchCommand,
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		stdlog.Fatal(err)
	}
}

// loadConfig merges the configuration file, the environment and any flag
// set on the command line, in that order.
func loadConfig(c *cli.Context) (*config.Config, error) {
	overrides := map[string]any{}
	for flagName, key := range map[string]string{
		"log-level": "log_level",
		"key":       "key",
		"iv":        "iv",
		"listen":    "listen_address",
		"log-db":    "log_db",
	} {
		if c.IsSet(flagName) {
			overrides[key] = c.String(flagName)
		}
	}
	if c.IsSet("pipeline") {
		overrides["pipeline"] = c.StringSlice("pipeline")
	}
	return config.Load(c.String("config"), overrides)
}
