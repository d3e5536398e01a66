package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"cryptomid-go/pkg/log"
	"cryptomid-go/pkg/server"
)

var serveCommand = &cli.Command{
	Name:        "serve",
	Usage:       "start the sample API behind the body transform middlewares",
	UsageText:   "cryptomid serve [--listen ADDR] [--log-db FILE]",
	Description: `Decodes request bodies and encodes response bodies declared with the configured media type.`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "listen",
			Usage: "Listen address `ADDR`, overrides listen_address",
		},
		&cli.StringFlag{
			Name:  "log-db",
			Usage: "Also store logs in the SQLite database `FILE` (relative to the application directory)",
		},
	},
	Action: serveCmd,
}

func serveCmd(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error loading configuration: %v", err), 1)
	}
	if err := log.SetLevel(cfg.LogLevel); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if cfg.LogDB != "" {
		if err := log.Init(cfg.LogDB, os.Stderr); err != nil {
			return cli.Exit(fmt.Sprintf("Error initializing log database: %v", err), 1)
		}
		defer log.Close()
	}
	if cfg.ConfigFile != "" {
		log.Printf("using config file %s", cfg.ConfigFile)
	}

	srv, err := server.New(cfg)
	if err != nil {
		log.Error().Err(err).Msg("cryptomid: invalid configuration")
		return cli.Exit(fmt.Sprintf("Invalid configuration: %v", err), 1)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Str("address", cfg.ListenAddr).Msg("cryptomid: server stopped")
		return cli.Exit(fmt.Sprintf("Server error: %v", err), 1)
	}
	log.Printf("cryptomid has been shut down.")
	return nil
}
