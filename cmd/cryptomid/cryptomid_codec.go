package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"cryptomid-go/pkg/buffers"
	"cryptomid-go/pkg/config"
	"cryptomid-go/pkg/log"
	"cryptomid-go/pkg/pipe"
	"cryptomid-go/pkg/transform"
)

var codecFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "in",
		Aliases: []string{"i"},
		Usage:   "Read from `FILE` instead of stdin",
	},
	&cli.StringFlag{
		Name:    "out",
		Aliases: []string{"o"},
		Usage:   "Write to `FILE` instead of stdout",
	},
}

var (
	encodeCommand = &cli.Command{
		Name:      "encode",
		Usage:     "encode stdin to stdout through the configured pipeline",
		UsageText: "cryptomid encode [--in FILE] [--out FILE]",
		Flags:     codecFlags,
		Action:    codecCmd(transform.Encode),
	}
	decodeCommand = &cli.Command{
		Name:      "decode",
		Usage:     "decode stdin to stdout through the configured pipeline",
		UsageText: "cryptomid decode [--in FILE] [--out FILE]",
		Flags:     codecFlags,
		Action:    codecCmd(transform.Decode),
	}
)

func codecCmd(dir transform.Direction) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return cli.Exit(fmt.Sprintf("Error loading configuration: %v", err), 1)
		}

		var in io.Reader = os.Stdin
		if path := c.String("in"); path != "" {
			f, err := os.Open(path)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			defer f.Close()
			in = f
		}
		var out io.Writer = os.Stdout
		if path := c.String("out"); path != "" {
			f, err := os.Create(path)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			defer f.Close()
			out = f
		}

		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()
		if _, err := runCodec(ctx, cfg, dir, in, out); err != nil {
			code := 1
			if transform.IsClientError(err) {
				code = 2
			}
			return cli.Exit(fmt.Sprintf("%s failed: %v", dir, err), code)
		}
		return nil
	}
}

// runCodec streams in through a fresh stream of the configured pipeline.
// Output already written stays written when the stream fails halfway.
func runCodec(ctx context.Context, cfg *config.Config, dir transform.Direction, in io.Reader, out io.Writer) (int64, error) {
	proc, err := cfg.Processor()
	if err != nil {
		return 0, err
	}
	stream, err := proc.NewStream(dir)
	if err != nil {
		return 0, err
	}

	w := bufio.NewWriter(out)
	n, err := pipe.Run(ctx, in, w, stream, buffers.NewBufferPool(cfg.ChunkSize))
	if ferr := w.Flush(); err == nil {
		err = ferr
	}
	log.Debug().
		Str("mode", dir.String()).
		Str("pipeline", proc.String()).
		Int64("bytes_out", n).
		Err(err).
		Msg("codec run finished")
	return n, err
}
