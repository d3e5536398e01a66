package main

import (
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"cryptomid-go/pkg/config"
)

var keygenCommand = &cli.Command{
	Name:      "keygen",
	Usage:     "print fresh random key material in configuration form",
	UsageText: "cryptomid keygen [--size 16|24|32] >> cryptomid.yaml",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:    "size",
			Aliases: []string{"s"},
			Usage:   "AES key size in `BYTES`",
			Value:   32,
		},
	},
	Action: func(c *cli.Context) error {
		if err := writeKeyMaterial(c.App.Writer, c.Int("size")); err != nil {
			return cli.Exit(err.Error(), 1)
		}
		return nil
	},
}

func writeKeyMaterial(w io.Writer, size int) error {
	key, iv, err := config.GenerateKeyMaterial(size)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "key: %q\niv: %q\n", key, iv)
	return err
}
