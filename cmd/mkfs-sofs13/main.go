// Command mkfs-sofs13 formats a backing file as a SOFS13 volume.
package main

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v2"

	"github.com/weberc2/sofs13/pkg/device"
	"github.com/weberc2/sofs13/pkg/fs"
)

const envVarPrefix = "SOFS13"

// Config carries the formatter defaults, loadable from a YAML profile and
// overridable through the environment; command line flags take precedence
// over both.
type Config struct {
	Name   string `envconfig:"SOFS13_NAME"   yaml:"name"`
	Inodes uint   `envconfig:"SOFS13_INODES" yaml:"inodes"`
	Zero   bool   `envconfig:"SOFS13_ZERO"   yaml:"zero"`
	Quiet  bool   `envconfig:"SOFS13_QUIET"  yaml:"quiet"`
}

func LoadConfig() (*Config, error) {
	var config Config
	if configFile := os.Getenv(envVarPrefix + "_CONFIG_FILE"); configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}
	if err := envconfig.Process(envVarPrefix, &config); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}
	return &config, nil
}

func main() {
	config, err := LoadConfig()
	if err != nil {
		logrus.Fatal(err)
	}

	app := &cli.App{
		Name:      "mkfs-sofs13",
		Usage:     "format a backing file as a SOFS13 volume",
		ArgsUsage: "SUPP-FILE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "name",
				Aliases: []string{"n"},
				Usage:   "volume name",
				Value:   config.Name,
			},
			&cli.UintFlag{
				Name:    "inodes",
				Aliases: []string{"i"},
				Usage:   "number of inodes (default: one per eight blocks)",
				Value:   config.Inodes,
			},
			&cli.BoolFlag{
				Name:    "zero",
				Aliases: []string{"z"},
				Usage:   "zero-fill every free data cluster",
				Value:   config.Zero,
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "suppress progress output",
				Value:   config.Quiet,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("exactly one backing file is required", 1)
			}
			return format(c.Args().First(), &fs.FormatOptions{
				Name:   c.String("name"),
				Inodes: uint32(c.Uint("inodes")),
				Zero:   c.Bool("zero"),
			}, c.Bool("quiet"))
		},
	}
	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func format(path string, opts *fs.FormatOptions, quiet bool) error {
	log := logrus.StandardLogger()
	if quiet {
		log.SetLevel(logrus.ErrorLevel)
	}

	dev, err := device.Open(path)
	if err != nil {
		return err
	}
	geo, err := fs.PlanGeometry(dev.Blocks(), opts.Inodes)
	if err != nil {
		dev.Close()
		return err
	}
	if err := dev.Close(); err != nil {
		return err
	}
	log.WithField("file", path).
		WithField("blocks", geo.NTotal).
		WithField("inodes", geo.ITotal).
		WithField("clusters", geo.DZoneTotal).
		Info("installing SOFS13 file system")

	if err := fs.Format(path, opts); err != nil {
		return err
	}
	log.Info("formatting concluded")
	return nil
}
