// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/elliotnunn/azip/internal/archive"
	"github.com/elliotnunn/azip/internal/catalog"
	"github.com/elliotnunn/azip/internal/metrics"
	"github.com/elliotnunn/azip/internal/source"
	"github.com/urfave/cli/v2"
)

// session holds what the global flags resolve to.
type session struct {
	cfg      Config
	opts     archive.Options
	cat      *catalog.Catalog
	progress io.Writer
}

func (s *session) options(report func(float64)) *archive.Options {
	o := s.opts
	o.Progress = report
	return &o
}

func (s *session) run(label string, work func(opts *archive.Options) error) error {
	return withProgress(s.progress, label, func(report func(float64)) error {
		return work(s.options(report))
	})
}

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "azip:", err)
		os.Exit(1)
	}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	s := new(session)

	selection := func() []cli.Flag {
		return []cli.Flag{
			&cli.IntSliceFlag{Name: "index", Aliases: []string{"i"}, Usage: "entry index as shown by list"},
			&cli.StringSliceFlag{Name: "match", Aliases: []string{"m"}, Usage: "doublestar pattern matched against entry paths"},
		}
	}
	selected := func(c *cli.Context, archivePath string) ([]int, error) {
		indices := c.IntSlice("index")
		if len(c.StringSlice("match")) > 0 {
			list, err := archive.List(archivePath, s.options(nil))
			if err != nil {
				return nil, err
			}
			indices, err = selectEntries(list, indices, c.StringSlice("match"))
			if err != nil {
				return nil, err
			}
		}
		if len(indices) == 0 {
			return nil, errors.New("no entries selected")
		}
		return indices, nil
	}

	return &cli.App{
		Name:      "azip",
		Usage:     "create and edit azip archives",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "TOML config file", EnvVars: []string{"AZIP_CONFIG"}, TakesFile: true},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error", EnvVars: []string{"AZIP_LOG_LEVEL"}},
			&cli.StringFlag{Name: "tmpdir", Usage: "directory for temporary files", EnvVars: []string{"AZIP_TMPDIR"}},
			&cli.StringFlag{Name: "catalog", Usage: "directory of the listing catalog", EnvVars: []string{"AZIP_CATALOG"}},
			&cli.StringFlag{Name: "metrics-file", Usage: "write Prometheus metrics to this file on exit"},
			&cli.StringSliceFlag{Name: "exclude", Usage: "doublestar pattern of paths to leave out when adding folders"},
			&cli.BoolFlag{Name: "unwrap", Usage: "expand gzip, bzip2 and xz files as they are added"},
			&cli.IntFlag{Name: "max-chain", Usage: "match candidates probed per byte"},
			&cli.BoolFlag{Name: "progress", Usage: "show progress on stderr"},
		},
		Before: func(c *cli.Context) error {
			cfg, err := loadConfig(c.String("config"))
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if c.IsSet("log-level") {
				cfg.LogLevel = c.String("log-level")
			}
			if c.IsSet("tmpdir") {
				cfg.TempDir = c.String("tmpdir")
			}
			if c.IsSet("catalog") {
				cfg.Catalog = c.String("catalog")
			}
			if c.IsSet("metrics-file") {
				cfg.MetricsFile = c.String("metrics-file")
			}
			if c.IsSet("exclude") {
				cfg.Exclude = c.StringSlice("exclude")
			}
			if c.IsSet("unwrap") {
				cfg.Unwrap = c.Bool("unwrap")
			}
			if c.IsSet("max-chain") {
				cfg.MaxChain = c.Int("max-chain")
			}
			s.cfg = cfg

			var level slog.Level
			if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
				return fmt.Errorf("log level: %w", err)
			}
			logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(logger)

			s.opts = archive.Options{
				TempDir:  cfg.TempDir,
				Exclude:  cfg.Exclude,
				Unwrap:   cfg.Unwrap,
				MaxChain: cfg.MaxChain,
				Logger:   logger,
			}
			if cfg.Catalog != "" {
				s.cat, err = catalog.Open(cfg.Catalog, catalogListings())
				if err != nil {
					return fmt.Errorf("catalog: %w", err)
				}
				s.opts.Catalog = s.cat
			}
			if c.Bool("progress") {
				s.progress = stderr
			}
			return nil
		},
		After: func(c *cli.Context) error {
			if s.cat != nil {
				if err := s.cat.Close(); err != nil {
					slog.Warn("catalogCloseError", "err", err)
				}
			}
			if s.cfg.MetricsFile != "" {
				return metrics.WriteFile(s.cfg.MetricsFile)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "compress",
				Aliases:   []string{"c"},
				Usage:     "create an archive from files and folders",
				ArgsUsage: "ARCHIVE [SOURCE...]",
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 {
						return cli.Exit("compress needs an archive path", 2)
					}
					return s.run("compress", func(o *archive.Options) error {
						return archive.Compress(c.Args().Tail(), c.Args().First(), o)
					})
				},
			},
			{
				Name:      "extract",
				Aliases:   []string{"x"},
				Usage:     "extract all or selected entries",
				ArgsUsage: "ARCHIVE",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "dest", Aliases: []string{"d"}, Value: ".", Usage: "destination folder"},
				}, selection()...),
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("extract needs exactly one archive path", 2)
					}
					arch := c.Args().First()
					if !c.IsSet("index") && !c.IsSet("match") {
						return s.run("extract", func(o *archive.Options) error {
							return archive.Decompress(c.String("dest"), arch, o)
						})
					}
					indices, err := selected(c, arch)
					if err != nil {
						return err
					}
					return s.run("extract", func(o *archive.Options) error {
						return archive.DecompressSelected(c.String("dest"), arch, indices, o)
					})
				},
			},
			{
				Name:      "list",
				Aliases:   []string{"l"},
				Usage:     "list entries with their indices",
				ArgsUsage: "ARCHIVE",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "tree", Aliases: []string{"t"}, Usage: "indent entries by folder"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("list needs exactly one archive path", 2)
					}
					arch := c.Args().First()
					if f, err := source.SniffFile(arch); err == nil && f != source.Plain {
						slog.Warn("foreignFormat", "path", arch, "format", f)
					}
					entries, err := archive.List(arch, s.options(nil))
					if err != nil {
						return err
					}
					printListing(c.App.Writer, entries, c.Bool("tree"))
					return nil
				},
			},
			{
				Name:      "insert",
				Aliases:   []string{"a"},
				Usage:     "add a file or folder to an existing archive",
				ArgsUsage: "ARCHIVE PATH",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "at", Value: -1, Usage: "index the new entry takes, the end if negative"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return cli.Exit("insert needs an archive path and a file path", 2)
					}
					arch, add := c.Args().Get(0), c.Args().Get(1)
					at := c.Int("at")
					if at < 0 {
						entries, err := archive.List(arch, s.options(nil))
						if err != nil {
							return err
						}
						at = len(entries)
					}
					return s.run("insert "+filepath.Base(add), func(o *archive.Options) error {
						return archive.Insert(add, arch, at, o)
					})
				},
			},
			{
				Name:      "delete",
				Aliases:   []string{"rm"},
				Usage:     "remove entries, folders with their contents",
				ArgsUsage: "ARCHIVE",
				Flags:     selection(),
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("delete needs exactly one archive path", 2)
					}
					arch := c.Args().First()
					indices, err := selected(c, arch)
					if err != nil {
						return err
					}
					return s.run("delete", func(o *archive.Options) error {
						return archive.Delete(arch, indices, o)
					})
				},
			},
			{
				Name:      "move",
				Aliases:   []string{"mv"},
				Usage:     "move entries to sit before another index",
				ArgsUsage: "ARCHIVE",
				Flags: append([]cli.Flag{
					&cli.IntFlag{Name: "to", Required: true, Usage: "index to move before, or the entry count for the end"},
				}, selection()...),
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("move needs exactly one archive path", 2)
					}
					arch := c.Args().First()
					indices, err := selected(c, arch)
					if err != nil {
						return err
					}
					return s.run("move "+strings.Trim(fmt.Sprint(indices), "[]"), func(o *archive.Options) error {
						return archive.Move(arch, indices, c.Int("to"), o)
					})
				},
			},
		},
	}
}
