// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package directory

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

type CollectOptions struct {
	// Exclude holds doublestar patterns matched against archive paths.
	Exclude []string
	// Rename, if set, chooses the stored name of a file found at osPath.
	Rename func(osPath, name string) string
	// Skip lists disk paths never to collect, such as the archive being written.
	Skip   []string
	Logger *slog.Logger
}

// Collect lists files and folders on disk as archive entries.
// It also returns the disk path of every file entry, in block order.
// Names starting with a dot are skipped inside folders, but never at the top level.
// Symbolic links are followed only when given as sources.
func Collect(sources []string, opts CollectOptions) ([]Entry, []string, error) {
	for _, pat := range opts.Exclude {
		if !doublestar.ValidatePattern(pat) {
			return nil, nil, fmt.Errorf("bad exclude pattern %q", pat)
		}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &collector{opts: opts}
	for _, p := range opts.Skip {
		if abs, err := filepath.Abs(p); err == nil {
			c.skip = append(c.skip, abs)
		}
	}
	for _, src := range sources {
		src = filepath.Clean(src)
		if err := c.add(src, "", filepath.Base(src), true); err != nil {
			return nil, nil, err
		}
	}
	return c.entries, c.files, nil
}

type collector struct {
	opts    CollectOptions
	entries []Entry
	files   []string
	skip    []string
}

func (c *collector) excluded(archPath string) bool {
	for _, pat := range c.opts.Exclude {
		if ok, _ := doublestar.Match(pat, archPath); ok {
			return true
		}
	}
	return false
}

func (c *collector) skipped(osPath string) bool {
	abs, err := filepath.Abs(osPath)
	return err == nil && slices.Contains(c.skip, abs)
}

func (c *collector) add(osPath, parent, name string, top bool) error {
	if c.skipped(osPath) {
		c.opts.Logger.Debug("collectSkipSelf", "path", osPath)
		return nil
	}
	stat := os.Lstat
	if top {
		stat = os.Stat
	}
	info, err := stat(osPath)
	if err != nil {
		return err
	}
	switch {
	case info.IsDir():
	case info.Mode().IsRegular():
		if c.opts.Rename != nil {
			name = c.opts.Rename(osPath, name)
		}
	default:
		if top {
			return fmt.Errorf("%s: %w", osPath, fs.ErrInvalid)
		}
		c.opts.Logger.Debug("collectSkipIrregular", "path", osPath, "mode", info.Mode())
		return nil
	}
	if err := CheckName(name); err != nil {
		return fmt.Errorf("%s: %w", osPath, err)
	}

	archPath := path.Join(parent, name)
	if !top && c.excluded(archPath) {
		c.opts.Logger.Debug("collectExcluded", "path", archPath)
		return nil
	}

	if info.Mode().IsRegular() {
		c.entries = append(c.entries, Entry{Name: name, Path: archPath, IsFile: true})
		c.files = append(c.files, osPath)
		return nil
	}

	c.entries = append(c.entries, Entry{Name: name, Path: archPath})
	list, err := os.ReadDir(osPath)
	if err != nil {
		return err
	}
	for _, de := range list {
		if strings.HasPrefix(de.Name(), ".") {
			continue
		}
		if err := c.add(filepath.Join(osPath, de.Name()), archPath, de.Name(), false); err != nil {
			return err
		}
	}
	c.entries = append(c.entries, End)
	return nil
}
