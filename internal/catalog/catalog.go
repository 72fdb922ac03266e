// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package catalog remembers archive listings between runs,
// so that a large archive's directory need not be parsed every time it is listed.
package catalog

import (
	"errors"
	"hash/maphash"
	"log/slog"
	"sync"

	"github.com/cockroachdb/pebble/v2"
	"github.com/dgryski/go-tinylfu"
	"github.com/elliotnunn/azip/internal/directory"
	"github.com/elliotnunn/azip/internal/fileid"
)

const keyPrefix = "dir/"

type Catalog struct {
	db *pebble.DB

	mu  sync.Mutex
	hot *tinylfu.T[fileid.ID, []directory.Entry]
}

var seed = maphash.MakeSeed()

func hasher(k fileid.ID) uint64 {
	return maphash.Comparable(seed, k)
}

// Open opens or creates a catalog in dir, keeping up to hot listings in memory.
func Open(dir string, hot int) (*Catalog, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	hot = max(hot, 1)
	return &Catalog{
		db:  db,
		hot: tinylfu.New[fileid.ID, []directory.Entry](hot, hot*10, hasher),
	}, nil
}

func key(id fileid.ID) []byte {
	return append([]byte(keyPrefix), id[:]...)
}

// Get returns the listing stored for the archive at pathname, if it has not changed since.
func (c *Catalog) Get(pathname string) ([]directory.Entry, bool) {
	id, err := fileid.Get(pathname)
	if err != nil {
		return nil, false
	}

	c.mu.Lock()
	entries, ok := c.hot.Get(id)
	c.mu.Unlock()
	if ok {
		return entries, true
	}

	val, closer, err := c.db.Get(key(id))
	if err != nil {
		if !errors.Is(err, pebble.ErrNotFound) {
			slog.Warn("catalogReadError", "path", pathname, "err", err)
		}
		return nil, false
	}
	entries, err = directory.Unmarshal(val)
	closer.Close()
	if err != nil {
		slog.Warn("catalogCorruptEntry", "path", pathname, "err", err)
		return nil, false
	}

	c.mu.Lock()
	c.hot.Add(id, entries)
	c.mu.Unlock()
	return entries, true
}

// Put records the listing of the archive at pathname as it is now.
func (c *Catalog) Put(pathname string, entries []directory.Entry) error {
	id, err := fileid.Get(pathname)
	if err != nil {
		return err
	}
	val, err := directory.Marshal(entries)
	if err != nil {
		return err
	}
	if err := c.db.Set(key(id), val, pebble.Sync); err != nil {
		return err
	}
	c.mu.Lock()
	c.hot.Add(id, entries)
	c.mu.Unlock()
	return nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}
