// Package fileid fingerprints files so that facts cached about one
// can be recognised as stale once it is rewritten.
package fileid

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
)

var ErrNotOS = errors.New("not an operating system file")

type ID [16]byte

func Get(pathname string) (ID, error) {
	abs, err := filepath.Abs(pathname)
	if err != nil {
		return ID{}, err
	}
	inf, err := os.Stat(abs)
	if err != nil {
		return ID{}, err
	}
	if !inf.Mode().IsRegular() {
		return ID{}, ErrNotOS
	}
	ino, dev, err := inode(abs)
	if err != nil {
		return ID{}, err
	}

	var id ID

	// ID = (64 bits of inode number) + (64 bits of hash of (device + size + mtime + path))
	binary.BigEndian.PutUint64(id[:], ino)
	h := xxhash.New()
	binary.Write(h, binary.BigEndian, dev)
	binary.Write(h, binary.BigEndian, inf.Size())
	binary.Write(h, binary.BigEndian, inf.ModTime().UnixNano())
	h.WriteString(abs)
	binary.BigEndian.PutUint64(id[8:], h.Sum64())

	return id, nil
}
