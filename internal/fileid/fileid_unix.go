//go:build unix

package fileid

import "golang.org/x/sys/unix"

func inode(pathname string) (ino, dev uint64, err error) {
	var st unix.Stat_t
	if err := unix.Stat(pathname, &st); err != nil {
		return 0, 0, err
	}
	return uint64(st.Ino), uint64(st.Dev), nil
}
