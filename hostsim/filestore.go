// Package hostsim provides host-side, non-bare-metal stand-ins for the
// hardware this module otherwise drives directly: a loopback
// link.Transport for tests, a real-TTY link.Transport for driving actual
// card/terminal hardware from a development host, and a flat-file
// evtlog.Store. It plays the same role the teacher's portable (non-Native)
// code paths play: the same logic runs against either backend.
package hostsim

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FileStore is an evtlog.Store backed by a single fixed-size file, written
// with pwrite/pread (golang.org/x/sys/unix) so ReadAt/WriteAt need no
// shared seek position — the log layout addresses the store at arbitrary
// offsets from several call sites.
type FileStore struct {
	f *os.File
}

// OpenFileStore opens (creating if necessary) a file of exactly size bytes
// to back the persisted log layout.
func OpenFileStore(path string, size int64) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, err
		}
	}
	return &FileStore{f: f}, nil
}

// ReadAt reads len(buf) bytes starting at offset.
func (s *FileStore) ReadAt(offset int, buf []byte) error {
	n, err := unix.Pread(int(s.f.Fd()), buf, int64(offset))
	if err != nil {
		return fmt.Errorf("hostsim: pread at %#x: %w", offset, err)
	}
	if n != len(buf) {
		return fmt.Errorf("hostsim: short read at %#x: got %d of %d bytes", offset, n, len(buf))
	}
	return nil
}

// WriteAt writes data starting at offset.
func (s *FileStore) WriteAt(offset int, data []byte) error {
	n, err := unix.Pwrite(int(s.f.Fd()), data, int64(offset))
	if err != nil {
		return fmt.Errorf("hostsim: pwrite at %#x: %w", offset, err)
	}
	if n != len(data) {
		return fmt.Errorf("hostsim: short write at %#x: wrote %d of %d bytes", offset, n, len(data))
	}
	return nil
}

// Close releases the backing file descriptor.
func (s *FileStore) Close() error { return s.f.Close() }
