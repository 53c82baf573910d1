package static

import (
	"fmt"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// MappedFile is a read-only shared mapping of a file. Release unmaps it
// exactly once no matter how many times it is called.
type MappedFile struct {
	path string
	info os.FileInfo
	data []byte

	released atomic.Bool
}

// Map maps the whole file at path. Empty files yield a MappedFile with no
// data, since a zero-length mapping is not allowed.
func Map(path string) (*MappedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	m := &MappedFile{path: path, info: info}
	if info.Size() == 0 {
		return m, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	m.data = data
	return m, nil
}

// Bytes returns the mapped contents, or nil once released
func (m *MappedFile) Bytes() []byte {
	return m.data
}

// Size returns the file size recorded when the file was mapped
func (m *MappedFile) Size() int64 {
	return m.info.Size()
}

// Info returns the file metadata recorded when the file was mapped
func (m *MappedFile) Info() os.FileInfo {
	return m.info
}

// Path returns the mapped file's path
func (m *MappedFile) Path() string {
	return m.path
}

// Release unmaps the file. Calls after the first are no-ops.
func (m *MappedFile) Release() error {
	if !m.released.CompareAndSwap(false, true) {
		return nil
	}
	data := m.data
	m.data = nil
	if data == nil {
		return nil
	}
	return unix.Munmap(data)
}

// Released reports whether Release has run
func (m *MappedFile) Released() bool {
	return m.released.Load()
}
