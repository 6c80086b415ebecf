package fs

import (
	"sandfs/internal/kernel"

	"golang.org/x/sys/unix"
)

type handleKind int

const (
	kindFile handleKind = iota
	kindDir
)

// handle is one entry of the handle table: a guest file descriptor or a
// guest directory cursor.
type handle struct {
	kind handleKind
	fd   int
	dir  *kernel.Dir
}

// handleTable maps the opaque keys given to the host onto guest handles.
// Keys are never reused while the table lives.
type handleTable struct {
	entries map[uint64]*handle
	next    uint64
}

func newHandleTable() *handleTable {
	return &handleTable{entries: make(map[uint64]*handle), next: 1}
}

func (t *handleTable) add(h *handle) uint64 {
	key := t.next
	t.next++
	t.entries[key] = h
	return key
}

func (t *handleTable) file(key uint64) (int, error) {
	h, ok := t.entries[key]
	if !ok || h.kind != kindFile {
		return -1, unix.EBADF
	}
	return h.fd, nil
}

func (t *handleTable) dir(key uint64) (*kernel.Dir, error) {
	h, ok := t.entries[key]
	if !ok || h.kind != kindDir {
		return nil, unix.EBADF
	}
	return h.dir, nil
}

func (t *handleTable) remove(key uint64) {
	delete(t.entries, key)
}

func (t *handleTable) len() int {
	return len(t.entries)
}
