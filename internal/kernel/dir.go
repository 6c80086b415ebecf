package kernel

import "golang.org/x/sys/unix"

const dirBufSize = 2048

// Dir is a directory cursor over a guest directory descriptor.
type Dir struct {
	sys  Syscalls
	path string
	fd   int
	buf []byte
	pos int
	len int
	err error
}

// Opendir opens path in the guest for enumeration.
func Opendir(sys Syscalls, path string) (*Dir, error) {
	fd, err := sys.Open(path, O_RDONLY|O_DIRECTORY, 0)
	if err != nil {
		return nil, err
	}
	return &Dir{sys: sys, path: path, fd: fd, buf: make([]byte, dirBufSize)}, nil
}

// Rewind restarts enumeration from the first entry. The guest descriptor
// is replaced by a fresh one on the same path.
func (d *Dir) Rewind() error {
	if d.fd < 0 {
		return unix.EBADF
	}
	fd, err := d.sys.Open(d.path, O_RDONLY|O_DIRECTORY, 0)
	if err != nil {
		return err
	}
	old := d.fd
	d.fd, d.pos, d.len, d.err = fd, 0, 0, nil
	return d.sys.Close(old)
}

// Readdir returns the next entry, or nil when the directory is exhausted
// or an error occurred. Err tells the two apart.
func (d *Dir) Readdir() *Dirent {
	if d.pos >= d.len {
		if d.err != nil {
			return nil
		}
		n, err := d.sys.Getdents64(d.fd, d.buf)
		if err != nil {
			d.err = err
			return nil
		}
		if n <= 0 {
			return nil
		}
		d.pos, d.len = 0, n
	}

	de, reclen, err := ParseDirent(d.buf[d.pos:d.len])
	if err != nil {
		d.err = err
		d.pos = d.len
		return nil
	}
	d.pos += reclen
	return &de
}

// Err returns the error that ended enumeration, if any.
func (d *Dir) Err() error {
	return d.err
}

// Fd returns the guest descriptor underlying the cursor.
func (d *Dir) Fd() int {
	return d.fd
}

// Close releases the guest descriptor.
func (d *Dir) Close() error {
	if d.fd < 0 {
		return unix.EBADF
	}
	err := d.sys.Close(d.fd)
	d.fd = -1
	return err
}
