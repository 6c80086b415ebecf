// Package export writes a guest filesystem tree into an archive.
//
// Regular files carry their data, symlinks their target, and fifos and
// device nodes a header only. Tar has no socket type: TarWriter refuses
// sockets with EOPNOTSUPP and the exporter skips them with a warning, so
// a tar export never contains them.
package export

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"

	"sandfs/internal/kernel"
	"sandfs/internal/logging"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

// labelXattr is copied to the label side file when one is configured.
const labelXattr = "security.selinux"

const copyBufSize = 4096

var logger = logging.GetLogger().WithPrefix("export")

// Stats counts what an export wrote.
type Stats struct {
	Files    int
	Dirs     int
	Symlinks int
	Special  int
	Skipped  int
	Bytes    int64
}

func (s *Stats) String() string {
	return fmt.Sprintf("%d files (%s), %d directories, %d symlinks, %d special, %d skipped",
		s.Files, humanize.IBytes(uint64(s.Bytes)), s.Dirs, s.Symlinks, s.Special, s.Skipped)
}

// Exporter walks a mounted guest tree.
type Exporter struct {
	sys    kernel.Syscalls
	labels io.Writer
}

// New returns an Exporter reading through sys. When labels is not nil,
// every security.selinux attribute is also written to it as a
// "path label" line.
func New(sys kernel.Syscalls, labels io.Writer) *Exporter {
	return &Exporter{sys: sys, labels: labels}
}

// walk is the state of one export, passed down the recursion.
type walk struct {
	sys    kernel.Syscalls
	out    ArchiveWriter
	labels io.Writer
	stats  Stats
	buf    []byte
}

// Export writes every entry below root to out, depth first, and stops at
// the first error. Archive names are relative to root. out is not closed.
func (x *Exporter) Export(root string, out ArchiveWriter) (*Stats, error) {
	w := &walk{
		sys:    x.sys,
		out:    out,
		labels: x.labels,
		buf:    make([]byte, copyBufSize),
	}
	logger.Debug("exporting %s", root)
	err := w.dir(root, "")
	return &w.stats, err
}

func archiveName(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

func (w *walk) dir(guestPath, name string) error {
	d, err := kernel.Opendir(w.sys, guestPath)
	if err != nil {
		return &Error{Op: OpOpendir, Path: name, Err: err}
	}
	defer d.Close()

	for de := d.Readdir(); de != nil; de = d.Readdir() {
		if de.Name == "." || de.Name == ".." {
			continue
		}
		if err := w.entry(path.Join(guestPath, de.Name), archiveName(name, de.Name)); err != nil {
			return err
		}
	}
	if err := d.Err(); err != nil {
		return &Error{Op: OpReaddir, Path: name, Err: err}
	}
	return nil
}

func (w *walk) entry(guestPath, name string) error {
	err := w.visit(guestPath, name)
	if err != nil {
		logger.Error("error processing entry %s, aborting", name)
	}
	return err
}

func (w *walk) visit(guestPath, name string) error {
	e := &Entry{Path: name}
	if err := w.sys.Lstat(guestPath, &e.Stat); err != nil {
		return &Error{Op: OpLstat, Path: name, Err: err}
	}
	if err := w.copyXattrs(guestPath, e); err != nil {
		return err
	}

	switch e.Type() {
	case kernel.S_IFREG:
		if err := w.header(e); err != nil {
			return err
		}
		w.stats.Files++
		return w.copyFile(guestPath, name)
	case kernel.S_IFDIR:
		if err := w.header(e); err != nil {
			return err
		}
		w.stats.Dirs++
		return w.dir(guestPath, name)
	case kernel.S_IFLNK:
		if err := w.readlink(guestPath, e); err != nil {
			return err
		}
		if err := w.header(e); err != nil {
			return err
		}
		w.stats.Symlinks++
	case kernel.S_IFSOCK, kernel.S_IFBLK, kernel.S_IFCHR, kernel.S_IFIFO:
		err := w.header(e)
		if errors.Is(err, unix.EOPNOTSUPP) {
			logger.Warn("skipping %s: archive format cannot hold type %#o", name, e.Type())
			w.stats.Skipped++
			return nil
		}
		if err != nil {
			return err
		}
		w.stats.Special++
	default:
		logger.Warn("skipping %s: unsupported entry type %#o", name, e.Type())
		w.stats.Skipped++
	}
	return nil
}

func (w *walk) header(e *Entry) error {
	if err := w.out.WriteHeader(e); err != nil {
		return &Error{Op: OpHeader, Path: e.Path, Err: err}
	}
	logger.Trace("%s", e.Path)
	return nil
}

func (w *walk) copyFile(guestPath, name string) error {
	fd, err := w.sys.Open(guestPath, kernel.O_RDONLY, 0)
	if err != nil {
		return &Error{Op: OpOpen, Path: name, Err: err}
	}
	defer w.sys.Close(fd)

	for {
		n, err := w.sys.Read(fd, w.buf)
		if err != nil {
			return &Error{Op: OpRead, Path: name, Err: err}
		}
		if n <= 0 {
			return nil
		}
		wrote, err := w.out.Write(w.buf[:n])
		if err != nil {
			return &Error{Op: OpWrite, Path: name, Err: err}
		}
		if wrote != n {
			return &Error{Op: OpWrite, Path: name, Err: io.ErrShortWrite}
		}
		w.stats.Bytes += int64(n)
	}
}

func (w *walk) readlink(guestPath string, e *Entry) error {
	buf := make([]byte, unix.PathMax)
	n, err := w.sys.Readlink(guestPath, buf)
	if err != nil {
		return &Error{Op: OpReadlink, Path: e.Path, Err: err}
	}
	e.Linkname = string(buf[:n])
	return nil
}

// copyXattrs attaches every extended attribute of the link at guestPath
// to e. Both the name list and each value are sized first, then fetched.
func (w *walk) copyXattrs(guestPath string, e *Entry) error {
	fail := func(err error) error {
		return &Error{Op: OpXattr, Path: e.Path, Err: err}
	}

	size, err := w.sys.Llistxattr(guestPath, nil)
	if err != nil {
		return fail(err)
	}
	if size == 0 {
		return nil
	}
	list := make([]byte, size)
	n, err := w.sys.Llistxattr(guestPath, list)
	if err != nil {
		return fail(err)
	}

	for _, name := range bytes.Split(list[:n], []byte{0}) {
		if len(name) == 0 {
			continue
		}
		value, err := w.getxattr(guestPath, string(name))
		if err != nil {
			return fail(err)
		}
		if w.labels != nil && string(name) == labelXattr {
			label := bytes.TrimRight(value, "\x00")
			if _, err := fmt.Fprintf(w.labels, "%s %s\n", e.Path, label); err != nil {
				return &Error{Op: OpLabelFile, Path: e.Path, Err: err}
			}
		}
		e.Xattrs = append(e.Xattrs, Xattr{Name: string(name), Value: value})
	}
	return nil
}

func (w *walk) getxattr(guestPath, name string) ([]byte, error) {
	size, err := w.sys.Lgetxattr(guestPath, name, nil)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return []byte{}, nil
	}
	value := make([]byte, size)
	n, err := w.sys.Lgetxattr(guestPath, name, value)
	if err != nil {
		return nil, err
	}
	return value[:n], nil
}
