package fs

import (
	"sandfs/internal/kernel"
	"sandfs/internal/xlat"

	"golang.org/x/sys/unix"
)

// FillFunc receives one directory entry. Returning true means the caller's
// buffer is full and enumeration should stop.
type FillFunc func(name string, st *kernel.Stat) bool

// Adapter turns host filesystem operations into guest kernel calls. Paths
// are relative to the guest root the session entered. Errors are the guest's
// unix.Errno values, unchanged.
//
// An Adapter is not safe for concurrent use.
type Adapter struct {
	sys     kernel.Syscalls
	handles *handleTable
}

// NewAdapter returns an adapter driving sys.
func NewAdapter(sys kernel.Syscalls) *Adapter {
	return &Adapter{sys: sys, handles: newHandleTable()}
}

// OpenHandles reports the number of live handle table entries.
func (a *Adapter) OpenHandles() int {
	return a.handles.len()
}

// Getattr stats path without following a final symlink.
func (a *Adapter) Getattr(path string, st *kernel.Stat) error {
	return a.sys.Lstat(path, st)
}

// Fgetattr stats an open file or directory handle.
func (a *Adapter) Fgetattr(h uint64, st *kernel.Stat) error {
	if fd, err := a.handles.file(h); err == nil {
		return a.sys.Fstat(fd, st)
	}
	dir, err := a.handles.dir(h)
	if err != nil {
		return err
	}
	return a.sys.Fstat(dir.Fd(), st)
}

// guestAccessMode maps host access-mode flags onto the guest's.
func guestAccessMode(flags int) (int, error) {
	switch flags & unix.O_ACCMODE {
	case unix.O_RDONLY:
		return kernel.O_RDONLY, nil
	case unix.O_WRONLY:
		return kernel.O_WRONLY, nil
	case unix.O_RDWR:
		return kernel.O_RDWR, nil
	}
	return 0, unix.EINVAL
}

func (a *Adapter) open(path string, flags int, create bool, mode uint32) (uint64, error) {
	gflags, err := guestAccessMode(flags)
	if err != nil {
		return 0, err
	}
	if create {
		gflags |= kernel.O_CREAT
	}
	fd, err := a.sys.Open(path, gflags, mode)
	if err != nil {
		return 0, err
	}
	return a.handles.add(&handle{kind: kindFile, fd: fd}), nil
}

// Open opens an existing file with the access mode of flags.
func (a *Adapter) Open(path string, flags int) (uint64, error) {
	return a.open(path, flags, false, 0)
}

// Create opens path, creating it with mode if it does not exist.
func (a *Adapter) Create(path string, flags int, mode uint32) (uint64, error) {
	return a.open(path, flags, true, mode)
}

// Read fills buf from offset off, looping over short guest reads. The
// result is the guest error if the last call failed, otherwise the number
// of bytes read, which may be short at end of file.
func (a *Adapter) Read(h uint64, buf []byte, off int64) (int, error) {
	fd, err := a.handles.file(h)
	if err != nil {
		return 0, err
	}
	done := 0
	for done < len(buf) {
		n, err := a.sys.Pread(fd, buf[done:], off+int64(done))
		if err != nil {
			return 0, err
		}
		if n <= 0 {
			break
		}
		done += n
	}
	return done, nil
}

// Write writes buf at offset off, looping over short guest writes.
func (a *Adapter) Write(h uint64, buf []byte, off int64) (int, error) {
	fd, err := a.handles.file(h)
	if err != nil {
		return 0, err
	}
	done := 0
	for done < len(buf) {
		n, err := a.sys.Pwrite(fd, buf[done:], off+int64(done))
		if err != nil {
			return 0, err
		}
		if n <= 0 {
			break
		}
		done += n
	}
	return done, nil
}

// Flush has nothing to do; data reaches the guest on every write.
func (a *Adapter) Flush(h uint64) error {
	_, err := a.handles.file(h)
	return err
}

// Release closes a file handle.
func (a *Adapter) Release(h uint64) error {
	fd, err := a.handles.file(h)
	if err != nil {
		return err
	}
	a.handles.remove(h)
	return a.sys.Close(fd)
}

// Opendir opens a directory cursor.
func (a *Adapter) Opendir(path string) (uint64, error) {
	dir, err := kernel.Opendir(a.sys, path)
	if err != nil {
		return 0, err
	}
	return a.handles.add(&handle{kind: kindDir, dir: dir}), nil
}

// Readdir advances the cursor of h, passing each entry to fill with a stat
// record holding only the inode number and the file type. It stops early
// when fill reports a full buffer. When the cursor runs out because of an
// error, that error is returned.
func (a *Adapter) Readdir(h uint64, fill FillFunc) error {
	dir, err := a.handles.dir(h)
	if err != nil {
		return err
	}
	for {
		de := dir.Readdir()
		if de == nil {
			return dir.Err()
		}
		st := kernel.Stat{Ino: de.Ino, Mode: xlat.DirentMode(de.Type)}
		if fill(de.Name, &st) {
			return nil
		}
	}
}

// Rewinddir moves the cursor of h back to the first entry.
func (a *Adapter) Rewinddir(h uint64) error {
	dir, err := a.handles.dir(h)
	if err != nil {
		return err
	}
	return dir.Rewind()
}

// Releasedir closes a directory cursor.
func (a *Adapter) Releasedir(h uint64) error {
	dir, err := a.handles.dir(h)
	if err != nil {
		return err
	}
	a.handles.remove(h)
	return dir.Close()
}

// Fsync flushes an open file, data only when datasync is set.
func (a *Adapter) Fsync(h uint64, datasync bool) error {
	fd, err := a.handles.file(h)
	if err != nil {
		return err
	}
	if datasync {
		return a.sys.Fdatasync(fd)
	}
	return a.sys.Fsync(fd)
}

// Fsyncdir flushes the directory underlying an open cursor.
func (a *Adapter) Fsyncdir(h uint64, datasync bool) error {
	dir, err := a.handles.dir(h)
	if err != nil {
		return err
	}
	if datasync {
		return a.sys.Fdatasync(dir.Fd())
	}
	return a.sys.Fsync(dir.Fd())
}

// SyncPath flushes path through a short-lived handle.
func (a *Adapter) SyncPath(path string, datasync, isDir bool) error {
	if isDir {
		h, err := a.Opendir(path)
		if err != nil {
			return err
		}
		defer a.Releasedir(h)
		return a.Fsyncdir(h, datasync)
	}
	h, err := a.Open(path, unix.O_RDONLY)
	if err != nil {
		return err
	}
	defer a.Release(h)
	return a.Fsync(h, datasync)
}

// Fallocate reserves space for an open file.
func (a *Adapter) Fallocate(h uint64, mode uint32, off, length int64) error {
	fd, err := a.handles.file(h)
	if err != nil {
		return err
	}
	return a.sys.Fallocate(fd, mode, off, length)
}

// Statfs describes the filesystem holding path.
func (a *Adapter) Statfs(path string, st *kernel.Statfs) error {
	return a.sys.Statfs(path, st)
}

// Readlink stores the NUL terminated target of path in buf, truncating it
// when it does not fit.
func (a *Adapter) Readlink(path string, buf []byte) error {
	if len(buf) == 0 {
		return unix.EINVAL
	}
	n, err := a.sys.Readlink(path, buf)
	if err != nil {
		return err
	}
	if n == len(buf) {
		n--
	}
	buf[n] = 0
	return nil
}

// Utimens sets the access and modification times of path. A final
// symlink is changed itself, not its target.
func (a *Adapter) Utimens(path string, atime, mtime kernel.Timespec) error {
	ts := [2]kernel.Timespec{atime, mtime}
	return a.sys.Utimensat(kernel.AT_FDCWD, path, &ts, kernel.AT_SYMLINK_NOFOLLOW)
}

// Access checks path against an access mask.
func (a *Adapter) Access(path string, mask uint32) error {
	return a.sys.Access(path, mask)
}

// Mkdir creates a directory.
func (a *Adapter) Mkdir(path string, mode uint32) error {
	return a.sys.Mkdir(path, mode)
}

// Mknod creates a file node.
func (a *Adapter) Mknod(path string, mode uint32, dev uint64) error {
	return a.sys.Mknod(path, mode, dev)
}

// Symlink creates link pointing at target.
func (a *Adapter) Symlink(target, link string) error {
	return a.sys.Symlink(target, link)
}

// Link creates to as a hard link of from.
func (a *Adapter) Link(from, to string) error {
	return a.sys.Link(from, to)
}

// Rename moves from to to.
func (a *Adapter) Rename(from, to string) error {
	return a.sys.Rename(from, to)
}

// Unlink removes a file.
func (a *Adapter) Unlink(path string) error {
	return a.sys.Unlink(path)
}

// Rmdir removes an empty directory.
func (a *Adapter) Rmdir(path string) error {
	return a.sys.Rmdir(path)
}

// Chmod changes permission bits.
func (a *Adapter) Chmod(path string, mode uint32) error {
	return a.sys.Chmod(path, mode)
}

// Chown changes ownership.
func (a *Adapter) Chown(path string, uid, gid uint32) error {
	return a.sys.Chown(path, uid, gid)
}

// Truncate sets the size of path.
func (a *Adapter) Truncate(path string, size int64) error {
	return a.sys.Truncate(path, size)
}

// Setxattr sets an extended attribute.
func (a *Adapter) Setxattr(path, name string, value []byte, flags int) error {
	return a.sys.Setxattr(path, name, value, flags)
}

// Getxattr reads an extended attribute. An empty buf asks for the size.
func (a *Adapter) Getxattr(path, name string, buf []byte) (int, error) {
	return a.sys.Getxattr(path, name, buf)
}

// Listxattr lists extended attribute names. An empty buf asks for the size.
func (a *Adapter) Listxattr(path string, buf []byte) (int, error) {
	return a.sys.Listxattr(path, buf)
}

// Removexattr removes an extended attribute.
func (a *Adapter) Removexattr(path, name string) error {
	return a.sys.Removexattr(path, name)
}
