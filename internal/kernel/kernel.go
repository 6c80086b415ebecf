package kernel

import "io"

// DiskID identifies a block device registered with the guest.
type DiskID uint32

// Disk is the host side of a virtual disk handed to the guest.
type Disk interface {
	io.ReaderAt
	io.WriterAt
	Size() (int64, error)
	Sync() error
}

// Kernel is a guest kernel instance. Only one is expected per process.
type Kernel interface {
	// Start boots the kernel with a memory budget in megabytes.
	Start(memoryMB int) error
	// Halt stops the kernel and releases everything it holds.
	Halt() error

	DiskAdd(d Disk) (DiskID, error)
	DiskRemove(id DiskID) error

	// MountDev mounts partition part of disk id (0 for the whole disk)
	// using the named filesystem driver and returns the mount point.
	MountDev(id DiskID, part int, fsType string, flags uint32, opts string) (string, error)
	UmountDev(id DiskID, part int, flags int) error

	Syscalls
}

// Syscalls is the path-based system call surface of a running guest.
// Buffer-filling calls follow the usual convention: a nil or empty buffer
// asks for the required size, a too small one fails with ERANGE.
type Syscalls interface {
	Chroot(path string) error
	Chdir(path string) error

	Open(path string, flags int, mode uint32) (int, error)
	Close(fd int) error
	Read(fd int, p []byte) (int, error)
	Pread(fd int, p []byte, off int64) (int, error)
	Pwrite(fd int, p []byte, off int64) (int, error)
	Getdents64(fd int, buf []byte) (int, error)
	Fstat(fd int, st *Stat) error
	Fsync(fd int) error
	Fdatasync(fd int) error
	Fallocate(fd int, mode uint32, off, length int64) error

	Lstat(path string, st *Stat) error
	Statfs(path string, st *Statfs) error
	Readlink(path string, buf []byte) (int, error)
	Access(path string, mode uint32) error

	Mknod(path string, mode uint32, dev uint64) error
	Mkdir(path string, mode uint32) error
	Unlink(path string) error
	Rmdir(path string) error
	Symlink(target, linkpath string) error
	Rename(oldpath, newpath string) error
	Link(oldpath, newpath string) error

	Chmod(path string, mode uint32) error
	Chown(path string, uid, gid uint32) error
	Truncate(path string, size int64) error
	Utimensat(dirfd int, path string, ts *[2]Timespec, flags int) error

	Setxattr(path, name string, value []byte, flags int) error
	Getxattr(path, name string, buf []byte) (int, error)
	Listxattr(path string, buf []byte) (int, error)
	Removexattr(path, name string) error
	Lgetxattr(path, name string, buf []byte) (int, error)
	Llistxattr(path string, buf []byte) (int, error)
}
