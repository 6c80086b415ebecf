// Package kernel describes the surface of the guest kernel: the records it
// hands back across the ABI boundary, its flag values, and the lifecycle and
// path-based system calls the rest of sandfs drives.
//
// Errors returned by a Kernel are unix.Errno values.
package kernel

// Open flags, as understood by the guest.
const (
	O_RDONLY    = 0o0
	O_WRONLY    = 0o1
	O_RDWR      = 0o2
	O_ACCMODE   = 0o3
	O_CREAT     = 0o100
	O_EXCL      = 0o200
	O_TRUNC     = 0o1000
	O_APPEND    = 0o2000
	O_DIRECTORY = 0o200000
	O_NOFOLLOW  = 0o400000
)

// File type bits of Stat.Mode.
const (
	S_IFMT   = 0o170000
	S_IFSOCK = 0o140000
	S_IFLNK  = 0o120000
	S_IFREG  = 0o100000
	S_IFBLK  = 0o060000
	S_IFDIR  = 0o040000
	S_IFCHR  = 0o020000
	S_IFIFO  = 0o010000
)

// Directory entry types. Shifted left by 12 they give the S_IF* value.
const (
	DT_UNKNOWN = 0
	DT_FIFO    = 1
	DT_CHR     = 2
	DT_DIR     = 4
	DT_BLK     = 6
	DT_REG     = 8
	DT_LNK     = 10
	DT_SOCK    = 12
)

// Mount flags.
const (
	MS_RDONLY = 1
)

// *at() helpers.
const (
	AT_FDCWD            = -100
	AT_SYMLINK_NOFOLLOW = 0x100
)

// Special Timespec.Nsec values for Utimensat.
const (
	UTIME_NOW  = (1 << 30) - 1
	UTIME_OMIT = (1 << 30) - 2
)

// Setxattr flags.
const (
	XATTR_CREATE  = 1
	XATTR_REPLACE = 2
)

// Access modes.
const (
	F_OK = 0
	X_OK = 1
	W_OK = 2
	R_OK = 4
)

// Timespec is the guest's time record.
type Timespec struct {
	Sec  int64
	Nsec int64
}

// Stat is the guest's file status record.
type Stat struct {
	Dev       uint64
	Ino       uint64
	Mode      uint32
	Nlink     uint32
	Uid       uint32
	Gid       uint32
	Rdev      uint64
	Size      int64
	Blksize   int32
	Blocks    int64
	Atime     int64
	AtimeNsec uint64
	Mtime     int64
	MtimeNsec uint64
	Ctime     int64
	CtimeNsec uint64
}

// Statfs is the guest's filesystem status record.
type Statfs struct {
	Type    int64
	Bsize   int64
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	Fsid    [2]int32
	Namelen int64
	Frsize  int64
	Flags   int64
}

// Dirent is one decoded linux_dirent64 record.
type Dirent struct {
	Ino  uint64
	Off  int64
	Type uint8
	Name string
}
