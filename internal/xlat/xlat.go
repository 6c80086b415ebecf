// Package xlat converts guest kernel records into their host equivalents:
// FUSE attributes and filesystem status, os.FileMode values, and tar
// headers.
package xlat

import (
	"archive/tar"
	"os"
	"time"

	"sandfs/internal/kernel"

	"bazil.org/fuse"
	"golang.org/x/sys/unix"
)

// FileMode converts a guest st_mode into an os.FileMode.
func FileMode(mode uint32) os.FileMode {
	m := os.FileMode(mode & 0o777)
	switch mode & kernel.S_IFMT {
	case kernel.S_IFBLK:
		m |= os.ModeDevice
	case kernel.S_IFCHR:
		m |= os.ModeDevice | os.ModeCharDevice
	case kernel.S_IFDIR:
		m |= os.ModeDir
	case kernel.S_IFIFO:
		m |= os.ModeNamedPipe
	case kernel.S_IFLNK:
		m |= os.ModeSymlink
	case kernel.S_IFSOCK:
		m |= os.ModeSocket
	}
	if mode&unix.S_ISUID != 0 {
		m |= os.ModeSetuid
	}
	if mode&unix.S_ISGID != 0 {
		m |= os.ModeSetgid
	}
	if mode&unix.S_ISVTX != 0 {
		m |= os.ModeSticky
	}
	return m
}

// UnixMode is the inverse of FileMode.
func UnixMode(m os.FileMode) uint32 {
	mode := uint32(m.Perm())
	switch {
	case m&os.ModeDir != 0:
		mode |= kernel.S_IFDIR
	case m&os.ModeSymlink != 0:
		mode |= kernel.S_IFLNK
	case m&os.ModeNamedPipe != 0:
		mode |= kernel.S_IFIFO
	case m&os.ModeSocket != 0:
		mode |= kernel.S_IFSOCK
	case m&os.ModeCharDevice != 0:
		mode |= kernel.S_IFCHR
	case m&os.ModeDevice != 0:
		mode |= kernel.S_IFBLK
	default:
		mode |= kernel.S_IFREG
	}
	if m&os.ModeSetuid != 0 {
		mode |= unix.S_ISUID
	}
	if m&os.ModeSetgid != 0 {
		mode |= unix.S_ISGID
	}
	if m&os.ModeSticky != 0 {
		mode |= unix.S_ISVTX
	}
	return mode
}

// DirentMode synthesizes a type-only st_mode from a directory entry type.
func DirentMode(dtype uint8) uint32 {
	return uint32(dtype) << 12
}

// DirentType maps a guest d_type onto the FUSE enumeration.
func DirentType(dtype uint8) fuse.DirentType {
	// The FUSE values are the Linux d_type values.
	return fuse.DirentType(dtype)
}

// Time converts a guest seconds/nanoseconds pair.
func Time(sec int64, nsec uint64) time.Time {
	return time.Unix(sec, int64(nsec))
}

// Timespec converts t for Utimensat. The zero time maps to UTIME_OMIT.
func Timespec(t time.Time) kernel.Timespec {
	if t.IsZero() {
		return kernel.Timespec{Nsec: kernel.UTIME_OMIT}
	}
	return kernel.Timespec{Sec: t.Unix(), Nsec: int64(t.Nanosecond())}
}

// Attr fills a FUSE attribute record from a guest stat.
func Attr(st *kernel.Stat, a *fuse.Attr) {
	a.Inode = st.Ino
	a.Size = uint64(st.Size)
	a.Blocks = uint64(st.Blocks)
	a.Atime = Time(st.Atime, st.AtimeNsec)
	a.Mtime = Time(st.Mtime, st.MtimeNsec)
	a.Ctime = Time(st.Ctime, st.CtimeNsec)
	a.Mode = FileMode(st.Mode)
	a.Nlink = st.Nlink
	a.Uid = st.Uid
	a.Gid = st.Gid
	a.Rdev = uint32(st.Rdev)
	a.BlockSize = uint32(st.Blksize)
}

// Statfs fills a FUSE statfs response. The response has no favail; the
// host kernel reports Ffree for it.
func Statfs(st *kernel.Statfs, resp *fuse.StatfsResponse) {
	resp.Blocks = st.Blocks
	resp.Bfree = st.Bfree
	resp.Bavail = st.Bavail
	resp.Files = st.Files
	resp.Ffree = st.Ffree
	resp.Bsize = uint32(st.Bsize)
	resp.Namelen = uint32(st.Namelen)
	resp.Frsize = uint32(st.Frsize)
}

// TarType returns the tar type flag for a guest st_mode, and false for
// types an archive cannot carry.
func TarType(mode uint32) (byte, bool) {
	switch mode & kernel.S_IFMT {
	case kernel.S_IFREG:
		return tar.TypeReg, true
	case kernel.S_IFDIR:
		return tar.TypeDir, true
	case kernel.S_IFLNK:
		return tar.TypeSymlink, true
	case kernel.S_IFCHR:
		return tar.TypeChar, true
	case kernel.S_IFBLK:
		return tar.TypeBlock, true
	case kernel.S_IFIFO:
		return tar.TypeFifo, true
	}
	return 0, false
}

// TarHeader builds the archive header for name. Times are truncated to
// whole seconds and only the modification time is recorded, so the header
// stays in USTAR form unless a long name or extended attributes force PAX.
// Sockets have no tar type and come back with a zero Typeflag.
func TarHeader(name string, st *kernel.Stat) *tar.Header {
	typ, _ := TarType(st.Mode)
	hdr := &tar.Header{
		Typeflag: typ,
		Name:     name,
		Mode:     int64(st.Mode & 0o7777),
		Uid:      int(st.Uid),
		Gid:      int(st.Gid),
		ModTime:  time.Unix(st.Mtime, 0),
	}
	switch typ {
	case tar.TypeReg:
		hdr.Size = st.Size
	case tar.TypeDir:
		if len(name) > 0 && name[len(name)-1] != '/' {
			hdr.Name += "/"
		}
	case tar.TypeChar, tar.TypeBlock:
		hdr.Devmajor = int64(unix.Major(st.Rdev))
		hdr.Devminor = int64(unix.Minor(st.Rdev))
	}
	return hdr
}
