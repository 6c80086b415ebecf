package sandbox

import (
	"io"
	"sort"
	"strings"
	"time"

	"sandfs/internal/kernel"

	"golang.org/x/sys/unix"
)

const maxSymlinkDepth = 40

// superblock is one mounted filesystem instance.
type superblock struct {
	fsType    string
	dev       uint64
	readOnly  bool
	root      *inode
	coveredOn *inode // directory this filesystem is mounted over
	nextIno   uint64
	inodes    uint64
	blockSize int64
	// totalBlocks is fixed for image-backed filesystems; zero means the
	// kernel memory budget bounds the filesystem.
	totalBlocks uint64
	memUsed     int64
	release     func() error
}

// contentSource serves the data of a file that lives on the device rather
// than in kernel memory.
type contentSource interface {
	io.ReaderAt
}

type dentry struct {
	name  string
	inode *inode
}

// inode is a node of the in-kernel tree.
type inode struct {
	sb      *superblock
	ino     uint64
	mode    uint32
	nlink   uint32
	uid     uint32
	gid     uint32
	rdev    uint64
	size    int64
	atime   kernel.Timespec
	mtime   kernel.Timespec
	ctime   kernel.Timespec
	data    []byte
	src     contentSource
	target  string
	parent  *inode
	entries []dentry
	xattrs  map[string][]byte
	mounted *superblock
	opened  int
}

func now() kernel.Timespec {
	t := time.Now()
	return kernel.Timespec{Sec: t.Unix(), Nsec: int64(t.Nanosecond())}
}

func (sb *superblock) newInode(mode uint32) *inode {
	sb.nextIno++
	sb.inodes++
	ts := now()
	in := &inode{
		sb:    sb,
		ino:   sb.nextIno,
		mode:  mode,
		nlink: 1,
		atime: ts,
		mtime: ts,
		ctime: ts,
	}
	if in.isDir() {
		in.nlink = 2
	}
	return in
}

func (in *inode) fileType() uint32 {
	return in.mode & kernel.S_IFMT
}

func (in *inode) isDir() bool {
	return in.fileType() == kernel.S_IFDIR
}

func (in *inode) isSymlink() bool {
	return in.fileType() == kernel.S_IFLNK
}

func (in *inode) isRegular() bool {
	return in.fileType() == kernel.S_IFREG
}

func (in *inode) child(name string) *inode {
	for _, de := range in.entries {
		if de.name == name {
			return de.inode
		}
	}
	return nil
}

func (in *inode) addChild(name string, child *inode) {
	in.entries = append(in.entries, dentry{name: name, inode: child})
	if child.isDir() {
		child.parent = in
		in.nlink++
	}
	in.touchModify()
}

func (in *inode) removeChild(name string) *inode {
	for i, de := range in.entries {
		if de.name == name {
			in.entries = append(in.entries[:i], in.entries[i+1:]...)
			if de.inode.isDir() {
				in.nlink--
			}
			in.touchModify()
			return de.inode
		}
	}
	return nil
}

func (in *inode) touchModify() {
	ts := now()
	in.mtime = ts
	in.ctime = ts
}

func (in *inode) touchChange() {
	in.ctime = now()
}

// dirType returns the linux_dirent64 type of the inode.
func (in *inode) dirType() uint8 {
	return uint8(in.fileType() >> 12)
}

func (in *inode) xattrNames() []string {
	names := make([]string, 0, len(in.xattrs))
	for name := range in.xattrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (in *inode) stat(st *kernel.Stat) {
	*st = kernel.Stat{
		Dev:       in.sb.dev,
		Ino:       in.ino,
		Mode:      in.mode,
		Nlink:     in.nlink,
		Uid:       in.uid,
		Gid:       in.gid,
		Rdev:      in.rdev,
		Size:      in.size,
		Blksize:   int32(in.sb.blockSize),
		Blocks:    (in.size + 511) / 512,
		Atime:     in.atime.Sec,
		AtimeNsec: uint64(in.atime.Nsec),
		Mtime:     in.mtime.Sec,
		MtimeNsec: uint64(in.mtime.Nsec),
		Ctime:     in.ctime.Sec,
		CtimeNsec: uint64(in.ctime.Nsec),
	}
}

// cross descends through any filesystem mounted over in.
func cross(in *inode) *inode {
	for in.mounted != nil {
		in = in.mounted.root
	}
	return in
}

// parentOf returns the directory ".." leads to, stopping at root.
func (k *Kernel) parentOf(in *inode) *inode {
	for {
		if in == k.root {
			return in
		}
		if in == in.sb.root && in.sb.coveredOn != nil {
			in = in.sb.coveredOn
			continue
		}
		if in.parent == nil {
			return in
		}
		return cross(in.parent)
	}
}

func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" && p != "." {
			out = append(out, p)
		}
	}
	return out
}

// resolve walks path from the current root or working directory.
func (k *Kernel) resolve(path string, followLast bool) (*inode, error) {
	if path == "" {
		return nil, unix.ENOENT
	}
	return k.walk(k.cwd, path, followLast, 0)
}

func (k *Kernel) walk(start *inode, path string, followLast bool, depth int) (*inode, error) {
	cur := cross(start)
	if strings.HasPrefix(path, "/") {
		cur = cross(k.root)
	}

	comps := splitPath(path)
	for i, name := range comps {
		if !cur.isDir() {
			return nil, unix.ENOTDIR
		}
		if name == ".." {
			cur = k.parentOf(cur)
			continue
		}
		if len(name) > maxNameLen {
			return nil, unix.ENAMETOOLONG
		}

		next := cur.child(name)
		if next == nil {
			return nil, unix.ENOENT
		}
		last := i == len(comps)-1
		if next.isSymlink() && (!last || followLast) {
			if depth >= maxSymlinkDepth {
				return nil, unix.ELOOP
			}
			var err error
			next, err = k.walk(cur, next.target, true, depth+1)
			if err != nil {
				return nil, err
			}
		}
		cur = cross(next)
	}
	return cur, nil
}

// resolveParent resolves everything but the final component of path.
func (k *Kernel) resolveParent(path string) (*inode, string, error) {
	comps := splitPath(path)
	if len(comps) == 0 {
		return nil, "", unix.EEXIST
	}
	name := comps[len(comps)-1]
	if name == ".." {
		return nil, "", unix.EINVAL
	}
	if len(name) > maxNameLen {
		return nil, "", unix.ENAMETOOLONG
	}

	dirPath := strings.Join(comps[:len(comps)-1], "/")
	start := k.cwd
	if strings.HasPrefix(path, "/") {
		start = k.root
		dirPath = "/" + dirPath
	}
	if dirPath == "" {
		return cross(start), name, nil
	}
	dir, err := k.walk(start, dirPath, true, 0)
	if err != nil {
		return nil, "", err
	}
	if !dir.isDir() {
		return nil, "", unix.ENOTDIR
	}
	return dir, name, nil
}

// isAncestor reports whether a is b or one of b's ancestors.
func (k *Kernel) isAncestor(a, b *inode) bool {
	for {
		if a == b {
			return true
		}
		next := k.parentOf(b)
		if next == b {
			return false
		}
		b = next
	}
}
