package sandbox

import (
	"io"

	"sandfs/internal/kernel"

	"golang.org/x/sys/unix"
)

// file is an entry of the descriptor table.
type file struct {
	in      *inode
	flags   int
	pos     int64
	dirents []kernel.Dirent
	dirPos  int
}

func (f *file) readable() bool {
	return f.flags&kernel.O_ACCMODE != kernel.O_WRONLY
}

func (f *file) writable() bool {
	mode := f.flags & kernel.O_ACCMODE
	return mode == kernel.O_WRONLY || mode == kernel.O_RDWR
}

func (k *Kernel) installFD(f *file) int {
	fd := 0
	for {
		if _, used := k.files[fd]; !used {
			break
		}
		fd++
	}
	f.in.opened++
	k.files[fd] = f
	return fd
}

func (k *Kernel) lookupFD(fd int) (*file, error) {
	f, ok := k.files[fd]
	if !ok {
		return nil, unix.EBADF
	}
	return f, nil
}

func (k *Kernel) clampIO(n int) int {
	if k.maxIO > 0 && n > k.maxIO {
		return k.maxIO
	}
	return n
}

func writeDenied(in *inode) error {
	if in.sb.readOnly {
		return unix.EROFS
	}
	return nil
}

// Open opens or creates path.
func (k *Kernel) Open(path string, flags int, mode uint32) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.ready(); err != nil {
		return -1, err
	}

	in, err := k.resolve(path, flags&kernel.O_NOFOLLOW == 0)
	switch {
	case err == unix.ENOENT && flags&kernel.O_CREAT != 0:
		dir, name, perr := k.resolveParent(path)
		if perr != nil {
			return -1, perr
		}
		if err := writeDenied(dir); err != nil {
			return -1, err
		}
		in = dir.sb.newInode(kernel.S_IFREG | mode&0o7777)
		dir.addChild(name, in)
	case err != nil:
		return -1, err
	case flags&kernel.O_CREAT != 0 && flags&kernel.O_EXCL != 0:
		return -1, unix.EEXIST
	}

	f := &file{in: in, flags: flags}
	if in.isSymlink() {
		return -1, unix.ELOOP
	}
	if flags&kernel.O_DIRECTORY != 0 && !in.isDir() {
		return -1, unix.ENOTDIR
	}
	if f.writable() {
		if in.isDir() {
			return -1, unix.EISDIR
		}
		if err := writeDenied(in); err != nil {
			return -1, err
		}
		if flags&kernel.O_TRUNC != 0 && in.isRegular() {
			if err := k.resize(in, 0); err != nil {
				return -1, err
			}
		}
	}
	return k.installFD(f), nil
}

// Close releases a descriptor.
func (k *Kernel) Close(fd int) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.ready(); err != nil {
		return err
	}
	f, err := k.lookupFD(fd)
	if err != nil {
		return err
	}
	f.in.opened--
	delete(k.files, fd)
	return nil
}

// Read reads from the descriptor's current position.
func (k *Kernel) Read(fd int, p []byte) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.ready(); err != nil {
		return -1, err
	}
	f, err := k.lookupFD(fd)
	if err != nil {
		return -1, err
	}
	n, err := k.readAt(f, p, f.pos)
	if n > 0 {
		f.pos += int64(n)
	}
	return n, err
}

// Pread reads at off without moving the position.
func (k *Kernel) Pread(fd int, p []byte, off int64) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.ready(); err != nil {
		return -1, err
	}
	if off < 0 {
		return -1, unix.EINVAL
	}
	f, err := k.lookupFD(fd)
	if err != nil {
		return -1, err
	}
	return k.readAt(f, p, off)
}

func (k *Kernel) readAt(f *file, p []byte, off int64) (int, error) {
	if !f.readable() {
		return -1, unix.EBADF
	}
	in := f.in
	if in.isDir() {
		return -1, unix.EISDIR
	}
	if off >= in.size {
		return 0, nil
	}
	p = p[:k.clampIO(len(p))]
	if remain := in.size - off; int64(len(p)) > remain {
		p = p[:remain]
	}

	if in.src != nil {
		n, err := in.src.ReadAt(p, off)
		if err != nil && err != io.EOF {
			return -1, unix.EIO
		}
		in.atime = now()
		return n, nil
	}
	n := copy(p, in.data[off:])
	in.atime = now()
	return n, nil
}

// Pwrite writes at off without moving the position.
func (k *Kernel) Pwrite(fd int, p []byte, off int64) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.ready(); err != nil {
		return -1, err
	}
	if off < 0 {
		return -1, unix.EINVAL
	}
	f, err := k.lookupFD(fd)
	if err != nil {
		return -1, err
	}
	if !f.writable() {
		return -1, unix.EBADF
	}
	in := f.in
	if err := writeDenied(in); err != nil {
		return -1, err
	}
	if f.flags&kernel.O_APPEND != 0 {
		off = in.size
	}

	p = p[:k.clampIO(len(p))]
	end := off + int64(len(p))
	if end > in.size {
		if err := k.resize(in, end); err != nil {
			return -1, err
		}
	}
	n := copy(in.data[off:], p)
	in.touchModify()
	return n, nil
}

// resize grows or shrinks in-memory file data, charging the difference.
func (k *Kernel) resize(in *inode, size int64) error {
	if in.src != nil {
		return unix.EROFS
	}
	if err := k.charge(in.sb, size-int64(len(in.data))); err != nil {
		return err
	}
	if size <= int64(cap(in.data)) {
		old := int64(len(in.data))
		in.data = in.data[:size]
		for i := old; i < size; i++ {
			in.data[i] = 0
		}
	} else {
		grown := make([]byte, size)
		copy(grown, in.data)
		in.data = grown
	}
	in.size = size
	in.touchModify()
	return nil
}

// Getdents64 fills buf with linux_dirent64 records.
func (k *Kernel) Getdents64(fd int, buf []byte) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.ready(); err != nil {
		return -1, err
	}
	f, err := k.lookupFD(fd)
	if err != nil {
		return -1, err
	}
	dir := f.in
	if !dir.isDir() {
		return -1, unix.ENOTDIR
	}

	if f.dirents == nil {
		parent := k.parentOf(dir)
		f.dirents = append(f.dirents,
			kernel.Dirent{Ino: dir.ino, Type: kernel.DT_DIR, Name: "."},
			kernel.Dirent{Ino: parent.ino, Type: kernel.DT_DIR, Name: ".."})
		for _, de := range dir.entries {
			target := cross(de.inode)
			f.dirents = append(f.dirents, kernel.Dirent{
				Ino:  target.ino,
				Type: target.dirType(),
				Name: de.name,
			})
		}
		for i := range f.dirents {
			f.dirents[i].Off = int64(i + 1)
		}
	}

	n := 0
	for f.dirPos < len(f.dirents) {
		used := kernel.PutDirent(buf[n:], f.dirents[f.dirPos])
		if used == 0 {
			if n == 0 {
				return -1, unix.EINVAL
			}
			break
		}
		n += used
		f.dirPos++
	}
	dir.atime = now()
	return n, nil
}

// Fstat fills st for an open descriptor.
func (k *Kernel) Fstat(fd int, st *kernel.Stat) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.ready(); err != nil {
		return err
	}
	f, err := k.lookupFD(fd)
	if err != nil {
		return err
	}
	f.in.stat(st)
	return nil
}

// Fsync flushes a file and its metadata to the device.
func (k *Kernel) Fsync(fd int) error {
	return k.sync(fd)
}

// Fdatasync flushes file data to the device.
func (k *Kernel) Fdatasync(fd int) error {
	return k.sync(fd)
}

func (k *Kernel) sync(fd int) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.ready(); err != nil {
		return err
	}
	if _, err := k.lookupFD(fd); err != nil {
		return err
	}
	return nil
}

// Fallocate supports plain allocation (mode 0) of in-memory files.
func (k *Kernel) Fallocate(fd int, mode uint32, off, length int64) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.ready(); err != nil {
		return err
	}
	if off < 0 || length <= 0 {
		return unix.EINVAL
	}
	f, err := k.lookupFD(fd)
	if err != nil {
		return err
	}
	if mode != 0 {
		return unix.EOPNOTSUPP
	}
	if !f.writable() {
		return unix.EBADF
	}
	if !f.in.isRegular() {
		return unix.ENODEV
	}
	if err := writeDenied(f.in); err != nil {
		return err
	}
	if end := off + length; end > f.in.size {
		return k.resize(f.in, end)
	}
	return nil
}

// Lstat fills st without following a final symlink.
func (k *Kernel) Lstat(path string, st *kernel.Stat) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.ready(); err != nil {
		return err
	}
	in, err := k.resolve(path, false)
	if err != nil {
		return err
	}
	in.stat(st)
	return nil
}

// Statfs describes the filesystem holding path.
func (k *Kernel) Statfs(path string, st *kernel.Statfs) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.ready(); err != nil {
		return err
	}
	in, err := k.resolve(path, true)
	if err != nil {
		return err
	}
	sb := in.sb
	bsize := sb.blockSize
	*st = kernel.Statfs{
		Bsize:   bsize,
		Frsize:  bsize,
		Namelen: maxNameLen,
		Fsid:    [2]int32{int32(sb.dev), int32(sb.dev >> 32)},
	}
	if sb.readOnly {
		st.Flags |= kernel.MS_RDONLY
	}
	if sb.totalBlocks != 0 {
		st.Blocks = sb.totalBlocks
		st.Files = sb.inodes
		return nil
	}
	free := uint64(k.memLimit-reservedMemory-k.memUsed) / uint64(bsize)
	st.Blocks = uint64(k.memLimit-reservedMemory) / uint64(bsize)
	st.Bfree = free
	st.Bavail = free
	st.Files = sb.inodes + free
	st.Ffree = free
	return nil
}

// Readlink copies the symlink target into buf without terminating it.
func (k *Kernel) Readlink(path string, buf []byte) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.ready(); err != nil {
		return -1, err
	}
	in, err := k.resolve(path, false)
	if err != nil {
		return -1, err
	}
	if !in.isSymlink() {
		return -1, unix.EINVAL
	}
	return copy(buf, in.target), nil
}

// Access checks that path exists and can be used in the given way.
func (k *Kernel) Access(path string, mode uint32) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.ready(); err != nil {
		return err
	}
	if mode&^(kernel.R_OK|kernel.W_OK|kernel.X_OK) != 0 {
		return unix.EINVAL
	}
	in, err := k.resolve(path, true)
	if err != nil {
		return err
	}
	if mode&kernel.W_OK != 0 && in.sb.readOnly {
		return unix.EROFS
	}
	if mode&kernel.X_OK != 0 && !in.isDir() && in.mode&0o111 == 0 {
		return unix.EACCES
	}
	return nil
}
