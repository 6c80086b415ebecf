package sandbox

import (
	"sandfs/internal/kernel"

	"golang.org/x/sys/unix"
)

// create adds a new node called by the final component of path.
func (k *Kernel) create(path string, mode uint32, setup func(*inode)) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.ready(); err != nil {
		return err
	}
	dir, name, err := k.resolveParent(path)
	if err != nil {
		return err
	}
	if dir.child(name) != nil {
		return unix.EEXIST
	}
	if err := writeDenied(dir); err != nil {
		return err
	}
	in := dir.sb.newInode(mode)
	if setup != nil {
		setup(in)
	}
	dir.addChild(name, in)
	return nil
}

// Mkdir creates a directory.
func (k *Kernel) Mkdir(path string, mode uint32) error {
	return k.create(path, kernel.S_IFDIR|mode&0o7777, nil)
}

// Mknod creates a regular file or special file.
func (k *Kernel) Mknod(path string, mode uint32, dev uint64) error {
	ftype := mode & kernel.S_IFMT
	switch ftype {
	case 0:
		ftype = kernel.S_IFREG
	case kernel.S_IFREG, kernel.S_IFCHR, kernel.S_IFBLK, kernel.S_IFIFO, kernel.S_IFSOCK:
	default:
		return unix.EINVAL
	}
	return k.create(path, ftype|mode&0o7777, func(in *inode) {
		if ftype == kernel.S_IFCHR || ftype == kernel.S_IFBLK {
			in.rdev = dev
		}
	})
}

// Symlink creates linkpath pointing at target.
func (k *Kernel) Symlink(target, linkpath string) error {
	if target == "" {
		return unix.ENOENT
	}
	return k.create(linkpath, kernel.S_IFLNK|0o777, func(in *inode) {
		in.target = target
		in.size = int64(len(target))
	})
}

// Unlink removes a non-directory name.
func (k *Kernel) Unlink(path string) error {
	return k.remove(path, false)
}

// Rmdir removes an empty directory.
func (k *Kernel) Rmdir(path string) error {
	return k.remove(path, true)
}

func (k *Kernel) remove(path string, wantDir bool) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.ready(); err != nil {
		return err
	}
	dir, name, err := k.resolveParent(path)
	if err != nil {
		return err
	}
	if name == "." {
		return unix.EINVAL
	}
	in := dir.child(name)
	if in == nil {
		return unix.ENOENT
	}
	if err := writeDenied(dir); err != nil {
		return err
	}

	switch {
	case wantDir && !in.isDir():
		return unix.ENOTDIR
	case !wantDir && in.isDir():
		return unix.EISDIR
	case wantDir && in.mounted != nil:
		return unix.EBUSY
	case wantDir && len(in.entries) > 0:
		return unix.ENOTEMPTY
	}

	dir.removeChild(name)
	k.dropLink(in)
	return nil
}

// dropLink releases a name of in, freeing its data with the last one.
func (k *Kernel) dropLink(in *inode) {
	if in.isDir() {
		in.nlink = 0
	} else {
		in.nlink--
	}
	in.touchChange()
	if in.nlink == 0 {
		in.sb.inodes--
		if in.opened == 0 && in.src == nil {
			_ = k.charge(in.sb, -int64(len(in.data)))
			in.data = nil
		}
	}
}

// Link creates newpath as another name of oldpath.
func (k *Kernel) Link(oldpath, newpath string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.ready(); err != nil {
		return err
	}
	in, err := k.resolve(oldpath, false)
	if err != nil {
		return err
	}
	if in.isDir() {
		return unix.EPERM
	}
	dir, name, err := k.resolveParent(newpath)
	if err != nil {
		return err
	}
	if dir.sb != in.sb {
		return unix.EXDEV
	}
	if dir.child(name) != nil {
		return unix.EEXIST
	}
	if err := writeDenied(dir); err != nil {
		return err
	}
	in.nlink++
	in.touchChange()
	dir.addChild(name, in)
	return nil
}

// Rename moves oldpath to newpath, replacing a compatible target.
func (k *Kernel) Rename(oldpath, newpath string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.ready(); err != nil {
		return err
	}
	odir, oname, err := k.resolveParent(oldpath)
	if err != nil {
		return err
	}
	ndir, nname, err := k.resolveParent(newpath)
	if err != nil {
		return err
	}
	in := odir.child(oname)
	if in == nil {
		return unix.ENOENT
	}
	if odir.sb != ndir.sb {
		return unix.EXDEV
	}
	if err := writeDenied(odir); err != nil {
		return err
	}
	if in.isDir() && k.isAncestor(in, ndir) {
		return unix.EINVAL
	}

	if existing := ndir.child(nname); existing != nil {
		if existing == in {
			return nil
		}
		switch {
		case in.isDir() && !existing.isDir():
			return unix.ENOTDIR
		case !in.isDir() && existing.isDir():
			return unix.EISDIR
		case existing.isDir() && len(existing.entries) > 0:
			return unix.ENOTEMPTY
		case existing.mounted != nil:
			return unix.EBUSY
		}
		ndir.removeChild(nname)
		k.dropLink(existing)
	}

	odir.removeChild(oname)
	ndir.addChild(nname, in)
	in.touchChange()
	return nil
}

// setattr applies fn to the inode at path.
func (k *Kernel) setattr(path string, follow bool, fn func(*inode) error) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.ready(); err != nil {
		return err
	}
	in, err := k.resolve(path, follow)
	if err != nil {
		return err
	}
	if err := writeDenied(in); err != nil {
		return err
	}
	if err := fn(in); err != nil {
		return err
	}
	in.touchChange()
	return nil
}

// Chmod replaces the permission bits of path.
func (k *Kernel) Chmod(path string, mode uint32) error {
	return k.setattr(path, true, func(in *inode) error {
		in.mode = in.fileType() | mode&0o7777
		return nil
	})
}

// Chown changes owner and group. A value of ^uint32(0) leaves it alone.
func (k *Kernel) Chown(path string, uid, gid uint32) error {
	return k.setattr(path, true, func(in *inode) error {
		if uid != ^uint32(0) {
			in.uid = uid
		}
		if gid != ^uint32(0) {
			in.gid = gid
		}
		return nil
	})
}

// Truncate sets the size of a regular file.
func (k *Kernel) Truncate(path string, size int64) error {
	if size < 0 {
		return unix.EINVAL
	}
	return k.setattr(path, true, func(in *inode) error {
		if in.isDir() {
			return unix.EISDIR
		}
		if !in.isRegular() {
			return unix.EINVAL
		}
		return k.resize(in, size)
	})
}

// Utimensat sets access and modification times. Only AT_FDCWD style
// lookups are supported; ts nil means now for both.
func (k *Kernel) Utimensat(dirfd int, path string, ts *[2]kernel.Timespec, flags int) error {
	if dirfd != kernel.AT_FDCWD && dirfd != -1 {
		return unix.EBADF
	}
	follow := flags&kernel.AT_SYMLINK_NOFOLLOW == 0
	return k.setattr(path, follow, func(in *inode) error {
		current := now()
		times := [2]kernel.Timespec{{Nsec: kernel.UTIME_NOW}, {Nsec: kernel.UTIME_NOW}}
		if ts != nil {
			times = *ts
		}
		for i, t := range times {
			if t.Nsec == kernel.UTIME_OMIT {
				continue
			}
			if t.Nsec == kernel.UTIME_NOW {
				t = current
			} else if t.Nsec < 0 || t.Nsec >= 1e9 {
				return unix.EINVAL
			}
			if i == 0 {
				in.atime = t
			} else {
				in.mtime = t
			}
		}
		return nil
	})
}
