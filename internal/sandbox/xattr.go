package sandbox

import (
	"strings"

	"sandfs/internal/kernel"

	"golang.org/x/sys/unix"
)

const maxXattrSize = 64 << 10

var xattrNamespaces = []string{"security.", "system.", "trusted.", "user."}

func validXattrName(name string) error {
	if name == "" || len(name) > maxNameLen {
		return unix.ERANGE
	}
	for _, ns := range xattrNamespaces {
		if strings.HasPrefix(name, ns) && len(name) > len(ns) {
			return nil
		}
	}
	return unix.EOPNOTSUPP
}

// Setxattr sets an extended attribute on path, following symlinks.
func (k *Kernel) Setxattr(path, name string, value []byte, flags int) error {
	if err := validXattrName(name); err != nil {
		return err
	}
	if len(value) > maxXattrSize {
		return unix.E2BIG
	}
	return k.setattr(path, true, func(in *inode) error {
		_, exists := in.xattrs[name]
		switch {
		case flags&kernel.XATTR_CREATE != 0 && exists:
			return unix.EEXIST
		case flags&kernel.XATTR_REPLACE != 0 && !exists:
			return unix.ENODATA
		}
		if in.xattrs == nil {
			in.xattrs = make(map[string][]byte)
		}
		in.xattrs[name] = append([]byte(nil), value...)
		return nil
	})
}

// Removexattr removes an extended attribute from path.
func (k *Kernel) Removexattr(path, name string) error {
	if err := validXattrName(name); err != nil {
		return err
	}
	return k.setattr(path, true, func(in *inode) error {
		if _, ok := in.xattrs[name]; !ok {
			return unix.ENODATA
		}
		delete(in.xattrs, name)
		return nil
	})
}

// Getxattr reads an attribute, following symlinks.
func (k *Kernel) Getxattr(path, name string, buf []byte) (int, error) {
	return k.getxattr(path, name, buf, true)
}

// Lgetxattr reads an attribute of the link itself.
func (k *Kernel) Lgetxattr(path, name string, buf []byte) (int, error) {
	return k.getxattr(path, name, buf, false)
}

func (k *Kernel) getxattr(path, name string, buf []byte, follow bool) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.ready(); err != nil {
		return -1, err
	}
	if err := validXattrName(name); err != nil {
		return -1, err
	}
	in, err := k.resolve(path, follow)
	if err != nil {
		return -1, err
	}
	value, ok := in.xattrs[name]
	if !ok {
		return -1, unix.ENODATA
	}
	if len(buf) == 0 {
		return len(value), nil
	}
	if len(buf) < len(value) {
		return -1, unix.ERANGE
	}
	return copy(buf, value), nil
}

// Listxattr lists attribute names as NUL terminated strings.
func (k *Kernel) Listxattr(path string, buf []byte) (int, error) {
	return k.listxattr(path, buf, true)
}

// Llistxattr lists the attributes of the link itself.
func (k *Kernel) Llistxattr(path string, buf []byte) (int, error) {
	return k.listxattr(path, buf, false)
}

func (k *Kernel) listxattr(path string, buf []byte, follow bool) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.ready(); err != nil {
		return -1, err
	}
	in, err := k.resolve(path, follow)
	if err != nil {
		return -1, err
	}

	size := 0
	names := in.xattrNames()
	for _, name := range names {
		size += len(name) + 1
	}
	if len(buf) == 0 {
		return size, nil
	}
	if len(buf) < size {
		return -1, unix.ERANGE
	}
	n := 0
	for _, name := range names {
		n += copy(buf[n:], name)
		buf[n] = 0
		n++
	}
	return n, nil
}
