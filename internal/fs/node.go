package fs

import (
	"context"
	"path"

	"sandfs/internal/kernel"
	"sandfs/internal/xlat"

	"bazil.org/fuse"
	"golang.org/x/sys/unix"
)

// node carries what every node type shares: its guest path and file type.
type node struct {
	fs    *FS
	path  string
	ftype uint32
}

func (n *node) base() *node {
	return n
}

func (n *node) child(name string) string {
	return path.Join(n.path, name)
}

// attr fills a from a fresh guest lstat. Callers hold n.fs.mu.
func (n *node) attr(a *fuse.Attr) error {
	var st kernel.Stat
	if err := n.fs.ad.Getattr(n.path, &st); err != nil {
		return fail(OpGetattr, n.path, err)
	}
	xlat.Attr(&st, a)
	return nil
}

// Attr implements the Node interface, returning the node's attributes.
func (n *node) Attr(_ context.Context, a *fuse.Attr) error {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	return n.attr(a)
}

// Setattr implements the NodeSetattrer interface.
func (n *node) Setattr(_ context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()

	ad := n.fs.ad
	valid := req.Valid
	if valid.Mode() {
		if err := ad.Chmod(n.path, xlat.UnixMode(req.Mode)&0o7777); err != nil {
			return fail(OpSetattr, n.path, err)
		}
	}
	if valid.Uid() || valid.Gid() {
		uid, gid := ^uint32(0), ^uint32(0)
		if valid.Uid() {
			uid = req.Uid
		}
		if valid.Gid() {
			gid = req.Gid
		}
		if err := ad.Chown(n.path, uid, gid); err != nil {
			return fail(OpSetattr, n.path, err)
		}
	}
	if valid.Size() {
		if err := ad.Truncate(n.path, int64(req.Size)); err != nil {
			return fail(OpSetattr, n.path, err)
		}
	}
	if valid.Atime() || valid.Mtime() || valid.AtimeNow() || valid.MtimeNow() {
		atime := kernel.Timespec{Nsec: kernel.UTIME_OMIT}
		mtime := kernel.Timespec{Nsec: kernel.UTIME_OMIT}
		switch {
		case valid.AtimeNow():
			atime.Nsec = kernel.UTIME_NOW
		case valid.Atime():
			atime = xlat.Timespec(req.Atime)
		}
		switch {
		case valid.MtimeNow():
			mtime.Nsec = kernel.UTIME_NOW
		case valid.Mtime():
			mtime = xlat.Timespec(req.Mtime)
		}
		if err := ad.Utimens(n.path, atime, mtime); err != nil {
			return fail(OpSetattr, n.path, err)
		}
	}
	return n.attr(&resp.Attr)
}

// Access implements the NodeAccesser interface.
func (n *node) Access(_ context.Context, req *fuse.AccessRequest) error {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	return fail(OpAccess, n.path, n.fs.ad.Access(n.path, req.Mask))
}

// Fsync implements the NodeFsyncer interface. FUSE routes fsync to the
// node, so the flush goes through a handle opened for the purpose.
func (n *node) Fsync(_ context.Context, req *fuse.FsyncRequest) error {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	datasync := req.Flags&1 != 0
	return fail(OpFsync, n.path, n.fs.ad.SyncPath(n.path, datasync, n.ftype == kernel.S_IFDIR))
}

// Getxattr implements the NodeGetxattrer interface.
func (n *node) Getxattr(_ context.Context, req *fuse.GetxattrRequest, resp *fuse.GetxattrResponse) error {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()

	size, err := n.fs.ad.Getxattr(n.path, req.Name, nil)
	if err != nil {
		return fail(OpXattr, n.path, err)
	}
	if req.Size != 0 && uint32(size) > req.Size {
		return fuse.Errno(unix.ERANGE)
	}
	buf := make([]byte, size)
	if size > 0 {
		if size, err = n.fs.ad.Getxattr(n.path, req.Name, buf); err != nil {
			return fail(OpXattr, n.path, err)
		}
	}
	resp.Xattr = buf[:size]
	return nil
}

// Listxattr implements the NodeListxattrer interface.
func (n *node) Listxattr(_ context.Context, req *fuse.ListxattrRequest, resp *fuse.ListxattrResponse) error {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()

	size, err := n.fs.ad.Listxattr(n.path, nil)
	if err != nil {
		return fail(OpXattr, n.path, err)
	}
	if req.Size != 0 && uint32(size) > req.Size {
		return fuse.Errno(unix.ERANGE)
	}
	buf := make([]byte, size)
	if size > 0 {
		if size, err = n.fs.ad.Listxattr(n.path, buf); err != nil {
			return fail(OpXattr, n.path, err)
		}
	}
	resp.Xattr = buf[:size]
	return nil
}

// Setxattr implements the NodeSetxattrer interface.
func (n *node) Setxattr(_ context.Context, req *fuse.SetxattrRequest) error {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	return fail(OpXattr, n.path, n.fs.ad.Setxattr(n.path, req.Name, req.Xattr, int(req.Flags)))
}

// Removexattr implements the NodeRemovexattrer interface.
func (n *node) Removexattr(_ context.Context, req *fuse.RemovexattrRequest) error {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	return fail(OpXattr, n.path, n.fs.ad.Removexattr(n.path, req.Name))
}

// Forget implements the NodeForgetter interface.
func (n *node) Forget() {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	if cached, ok := n.fs.nodes[n.path]; ok && cached.base() == n {
		n.fs.forget(n.path)
	}
}
