package fs

import (
	"context"

	"sandfs/internal/kernel"
	"sandfs/internal/xlat"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"golang.org/x/sys/unix"
)

// Dir is a directory of the guest tree.
type Dir struct {
	node
}

// lookup stats the child name and returns its node. Callers hold d.fs.mu.
func (d *Dir) lookup(op, name string) (fusefs.Node, error) {
	p := d.child(name)
	var st kernel.Stat
	if err := d.fs.ad.Getattr(p, &st); err != nil {
		return nil, fail(op, p, err)
	}
	return d.fs.node(p, st.Mode), nil
}

// Lookup implements the NodeStringLookuper interface, finding a child node.
func (d *Dir) Lookup(_ context.Context, name string) (fusefs.Node, error) {
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()
	return d.lookup(OpLookup, name)
}

// Open implements the NodeOpener interface, opening a directory cursor.
func (d *Dir) Open(_ context.Context, _ *fuse.OpenRequest, _ *fuse.OpenResponse) (fusefs.Handle, error) {
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()

	h, err := d.fs.ad.Opendir(d.path)
	if err != nil {
		return nil, fail(OpOpen, d.path, err)
	}
	return &DirHandle{fs: d.fs, h: h, path: d.path}, nil
}

// Create implements the NodeCreater interface.
func (d *Dir) Create(_ context.Context, req *fuse.CreateRequest, _ *fuse.CreateResponse) (fusefs.Node, fusefs.Handle, error) {
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()

	p := d.child(req.Name)
	h, err := d.fs.ad.Create(p, int(req.Flags), xlat.UnixMode(req.Mode)&0o7777)
	if err != nil {
		return nil, nil, fail(OpCreate, p, err)
	}
	n := d.fs.node(p, kernel.S_IFREG)
	return n, &FileHandle{fs: d.fs, h: h, path: p}, nil
}

// Mkdir implements the NodeMkdirer interface.
func (d *Dir) Mkdir(_ context.Context, req *fuse.MkdirRequest) (fusefs.Node, error) {
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()

	p := d.child(req.Name)
	if err := d.fs.ad.Mkdir(p, xlat.UnixMode(req.Mode)&0o7777); err != nil {
		return nil, fail(OpMkdir, p, err)
	}
	return d.lookup(OpMkdir, req.Name)
}

// Mknod implements the NodeMknoder interface.
func (d *Dir) Mknod(_ context.Context, req *fuse.MknodRequest) (fusefs.Node, error) {
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()

	p := d.child(req.Name)
	if err := d.fs.ad.Mknod(p, xlat.UnixMode(req.Mode), uint64(req.Rdev)); err != nil {
		return nil, fail(OpMknod, p, err)
	}
	return d.lookup(OpMknod, req.Name)
}

// Symlink implements the NodeSymlinker interface.
func (d *Dir) Symlink(_ context.Context, req *fuse.SymlinkRequest) (fusefs.Node, error) {
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()

	p := d.child(req.NewName)
	if err := d.fs.ad.Symlink(req.Target, p); err != nil {
		return nil, fail(OpSymlink, p, err)
	}
	return d.lookup(OpSymlink, req.NewName)
}

// Link implements the NodeLinker interface.
func (d *Dir) Link(_ context.Context, req *fuse.LinkRequest, old fusefs.Node) (fusefs.Node, error) {
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()

	src, ok := old.(pathNode)
	if !ok {
		return nil, fuse.Errno(unix.EIO)
	}
	p := d.child(req.NewName)
	if err := d.fs.ad.Link(src.base().path, p); err != nil {
		return nil, fail(OpLink, p, err)
	}
	return d.lookup(OpLink, req.NewName)
}

// Remove implements the NodeRemover interface, removing a file or directory.
func (d *Dir) Remove(_ context.Context, req *fuse.RemoveRequest) error {
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()

	p := d.child(req.Name)
	var err error
	if req.Dir {
		err = d.fs.ad.Rmdir(p)
	} else {
		err = d.fs.ad.Unlink(p)
	}
	if err != nil {
		return fail(OpRemove, p, err)
	}
	d.fs.forget(p)
	return nil
}

// Rename implements the NodeRenamer interface.
func (d *Dir) Rename(_ context.Context, req *fuse.RenameRequest, newDir fusefs.Node) error {
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()

	target, ok := newDir.(*Dir)
	if !ok {
		return fuse.Errno(unix.EIO)
	}
	from, to := d.child(req.OldName), target.child(req.NewName)
	if err := d.fs.ad.Rename(from, to); err != nil {
		return fail(OpRename, from, err)
	}
	d.fs.moved(from, to)
	return nil
}
