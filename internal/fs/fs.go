package fs

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"sandfs/internal/kernel"
	"sandfs/internal/logging"
	"sandfs/internal/xlat"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	fsLogger = logging.GetLogger().WithPrefix("fuse")
)

// FS exposes a guest tree to the host through bazil.org/fuse. Every request
// takes the same lock before it reaches the Adapter, so the guest only ever
// sees one call at a time whatever the dispatch model of the server.
type FS struct {
	mu    sync.Mutex
	ad    *Adapter
	nodes map[string]pathNode
}

// pathNode is implemented by every node type of the tree.
type pathNode interface {
	fusefs.Node
	base() *node
}

// New returns a filesystem serving the tree rooted at the guest's "/".
func New(sys kernel.Syscalls) *FS {
	return &FS{
		ad:    NewAdapter(sys),
		nodes: make(map[string]pathNode),
	}
}

// Adapter returns the adapter requests are forwarded to.
func (f *FS) Adapter() *Adapter {
	return f.ad
}

// Root implements the fusefs.FS interface, returning the root directory node.
func (f *FS) Root() (fusefs.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.node("/", kernel.S_IFDIR), nil
}

// Statfs implements the fusefs.FSStatfser interface.
func (f *FS) Statfs(_ context.Context, _ *fuse.StatfsRequest, resp *fuse.StatfsResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var st kernel.Statfs
	if err := f.ad.Statfs("/", &st); err != nil {
		return fail(OpStatfs, "/", err)
	}
	xlat.Statfs(&st, resp)
	return nil
}

// node returns the node for path, reusing a cached node of the same type so
// the kernel sees a stable node identity. Callers hold f.mu.
func (f *FS) node(path string, mode uint32) pathNode {
	ftype := mode & kernel.S_IFMT
	if n, ok := f.nodes[path]; ok && n.base().ftype == ftype {
		return n
	}

	base := node{fs: f, path: path, ftype: ftype}
	var n pathNode
	switch ftype {
	case kernel.S_IFDIR:
		n = &Dir{node: base}
	case kernel.S_IFLNK:
		n = &Symlink{node: base}
	default:
		n = &File{node: base}
	}
	f.nodes[path] = n
	return n
}

// forget drops path from the node cache. Callers hold f.mu.
func (f *FS) forget(path string) {
	delete(f.nodes, path)
}

// moved rewrites cached paths after a rename of from to to. Callers hold
// f.mu.
func (f *FS) moved(from, to string) {
	f.forget(to)
	prefix := from + "/"
	var paths []string
	for p := range f.nodes {
		if p == from || strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	for _, p := range paths {
		n := f.nodes[p]
		dst := to + strings.TrimPrefix(p, from)
		delete(f.nodes, p)
		n.base().path = dst
		f.nodes[dst] = n
	}
}

// Serve mounts the filesystem at mountPoint and serves requests until the
// kernel unmounts it or ctx is cancelled. Cancellation unmounts and waits
// for the server loop to drain.
func (f *FS) Serve(ctx context.Context, mountPoint string, options ...fuse.MountOption) error {
	mountOpts := append([]fuse.MountOption{
		fuse.FSName("sandfs"),
		fuse.Subtype("sandfs"),
	}, options...)

	fsLogger.Debug("Mounting with options: %+v", mountOpts)
	c, err := fuse.Mount(mountPoint, mountOpts...)
	if err != nil {
		return fmt.Errorf("mount failed: %w", err)
	}
	defer c.Close()

	done := make(chan error, 1)
	go func() {
		fsLogger.Info("Serving filesystem at %s", mountPoint)
		done <- fusefs.Serve(c, f)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	fsLogger.Info("Unmounting %s", mountPoint)
	if err := fuse.Unmount(mountPoint); err != nil {
		return fmt.Errorf("unmount failed: %w", err)
	}
	return <-done
}
