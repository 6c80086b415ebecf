package fs

import (
	"bytes"
	"context"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"golang.org/x/sys/unix"
)

// File is a regular or special file of the guest tree.
type File struct {
	node
}

// Open implements the NodeOpener interface.
func (f *File) Open(_ context.Context, req *fuse.OpenRequest, _ *fuse.OpenResponse) (fusefs.Handle, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	h, err := f.fs.ad.Open(f.path, int(req.Flags))
	if err != nil {
		return nil, fail(OpOpen, f.path, err)
	}
	return &FileHandle{fs: f.fs, h: h, path: f.path}, nil
}

// Symlink is a symbolic link of the guest tree.
type Symlink struct {
	node
}

// Readlink implements the NodeReadlinker interface.
func (s *Symlink) Readlink(_ context.Context, _ *fuse.ReadlinkRequest) (string, error) {
	s.fs.mu.Lock()
	defer s.fs.mu.Unlock()

	buf := make([]byte, unix.PathMax)
	if err := s.fs.ad.Readlink(s.path, buf); err != nil {
		return "", fail(OpReadlink, s.path, err)
	}
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	return string(buf), nil
}
