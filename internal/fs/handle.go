package fs

import (
	"context"

	"sandfs/internal/kernel"
	"sandfs/internal/xlat"

	"bazil.org/fuse"
)

// FileHandle is an open guest file.
type FileHandle struct {
	fs   *FS
	h    uint64
	path string // For error reporting
}

// Read implements the HandleReader interface.
func (fh *FileHandle) Read(_ context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	fh.fs.mu.Lock()
	defer fh.fs.mu.Unlock()

	buf := make([]byte, req.Size)
	n, err := fh.fs.ad.Read(fh.h, buf, req.Offset)
	if err != nil {
		return fail(OpRead, fh.path, err)
	}
	resp.Data = buf[:n]
	return nil
}

// Write implements the HandleWriter interface.
func (fh *FileHandle) Write(_ context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	fh.fs.mu.Lock()
	defer fh.fs.mu.Unlock()

	n, err := fh.fs.ad.Write(fh.h, req.Data, req.Offset)
	if err != nil {
		return fail(OpWrite, fh.path, err)
	}
	resp.Size = n
	return nil
}

// Flush implements the HandleFlusher interface.
func (fh *FileHandle) Flush(_ context.Context, _ *fuse.FlushRequest) error {
	fh.fs.mu.Lock()
	defer fh.fs.mu.Unlock()
	return fail(OpWrite, fh.path, fh.fs.ad.Flush(fh.h))
}

// Release implements the HandleReleaser interface, closing the guest file.
func (fh *FileHandle) Release(_ context.Context, _ *fuse.ReleaseRequest) error {
	fh.fs.mu.Lock()
	defer fh.fs.mu.Unlock()
	return fail(OpRelease, fh.path, fh.fs.ad.Release(fh.h))
}

// DirHandle is an open guest directory cursor.
type DirHandle struct {
	fs     *FS
	h      uint64
	path   string
	listed bool // cursor has been drained once
}

// ReadDirAll implements the HandleReadDirAller interface, listing directory
// contents. It is called again for every read at offset 0, so each call
// lists from the first entry.
func (dh *DirHandle) ReadDirAll(_ context.Context) ([]fuse.Dirent, error) {
	dh.fs.mu.Lock()
	defer dh.fs.mu.Unlock()

	if dh.listed {
		if err := dh.fs.ad.Rewinddir(dh.h); err != nil {
			return nil, fail(OpReadDir, dh.path, err)
		}
	}
	dh.listed = true

	var entries []fuse.Dirent
	err := dh.fs.ad.Readdir(dh.h, func(name string, st *kernel.Stat) bool {
		entries = append(entries, fuse.Dirent{
			Inode: st.Ino,
			Type:  xlat.DirentType(uint8(st.Mode >> 12)),
			Name:  name,
		})
		return false
	})
	if err != nil {
		return nil, fail(OpReadDir, dh.path, err)
	}
	return entries, nil
}

// Release implements the HandleReleaser interface, closing the cursor.
func (dh *DirHandle) Release(_ context.Context, _ *fuse.ReleaseRequest) error {
	dh.fs.mu.Lock()
	defer dh.fs.mu.Unlock()
	return fail(OpRelease, dh.path, dh.fs.ad.Releasedir(dh.h))
}
