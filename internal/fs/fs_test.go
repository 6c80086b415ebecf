package fs

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"golang.org/x/sys/unix"
)

func setupTestFS(t *testing.T) *FS {
	t.Helper()
	return New(setupKernel(t))
}

func rootDir(t *testing.T, fsys *FS) *Dir {
	t.Helper()
	root, err := fsys.Root()
	if err != nil {
		t.Fatalf("Failed to get root: %v", err)
	}
	dir, ok := root.(*Dir)
	if !ok {
		t.Fatalf("Expected *Dir root, got %T", root)
	}
	return dir
}

func TestFileOperations(t *testing.T) {
	fsys := setupTestFS(t)
	root := rootDir(t, fsys)
	ctx := context.Background()

	node, handle, err := root.Create(ctx, &fuse.CreateRequest{
		Name:  "hello.txt",
		Flags: fuse.OpenReadWrite,
		Mode:  0644,
	}, &fuse.CreateResponse{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	fh := handle.(*FileHandle)

	var wresp fuse.WriteResponse
	if err := fh.Write(ctx, &fuse.WriteRequest{Data: []byte("hello world")}, &wresp); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if wresp.Size != 11 {
		t.Errorf("Expected 11 bytes written, got %d", wresp.Size)
	}

	var rresp fuse.ReadResponse
	if err := fh.Read(ctx, &fuse.ReadRequest{Offset: 6, Size: 100}, &rresp); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(rresp.Data) != "world" {
		t.Errorf("Expected %q, got %q", "world", rresp.Data)
	}
	if err := fh.Flush(ctx, &fuse.FlushRequest{}); err != nil {
		t.Errorf("Flush failed: %v", err)
	}
	if err := fh.Release(ctx, &fuse.ReleaseRequest{}); err != nil {
		t.Errorf("Release failed: %v", err)
	}

	var a fuse.Attr
	if err := node.Attr(ctx, &a); err != nil {
		t.Fatalf("Attr failed: %v", err)
	}
	if a.Size != 11 || a.Mode != 0644 {
		t.Errorf("Unexpected attributes: size %d mode %v", a.Size, a.Mode)
	}

	looked, err := root.Lookup(ctx, "hello.txt")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if looked != node {
		t.Error("Expected lookup to return the cached node")
	}

	opened, err := looked.(*File).Open(ctx, &fuse.OpenRequest{Flags: fuse.OpenReadOnly}, &fuse.OpenResponse{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := opened.(*FileHandle).Write(ctx, &fuse.WriteRequest{Data: []byte("x")}, &wresp); err != fuse.Errno(unix.EBADF) {
		t.Errorf("Expected EBADF writing a read-only handle, got %v", err)
	}
	opened.(*FileHandle).Release(ctx, &fuse.ReleaseRequest{})

	if fsys.Adapter().OpenHandles() != 0 {
		t.Errorf("Expected no open handles, got %d", fsys.Adapter().OpenHandles())
	}
}

func TestDirOperations(t *testing.T) {
	fsys := setupTestFS(t)
	root := rootDir(t, fsys)
	ctx := context.Background()

	t.Run("MkdirAndList", func(t *testing.T) {
		sub, err := root.Mkdir(ctx, &fuse.MkdirRequest{Name: "sub", Mode: os.ModeDir | 0755})
		if err != nil {
			t.Fatalf("Mkdir failed: %v", err)
		}
		if _, ok := sub.(*Dir); !ok {
			t.Fatalf("Expected *Dir, got %T", sub)
		}
		if _, err := root.Symlink(ctx, &fuse.SymlinkRequest{NewName: "link", Target: "sub"}); err != nil {
			t.Fatalf("Symlink failed: %v", err)
		}

		h, err := root.Open(ctx, &fuse.OpenRequest{Dir: true}, &fuse.OpenResponse{})
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		dh := h.(*DirHandle)
		entries, err := dh.ReadDirAll(ctx)
		if err != nil {
			t.Fatalf("ReadDirAll failed: %v", err)
		}
		types := make(map[string]fuse.DirentType)
		for _, e := range entries {
			types[e.Name] = e.Type
		}
		if types["sub"] != fuse.DT_Dir || types["link"] != fuse.DT_Link || types["."] != fuse.DT_Dir {
			t.Errorf("Unexpected entries %v", entries)
		}

		// A read at offset 0 after rewinddir lists the directory again.
		again, err := dh.ReadDirAll(ctx)
		if err != nil {
			t.Fatalf("Second ReadDirAll failed: %v", err)
		}
		if len(again) != len(entries) {
			t.Errorf("Expected %d entries on the second listing, got %v", len(entries), again)
		}
		if err := dh.Release(ctx, &fuse.ReleaseRequest{}); err != nil {
			t.Errorf("Release failed: %v", err)
		}
	})

	t.Run("Readlink", func(t *testing.T) {
		n, err := root.Lookup(ctx, "link")
		if err != nil {
			t.Fatalf("Lookup failed: %v", err)
		}
		link, ok := n.(*Symlink)
		if !ok {
			t.Fatalf("Expected *Symlink, got %T", n)
		}
		target, err := link.Readlink(ctx, &fuse.ReadlinkRequest{})
		if err != nil || target != "sub" {
			t.Errorf("Expected target sub, got %q, %v", target, err)
		}
	})

	t.Run("RenameMovesCachedNodes", func(t *testing.T) {
		sub, _ := root.Lookup(ctx, "sub")
		_, fh, err := sub.(*Dir).Create(ctx, &fuse.CreateRequest{Name: "inner", Flags: fuse.OpenWriteOnly, Mode: 0600}, &fuse.CreateResponse{})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		fh.(*FileHandle).Release(ctx, &fuse.ReleaseRequest{})
		inner, _ := sub.(*Dir).Lookup(ctx, "inner")

		if err := root.Rename(ctx, &fuse.RenameRequest{OldName: "sub", NewName: "renamed"}, root); err != nil {
			t.Fatalf("Rename failed: %v", err)
		}
		if got := inner.(*File).path; got != "/renamed/inner" {
			t.Errorf("Expected cached path to follow the rename, got %q", got)
		}
		var a fuse.Attr
		if err := inner.Attr(ctx, &a); err != nil {
			t.Errorf("Attr after rename failed: %v", err)
		}
	})

	t.Run("Remove", func(t *testing.T) {
		if err := root.Remove(ctx, &fuse.RemoveRequest{Name: "renamed", Dir: true}); err != fuse.Errno(unix.ENOTEMPTY) {
			t.Errorf("Expected ENOTEMPTY, got %v", err)
		}
		if err := root.Remove(ctx, &fuse.RemoveRequest{Name: "link"}); err != nil {
			t.Errorf("Remove failed: %v", err)
		}
		if _, err := root.Lookup(ctx, "link"); err != fuse.Errno(unix.ENOENT) {
			t.Errorf("Expected ENOENT, got %v", err)
		}
	})

	t.Run("Link", func(t *testing.T) {
		inner, _ := root.Lookup(ctx, "renamed")
		file, _ := inner.(*Dir).Lookup(ctx, "inner")
		if _, err := root.Link(ctx, &fuse.LinkRequest{NewName: "hard"}, file); err != nil {
			t.Fatalf("Link failed: %v", err)
		}
		var a fuse.Attr
		file.Attr(ctx, &a)
		if a.Nlink != 2 {
			t.Errorf("Expected 2 links, got %d", a.Nlink)
		}
	})

	t.Run("Mknod", func(t *testing.T) {
		n, err := root.Mknod(ctx, &fuse.MknodRequest{Name: "pipe", Mode: os.ModeNamedPipe | 0644})
		if err != nil {
			t.Fatalf("Mknod failed: %v", err)
		}
		var a fuse.Attr
		n.Attr(ctx, &a)
		if a.Mode&os.ModeNamedPipe == 0 {
			t.Errorf("Expected a named pipe, got %v", a.Mode)
		}
	})
}

func TestSetattr(t *testing.T) {
	fsys := setupTestFS(t)
	root := rootDir(t, fsys)
	ctx := context.Background()

	n, fh, err := root.Create(ctx, &fuse.CreateRequest{Name: "f", Flags: fuse.OpenWriteOnly, Mode: 0644}, &fuse.CreateResponse{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	fh.(*FileHandle).Release(ctx, &fuse.ReleaseRequest{})
	file := n.(*File)

	atime := time.Unix(1000, 0)
	mtime := time.Unix(2000, 0)
	req := &fuse.SetattrRequest{
		Valid: fuse.SetattrMode | fuse.SetattrSize | fuse.SetattrUid | fuse.SetattrAtime | fuse.SetattrMtime,
		Mode:  0600,
		Size:  42,
		Uid:   7,
		Atime: atime,
		Mtime: mtime,
	}
	var resp fuse.SetattrResponse
	if err := file.Setattr(ctx, req, &resp); err != nil {
		t.Fatalf("Setattr failed: %v", err)
	}
	a := resp.Attr
	if a.Mode != 0600 || a.Size != 42 || a.Uid != 7 || a.Gid != 0 {
		t.Errorf("Unexpected attributes %+v", a)
	}
	if !a.Atime.Equal(atime) || !a.Mtime.Equal(mtime) {
		t.Errorf("Expected atime %v and mtime %v, got %v and %v", atime, mtime, a.Atime, a.Mtime)
	}

	if err := file.Access(ctx, &fuse.AccessRequest{Mask: unix.R_OK}); err != nil {
		t.Errorf("Access failed: %v", err)
	}
	if err := file.Fsync(ctx, &fuse.FsyncRequest{}); err != nil {
		t.Errorf("Fsync failed: %v", err)
	}
	if err := root.Fsync(ctx, &fuse.FsyncRequest{Dir: true, Flags: 1}); err != nil {
		t.Errorf("Fsync on a directory failed: %v", err)
	}
}

func TestXattrs(t *testing.T) {
	fsys := setupTestFS(t)
	root := rootDir(t, fsys)
	ctx := context.Background()

	if err := root.Setxattr(ctx, &fuse.SetxattrRequest{Name: "user.label", Xattr: []byte("value")}); err != nil {
		t.Fatalf("Setxattr failed: %v", err)
	}

	var gresp fuse.GetxattrResponse
	if err := root.Getxattr(ctx, &fuse.GetxattrRequest{Name: "user.label"}, &gresp); err != nil {
		t.Fatalf("Getxattr failed: %v", err)
	}
	if string(gresp.Xattr) != "value" {
		t.Errorf("Expected value, got %q", gresp.Xattr)
	}
	if err := root.Getxattr(ctx, &fuse.GetxattrRequest{Name: "user.label", Size: 2}, &gresp); err != fuse.Errno(unix.ERANGE) {
		t.Errorf("Expected ERANGE, got %v", err)
	}

	var lresp fuse.ListxattrResponse
	if err := root.Listxattr(ctx, &fuse.ListxattrRequest{}, &lresp); err != nil {
		t.Fatalf("Listxattr failed: %v", err)
	}
	if string(lresp.Xattr) != "user.label\x00" {
		t.Errorf("Unexpected list %q", lresp.Xattr)
	}

	if err := root.Removexattr(ctx, &fuse.RemovexattrRequest{Name: "user.label"}); err != nil {
		t.Errorf("Removexattr failed: %v", err)
	}
	if err := root.Getxattr(ctx, &fuse.GetxattrRequest{Name: "user.label"}, &gresp); err != fuse.Errno(unix.ENODATA) {
		t.Errorf("Expected ENODATA, got %v", err)
	}
}

func TestStatfs(t *testing.T) {
	fsys := setupTestFS(t)
	var resp fuse.StatfsResponse
	if err := fsys.Statfs(context.Background(), &fuse.StatfsRequest{}, &resp); err != nil {
		t.Fatalf("Statfs failed: %v", err)
	}
	if resp.Bsize == 0 || resp.Blocks == 0 || resp.Namelen != 255 {
		t.Errorf("Unexpected statfs %+v", resp)
	}
}

func TestForget(t *testing.T) {
	fsys := setupTestFS(t)
	root := rootDir(t, fsys)
	ctx := context.Background()

	n, err := root.Mkdir(ctx, &fuse.MkdirRequest{Name: "d", Mode: os.ModeDir | 0755})
	if err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	n.(fusefs.NodeForgetter).Forget()
	again, _ := root.Lookup(ctx, "d")
	if again == n {
		t.Error("Expected a fresh node after Forget")
	}
}

func TestToFuseError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"errno", unix.ENOENT, fuse.Errno(unix.ENOENT)},
		{"wrapped", NewFSError(OpLookup, "/x", unix.EROFS), fuse.Errno(unix.EROFS)},
		{"other", errors.New("boom"), fuse.Errno(unix.EIO)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToFuseError(tt.err); got != tt.want {
				t.Errorf("ToFuseError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
