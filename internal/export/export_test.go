package export

import (
	"archive/tar"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"sandfs/internal/config"
	"sandfs/internal/kernel"
	"sandfs/internal/sandbox"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"golang.org/x/sys/unix"
)

type memDisk struct {
	data []byte
}

func (d *memDisk) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(d.data)) {
		return 0, io.EOF
	}
	return copy(p, d.data[off:]), nil
}

func (d *memDisk) WriteAt(p []byte, off int64) (int, error) {
	return copy(d.data[off:], p), nil
}

func (d *memDisk) Size() (int64, error) { return int64(len(d.data)), nil }
func (d *memDisk) Sync() error          { return nil }

// setupTree boots a kernel with a ramfs, chdirs into it and returns the
// kernel and the mount point.
func setupTree(t *testing.T) (*sandbox.Kernel, string) {
	t.Helper()
	k := sandbox.New(sandbox.WithMaxIO(1000))
	if err := k.Start(16); err != nil {
		t.Fatalf("Failed to start kernel: %v", err)
	}
	t.Cleanup(func() { k.Halt() })

	id, err := k.DiskAdd(&memDisk{data: make([]byte, 4096)})
	if err != nil {
		t.Fatalf("Failed to add disk: %v", err)
	}
	mnt, err := k.MountDev(id, 0, "ramfs", 0, "")
	if err != nil {
		t.Fatalf("Failed to mount: %v", err)
	}
	if err := k.Chdir(mnt); err != nil {
		t.Fatalf("Failed to chdir: %v", err)
	}
	return k, mnt
}

func mustDo(t *testing.T, what string, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("Failed to %s: %v", what, err)
	}
}

func writeFile(t *testing.T, k *sandbox.Kernel, path string, data []byte) {
	t.Helper()
	fd, err := k.Open(path, kernel.O_WRONLY|kernel.O_CREAT, 0644)
	if err != nil {
		t.Fatalf("Failed to create %s: %v", path, err)
	}
	defer k.Close(fd)
	for off := 0; off < len(data); {
		n, err := k.Pwrite(fd, data[off:], int64(off))
		if err != nil {
			t.Fatalf("Failed to write %s: %v", path, err)
		}
		off += n
	}
}

type archived struct {
	hdr  *tar.Header
	data []byte
}

func readArchive(t *testing.T, r io.Reader) []archived {
	t.Helper()
	var out []archived
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Failed to read archive: %v", err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			t.Fatalf("Failed to read %s: %v", hdr.Name, err)
		}
		out = append(out, archived{hdr: hdr, data: data})
	}
}

func exportTar(t *testing.T, sys kernel.Syscalls, root string, labels io.Writer) ([]archived, *Stats) {
	t.Helper()
	var buf bytes.Buffer
	tw, err := NewTarWriter(&buf, config.CompressionNone)
	if err != nil {
		t.Fatalf("NewTarWriter failed: %v", err)
	}
	stats, err := New(sys, labels).Export(root, tw)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return readArchive(t, &buf), stats
}

func TestExportOrder(t *testing.T) {
	k, mnt := setupTree(t)
	mustDo(t, "mkdir", k.Mkdir("a", 0755))
	writeFile(t, k, "a/b.txt", []byte("0123456789"))
	mustDo(t, "symlink", k.Symlink("b.txt", "a/link"))

	entries, stats := exportTar(t, k, mnt, nil)
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}

	want := []struct {
		name string
		typ  byte
	}{
		{"a/", tar.TypeDir},
		{"a/b.txt", tar.TypeReg},
		{"a/link", tar.TypeSymlink},
	}
	for i, w := range want {
		hdr := entries[i].hdr
		if hdr.Name != w.name || hdr.Typeflag != w.typ {
			t.Errorf("Entry %d: got %q type %c, want %q type %c", i, hdr.Name, hdr.Typeflag, w.name, w.typ)
		}
	}
	if got := string(entries[1].data); got != "0123456789" {
		t.Errorf("Unexpected content %q", got)
	}
	if len(entries[1].hdr.PAXRecords) != 0 {
		t.Errorf("Expected a plain header, got PAX records %v", entries[1].hdr.PAXRecords)
	}
	if entries[2].hdr.Linkname != "b.txt" {
		t.Errorf("Expected link target b.txt, got %q", entries[2].hdr.Linkname)
	}

	if stats.Files != 1 || stats.Dirs != 1 || stats.Symlinks != 1 || stats.Bytes != 10 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestExportRoundTrip(t *testing.T) {
	k, mnt := setupTree(t)
	big := bytes.Repeat([]byte("sandfs"), 3000)

	mustDo(t, "mkdir", k.Mkdir("etc", 0755))
	mustDo(t, "mkdir", k.Mkdir("etc/conf.d", 0700))
	writeFile(t, k, "etc/hosts", []byte("127.0.0.1 localhost\n"))
	writeFile(t, k, "etc/conf.d/big", big)
	writeFile(t, k, "empty", nil)
	mustDo(t, "symlink", k.Symlink("/etc/hosts", "hosts"))
	mustDo(t, "mknod", k.Mknod("fifo", kernel.S_IFIFO|0600, 0))
	mustDo(t, "mknod", k.Mknod("tty", kernel.S_IFCHR|0620, unix.Mkdev(4, 1)))

	want := map[string]struct {
		typ  byte
		data []byte
		link string
	}{
		"etc/":           {typ: tar.TypeDir},
		"etc/conf.d/":    {typ: tar.TypeDir},
		"etc/hosts":      {typ: tar.TypeReg, data: []byte("127.0.0.1 localhost\n")},
		"etc/conf.d/big": {typ: tar.TypeReg, data: big},
		"empty":          {typ: tar.TypeReg},
		"hosts":          {typ: tar.TypeSymlink, link: "/etc/hosts"},
		"fifo":           {typ: tar.TypeFifo},
		"tty":            {typ: tar.TypeChar},
	}

	for _, compression := range []string{
		config.CompressionNone,
		config.CompressionGzip,
		config.CompressionZstd,
		config.CompressionLZ4,
	} {
		t.Run(compression, func(t *testing.T) {
			var buf bytes.Buffer
			tw, err := NewTarWriter(&buf, compression)
			if err != nil {
				t.Fatalf("NewTarWriter failed: %v", err)
			}
			if _, err := New(k, nil).Export(mnt, tw); err != nil {
				t.Fatalf("Export failed: %v", err)
			}
			if err := tw.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}

			var r io.Reader = &buf
			switch compression {
			case config.CompressionGzip:
				zr, err := gzip.NewReader(&buf)
				if err != nil {
					t.Fatalf("gzip reader: %v", err)
				}
				r = zr
			case config.CompressionZstd:
				zr, err := zstd.NewReader(&buf)
				if err != nil {
					t.Fatalf("zstd reader: %v", err)
				}
				defer zr.Close()
				r = zr
			case config.CompressionLZ4:
				r = lz4.NewReader(&buf)
			}

			entries := readArchive(t, r)
			if len(entries) != len(want) {
				t.Fatalf("Expected %d entries, got %d", len(want), len(entries))
			}
			for _, e := range entries {
				w, ok := want[e.hdr.Name]
				if !ok {
					t.Errorf("Unexpected entry %q", e.hdr.Name)
					continue
				}
				if e.hdr.Typeflag != w.typ {
					t.Errorf("%s: type %c, want %c", e.hdr.Name, e.hdr.Typeflag, w.typ)
				}
				if !bytes.Equal(e.data, w.data) {
					t.Errorf("%s: content mismatch (%d bytes, want %d)", e.hdr.Name, len(e.data), len(w.data))
				}
				if e.hdr.Linkname != w.link {
					t.Errorf("%s: link %q, want %q", e.hdr.Name, e.hdr.Linkname, w.link)
				}
			}
		})
	}

	t.Run("device numbers and modes", func(t *testing.T) {
		entries, _ := exportTar(t, k, mnt, nil)
		for _, e := range entries {
			switch e.hdr.Name {
			case "tty":
				if e.hdr.Devmajor != 4 || e.hdr.Devminor != 1 {
					t.Errorf("tty: device %d,%d", e.hdr.Devmajor, e.hdr.Devminor)
				}
				if e.hdr.Mode != 0620 {
					t.Errorf("tty: mode %o", e.hdr.Mode)
				}
			case "etc/conf.d/":
				if e.hdr.Mode != 0700 {
					t.Errorf("conf.d: mode %o", e.hdr.Mode)
				}
			}
		}
	})
}

func TestExportXattrs(t *testing.T) {
	k, mnt := setupTree(t)
	writeFile(t, k, "passwd", []byte("root:x:0:0::/root:/bin/sh\n"))
	writeFile(t, k, "plain", []byte("x"))
	mustDo(t, "setxattr", k.Setxattr("passwd", "security.selinux", []byte("system_u:object_r:passwd_file_t:s0\x00"), 0))
	mustDo(t, "setxattr", k.Setxattr("passwd", "user.origin", []byte("image"), 0))

	var labels bytes.Buffer
	entries, _ := exportTar(t, k, mnt, &labels)

	var passwd *tar.Header
	for _, e := range entries {
		switch e.hdr.Name {
		case "passwd":
			passwd = e.hdr
		case "plain":
			if len(e.hdr.PAXRecords) != 0 {
				t.Errorf("plain: unexpected PAX records %v", e.hdr.PAXRecords)
			}
		}
	}
	if passwd == nil {
		t.Fatal("passwd missing from archive")
	}
	if got := passwd.PAXRecords["SCHILY.xattr.user.origin"]; got != "image" {
		t.Errorf("user.origin = %q", got)
	}
	if got := passwd.PAXRecords["SCHILY.xattr.security.selinux"]; !strings.HasPrefix(got, "system_u:object_r:passwd_file_t:s0") {
		t.Errorf("security.selinux = %q", got)
	}

	if got, want := labels.String(), "passwd system_u:object_r:passwd_file_t:s0\n"; got != want {
		t.Errorf("Label file = %q, want %q", got, want)
	}
}

func TestExportSkipsSockets(t *testing.T) {
	k, mnt := setupTree(t)
	mustDo(t, "mknod", k.Mknod("sock", kernel.S_IFSOCK|0755, 0))
	writeFile(t, k, "after", []byte("still here"))

	entries, stats := exportTar(t, k, mnt, nil)
	if len(entries) != 1 || entries[0].hdr.Name != "after" {
		t.Fatalf("Expected only the regular file, got %d entries", len(entries))
	}
	if stats.Skipped != 1 {
		t.Errorf("Expected 1 skipped entry, got %d", stats.Skipped)
	}

	tw, err := NewTarWriter(io.Discard, config.CompressionNone)
	if err != nil {
		t.Fatalf("NewTarWriter failed: %v", err)
	}
	sock := &Entry{Path: "sock", Stat: kernel.Stat{Mode: kernel.S_IFSOCK | 0755}}
	if err := tw.WriteHeader(sock); !errors.Is(err, unix.EOPNOTSUPP) {
		t.Errorf("Expected EOPNOTSUPP for a socket header, got %v", err)
	}
}

// faultSys fails Lstat on one path.
type faultSys struct {
	kernel.Syscalls
	failPath string
	err      error
}

func (f *faultSys) Lstat(path string, st *kernel.Stat) error {
	if strings.HasSuffix(path, f.failPath) {
		return f.err
	}
	return f.Syscalls.Lstat(path, st)
}

// recorder records entry names and can accept fewer bytes than offered.
type recorder struct {
	names []string
	short bool
}

func (r *recorder) WriteHeader(e *Entry) error {
	r.names = append(r.names, e.Path)
	return nil
}

func (r *recorder) Write(p []byte) (int, error) {
	if r.short && len(p) > 1 {
		return len(p) - 1, nil
	}
	return len(p), nil
}

func (r *recorder) Close() error { return nil }

func TestExportAbortsOnFirstError(t *testing.T) {
	k, mnt := setupTree(t)
	writeFile(t, k, "one", []byte("1"))
	writeFile(t, k, "two", []byte("22"))
	writeFile(t, k, "three", []byte("333"))

	t.Run("lstat", func(t *testing.T) {
		sys := &faultSys{Syscalls: k, failPath: "/two", err: unix.EIO}
		rec := &recorder{}
		_, err := New(sys, nil).Export(mnt, rec)

		var exportErr *Error
		if !errors.As(err, &exportErr) {
			t.Fatalf("Expected *Error, got %v", err)
		}
		if exportErr.Op != OpLstat || exportErr.Path != "two" {
			t.Errorf("Unexpected error %v", exportErr)
		}
		if !errors.Is(err, unix.EIO) {
			t.Errorf("Expected EIO, got %v", err)
		}
		if len(rec.names) != 1 || rec.names[0] != "one" {
			t.Errorf("Expected export to stop after one, got %v", rec.names)
		}
	})

	t.Run("short write", func(t *testing.T) {
		rec := &recorder{short: true}
		_, err := New(k, nil).Export(mnt, rec)
		if !errors.Is(err, io.ErrShortWrite) {
			t.Fatalf("Expected short write error, got %v", err)
		}
		if len(rec.names) != 2 {
			t.Errorf("Expected export to stop at two, got %v", rec.names)
		}
	})

	t.Run("missing root", func(t *testing.T) {
		_, err := New(k, nil).Export("/nonexistent", &recorder{})
		var exportErr *Error
		if !errors.As(err, &exportErr) || exportErr.Op != OpOpendir {
			t.Fatalf("Expected opendir error, got %v", err)
		}
	})
}
