package sandbox

import (
	"io"
	"strings"

	"sandfs/internal/kernel"

	"github.com/kdomanski/iso9660"
	"golang.org/x/sys/unix"
)

const isoBlockSize = 2048

// isoDriver reads ISO 9660 images. It is always read-only.
type isoDriver struct{}

func (isoDriver) mount(_ *Kernel, dev kernel.Disk, opts []string, _ bool) (*superblock, error) {
	o, err := parseOwnerOptions(opts, false)
	if err != nil {
		return nil, err
	}
	img, err := iso9660.OpenImage(dev)
	if err != nil {
		return nil, unix.EINVAL
	}
	rootDir, err := img.RootDir()
	if err != nil {
		return nil, unix.EINVAL
	}

	size, err := dev.Size()
	if err != nil {
		return nil, unix.EIO
	}
	sb := &superblock{
		readOnly:    true,
		blockSize:   isoBlockSize,
		totalBlocks: uint64(size+isoBlockSize-1) / isoBlockSize,
	}
	sb.root = sb.newInode(kernel.S_IFDIR | 0o555)
	setISOTimes(sb.root, rootDir)
	if err := loadISODir(sb, sb.root, rootDir, o); err != nil {
		return nil, err
	}
	return sb, nil
}

func loadISODir(sb *superblock, dir *inode, f *iso9660.File, o ownerOptions) error {
	children, err := f.GetChildren()
	if err != nil {
		return unix.EIO
	}
	for _, c := range children {
		name := isoName(c.Name())
		if name == "" || name == "." || name == ".." || dir.child(name) != nil {
			continue
		}

		perm := uint32(c.Mode().Perm())
		var in *inode
		if c.IsDir() {
			if perm == 0 {
				perm = 0o555
			}
			in = sb.newInode(kernel.S_IFDIR | perm)
		} else {
			if perm == 0 {
				perm = 0o444
			}
			in = sb.newInode(kernel.S_IFREG | perm)
			in.size = c.Size()
			in.src = &isoContent{f: c}
		}
		in.uid, in.gid = o.uid, o.gid
		setISOTimes(in, c)
		dir.addChild(name, in)

		if c.IsDir() {
			if err := loadISODir(sb, in, c, o); err != nil {
				return err
			}
		}
	}
	return nil
}

// isoName strips the version suffix and the empty-extension dot.
func isoName(name string) string {
	if i := strings.LastIndexByte(name, ';'); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimSuffix(name, ".")
	if name == "\x00" || name == "\x01" {
		return ""
	}
	return name
}

func setISOTimes(in *inode, f *iso9660.File) {
	t := f.ModTime()
	ts := kernel.Timespec{Sec: t.Unix(), Nsec: int64(t.Nanosecond())}
	in.atime, in.mtime, in.ctime = ts, ts, ts
}

// isoContent reads file extents straight from the image.
type isoContent struct {
	f *iso9660.File
}

func (c *isoContent) ReadAt(p []byte, off int64) (int, error) {
	r := c.f.Reader()
	if ra, ok := r.(io.ReaderAt); ok {
		return ra.ReadAt(p, off)
	}
	if _, err := io.CopyN(io.Discard, r, off); err != nil {
		return 0, err
	}
	return io.ReadFull(r, p)
}
