// Package sandbox is an in-process guest kernel. It keeps its own mount
// table, descriptor table and inode tree, and delegates on-disk format
// knowledge to the filesystem drivers registered with it.
package sandbox

import (
	"fmt"
	"strings"
	"sync"

	"sandfs/internal/kernel"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

const (
	minMemoryMB = 4
	maxDisks    = 16
	maxNameLen  = 255
	// reservedMemory is what the kernel keeps for itself out of the budget.
	reservedMemory = 2 << 20
)

type runState int

const (
	stateNew runState = iota
	stateRunning
	stateHalted
)

type mountKey struct {
	disk kernel.DiskID
	part int
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithMaxIO caps the bytes moved by a single read or write call. Callers
// see short transfers and must loop.
func WithMaxIO(n int) Option {
	return func(k *Kernel) {
		k.maxIO = n
	}
}

// WithPrintk routes kernel log lines to fn.
func WithPrintk(fn func(format string, args ...interface{})) Option {
	return func(k *Kernel) {
		k.printk = fn
	}
}

// Kernel is the sandboxed guest. All calls are serialised internally.
type Kernel struct {
	mu       sync.Mutex
	state    runState
	memLimit int64
	memUsed  int64
	maxIO    int
	printk   func(format string, args ...interface{})

	drivers  map[string]driver
	disks    map[kernel.DiskID]kernel.Disk
	nextDisk kernel.DiskID
	mounts   map[mountKey]*superblock

	rootfs *superblock
	mnt    *inode
	root   *inode
	cwd    *inode
	files  map[int]*file
}

var _ kernel.Kernel = (*Kernel)(nil)

// New returns a kernel that has not been started yet.
func New(opts ...Option) *Kernel {
	k := &Kernel{
		printk: func(string, ...interface{}) {},
		disks:  make(map[kernel.DiskID]kernel.Disk),
		mounts: make(map[mountKey]*superblock),
		files:  make(map[int]*file),
		drivers: map[string]driver{
			"ramfs":   ramfsDriver{},
			"tmpfs":   ramfsDriver{},
			"iso9660": isoDriver{},
		},
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Filesystems lists the driver names the kernel can mount.
func (k *Kernel) Filesystems() []string {
	names := make([]string, 0, len(k.drivers))
	for name := range k.drivers {
		names = append(names, name)
	}
	return names
}

func (k *Kernel) ready() error {
	if k.state != stateRunning {
		return unix.ENOSYS
	}
	return nil
}

// Start boots the kernel with memoryMB megabytes of memory.
func (k *Kernel) Start(memoryMB int) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.state != stateNew {
		return unix.EINVAL
	}
	if memoryMB < minMemoryMB {
		return unix.ENOMEM
	}

	k.memLimit = int64(memoryMB) << 20
	k.rootfs = &superblock{fsType: "rootfs", blockSize: 4096}
	root := k.rootfs.newInode(kernel.S_IFDIR | 0o755)
	k.rootfs.root = root
	k.mnt = k.rootfs.newInode(kernel.S_IFDIR | 0o755)
	root.addChild("mnt", k.mnt)
	k.root, k.cwd = root, root
	k.state = stateRunning

	k.printk("sandbox: booted with mem=%dM (%s usable)", memoryMB,
		humanize.IBytes(uint64(k.memLimit-reservedMemory)))
	return nil
}

// Halt stops the kernel, dropping descriptors, mounts and disks.
func (k *Kernel) Halt() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.state != stateRunning {
		return unix.EINVAL
	}
	for fd, f := range k.files {
		f.in.opened--
		delete(k.files, fd)
	}
	for key, sb := range k.mounts {
		k.releaseMount(key, sb)
	}
	for id := range k.disks {
		delete(k.disks, id)
	}
	k.root, k.cwd = nil, nil
	k.memUsed = 0
	k.state = stateHalted
	k.printk("sandbox: halted")
	return nil
}

// DiskAdd registers d and returns its identifier.
func (k *Kernel) DiskAdd(d kernel.Disk) (kernel.DiskID, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.state == stateHalted {
		return 0, unix.ENOSYS
	}
	if d == nil {
		return 0, unix.EINVAL
	}
	if len(k.disks) >= maxDisks {
		return 0, unix.ENOSPC
	}
	size, err := d.Size()
	if err != nil {
		return 0, unix.EIO
	}

	id := k.nextDisk
	k.nextDisk++
	k.disks[id] = d
	k.printk("sandbox: disk %d added (%s)", id, humanize.IBytes(uint64(size)))
	return id, nil
}

// DiskRemove unregisters a disk that has no mounted partitions.
func (k *Kernel) DiskRemove(id kernel.DiskID) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.disks[id]; !ok {
		return unix.ENXIO
	}
	for key := range k.mounts {
		if key.disk == id {
			return unix.EBUSY
		}
	}
	delete(k.disks, id)
	k.printk("sandbox: disk %d removed", id)
	return nil
}

// MountDev mounts a partition of a registered disk under /mnt.
func (k *Kernel) MountDev(id kernel.DiskID, part int, fsType string, flags uint32, opts string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.ready(); err != nil {
		return "", err
	}
	disk, ok := k.disks[id]
	if !ok {
		return "", unix.ENXIO
	}
	drv, ok := k.drivers[fsType]
	if !ok {
		return "", unix.ENODEV
	}
	key := mountKey{disk: id, part: part}
	if _, busy := k.mounts[key]; busy {
		return "", unix.EBUSY
	}

	dev, err := partition(disk, part)
	if err != nil {
		return "", err
	}

	ro := flags&kernel.MS_RDONLY != 0
	sb, err := drv.mount(k, dev, splitOptions(opts), ro)
	if err != nil {
		k.printk("sandbox: %s: cannot mount disk %d part %d: %v", fsType, id, part, err)
		return "", err
	}
	sb.fsType = fsType
	sb.dev = uint64(id+1)<<8 | uint64(part)
	sb.readOnly = sb.readOnly || ro

	name := fmt.Sprintf("%08x-%d", uint32(id), part)
	point := k.rootfs.newInode(kernel.S_IFDIR | 0o755)
	k.mnt.addChild(name, point)
	point.mounted = sb
	sb.coveredOn = point
	k.mounts[key] = sb

	k.printk("sandbox: mounted %s (disk %d part %d) on /mnt/%s", fsType, id, part, name)
	return "/mnt/" + name, nil
}

// UmountDev unmounts the filesystem of a disk partition. The working
// directory and root fall back to the kernel root if they were inside it.
func (k *Kernel) UmountDev(id kernel.DiskID, part int, flags int) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.ready(); err != nil {
		return err
	}
	key := mountKey{disk: id, part: part}
	sb, ok := k.mounts[key]
	if !ok {
		return unix.EINVAL
	}
	for _, f := range k.files {
		if f.in.sb == sb {
			return unix.EBUSY
		}
	}
	if k.root.sb == sb {
		k.root = k.rootfs.root
	}
	if k.cwd.sb == sb {
		k.cwd = k.root
	}
	k.releaseMount(key, sb)
	k.printk("sandbox: unmounted disk %d part %d", id, part)
	return nil
}

func (k *Kernel) releaseMount(key mountKey, sb *superblock) {
	if point := sb.coveredOn; point != nil {
		point.mounted = nil
		for _, de := range k.mnt.entries {
			if de.inode == point {
				k.mnt.removeChild(de.name)
				break
			}
		}
	}
	if sb.release != nil {
		if err := sb.release(); err != nil {
			k.printk("sandbox: releasing %s: %v", sb.fsType, err)
		}
	}
	k.memUsed -= sb.memUsed
	delete(k.mounts, key)
}

// Chroot changes the root directory used for absolute paths.
func (k *Kernel) Chroot(path string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.ready(); err != nil {
		return err
	}
	in, err := k.resolve(path, true)
	if err != nil {
		return err
	}
	if !in.isDir() {
		return unix.ENOTDIR
	}
	k.root = in
	return nil
}

// Chdir changes the directory relative paths resolve against.
func (k *Kernel) Chdir(path string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.ready(); err != nil {
		return err
	}
	in, err := k.resolve(path, true)
	if err != nil {
		return err
	}
	if !in.isDir() {
		return unix.ENOTDIR
	}
	k.cwd = in
	return nil
}

// charge accounts delta bytes of file data against the memory budget.
func (k *Kernel) charge(sb *superblock, delta int64) error {
	if delta > 0 && k.memUsed+delta > k.memLimit-reservedMemory {
		return unix.ENOSPC
	}
	k.memUsed += delta
	sb.memUsed += delta
	return nil
}

// splitOptions splits a comma separated mount option string.
func splitOptions(opts string) []string {
	var out []string
	for _, opt := range strings.Split(opts, ",") {
		if opt != "" {
			out = append(out, opt)
		}
	}
	return out
}
