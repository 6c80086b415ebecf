package sandbox

import (
	"sandfs/internal/kernel"
)

// ramfsDriver mounts an empty tree held in kernel memory. The device is
// only used as the mount source; file data counts against the memory
// budget.
type ramfsDriver struct{}

func (ramfsDriver) mount(_ *Kernel, _ kernel.Disk, opts []string, readOnly bool) (*superblock, error) {
	o, err := parseOwnerOptions(opts, true)
	if err != nil {
		return nil, err
	}
	if o.mode == 0 {
		o.mode = 0o755
	}

	sb := &superblock{blockSize: 4096, readOnly: readOnly}
	root := sb.newInode(kernel.S_IFDIR | o.mode)
	root.uid, root.gid = o.uid, o.gid
	sb.root = root
	return sb, nil
}
