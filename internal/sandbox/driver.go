package sandbox

import (
	"strconv"
	"strings"

	"sandfs/internal/kernel"

	"golang.org/x/sys/unix"
)

// driver knows one on-disk format.
type driver interface {
	mount(k *Kernel, dev kernel.Disk, opts []string, readOnly bool) (*superblock, error)
}

// ownerOptions holds the uid=, gid= and mode= options shared by drivers.
type ownerOptions struct {
	uid  uint32
	gid  uint32
	mode uint32
}

func parseOwnerOptions(opts []string, allowMode bool) (ownerOptions, error) {
	var o ownerOptions
	for _, opt := range opts {
		key, value, _ := strings.Cut(opt, "=")
		switch {
		case key == "uid":
			n, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return o, unix.EINVAL
			}
			o.uid = uint32(n)
		case key == "gid":
			n, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return o, unix.EINVAL
			}
			o.gid = uint32(n)
		case key == "mode" && allowMode:
			n, err := strconv.ParseUint(value, 8, 32)
			if err != nil {
				return o, unix.EINVAL
			}
			o.mode = uint32(n) & 0o7777
		case key == "ro" || key == "rw":
		default:
			return o, unix.EINVAL
		}
	}
	return o, nil
}
