package sandbox

import (
	"encoding/binary"
	"io"

	"sandfs/internal/kernel"

	"golang.org/x/sys/unix"
)

const (
	sectorSize      = 512
	mbrTableOffset  = 446
	mbrEntrySize    = 16
	mbrEntries      = 4
	mbrSignatureOff = 510
)

// partView exposes a byte range of a disk as a disk of its own.
type partView struct {
	disk   kernel.Disk
	offset int64
	size   int64
}

func (p *partView) ReadAt(b []byte, off int64) (int, error) {
	if off >= p.size {
		return 0, io.EOF
	}
	if remain := p.size - off; int64(len(b)) > remain {
		n, err := p.disk.ReadAt(b[:remain], p.offset+off)
		if err == nil {
			err = io.EOF
		}
		return n, err
	}
	return p.disk.ReadAt(b, p.offset+off)
}

func (p *partView) WriteAt(b []byte, off int64) (int, error) {
	if off+int64(len(b)) > p.size {
		return 0, unix.ENOSPC
	}
	return p.disk.WriteAt(b, p.offset+off)
}

func (p *partView) Size() (int64, error) {
	return p.size, nil
}

func (p *partView) Sync() error {
	return p.disk.Sync()
}

// partition returns the view of partition part of disk. Partition 0 is the
// whole disk; 1-4 are the primary entries of an MBR partition table.
func partition(disk kernel.Disk, part int) (kernel.Disk, error) {
	if part == 0 {
		return disk, nil
	}
	if part < 0 || part > mbrEntries {
		return nil, unix.ENXIO
	}

	var mbr [sectorSize]byte
	if _, err := disk.ReadAt(mbr[:], 0); err != nil && err != io.EOF {
		return nil, unix.EIO
	}
	if mbr[mbrSignatureOff] != 0x55 || mbr[mbrSignatureOff+1] != 0xaa {
		return nil, unix.ENXIO
	}

	entry := mbr[mbrTableOffset+(part-1)*mbrEntrySize:]
	ptype := entry[4]
	start := int64(binary.LittleEndian.Uint32(entry[8:])) * sectorSize
	length := int64(binary.LittleEndian.Uint32(entry[12:])) * sectorSize
	if ptype == 0 || length == 0 {
		return nil, unix.ENXIO
	}

	size, err := disk.Size()
	if err != nil {
		return nil, unix.EIO
	}
	if start+length > size {
		return nil, unix.ENXIO
	}
	return &partView{disk: disk, offset: start, size: length}, nil
}
