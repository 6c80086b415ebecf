package kernel

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// direntHeaderSize covers d_ino, d_off, d_reclen and d_type.
const direntHeaderSize = 8 + 8 + 2 + 1

// DirentReclen returns the aligned record length of an entry called name.
func DirentReclen(name string) int {
	n := direntHeaderSize + len(name) + 1
	return (n + 7) &^ 7
}

// PutDirent encodes de into buf as a linux_dirent64 record and returns the
// number of bytes used, or 0 if buf is too small.
func PutDirent(buf []byte, de Dirent) int {
	reclen := DirentReclen(de.Name)
	if len(buf) < reclen {
		return 0
	}
	binary.LittleEndian.PutUint64(buf[0:], de.Ino)
	binary.LittleEndian.PutUint64(buf[8:], uint64(de.Off))
	binary.LittleEndian.PutUint16(buf[16:], uint16(reclen))
	buf[18] = de.Type
	copy(buf[direntHeaderSize:], de.Name)
	for i := direntHeaderSize + len(de.Name); i < reclen; i++ {
		buf[i] = 0
	}
	return reclen
}

// ParseDirent decodes the record at the start of buf and returns it with
// its record length.
func ParseDirent(buf []byte) (Dirent, int, error) {
	if len(buf) < direntHeaderSize {
		return Dirent{}, 0, unix.EINVAL
	}
	reclen := int(binary.LittleEndian.Uint16(buf[16:]))
	if reclen < direntHeaderSize || reclen > len(buf) {
		return Dirent{}, 0, unix.EINVAL
	}
	name := buf[direntHeaderSize:reclen]
	for i, c := range name {
		if c == 0 {
			name = name[:i]
			break
		}
	}
	return Dirent{
		Ino:  binary.LittleEndian.Uint64(buf[0:]),
		Off:  int64(binary.LittleEndian.Uint64(buf[8:])),
		Type: buf[18],
		Name: string(name),
	}, reclen, nil
}
