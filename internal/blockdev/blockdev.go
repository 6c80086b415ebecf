// Package blockdev binds a host file to a guest virtual disk.
package blockdev

import (
	"fmt"
	"io"
	"os"

	"sandfs/internal/kernel"
	"sandfs/internal/logging"

	"golang.org/x/sys/unix"
)

var (
	logger = logging.GetLogger().WithPrefix("blockdev")
)

// Device is one host file exposed to the guest as a disk.
type Device struct {
	file       *os.File
	readOnly   bool
	id         kernel.DiskID
	registered bool
}

var _ kernel.Disk = (*Device)(nil)

// Open opens the image at path, read-write unless readOnly is set.
func Open(path string, readOnly bool) (*Device, error) {
	flags := os.O_RDWR
	if readOnly {
		flags = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, err
	}
	logger.Debug("Opened image %s (read-only=%v)", path, readOnly)
	return New(f, readOnly), nil
}

// New wraps an already open file.
func New(f *os.File, readOnly bool) *Device {
	return &Device{file: f, readOnly: readOnly}
}

// Name returns the host path of the backing file.
func (d *Device) Name() string {
	return d.file.Name()
}

// ReadAt implements io.ReaderAt.
func (d *Device) ReadAt(p []byte, off int64) (int, error) {
	return d.file.ReadAt(p, off)
}

// WriteAt implements io.WriterAt.
func (d *Device) WriteAt(p []byte, off int64) (int, error) {
	if d.readOnly {
		return 0, unix.EROFS
	}
	return d.file.WriteAt(p, off)
}

// Size returns the size in bytes. Block special files report a zero stat
// size, so their end is found by seeking.
func (d *Device) Size() (int64, error) {
	info, err := d.file.Stat()
	if err != nil {
		return 0, err
	}
	if info.Mode().IsRegular() {
		return info.Size(), nil
	}
	return d.file.Seek(0, io.SeekEnd)
}

// Sync flushes written data to the host.
func (d *Device) Sync() error {
	if d.readOnly {
		return nil
	}
	return unix.Fdatasync(int(d.file.Fd()))
}

// Register hands the device to k and records the identifier it assigns.
func (d *Device) Register(k kernel.Kernel) (kernel.DiskID, error) {
	if d.registered {
		return 0, fmt.Errorf("device %s already registered as disk %d", d.Name(), d.id)
	}
	id, err := k.DiskAdd(d)
	if err != nil {
		return 0, err
	}
	d.id = id
	d.registered = true
	logger.Debug("Registered %s as disk %d", d.Name(), id)
	return id, nil
}

// Unregister removes the device from k.
func (d *Device) Unregister(k kernel.Kernel) error {
	if !d.registered {
		return nil
	}
	if err := k.DiskRemove(d.id); err != nil {
		return err
	}
	d.registered = false
	logger.Debug("Unregistered disk %d", d.id)
	return nil
}

// ID returns the disk identifier; valid only while registered.
func (d *Device) ID() (kernel.DiskID, bool) {
	return d.id, d.registered
}

// Close closes the host file.
func (d *Device) Close() error {
	return d.file.Close()
}
