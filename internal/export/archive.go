package export

import (
	"archive/tar"
	"fmt"
	"io"

	"sandfs/internal/config"
	"sandfs/internal/kernel"
	"sandfs/internal/xlat"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"golang.org/x/sys/unix"
)

// paxXattrPrefix is the PAX record prefix GNU tar and libarchive use for
// extended attributes.
const paxXattrPrefix = "SCHILY.xattr."

// Xattr is one extended attribute of an entry.
type Xattr struct {
	Name  string
	Value []byte
}

// Entry is one archive record under construction.
type Entry struct {
	Path     string
	Stat     kernel.Stat
	Linkname string
	Xattrs   []Xattr
}

// Type returns the file type bits of the entry's mode.
func (e *Entry) Type() uint32 {
	return e.Stat.Mode & kernel.S_IFMT
}

// ArchiveWriter receives entries in traversal order. Write appends data to
// the entry whose header was written last.
type ArchiveWriter interface {
	WriteHeader(e *Entry) error
	Write(p []byte) (int, error)
	Close() error
}

// TarWriter writes a portable tar stream: USTAR headers, with PAX records
// only where a long name or extended attributes need them.
type TarWriter struct {
	tw     *tar.Writer
	closer io.Closer
}

// NewTarWriter writes to w through the named compression.
func NewTarWriter(w io.Writer, compression string) (*TarWriter, error) {
	var (
		out    io.Writer = w
		closer io.Closer
	)
	switch compression {
	case "", config.CompressionNone:
	case config.CompressionGzip:
		zw := gzip.NewWriter(w)
		out, closer = zw, zw
	case config.CompressionZstd:
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		out, closer = zw, zw
	case config.CompressionLZ4:
		zw := lz4.NewWriter(w)
		out, closer = zw, zw
	default:
		return nil, fmt.Errorf("unknown compression %q", compression)
	}
	return &TarWriter{tw: tar.NewWriter(out), closer: closer}, nil
}

// WriteHeader writes the header of e. Sockets have no tar representation
// and fail with EOPNOTSUPP; Exporter skips such entries.
func (t *TarWriter) WriteHeader(e *Entry) error {
	if _, ok := xlat.TarType(e.Stat.Mode); !ok {
		return unix.EOPNOTSUPP
	}
	hdr := xlat.TarHeader(e.Path, &e.Stat)
	hdr.Linkname = e.Linkname
	if len(e.Xattrs) > 0 {
		hdr.PAXRecords = make(map[string]string, len(e.Xattrs))
		for _, x := range e.Xattrs {
			hdr.PAXRecords[paxXattrPrefix+x.Name] = string(x.Value)
		}
		hdr.Format = tar.FormatPAX
	}
	return t.tw.WriteHeader(hdr)
}

func (t *TarWriter) Write(p []byte) (int, error) {
	return t.tw.Write(p)
}

// Close finishes the archive and the compression stream. The underlying
// writer is left open.
func (t *TarWriter) Close() error {
	if err := t.tw.Close(); err != nil {
		return err
	}
	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}
