// Package binaryio holds the little-endian encode/decode helpers and the
// retrying full-read/full-write loops shared by the index and segment
// packages.
package binaryio

import (
	"encoding/binary"
	"errors"
	"io"
	"syscall"
)

// Uint32 and Uint64 decode little-endian disk values. encoding/binary's
// LittleEndian codec already does an explicit byte-by-byte decode rather
// than relying on struct punning, so it is host-endianness-independent on
// every platform the Go toolchain targets; there is no equivalent here of a
// runtime is-big-endian check plus conditional byteswap.
var (
	PutUint32 = binary.LittleEndian.PutUint32
	PutUint64 = binary.LittleEndian.PutUint64
	Uint32    = binary.LittleEndian.Uint32
	Uint64    = binary.LittleEndian.Uint64
)

// WriteFull writes all of p to w, looping past short writes and retrying on
// EINTR. A write that returns a non-EINTR error aborts immediately; the
// caller is responsible for treating any bytes already written as a torn
// prefix.
func WriteFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if n > 0 {
			p = p[n:]
		}
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return err
		}
	}
	return nil
}

// ReadFullAt reads len(p) bytes from r starting at off, looping past short
// reads and retrying on EINTR. It distinguishes a clean io.EOF (zero bytes
// read at all, i.e. nothing is there) from io.ErrUnexpectedEOF (a short
// read, i.e. a torn tail) the same way io.ReadFull does for streaming
// readers, but over a positional ReaderAt so it never touches a shared file
// cursor.
func ReadFullAt(r io.ReaderAt, p []byte, off int64) (int, error) {
	want := len(p)
	read := 0
	for read < want {
		n, err := r.ReadAt(p[read:], off+int64(read))
		read += n
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			if err == io.EOF {
				if read == 0 {
					return 0, io.EOF
				}
				return read, io.ErrUnexpectedEOF
			}
			return read, err
		}
	}
	return read, nil
}
