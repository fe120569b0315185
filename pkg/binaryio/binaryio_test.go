package binaryio

import (
	"bytes"
	"io"
	"testing"
)

type shortWriter struct {
	chunk int
	buf   bytes.Buffer
}

func (w *shortWriter) Write(p []byte) (int, error) {
	n := len(p)
	if n > w.chunk {
		n = w.chunk
	}
	return w.buf.Write(p[:n])
}

func TestWriteFull(t *testing.T) {
	cases := []struct {
		name  string
		chunk int
		data  []byte
	}{
		{"single write", 1024, []byte("hello world")},
		{"one byte at a time", 1, []byte("abcdef")},
		{"three at a time", 3, []byte("abcdefghij")},
		{"empty", 4, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := &shortWriter{chunk: tc.chunk}
			if err := WriteFull(w, tc.data); err != nil {
				t.Fatalf("WriteFull: %v", err)
			}
			if !bytes.Equal(w.buf.Bytes(), tc.data) {
				t.Fatalf("got %q want %q", w.buf.Bytes(), tc.data)
			}
		})
	}
}

func TestReadFullAt(t *testing.T) {
	data := []byte("0123456789")
	r := bytes.NewReader(data)

	buf := make([]byte, 5)
	n, err := ReadFullAt(r, buf, 2)
	if err != nil {
		t.Fatalf("ReadFullAt: %v", err)
	}
	if n != 5 || string(buf) != "23456" {
		t.Fatalf("got %q (%d) want 23456 (5)", buf, n)
	}
}

func TestReadFullAtCleanEOF(t *testing.T) {
	data := []byte("0123456789")
	r := bytes.NewReader(data)

	buf := make([]byte, 4)
	_, err := ReadFullAt(r, buf, 10)
	if err != io.EOF {
		t.Fatalf("got %v want io.EOF", err)
	}
}

func TestReadFullAtTornTail(t *testing.T) {
	data := []byte("0123456789")
	r := bytes.NewReader(data)

	buf := make([]byte, 6)
	n, err := ReadFullAt(r, buf, 7)
	if err != io.ErrUnexpectedEOF {
		t.Fatalf("got %v want io.ErrUnexpectedEOF", err)
	}
	if n != 3 {
		t.Fatalf("got n=%d want 3", n)
	}
}

func TestPutUintRoundTrip(t *testing.T) {
	var b32 [4]byte
	PutUint32(b32[:], 0xdeadbeef)
	if got := Uint32(b32[:]); got != 0xdeadbeef {
		t.Fatalf("got %x want deadbeef", got)
	}

	var b64 [8]byte
	PutUint64(b64[:], 0x0102030405060708)
	if got := Uint64(b64[:]); got != 0x0102030405060708 {
		t.Fatalf("got %x want 0102030405060708", got)
	}
}
