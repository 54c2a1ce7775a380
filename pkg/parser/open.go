package parser

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

var gzipMagic = []byte{0x1f, 0x8b}

// readCloser chains the decompressor and the underlying file
type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (r *readCloser) Close() error {
	var first error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// openTable opens a possibly gzip-compressed table. Compression is detected
// from the content, not the file name.
func openTable(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	br := bufio.NewReaderSize(f, 1<<20)
	head, err := br.Peek(len(gzipMagic))
	if err != nil && err != io.EOF {
		f.Close()
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if bytes.Equal(head, gzipMagic) {
		zr, err := gzip.NewReader(br)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to open gzip stream in %s: %w", path, err)
		}
		return &readCloser{Reader: zr, closers: []io.Closer{f, zr}}, nil
	}

	return &readCloser{Reader: br, closers: []io.Closer{f}}, nil
}

// createTable creates path for writing, compressing when it ends in .gz
func createTable(path string) (io.WriteCloser, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	zw, err := gzip.NewWriterLevel(f, gzip.DefaultCompression)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &writeCloser{Writer: zw, zw: zw, f: f}, nil
}

type writeCloser struct {
	io.Writer
	zw *gzip.Writer
	f  *os.File
}

func (w *writeCloser) Close() error {
	if err := w.zw.Close(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}
