package storage

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/ruteri/artifact-resolver/interfaces"
)

// spoolWriter buffers an upload in a temporary file. Commit hands the file,
// rewound to its start, to the backend-specific commit function; Close
// without Commit just removes the file.
type spoolWriter struct {
	f      *os.File
	size   int64
	commit func(f *os.File, size int64) error
	done   bool
}

func newSpoolWriter(dir, pattern string, commit func(f *os.File, size int64) error) (*spoolWriter, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create spool file: %w", err)
	}
	return &spoolWriter{f: f, commit: commit}, nil
}

func (w *spoolWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, interfaces.ErrWriterClosed
	}
	n, err := w.f.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *spoolWriter) Commit() error {
	if w.done {
		return interfaces.ErrWriterClosed
	}
	w.done = true
	defer w.cleanup()

	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("failed to sync spool file: %w", err)
	}
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind spool file: %w", err)
	}
	return w.commit(w.f, w.size)
}

func (w *spoolWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	w.cleanup()
	return nil
}

// cleanup closes and removes the spool file. The commit function may have
// renamed it away already.
func (w *spoolWriter) cleanup() {
	_ = w.f.Close()
	_ = os.Remove(w.f.Name())
}

// bufferWriter keeps an upload in memory for backends that store whole values.
type bufferWriter struct {
	buf    bytes.Buffer
	commit func(data []byte) error
	done   bool
}

func (w *bufferWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, interfaces.ErrWriterClosed
	}
	return w.buf.Write(p)
}

func (w *bufferWriter) Commit() error {
	if w.done {
		return interfaces.ErrWriterClosed
	}
	w.done = true
	data := w.buf.Bytes()
	w.buf = bytes.Buffer{}
	return w.commit(data)
}

func (w *bufferWriter) Close() error {
	w.done = true
	w.buf = bytes.Buffer{}
	return nil
}

// countingWriter discards content and remembers how much was written.
type countingWriter struct {
	n      int64
	commit func(n int64) error
	done   bool
}

func (w *countingWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, interfaces.ErrWriterClosed
	}
	w.n += int64(len(p))
	return len(p), nil
}

func (w *countingWriter) Commit() error {
	if w.done {
		return interfaces.ErrWriterClosed
	}
	w.done = true
	return w.commit(w.n)
}

func (w *countingWriter) Close() error {
	w.done = true
	return nil
}

// fillerPattern is repeated to synthesize content of non-durable artifacts.
const fillerPattern = "0123456789abcdefghijklmnopqrstuvwxyz\n"

// fillerReader yields size bytes of fillerPattern. The same size always
// produces the same bytes.
type fillerReader struct {
	off  int64
	size int64
}

func newFillerReader(size int64) io.ReadCloser {
	return &fillerReader{size: size}
}

func (r *fillerReader) Read(p []byte) (int, error) {
	if r.off >= r.size {
		return 0, io.EOF
	}
	if remaining := r.size - r.off; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	for i := range p {
		p[i] = fillerPattern[(r.off+int64(i))%int64(len(fillerPattern))]
	}
	r.off += int64(len(p))
	return len(p), nil
}

func (r *fillerReader) Close() error {
	return nil
}
