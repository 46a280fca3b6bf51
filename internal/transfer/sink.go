package transfer

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/secureera/secureera/internal/files"
)

// Sink receives the plaintext of one file as it is decrypted.
type Sink interface {
	Write(p []byte) (int, error)

	// Commit finalizes the file and fills in where it ended up.
	Commit(res *Result) error

	// Abort discards everything written so far.
	Abort() error
}

// SinkFactory opens a sink for a file once its metadata is known.
type SinkFactory func(meta Metadata) (Sink, error)

// Result is delivered when a file completes.
type Result struct {
	Metadata Metadata

	// Data holds the file contents for in-memory sinks.
	Data []byte

	// Path is set for file sinks.
	Path string
}

// MemorySink buffers the whole file in memory.
type MemorySink struct {
	buf bytes.Buffer
}

// MemorySinks returns a factory of MemorySink.
func MemorySinks() SinkFactory {
	return func(Metadata) (Sink, error) {
		return &MemorySink{}, nil
	}
}

func (s *MemorySink) Write(p []byte) (int, error) {
	return s.buf.Write(p)
}

func (s *MemorySink) Commit(res *Result) error {
	res.Data = s.buf.Bytes()
	return nil
}

func (s *MemorySink) Abort() error {
	s.buf.Reset()
	return nil
}

// FileSink writes to a uniquely named file in an output directory.
type FileSink struct {
	File *os.File
	Path string
}

// FileSinks returns a factory that writes files into dir. An empty dir
// means the working directory.
func FileSinks(dir string) SinkFactory {
	return func(meta Metadata) (Sink, error) {
		return NewFileSink(dir, meta.Name)
	}
}

// NewFileSink creates the output file for name under dir.
func NewFileSink(dir, name string) (*FileSink, error) {
	filename := files.SafeName(name)
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, NewFileError("create directory", dir, err)
		}
		filename = filepath.Join(dir, filename)
	}
	filename = files.GetUniqueFilename(filename)

	file, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, NewFileError("create file", name, err)
	}

	return &FileSink{File: file, Path: filename}, nil
}

func (s *FileSink) Write(p []byte) (int, error) {
	n, err := s.File.Write(p)
	if err != nil {
		return n, NewFileError("write", s.Path, err)
	}
	return n, nil
}

func (s *FileSink) Commit(res *Result) error {
	if err := s.File.Close(); err != nil {
		return NewFileError("close", s.Path, err)
	}
	res.Path = s.Path
	return nil
}

func (s *FileSink) Abort() error {
	s.File.Close()
	if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
		return NewFileError("remove", s.Path, err)
	}
	return nil
}
