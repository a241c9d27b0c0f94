// Package filesys opens executables for the loader. Any afs supported
// location works: local paths, mem://, embed://, cloud storage.
package filesys

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
)

// ErrNotFound is returned when the executable does not exist.
var ErrNotFound = errors.New("file not found")

// OpenFile is an opened file readable at arbitrary offsets.
type OpenFile struct {
	URL    string
	reader *bytes.Reader
}

var _ io.ReaderAt = (*OpenFile)(nil)

// ReadAt reads len(p) bytes from offset off.
func (f *OpenFile) ReadAt(p []byte, off int64) (int, error) {
	return f.reader.ReadAt(p, off)
}

// Length returns the file size.
func (f *OpenFile) Length() int64 { return f.reader.Size() }

// Open loads the file at URL.
func Open(ctx context.Context, fs afs.Service, URL string) (*OpenFile, error) {
	if fs == nil {
		fs = afs.New()
	}
	exists, err := fs.Exists(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to check %s: %w", URL, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, URL)
	}
	data, err := fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", URL, err)
	}
	return &OpenFile{URL: URL, reader: bytes.NewReader(data)}, nil
}

// Create stores data at URL, replacing any previous content.
func Create(ctx context.Context, fs afs.Service, URL string, data []byte) error {
	if fs == nil {
		fs = afs.New()
	}
	if err := fs.Upload(ctx, URL, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", URL, err)
	}
	return nil
}
