// Package staging holds files selected by the user before extraction.
package staging

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/hpungsan/studybuddy/internal/errors"
)

// File is one pending upload.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// ReadFile loads a file from disk as a staged upload.
// The content type is taken from the extension, falling back to sniffing.
func ReadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return File{}, errors.NewFileNotFound(path)
		}
		return File{}, errors.NewInternal(fmt.Errorf("read %s: %w", path, err))
	}
	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return File{
		Name:        filepath.Base(path),
		ContentType: ct,
		Data:        data,
	}, nil
}

// Buffer is an ordered sequence of pending uploads.
// Duplicates are allowed. Contents change only through Add, Remove and Clear.
type Buffer struct {
	mu    sync.Mutex
	files []File
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Add appends files in order.
func (b *Buffer) Add(files ...File) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.files = append(b.files, files...)
}

// Remove deletes the file at index, preserving the order of the rest.
func (b *Buffer) Remove(index int) (File, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if index < 0 || index >= len(b.files) {
		return File{}, errors.NewValidation(fmt.Sprintf("no staged file at index %d", index))
	}
	removed := b.files[index]
	b.files = append(b.files[:index:index], b.files[index+1:]...)
	return removed, nil
}

// Clear empties the buffer.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.files = nil
}

// Files returns a snapshot of the staged files.
func (b *Buffer) Files() []File {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]File, len(b.files))
	copy(out, b.files)
	return out
}

// Names returns the staged file names in order.
func (b *Buffer) Names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, len(b.files))
	for i, f := range b.files {
		names[i] = f.Name
	}
	return names
}

// Len returns the number of staged files.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.files)
}
