package sequence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DefaultRecordFile is the file name FileStore uses when given a directory.
const DefaultRecordFile = "order_counter.txt"

// Store provides durable single-record persistence for the counter.
//
// Load returns the raw record text, or ErrNoRecord when nothing has been written
// yet. Save must not return until the record is on stable storage. Other
// failures should wrap ErrStorage; the allocator wraps any that do not.
type Store interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, record string) error
	Close() error
}

// FileStore implements Store using a single text file.
type FileStore struct {
	mu   sync.RWMutex
	path string
}

// NewFileStore creates a file store writing to path. The parent directory is
// created if needed.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("%w: create directory: %w", ErrStorage, err)
	}
	return &FileStore{path: path}, nil
}

// Path returns the record file path.
func (fs *FileStore) Path() string {
	return fs.path
}

// Load reads the record file
func (fs *FileStore) Load(ctx context.Context) (string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	data, err := os.ReadFile(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoRecord
		}
		return "", fmt.Errorf("%w: read %s: %w", ErrStorage, fs.path, err)
	}

	return string(data), nil
}

// Save replaces the record file atomically
func (fs *FileStore) Save(ctx context.Context, record string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.saveToDisk([]byte(record)); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrStorage, fs.path, err)
	}
	return nil
}

// Close is a no-op for file storage.
func (fs *FileStore) Close() error {
	return nil
}

// saveToDisk writes data durably (must be called with lock held)
func (fs *FileStore) saveToDisk(data []byte) error {
	dir := filepath.Dir(fs.path)
	tmpFile := fs.path + ".tmp"

	f, err := os.OpenFile(tmpFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	// 先落盘再 rename，保证崩溃后不会读到半截记录
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	// Atomic rename
	if err := os.Rename(tmpFile, fs.path); err != nil {
		return err
	}

	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()

	// Some platforms refuse fsync on directories; the rename already happened.
	_ = d.Sync()
	return nil
}
