// Package storage writes attachment blobs to the upload directory.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/logger"
)

var ErrInvalidName = errors.New("invalid blob name")

type DiskStore struct {
	dir string

	mu       sync.Mutex
	lastMs   int64
	sequence int
}

func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &DiskStore{dir: dir}, nil
}

func (s *DiskStore) Dir() string {
	return s.dir
}

// StorageName derives a unique file name from the upload time and the original extension,
// e.g. "1700000000000.png" or "1700000000000-1.png" for a second upload in the same millisecond.
func (s *DiskStore) StorageName(original string) string {
	now := time.Now().UnixMilli()

	s.mu.Lock()
	if now <= s.lastMs {
		now = s.lastMs
		s.sequence++
	} else {
		s.lastMs = now
		s.sequence = 0
	}
	sequence := s.sequence
	s.mu.Unlock()

	name := strconv.FormatInt(now, 10)
	if sequence > 0 {
		name += "-" + strconv.Itoa(sequence)
	}
	return name + extension(original)
}

func extension(original string) string {
	ext := filepath.Ext(filepath.Base(original))
	if ext == "." || strings.ContainsAny(ext, `/\`) {
		return ""
	}
	return ext
}

// Write stores data under name. Names containing path separators are rejected.
func (s *DiskStore) Write(ctx context.Context, name string, data []byte) error {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	path := filepath.Join(s.dir, name)
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write blob %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to commit blob %s: %w", name, err)
	}
	logger.DebugF("Blob %s written, %d bytes", name, len(data))
	return nil
}
