package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileWriter appends log output to a file shared by one process run.
// Writes after Close are dropped with os.ErrClosed.
type FileWriter struct {
	mu   sync.Mutex
	file *os.File
}

// OpenFile opens pathname for appending, creating parent directories as
// needed, and marks the start of the session.
func OpenFile(pathname string) (*FileWriter, error) {
	if dir := filepath.Dir(pathname); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(pathname, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(f, "--- %s pid=%d ---\n", time.Now().Format(time.RFC3339), os.Getpid())
	return &FileWriter{file: f}, nil
}

func (r *FileWriter) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return 0, os.ErrClosed
	}
	return r.file.Write(p)
}

func (r *FileWriter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
