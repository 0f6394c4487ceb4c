package logger

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

const (
	// DefaultBufferSize for file writes
	DefaultBufferSize = 32 * 1024

	// DefaultFlushInterval for the background flusher
	DefaultFlushInterval = 5 * time.Second

	// LogFilePermissions for newly created log files
	LogFilePermissions = 0o600
)

// BufferedFileWriter wraps an append-mode file with buffered I/O and periodic flushing.
// It is safe for concurrent use.
type BufferedFileWriter struct {
	mu        sync.Mutex
	file      *os.File
	writer    *bufio.Writer
	stopFlush chan struct{}
	flushDone chan struct{}
	closed    bool
}

// NewBufferedFileWriter opens filePath for appending and starts the auto-flush loop
func NewBufferedFileWriter(filePath string) (*BufferedFileWriter, error) {
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, LogFilePermissions) //nolint:gosec // path comes from config
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", filePath, err)
	}

	w := &BufferedFileWriter{
		file:      file,
		writer:    bufio.NewWriterSize(file, DefaultBufferSize),
		stopFlush: make(chan struct{}),
		flushDone: make(chan struct{}),
	}
	go w.autoFlushLoop(DefaultFlushInterval)
	return w, nil
}

func (w *BufferedFileWriter) autoFlushLoop(interval time.Duration) {
	defer close(w.flushDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = w.Flush()
		case <-w.stopFlush:
			return
		}
	}
}

// Write implements io.Writer
func (w *BufferedFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, os.ErrClosed
	}
	return w.writer.Write(p)
}

// Flush writes buffered data to the OS
func (w *BufferedFileWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	return w.writer.Flush()
}

// Close stops the flusher, flushes, syncs and closes the file
func (w *BufferedFileWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.stopFlush)
	<-w.flushDone

	w.mu.Lock()
	defer w.mu.Unlock()
	return errors.Join(w.writer.Flush(), w.file.Sync(), w.file.Close())
}
