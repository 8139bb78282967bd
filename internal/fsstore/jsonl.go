package fsstore

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type JSONLOptions struct {
	DirPerm        os.FileMode
	FilePerm       os.FileMode
	RotateMaxBytes int64
	SyncEachWrite  bool
}

func (o JSONLOptions) normalized() JSONLOptions {
	if o.DirPerm == 0 {
		o.DirPerm = defaultDirPerm
	}
	if o.FilePerm == 0 {
		o.FilePerm = defaultFilePerm
	}
	if o.RotateMaxBytes <= 0 {
		o.RotateMaxBytes = defaultRotateMaxBytes
	}
	return o
}

// JSONLWriter appends one JSON value per line and rotates the file aside
// (path.<utc timestamp>) once it would grow past RotateMaxBytes.
type JSONLWriter struct {
	path string
	opts JSONLOptions

	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	size   int64
	closed bool

	now func() time.Time
}

func NewJSONLWriter(path string, opts JSONLOptions) (*JSONLWriter, error) {
	normalizedPath, err := normalizePath(path)
	if err != nil {
		return nil, err
	}
	w := &JSONLWriter{
		path: normalizedPath,
		opts: opts.normalized(),
		now:  time.Now,
	}
	if err := w.openLocked(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *JSONLWriter) Path() string {
	return w.path
}

func (w *JSONLWriter) AppendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: jsonl encode %s: %v", ErrEncodeFailed, w.path, err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	if err := w.rotateIfNeededLocked(int64(len(data))); err != nil {
		return err
	}
	n, err := w.writer.Write(data)
	w.size += int64(n)
	if err != nil {
		return err
	}
	if err := w.writer.Flush(); err != nil {
		return err
	}
	if w.opts.SyncEachWrite {
		return w.file.Sync()
	}
	return nil
}

func (w *JSONLWriter) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.closeFileLocked()
}

func (w *JSONLWriter) closeFileLocked() error {
	var flushErr error
	if w.writer != nil {
		flushErr = w.writer.Flush()
	}
	var closeErr error
	if w.file != nil {
		closeErr = w.file.Close()
	}
	w.file = nil
	w.writer = nil
	w.size = 0
	return errors.Join(flushErr, closeErr)
}

func (w *JSONLWriter) rotateIfNeededLocked(incoming int64) error {
	if w.size == 0 || w.size+incoming <= w.opts.RotateMaxBytes {
		return nil
	}
	_ = w.closeFileLocked()
	if err := w.renameAsideLocked(); err != nil {
		return err
	}
	return w.openLocked()
}

func (w *JSONLWriter) renameAsideLocked() error {
	base := fmt.Sprintf("%s.%s", w.path, w.now().UTC().Format("20060102T150405Z"))
	target := base
	for i := 1; ; i++ {
		_, err := os.Stat(target)
		if errors.Is(err, os.ErrNotExist) {
			break
		}
		if err != nil {
			return err
		}
		target = fmt.Sprintf("%s.%d", base, i)
	}
	if err := os.Rename(w.path, target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (w *JSONLWriter) openLocked() error {
	if err := EnsureDir(filepath.Dir(w.path), w.opts.DirPerm); err != nil {
		return err
	}
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, w.opts.FilePerm)
	if err != nil {
		return err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return err
	}
	w.file = file
	w.writer = bufio.NewWriterSize(file, 32*1024)
	w.size = info.Size()
	return nil
}
