package chatrelay

import (
	"github.com/GunzViruz/telegpt/internal/fsstore"
)

// FileJournal appends activity records to a size-rotated JSONL file.
type FileJournal struct {
	w *fsstore.JSONLWriter
}

func OpenFileJournal(path string, rotateMaxBytes int64) (*FileJournal, error) {
	w, err := fsstore.NewJSONLWriter(path, fsstore.JSONLOptions{RotateMaxBytes: rotateMaxBytes})
	if err != nil {
		return nil, err
	}
	return &FileJournal{w: w}, nil
}

func (j *FileJournal) Path() string {
	return j.w.Path()
}

func (j *FileJournal) Record(rec ActivityRecord) error {
	return j.w.AppendJSON(rec)
}

func (j *FileJournal) Close() error {
	return j.w.Close()
}
