package journal

import (
	"errors"
	"log/slog"
	"path/filepath"

	"golang.org/x/time/rate"
)

// Journal writes events to the JSONL files and, when configured, the SQLite
// index. Write failures are logged and otherwise ignored.
type Journal struct {
	w      *Writer
	index  *SQLiteIndex
	logger *slog.Logger
	errLog rate.Sometimes
}

// Open creates a journal under dir. indexDB may be empty; a relative path is
// resolved against dir.
func Open(dir, indexDB string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	j := &Journal{
		w:      NewWriter(dir),
		logger: logger,
		errLog: rate.Sometimes{First: 1, Every: 100},
	}
	if indexDB != "" {
		if !filepath.IsAbs(indexDB) {
			indexDB = filepath.Join(dir, indexDB)
		}
		idx, err := OpenSQLite(indexDB)
		if err != nil {
			return nil, err
		}
		j.index = idx
	}
	return j, nil
}

func (j *Journal) Record(e Event) {
	e = stamp(e)
	if err := j.w.Write(e); err != nil {
		j.errLog.Do(func() {
			j.logger.Warn("journal write failed", "kind", e.Kind, "err", err)
		})
	}
	if j.index != nil {
		j.index.Record(e)
	}
}

// Index returns the SQLite index, or nil when none is configured.
func (j *Journal) Index() *SQLiteIndex { return j.index }

func (j *Journal) Close() error {
	var errs []error
	if err := j.w.Close(); err != nil {
		errs = append(errs, err)
	}
	if j.index != nil {
		if err := j.index.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
