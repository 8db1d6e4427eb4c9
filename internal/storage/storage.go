// Package storage keeps exported result tables in object storage or on a
// local filesystem.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/aetriusgx/openet/internal/table"
)

// Object describes a stored object.
type Object struct {
	Name    string
	Size    int64
	Updated time.Time
}

// Adapter closes over where exported tables are kept.
type Adapter interface {
	Write(ctx context.Context, name string, data []byte) (Object, error)
	Read(ctx context.Context, name string) (*table.ResultTable, error)
}

// Exporter is a job whose result table can be exported.
type Exporter interface {
	Export(path, format string, opts ...table.ExportOption) ([]byte, error)
	Fs() afero.Fs
}

// notExist closes over the different ways in which storage backends expose
// a missing object.
type notExist struct {
	wrapped error
}

func (e notExist) Error() string {
	if e.wrapped == nil {
		return "object does not exist"
	}
	return e.wrapped.Error()
}

func (e notExist) Is(err error) bool {
	_, ok := err.(notExist)
	return ok
}

func (e notExist) Unwrap() error {
	return e.wrapped
}

// IsNotExist reports whether err means the named object is missing.
func IsNotExist(err error) bool {
	return errors.Is(err, notExist{})
}

// SaveJob exports the job table as CSV to <localDir>/<name>.csv and uploads
// the same bytes as object name. With parents set, missing directories of
// the local path are created first. An empty localDir skips the local copy.
func SaveJob(ctx context.Context, a Adapter, j Exporter, name, localDir string, parents bool, logger *logrus.Entry) (Object, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	logger = logger.WithField("object", name)

	path := ""
	if localDir != "" {
		path = filepath.Join(localDir, name+".csv")
		if parents {
			if err := j.Fs().MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return Object{}, fmt.Errorf("could not create %s: %w", filepath.Dir(path), err)
			}
		}
	}

	data, err := j.Export(path, string(table.FormatCSV))
	if err != nil {
		return Object{}, fmt.Errorf("could not export job: %w", err)
	}
	if path != "" {
		logger.WithField("path", path).Debug("Saved local copy")
	}

	obj, err := a.Write(ctx, name, data)
	if err != nil {
		logger.WithError(err).Warn("Could not upload to storage")
		return Object{}, fmt.Errorf("could not upload %s: %w", name, err)
	}
	logger.WithField("size", obj.Size).Info("Uploaded job table")
	return obj, nil
}
