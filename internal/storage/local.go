package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/aetriusgx/openet/internal/table"
)

// Local keeps objects as files under Dir.
type Local struct {
	Fs  afero.Fs
	Dir string
}

var _ Adapter = &Local{}

// NewLocal returns a Local adapter. A nil fs means the OS filesystem.
func NewLocal(fs afero.Fs, dir string) *Local {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Local{Fs: fs, Dir: dir}
}

func (l *Local) Write(_ context.Context, name string, data []byte) (Object, error) {
	p := filepath.Join(l.Dir, name)
	if err := l.Fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return Object{}, err
	}
	if err := afero.WriteFile(l.Fs, p, data, 0o644); err != nil {
		return Object{}, err
	}
	info, err := l.Fs.Stat(p)
	if err != nil {
		return Object{}, fmt.Errorf("could not query attributes of %s: %w", name, err)
	}
	return Object{Name: name, Size: info.Size(), Updated: info.ModTime()}, nil
}

func (l *Local) Read(_ context.Context, name string) (*table.ResultTable, error) {
	f, err := l.Fs.Open(filepath.Join(l.Dir, name))
	if os.IsNotExist(err) {
		return nil, notExist{wrapped: err}
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return table.ReadCSV(f)
}
