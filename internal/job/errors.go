package job

import (
	"errors"
	"fmt"
)

var (
	ErrMissingColumn     = errors.New("missing column")
	ErrFormat            = errors.New("error formatting response, check format type")
	ErrNoData            = errors.New("no table found to export")
	ErrUnsupportedFormat = errors.New("unsupported file format")
)

// ConfigurationError reports a geometry table that cannot back a job.
type ConfigurationError struct {
	Role   string // "geometry" or "index"
	Column string
}

func (e *ConfigurationError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("%s: no %s column found in table", ErrMissingColumn, e.Role)
	}
	return fmt.Sprintf("%s: %s column %s not found in table", ErrMissingColumn, e.Role, e.Column)
}

// Unwrap exposes ErrMissingColumn for errors.Is.
func (e *ConfigurationError) Unwrap() error {
	return ErrMissingColumn
}

// UnsupportedFormatError names an export format that is not recognized.
type UnsupportedFormatError struct {
	Format string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("file format %s is not supported", e.Format)
}

// Unwrap exposes ErrUnsupportedFormat for errors.Is.
func (e *UnsupportedFormatError) Unwrap() error {
	return ErrUnsupportedFormat
}
