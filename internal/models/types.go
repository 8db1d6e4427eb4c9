package models

import (
	"errors"
	"fmt"
	"time"
)

// DateLayout is the calendar date format used by the raster API.
const DateLayout = "2006-01-02"

// ResultRow is a single observation produced by a raster time series job.
type ResultRow struct {
	Date      string  `json:"date"`
	Value     float64 `json:"value"`
	Model     string  `json:"model"`
	Variable  string  `json:"variable"`
	Overpass  string  `json:"overpass"`
	Reference string  `json:"reference"`
	Units     string  `json:"units"`
}

// Time parses Date. Timestamps carrying a time of day are accepted too.
func (r ResultRow) Time() (time.Time, error) {
	if t, err := time.Parse(DateLayout, r.Date); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, r.Date)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", r.Date)
	}
	return t, nil
}

// SeriesPoint is an aggregated value for one model and variable over a time
// bucket.
type SeriesPoint struct {
	Time     time.Time `json:"time"`
	Model    string    `json:"model"`
	Variable string    `json:"variable"`
	Value    float64   `json:"value"`
}

// DateRange is the inclusive span of days requested from the API.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

var (
	ErrMissingDate  = errors.New("missing date")
	ErrInvertedDate = errors.New("start date must not be after end date")
)

// ParseDateRange builds a DateRange from two YYYY-MM-DD strings.
func ParseDateRange(start, end string) (DateRange, error) {
	if start == "" || end == "" {
		return DateRange{}, ErrMissingDate
	}
	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid start date %q: %w", start, err)
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid end date %q: %w", end, err)
	}
	r := DateRange{Start: s, End: e}
	if err := r.Validate(); err != nil {
		return DateRange{}, err
	}
	return r, nil
}

// Trailing returns the range covering the given number of days up to and
// including the day of now.
func Trailing(now time.Time, days int) DateRange {
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if days < 1 {
		days = 1
	}
	return DateRange{Start: end.AddDate(0, 0, -(days - 1)), End: end}
}

// Validate checks that both ends are set and ordered.
func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return ErrMissingDate
	}
	if r.Start.After(r.End) {
		return ErrInvertedDate
	}
	return nil
}

// Params is the wire value of the date_range request parameter.
func (r DateRange) Params() []string {
	return []string{r.Start.Format(DateLayout), r.End.Format(DateLayout)}
}

func (r DateRange) String() string {
	return r.Start.Format(DateLayout) + "/" + r.End.Format(DateLayout)
}
