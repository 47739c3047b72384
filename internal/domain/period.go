package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Format is an on-disk table encoding.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatXLSX    Format = "xlsx"
	FormatJSONL   Format = "jsonl"
	FormatParquet Format = "parquet"
)

// ParseFormat normalizes a format name or file extension. "xls" is written as xlsx.
func ParseFormat(s string) (Format, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".") {
	case "csv":
		return FormatCSV, nil
	case "xlsx", "xls", "excel":
		return FormatXLSX, nil
	case "jsonl", "ndjson":
		return FormatJSONL, nil
	case "parquet":
		return FormatParquet, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// Ext returns the file extension without the dot.
func (f Format) Ext() string { return string(f) }

// Aggregation groups retrieval windows into output files.
type Aggregation string

const (
	AggregateDaily   Aggregation = "daily"
	AggregateWeekly  Aggregation = "weekly"
	AggregateMonthly Aggregation = "monthly"
)

// ParseAggregation validates an aggregation frequency name.
func ParseAggregation(s string) (Aggregation, error) {
	switch a := Aggregation(strings.ToLower(strings.TrimSpace(s))); a {
	case AggregateDaily, AggregateWeekly, AggregateMonthly:
		return a, nil
	}
	return "", fmt.Errorf("%w: unsupported aggregation frequency %q", ErrInvalidArgument, s)
}

// PeriodStart returns the first instant of the period containing t.
// Weeks start on Monday, matching ISO week numbering.
func (a Aggregation) PeriodStart(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	switch a {
	case AggregateWeekly:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case AggregateMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	default:
		return day
	}
}

// Label renders the date part used in period file names.
func (a Aggregation) Label(t time.Time) string {
	switch a {
	case AggregateWeekly:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%d_week%d", year, week)
	case AggregateMonthly:
		return t.Format("2006_01")
	default:
		return t.Format("2006_01_02")
	}
}

var freqAlias = regexp.MustCompile(`^(\d*)\s*([A-Za-z]+)$`)

// ParseFrequency accepts Go durations ("90m") and the pandas style aliases
// used by retrieval jobs ("1H", "30min", "15T", "1D", "1W").
func ParseFrequency(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("%w: frequency must be positive: %q", ErrInvalidArgument, s)
		}
		return d, nil
	}
	m := freqAlias.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: unsupported frequency %q", ErrInvalidArgument, s)
	}
	n := 1
	if m[1] != "" {
		v, err := strconv.Atoi(m[1])
		if err != nil || v <= 0 {
			return 0, fmt.Errorf("%w: unsupported frequency %q", ErrInvalidArgument, s)
		}
		n = v
	}
	var unit time.Duration
	switch m[2] {
	case "S", "s", "sec":
		unit = time.Second
	case "T", "min":
		unit = time.Minute
	case "H", "h":
		unit = time.Hour
	case "D", "d":
		unit = 24 * time.Hour
	case "W", "w":
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("%w: unsupported frequency %q", ErrInvalidArgument, s)
	}
	return time.Duration(n) * unit, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp parses the timestamp forms accepted on the command line and
// in job files. Values without a zone are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognized timestamp %q", ErrInvalidArgument, s)
}
