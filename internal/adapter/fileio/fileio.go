// Package fileio writes dataframes to disk in the supported table formats,
// reads them back, and manages the period-named data files a retrieval run
// produces.
package fileio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-gota/gota/dataframe"

	"github.com/fairyhunter13/querypanda/internal/domain"
	"github.com/fairyhunter13/querypanda/internal/frame"
	"github.com/fairyhunter13/querypanda/internal/observability"
)

// Write encodes df to w in the given format.
func Write(w io.Writer, format domain.Format, df dataframe.DataFrame) error {
	if df.Err != nil {
		return fmt.Errorf("op=fileio.Write: %w", df.Err)
	}
	var err error
	switch format {
	case domain.FormatCSV:
		err = writeCSV(w, df)
	case domain.FormatXLSX:
		err = writeXLSX(w, df)
	case domain.FormatJSONL:
		err = writeJSONL(w, df)
	case domain.FormatParquet:
		err = writeParquet(w, df)
	default:
		return fmt.Errorf("op=fileio.Write: %w: %q", domain.ErrUnsupportedFormat, format)
	}
	if err != nil {
		return fmt.Errorf("op=fileio.Write: %s: %w", format, err)
	}
	return nil
}

// WriteFile writes df to path, creating parent directories. The file is
// written under a temporary name and renamed so readers never see a partial
// file.
func WriteFile(path string, format domain.Format, df dataframe.DataFrame) error {
	dir := filepath.Dir(path)
	if err := EnsureDir(dir); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("op=fileio.WriteFile: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := Write(tmp, format, df); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("op=fileio.WriteFile: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("op=fileio.WriteFile: %w", err)
	}
	return nil
}

// Read decodes a table from r.
func Read(r io.Reader, format domain.Format) (dataframe.DataFrame, error) {
	var (
		df  dataframe.DataFrame
		err error
	)
	switch format {
	case domain.FormatCSV:
		df, err = readCSV(r)
	case domain.FormatXLSX:
		df, err = readXLSX(r)
	case domain.FormatJSONL:
		df, err = readJSONL(r)
	default:
		return dataframe.DataFrame{}, fmt.Errorf("op=fileio.Read: %w: cannot read %q", domain.ErrUnsupportedFormat, format)
	}
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("op=fileio.Read: %s: %w", format, err)
	}
	return df, nil
}

// ReadFile loads the table stored at path, picking the decoder with DetectFormat.
func ReadFile(path string) (dataframe.DataFrame, error) {
	format, err := DetectFormat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return dataframe.DataFrame{}, fmt.Errorf("op=fileio.ReadFile: %w: %s", domain.ErrNotFound, path)
		}
		return dataframe.DataFrame{}, err
	}
	if !readable(format) {
		return dataframe.DataFrame{}, fmt.Errorf("op=fileio.ReadFile: %w: cannot read %s files", domain.ErrUnsupportedFormat, format)
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return dataframe.DataFrame{}, fmt.Errorf("op=fileio.ReadFile: %w: %s", domain.ErrNotFound, path)
		}
		return dataframe.DataFrame{}, fmt.Errorf("op=fileio.ReadFile: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Read(f, format)
}

// LoadDataset loads a single file, or every readable file directly inside a
// directory concatenated in name order. Files in a format that cannot be read
// are skipped with a warning.
func LoadDataset(ctx context.Context, path string) (dataframe.DataFrame, error) {
	lg := observability.LoggerFromContext(ctx)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return dataframe.DataFrame{}, fmt.Errorf("op=fileio.LoadDataset: %w: path does not exist: %s", domain.ErrNotFound, path)
		}
		return dataframe.DataFrame{}, fmt.Errorf("op=fileio.LoadDataset: %w", err)
	}
	if !info.IsDir() {
		return ReadFile(path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("op=fileio.LoadDataset: %w", err)
	}
	var frames []dataframe.DataFrame
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return dataframe.DataFrame{}, err
		}
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		file := filepath.Join(path, e.Name())
		df, err := ReadFile(file)
		if err != nil {
			if isUnsupported(err) {
				lg.Warn("skipping unsupported file", slog.String("file", file), slog.Any("error", err))
				continue
			}
			return dataframe.DataFrame{}, err
		}
		lg.Debug("loaded data file", slog.String("file", file), slog.Int("rows", df.Nrow()))
		frames = append(frames, df)
	}
	return frame.Concat(frames...)
}

// EnsureDir creates dir and its parents if needed.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("op=fileio.EnsureDir: %w", err)
	}
	return nil
}

// ClearDataFiles removes the period data files of the given format in dir and
// returns how many were deleted. Other files are left alone.
func ClearDataFiles(ctx context.Context, dir string, format domain.Format) (int, error) {
	files, err := DataFiles(dir, format)
	if err != nil {
		return 0, fmt.Errorf("op=fileio.ClearDataFiles: %w", err)
	}
	lg := observability.LoggerFromContext(ctx)
	n := 0
	for _, f := range files {
		if err := os.Remove(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return n, fmt.Errorf("op=fileio.ClearDataFiles: %w", err)
		}
		lg.Info("deleted existing file", slog.String("file", f))
		n++
	}
	return n, nil
}

// PeriodFilename returns the data file path for the period starting at start.
func PeriodFilename(start time.Time, agg domain.Aggregation, dir string, format domain.Format) (string, error) {
	switch agg {
	case domain.AggregateDaily, domain.AggregateWeekly, domain.AggregateMonthly:
	default:
		return "", fmt.Errorf("op=fileio.PeriodFilename: %w: unsupported aggregation frequency %q", domain.ErrInvalidArgument, agg)
	}
	return filepath.Join(dir, "data_"+agg.Label(start)+"."+format.Ext()), nil
}

var (
	dailyName   = regexp.MustCompile(`^data_(\d{4})_(\d{2})_(\d{2})$`)
	weeklyName  = regexp.MustCompile(`^data_(\d{4})_week(\d{1,2})$`)
	monthlyName = regexp.MustCompile(`^data_(\d{4})_(\d{2})$`)
)

// LatestPeriod returns the start of the newest period that has a data file in
// dir. ok is false when there is none.
func LatestPeriod(dir string, format domain.Format) (latest time.Time, ok bool, err error) {
	files, err := DataFiles(dir, format)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("op=fileio.LatestPeriod: %w", err)
	}
	for _, f := range files {
		t, parsed := periodOf(strings.TrimSuffix(filepath.Base(f), "."+format.Ext()))
		if !parsed {
			continue
		}
		if !ok || t.After(latest) {
			latest, ok = t, true
		}
	}
	return latest, ok, nil
}

func periodOf(base string) (time.Time, bool) {
	if m := dailyName.FindStringSubmatch(base); m != nil {
		t, err := time.Parse("2006_01_02", m[1]+"_"+m[2]+"_"+m[3])
		return t, err == nil
	}
	if m := weeklyName.FindStringSubmatch(base); m != nil {
		year, _ := strconv.Atoi(m[1])
		week, _ := strconv.Atoi(m[2])
		if week < 1 || week > 53 {
			return time.Time{}, false
		}
		return isoWeekStart(year, week), true
	}
	if m := monthlyName.FindStringSubmatch(base); m != nil {
		t, err := time.Parse("2006_01", m[1]+"_"+m[2])
		return t, err == nil
	}
	return time.Time{}, false
}

// isoWeekStart returns the Monday of ISO week w of year. January 4th always
// falls in week 1.
func isoWeekStart(year, week int) time.Time {
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	monday := jan4.AddDate(0, 0, -((int(jan4.Weekday()) + 6) % 7))
	return monday.AddDate(0, 0, (week-1)*7)
}

// DataFiles lists dir's period data files of the given format, sorted. A
// missing directory has none.
func DataFiles(dir string, format domain.Format) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "data_*."+format.Ext()))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
