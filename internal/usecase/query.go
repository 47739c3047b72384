// Package usecase contains application business logic services.
package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-gota/gota/dataframe"

	"github.com/fairyhunter13/querypanda/internal/adapter/fileio"
	obsmetrics "github.com/fairyhunter13/querypanda/internal/adapter/observability"
	"github.com/fairyhunter13/querypanda/internal/domain"
	"github.com/fairyhunter13/querypanda/internal/frame"
	"github.com/fairyhunter13/querypanda/internal/observability"
)

// QueryService runs ad-hoc statements and hands back their results as frames.
type QueryService struct {
	Querier  domain.Querier
	Uploader domain.Uploader
	// Timeout bounds a single statement; zero means no limit beyond ctx.
	Timeout time.Duration
	// MaxRows rejects larger results; zero means unlimited.
	MaxRows int
}

// NewQueryService constructs a QueryService. up may be nil when uploads are disabled.
func NewQueryService(q domain.Querier, up domain.Uploader, timeout time.Duration, maxRows int) QueryService {
	return QueryService{Querier: q, Uploader: up, Timeout: timeout, MaxRows: maxRows}
}

// Query executes sql with positional args and returns the full result.
func (s QueryService) Query(ctx domain.Context, sql string, args ...any) (dataframe.DataFrame, error) {
	if strings.TrimSpace(sql) == "" {
		return dataframe.DataFrame{}, fmt.Errorf("%w: sql required", domain.ErrInvalidArgument)
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	start := time.Now()
	df, err := s.Querier.Fetch(ctx, sql, args...)
	obsmetrics.ObserveQuery(start, df.Nrow(), err)
	if err != nil {
		return dataframe.DataFrame{}, err
	}
	observability.LoggerFromContext(ctx).Debug("query executed",
		slog.Int("rows", df.Nrow()),
		slog.Int("columns", df.Ncol()),
		slog.Duration("elapsed", time.Since(start)))
	if s.MaxRows > 0 && df.Nrow() > s.MaxRows {
		return dataframe.DataFrame{}, fmt.Errorf("%w: %d rows exceeds limit of %d", domain.ErrTooManyRows, df.Nrow(), s.MaxRows)
	}
	return df, nil
}

// QueryAggregate runs sql and aggregates the result. Without aggregations the
// raw result is returned.
func (s QueryService) QueryAggregate(ctx domain.Context, sql string, groupBy []string, aggs []frame.Aggregation, args ...any) (dataframe.DataFrame, error) {
	df, err := s.Query(ctx, sql, args...)
	if err != nil {
		return dataframe.DataFrame{}, err
	}
	if len(aggs) == 0 {
		if len(groupBy) > 0 {
			return dataframe.DataFrame{}, fmt.Errorf("%w: group_by requires at least one aggregation", domain.ErrInvalidArgument)
		}
		return df, nil
	}
	return frame.Aggregate(df, groupBy, aggs)
}

// ExportRequest describes a query whose result is written to a file.
type ExportRequest struct {
	SQL          string
	Args         []any
	Path         string
	Format       domain.Format // empty: derived from Path's extension
	GroupBy      []string
	Aggregations []frame.Aggregation
	Upload       bool
}

// ExportResult reports what Export wrote.
type ExportResult struct {
	Path   string
	Format domain.Format
	Rows   int
	URL    string
}

// Export runs the query, optionally aggregates it, writes the result to
// req.Path and uploads the file when requested and an uploader is set.
func (s QueryService) Export(ctx domain.Context, req ExportRequest) (ExportResult, error) {
	if strings.TrimSpace(req.Path) == "" {
		return ExportResult{}, fmt.Errorf("%w: output path required", domain.ErrInvalidArgument)
	}
	format := req.Format
	if format == "" {
		f, err := domain.ParseFormat(filepath.Ext(req.Path))
		if err != nil {
			return ExportResult{}, err
		}
		format = f
	}
	if req.Upload && s.Uploader == nil {
		return ExportResult{}, fmt.Errorf("%w: object storage is not configured", domain.ErrInvalidArgument)
	}

	df, err := s.QueryAggregate(ctx, req.SQL, req.GroupBy, req.Aggregations, req.Args...)
	if err != nil {
		return ExportResult{}, err
	}
	err = fileio.WriteFile(req.Path, format, df)
	obsmetrics.ObserveExport(string(format), err)
	if err != nil {
		return ExportResult{}, err
	}
	res := ExportResult{Path: req.Path, Format: format, Rows: df.Nrow()}
	observability.LoggerFromContext(ctx).Info("exported query result",
		slog.String("file", req.Path),
		slog.String("format", string(format)),
		slog.Int("rows", res.Rows))

	if req.Upload {
		url, err := s.Uploader.Upload(ctx, req.Path)
		if err != nil {
			return res, err
		}
		res.URL = url
	}
	return res, nil
}
