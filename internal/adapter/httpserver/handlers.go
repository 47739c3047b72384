package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/querypanda/internal/adapter/fileio"
	"github.com/fairyhunter13/querypanda/internal/config"
	"github.com/fairyhunter13/querypanda/internal/domain"
	"github.com/fairyhunter13/querypanda/internal/frame"
	"github.com/fairyhunter13/querypanda/internal/usecase"
)

// maxQueryBody caps the request body of POST /v1/query.
const maxQueryBody = 1 << 20

// Server aggregates handlers dependencies.
type Server struct {
	Cfg        config.Config
	Query      usecase.QueryService
	DBCheck    func(ctx context.Context) error
	RedisCheck func(ctx context.Context) error
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// NewServer constructs an HTTP server with its handlers and readiness checks wired.
func NewServer(cfg config.Config, query usecase.QueryService, dbCheck func(context.Context) error, redisCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Query: query, DBCheck: dbCheck, RedisCheck: redisCheck}
}

type queryRequest struct {
	SQL          string              `json:"sql" validate:"required"`
	Args         []any               `json:"args"`
	Format       string              `json:"format" validate:"omitempty,oneof=json csv xlsx jsonl parquet"`
	GroupBy      []string            `json:"group_by" validate:"omitempty,dive,required"`
	Aggregations []frame.Aggregation `json:"aggregations" validate:"omitempty,dive"`
}

// QueryResponse is the JSON rendering of a result frame. Missing cells are null.
type QueryResponse struct {
	Columns  []string `json:"columns"`
	Types    []string `json:"types"`
	Rows     [][]any  `json:"rows"`
	RowCount int      `json:"row_count"`
}

var contentTypes = map[domain.Format]string{
	domain.FormatCSV:     "text/csv; charset=utf-8",
	domain.FormatXLSX:    "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	domain.FormatJSONL:   "application/x-ndjson",
	domain.FormatParquet: "application/vnd.apache.parquet",
}

// QueryHandler runs a statement and returns its result as JSON or as a file attachment.
func (s *Server) QueryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxQueryBody)
		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorEnvelope{Error: apiError{Code: "PAYLOAD_TOO_LARGE", Message: "request body too large"}})
				return
			}
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			verrs := map[string]string{}
			var ve validator.ValidationErrors
			if errors.As(err, &ve) {
				for _, fe := range ve {
					verrs[strings.ToLower(fe.Field())] = fe.Tag()
				}
			}
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), verrs)
			return
		}
		if req.Format == "" || req.Format == "json" {
			// Accept negotiation applies to the JSON rendering only.
			if a := r.Header.Get("Accept"); a != "" && a != "*/*" && !strings.Contains(a, "application/json") {
				writeJSON(w, http.StatusNotAcceptable, errorEnvelope{Error: apiError{Code: "INVALID_ARGUMENT", Message: "not acceptable", Details: map[string]any{"accept": a}}})
				return
			}
		}

		df, err := s.Query.QueryAggregate(r.Context(), req.SQL, req.GroupBy, req.Aggregations, normalizeArgs(req.Args)...)
		if err != nil {
			writeError(w, r, fmt.Errorf("query: %w", err), nil)
			return
		}
		if req.Format == "" || req.Format == "json" {
			writeJSON(w, http.StatusOK, BuildQueryResponse(df))
			return
		}

		format := domain.Format(req.Format)
		var buf bytes.Buffer
		if err := fileio.Write(&buf, format, df); err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.Header().Set("Content-Type", contentTypes[format])
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="result.%s"`, format.Ext()))
		w.WriteHeader(http.StatusOK)
		_, _ = buf.WriteTo(w)
	}
}

// normalizeArgs turns whole JSON numbers into int64 so they bind to integer parameters.
func normalizeArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		if f, ok := a.(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			out[i] = int64(f)
			continue
		}
		out[i] = a
	}
	return out
}

// BuildQueryResponse renders df row by row with typed JSON values.
func BuildQueryResponse(df dataframe.DataFrame) QueryResponse {
	resp := QueryResponse{Columns: df.Names(), Rows: make([][]any, df.Nrow()), RowCount: df.Nrow()}
	if resp.Columns == nil {
		resp.Columns = []string{}
	}
	cols := make([]series.Series, df.Ncol())
	for j := range cols {
		cols[j] = df.Col(resp.Columns[j])
		resp.Types = append(resp.Types, string(cols[j].Type()))
	}
	if resp.Types == nil {
		resp.Types = []string{}
	}
	for i := range resp.Rows {
		row := make([]any, len(cols))
		for j, c := range cols {
			row[j] = jsonCell(c.Elem(i), c.Type())
		}
		resp.Rows[i] = row
	}
	return resp
}

func jsonCell(e series.Element, t series.Type) any {
	if e.IsNA() {
		return nil
	}
	switch t {
	case series.Int:
		if v, err := e.Int(); err == nil {
			return v
		}
	case series.Float:
		if f := e.Float(); !math.IsInf(f, 0) {
			return f
		}
		return strconv.FormatFloat(e.Float(), 'f', -1, 64)
	case series.Bool:
		if v, err := e.Bool(); err == nil {
			return v
		}
	}
	return e.String()
}

// ReadyzHandler reports readiness of the database and, when configured, Redis.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, 2)
		runCheck := func(name string, fn func(context.Context) error) {
			if fn == nil {
				return
			}
			if err := fn(ctx); err != nil {
				checks = append(checks, check{Name: name, OK: false, Details: err.Error()})
				return
			}
			checks = append(checks, check{Name: name, OK: true})
		}
		runCheck("db", s.DBCheck)
		runCheck("redis", s.RedisCheck)

		st := http.StatusOK
		for _, c := range checks {
			if !c.OK {
				st = http.StatusServiceUnavailable
				break
			}
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}

// HealthzHandler is a liveness probe.
func HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
