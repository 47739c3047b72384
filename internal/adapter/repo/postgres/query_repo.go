// Package postgres provides PostgreSQL database adapters.
//
// QueryRepo runs ad-hoc SQL and materializes the result set as a dataframe,
// mapping PostgreSQL column types onto dataframe column types.
package postgres

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fairyhunter13/querypanda/internal/domain"
	"github.com/fairyhunter13/querypanda/internal/frame"
)

// PgxQuerier is the subset of pgxpool.Pool used by QueryRepo.
type PgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// QueryRepo executes statements and returns their rows as dataframes.
type QueryRepo struct{ Pool PgxQuerier }

// NewQueryRepo constructs a QueryRepo with the given pool.
func NewQueryRepo(p PgxQuerier) *QueryRepo { return &QueryRepo{Pool: p} }

var _ domain.Querier = (*QueryRepo)(nil)

// Fetch runs sql with args and returns every row. A statement that returns
// columns but no rows yields a frame with those columns and zero rows.
func (r *QueryRepo) Fetch(ctx domain.Context, sql string, args ...any) (dataframe.DataFrame, error) {
	tracer := otel.Tracer("repo.query")
	ctx, span := tracer.Start(ctx, "query.Fetch")
	defer span.End()

	rows, err := r.Pool.Query(ctx, sql, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query")
		return dataframe.DataFrame{}, fmt.Errorf("op=query.fetch: %w", classify(err))
	}
	defer rows.Close()

	fds := rows.FieldDescriptions()
	names := columnNames(fds)
	types := make([]series.Type, len(fds))
	for i, fd := range fds {
		types[i] = seriesType(fd.DataTypeOID)
	}
	cols := make([][]string, len(fds))
	for i := range cols {
		cols[i] = []string{}
	}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			span.RecordError(err)
			return dataframe.DataFrame{}, fmt.Errorf("op=query.fetch: %w", classify(err))
		}
		for i, v := range vals {
			cols[i] = append(cols[i], renderCell(v, fds[i].DataTypeOID))
		}
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rows")
		return dataframe.DataFrame{}, fmt.Errorf("op=query.fetch: %w", classify(err))
	}

	nrows := 0
	if len(cols) > 0 {
		nrows = len(cols[0])
	}
	span.SetAttributes(attribute.Int("db.columns", len(names)), attribute.Int("db.rows", nrows))
	df, err := frame.FromColumns(names, types, cols)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("op=query.fetch: %w: %w", domain.ErrInternal, err)
	}
	return df, nil
}

// columnNames returns the result column names, suffixing repeats
// ("id", "id_1") since a frame cannot hold two columns with one name.
func columnNames(fds []pgconn.FieldDescription) []string {
	seen := make(map[string]int, len(fds))
	out := make([]string, len(fds))
	for i, fd := range fds {
		name := fd.Name
		if name == "" || name == "?column?" {
			name = fmt.Sprintf("column_%d", i)
		}
		if n, ok := seen[name]; ok {
			seen[name] = n + 1
			name = fmt.Sprintf("%s_%d", name, n+1)
		} else {
			seen[name] = 0
		}
		out[i] = name
	}
	return out
}

func seriesType(oid uint32) series.Type {
	switch oid {
	case pgtype.Int2OID, pgtype.Int4OID, pgtype.Int8OID:
		return series.Int
	case pgtype.Float4OID, pgtype.Float8OID, pgtype.NumericOID:
		return series.Float
	case pgtype.BoolOID:
		return series.Bool
	default:
		return series.String
	}
}

// renderCell converts a decoded pgx value into frame cell text.
func renderCell(v any, oid uint32) string {
	switch x := v.(type) {
	case nil:
		return frame.NA
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int8:
		return strconv.FormatInt(int64(x), 10)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case float32:
		return formatFloat(float64(x))
	case float64:
		return formatFloat(x)
	case pgtype.Numeric:
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return frame.NA
		}
		return formatFloat(f.Float64)
	case time.Time:
		if oid == pgtype.DateOID {
			return x.Format("2006-01-02")
		}
		if oid == pgtype.TimestamptzOID {
			x = x.UTC()
		}
		return x.Format("2006-01-02 15:04:05.999999")
	case [16]byte:
		return uuid.UUID(x).String()
	case []byte:
		return `\x` + hex.EncodeToString(x)
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func formatFloat(f float64) string {
	if math.IsNaN(f) {
		return frame.NA
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
