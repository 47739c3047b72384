package usecase_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/querypanda/internal/domain"
	"github.com/fairyhunter13/querypanda/internal/domain/mocks"
	"github.com/fairyhunter13/querypanda/internal/frame"
	"github.com/fairyhunter13/querypanda/internal/usecase"
)

func salesFrame(t *testing.T) dataframe.DataFrame {
	t.Helper()
	df, err := frame.FromColumns(
		[]string{"region", "amount"},
		[]series.Type{series.String, series.Float},
		[][]string{{"east", "west", "east"}, {"10", "5", "2.5"}},
	)
	require.NoError(t, err)
	return df
}

func TestQuery_Success(t *testing.T) {
	t.Parallel()
	q := &mocks.MockQuerier{}
	q.On("Fetch", mock.Anything, "SELECT * FROM sales WHERE id > $1", []any{7}).Return(salesFrame(t), nil)

	svc := usecase.NewQueryService(q, nil, time.Second, 0)
	df, err := svc.Query(context.Background(), "SELECT * FROM sales WHERE id > $1", 7)
	require.NoError(t, err)
	assert.Equal(t, 3, df.Nrow())
	q.AssertExpectations(t)
}

func TestQuery_AppliesTimeout(t *testing.T) {
	t.Parallel()
	q := &mocks.MockQuerier{}
	q.On("Fetch", mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return ok
	}), mock.Anything, mock.Anything).Return(salesFrame(t), nil)

	_, err := usecase.NewQueryService(q, nil, time.Minute, 0).Query(context.Background(), "SELECT 1")
	require.NoError(t, err)
	q.AssertExpectations(t)
}

func TestQuery_Errors(t *testing.T) {
	t.Parallel()
	q := &mocks.MockQuerier{}
	svc := usecase.NewQueryService(q, nil, 0, 2)

	_, err := svc.Query(context.Background(), "   ")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	q.On("Fetch", mock.Anything, "SELECT big", mock.Anything).Return(salesFrame(t), nil)
	_, err = svc.Query(context.Background(), "SELECT big")
	require.ErrorIs(t, err, domain.ErrTooManyRows)

	q.On("Fetch", mock.Anything, "SELECT bad", mock.Anything).Return(dataframe.DataFrame{}, domain.ErrQueryFailed)
	_, err = svc.Query(context.Background(), "SELECT bad")
	require.ErrorIs(t, err, domain.ErrQueryFailed)
}

func TestQueryAggregate(t *testing.T) {
	t.Parallel()
	q := &mocks.MockQuerier{}
	q.On("Fetch", mock.Anything, "SELECT * FROM sales", mock.Anything).Return(salesFrame(t), nil)
	svc := usecase.NewQueryService(q, nil, 0, 0)

	df, err := svc.QueryAggregate(context.Background(), "SELECT * FROM sales", []string{"region"},
		[]frame.Aggregation{{Column: "amount", Func: frame.Sum}})
	require.NoError(t, err)
	assert.Equal(t, []string{"region", "amount_sum"}, df.Names())
	assert.Equal(t, []string{"east", "west"}, frame.Cells(df.Col("region")))
	assert.Equal(t, []string{"12.5", "5"}, frame.Cells(df.Col("amount_sum")))

	df, err = svc.QueryAggregate(context.Background(), "SELECT * FROM sales", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, df.Nrow())

	_, err = svc.QueryAggregate(context.Background(), "SELECT * FROM sales", []string{"region"}, nil)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestExport_WritesAndUploads(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "report.xlsx")

	q := &mocks.MockQuerier{}
	q.On("Fetch", mock.Anything, "SELECT * FROM sales", mock.Anything).Return(salesFrame(t), nil)
	up := &mocks.MockUploader{}
	up.On("Upload", mock.Anything, path).Return("s3://exports/report.xlsx", nil)

	svc := usecase.NewQueryService(q, up, 0, 0)
	res, err := svc.Export(context.Background(), usecase.ExportRequest{SQL: "SELECT * FROM sales", Path: path, Upload: true})
	require.NoError(t, err)
	assert.Equal(t, domain.FormatXLSX, res.Format)
	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, "s3://exports/report.xlsx", res.URL)
	_, err = os.Stat(path)
	require.NoError(t, err)
	up.AssertExpectations(t)
}

func TestExport_Errors(t *testing.T) {
	t.Parallel()
	q := &mocks.MockQuerier{}
	svc := usecase.NewQueryService(q, nil, 0, 0)
	ctx := context.Background()

	_, err := svc.Export(ctx, usecase.ExportRequest{SQL: "SELECT 1"})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = svc.Export(ctx, usecase.ExportRequest{SQL: "SELECT 1", Path: "out.pkl"})
	require.ErrorIs(t, err, domain.ErrUnsupportedFormat)

	_, err = svc.Export(ctx, usecase.ExportRequest{SQL: "SELECT 1", Path: "out.csv", Upload: true})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	q.On("Fetch", mock.Anything, "SELECT 1", mock.Anything).Return(dataframe.DataFrame{}, errors.New("boom"))
	_, err = svc.Export(ctx, usecase.ExportRequest{SQL: "SELECT 1", Path: filepath.Join(t.TempDir(), "x.csv")})
	require.Error(t, err)
}
